package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

func TestStoreHeightRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Height(); err != nil || ok {
		t.Fatalf("fresh store should have no height, ok=%v err=%v", ok, err)
	}

	if err := s.SetHeight(7); err != nil {
		t.Fatalf("SetHeight: %v", err)
	}
	h, ok, err := s.Height()
	if err != nil || !ok || h != 7 {
		t.Fatalf("Height after unsaved SetHeight = %d, %v, %v", h, ok, err)
	}

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h, ok, err = s.Height()
	if err != nil || !ok || h != 7 {
		t.Fatalf("Height after Save = %d, %v, %v", h, ok, err)
	}
}

func TestStoreRoundPersistence(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	r, err := ceremony.NewRound(1, time.Unix(0, 0), []ceremony.Participant{ceremony.Contributor("alice")}, nil, []ceremony.Participant{ceremony.Verifier("v")}, 1)
	if err != nil {
		t.Fatalf("NewRound: %v", err)
	}
	if err := s.PutRound(r); err != nil {
		t.Fatalf("PutRound: %v", err)
	}

	ok, err := s.ContainsRound(1)
	if err != nil || !ok {
		t.Fatalf("ContainsRound before Save = %v, %v", ok, err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Round(1)
	if err != nil || !ok {
		t.Fatalf("Round: ok=%v err=%v", ok, err)
	}
	if got.Height != 1 || len(got.Chunks) != 1 || len(got.Contributors) != 1 {
		t.Fatalf("decoded round mismatch: %+v", got)
	}

	if _, ok, err := s.Round(99); err != nil || ok {
		t.Fatalf("Round(99) should be absent, ok=%v err=%v", ok, err)
	}
}

func TestStoreArtifactAtomicWrite(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loc := ceremony.NewLocator(1, 0, 0)
	key := loc.Path()

	if s.HasArtifact(key) {
		t.Fatal("artifact should not exist yet")
	}
	payload := []byte("challenge bytes")
	if err := s.PutArtifact(key, payload); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	if !s.HasArtifact(key) {
		t.Fatal("artifact should exist after Put")
	}

	got, err := s.Artifact(key)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Artifact = %q, want %q", got, payload)
	}

	if _, err := s.Artifact(loc.Verify().Path()); ceremony.KindOf(err) != ceremony.ErrContributionLocatorMissing {
		t.Fatalf("expected ErrContributionLocatorMissing, got %v", err)
	}
}

func TestStoreArtifactOverwriteInvalidatesCache(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := ceremony.NewLocator(1, 0, 0).Path()
	if err := s.PutArtifact(key, []byte("v1")); err != nil {
		t.Fatalf("PutArtifact v1: %v", err)
	}
	if _, err := s.Artifact(key); err != nil {
		t.Fatalf("Artifact v1: %v", err)
	}
	if err := s.PutArtifact(key, []byte("v2")); err != nil {
		t.Fatalf("PutArtifact v2: %v", err)
	}
	got, err := s.Artifact(key)
	if err != nil {
		t.Fatalf("Artifact v2: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("Artifact after overwrite = %q, want v2", got)
	}
}

func TestOpenRejectsSecondLock(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer s1.Close()

	if _, err := Open(dir); ceremony.KindOf(err) != ceremony.ErrStorageFailed {
		t.Fatalf("second Open should fail with StorageFailed, got %v", err)
	}
}
