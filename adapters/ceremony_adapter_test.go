package adapters

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

func TestInitializationIsDeterministic(t *testing.T) {
	env := NewEnvironment("test-ceremony")
	c1, h1, err := (Initialization{}).Run(env, 1, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c2, h2, err := (Initialization{}).Run(env, 1, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(c1, c2) || !bytes.Equal(h1, h2) {
		t.Fatal("Initialization.Run should be deterministic for identical inputs")
	}
	if len(h1) != 64 {
		t.Fatalf("expected a 64-byte challenge hash, got %d", len(h1))
	}
}

func TestContributeAndVerifyRoundTrip(t *testing.T) {
	env := NewEnvironment("test-ceremony")
	challenge, _, err := (Initialization{}).Run(env, 1, 0)
	if err != nil {
		t.Fatalf("Initialization.Run: %v", err)
	}

	response, err := (Computation{}).ContributeMasp(env, challenge, "alice", 1, EntropySource("alice's entropy"))
	if err != nil {
		t.Fatalf("ContributeMasp: %v", err)
	}
	if len(response) != 64+contributionLen(env.Degree) {
		t.Fatalf("unexpected response length %d", len(response))
	}

	next, err := (Verification{}).Run(env, challenge, response)
	if err != nil {
		t.Fatalf("Verification.Run: %v", err)
	}
	if len(next) != stateLen(env.Degree) {
		t.Fatalf("unexpected next-state length %d", len(next))
	}

	// A second contributor can chain off the verified output.
	response2, err := (Computation{}).ContributeMasp(env, next, "bob", 2, EntropySource("bob's entropy"))
	if err != nil {
		t.Fatalf("second ContributeMasp: %v", err)
	}
	if _, err := (Verification{}).Run(env, next, response2); err != nil {
		t.Fatalf("second Verification.Run: %v", err)
	}
}

func TestVerificationRejectsWrongChallenge(t *testing.T) {
	env := NewEnvironment("test-ceremony")
	challengeA, _, _ := (Initialization{}).Run(env, 1, 0)
	challengeB, _, _ := (Initialization{}).Run(env, 1, 1)
	// Mutate B so it differs from A despite identical generator seeding.
	challengeB[0] ^= 0xff

	response, err := (Computation{}).ContributeMasp(env, challengeA, "alice", 1, EntropySource("e"))
	if err != nil {
		t.Fatalf("ContributeMasp: %v", err)
	}
	if _, err := (Verification{}).Run(env, challengeB, response); ceremony.KindOf(err) != ceremony.ErrContributionVerificationFailed {
		t.Fatalf("expected verification failure against the wrong challenge, got %v", err)
	}
}

func TestVerificationRejectsTamperedResponse(t *testing.T) {
	env := NewEnvironment("test-ceremony")
	challenge, _, _ := (Initialization{}).Run(env, 1, 0)
	response, err := (Computation{}).ContributeMasp(env, challenge, "alice", 1, EntropySource("e"))
	if err != nil {
		t.Fatalf("ContributeMasp: %v", err)
	}
	response[len(response)-1] ^= 0xff

	if _, err := (Verification{}).Run(env, challenge, response); err == nil {
		t.Fatal("expected verification to reject a tampered response")
	}
}

func TestSeedSourceIsDeterministic(t *testing.T) {
	env := NewEnvironment("test-ceremony")
	challenge, _, _ := (Initialization{}).Run(env, 1, 0)
	var seed [32]byte
	copy(seed[:], []byte("a fixed 32 byte seed............"))

	r1, err := (Computation{}).ContributeMasp(env, challenge, "alice", 1, SeedSource(seed))
	if err != nil {
		t.Fatalf("ContributeMasp: %v", err)
	}
	r2, err := (Computation{}).ContributeMasp(env, challenge, "alice", 1, SeedSource(seed))
	if err != nil {
		t.Fatalf("ContributeMasp: %v", err)
	}
	if !bytes.Equal(r1, r2) {
		t.Fatal("the same seed should produce the same contribution")
	}
}

func TestAggregationCombinesChunkFinals(t *testing.T) {
	combined, err := (Aggregation{}).Run(NewEnvironment("e"), [][]byte{[]byte("a"), []byte("bb")})
	if err != nil {
		t.Fatalf("Aggregation.Run: %v", err)
	}
	if len(combined) == 0 {
		t.Fatal("expected non-empty aggregated output")
	}

	if _, err := (Aggregation{}).Run(NewEnvironment("e"), nil); ceremony.KindOf(err) != ceremony.ErrRoundNotComplete {
		t.Fatalf("expected ErrRoundNotComplete for an empty round, got %v", err)
	}
}

func TestSignatureSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg, err := CanonicalMessage(ceremony.ContributionState{ChallengeHash: []byte{1, 2, 3}, ResponseHash: []byte{4, 5, 6}})
	if err != nil {
		t.Fatalf("CanonicalMessage: %v", err)
	}

	sig := (Signature{}).Sign(priv, msg)
	if !(Signature{}).Verify(pub, msg, sig) {
		t.Fatal("Verify should accept a signature produced by Sign")
	}
	if (Signature{}).Verify(pub, msg+"tampered", sig) {
		t.Fatal("Verify should reject a signature over a different message")
	}

	otherPub, _, _ := ed25519.GenerateKey(nil)
	if (Signature{}).Verify(otherPub, msg, sig) {
		t.Fatal("Verify should reject a signature under the wrong key")
	}
}
