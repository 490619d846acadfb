package storage

import (
	"path/filepath"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

// DefaultBlobCacheBytes sizes the fastcache read cache fronting the
// artifact store.
const DefaultBlobCacheBytes = 64 * 1024 * 1024

// Store is the durable map described by the storage contract: structured
// metadata (height, rounds) plus content-addressed contribution
// artifacts, under a single data directory.
type Store struct {
	meta  *MetadataStore
	blobs *BlobStore
}

// Open opens both keyspaces rooted at dataDir/meta and dataDir/blobs.
func Open(dataDir string) (*Store, error) {
	meta, err := OpenMetadataStore(filepath.Join(dataDir, "meta"))
	if err != nil {
		return nil, err
	}
	blobs, err := OpenBlobStore(filepath.Join(dataDir, "blobs"), DefaultBlobCacheBytes)
	if err != nil {
		meta.Close()
		return nil, err
	}
	return &Store{meta: meta, blobs: blobs}, nil
}

// Height returns the current round height.
func (s *Store) Height() (ceremony.RoundHeight, bool, error) { return s.meta.Height() }

// SetHeight stages a new current round height.
func (s *Store) SetHeight(h ceremony.RoundHeight) error { return s.meta.SetHeight(h) }

// Round decodes the Round record at height h.
func (s *Store) Round(h ceremony.RoundHeight) (*ceremony.Round, bool, error) {
	return s.meta.Round(h)
}

// PutRound stages a Round record.
func (s *Store) PutRound(r *ceremony.Round) error { return s.meta.PutRound(r) }

// ContainsRound reports whether a Round record exists at height h.
func (s *Store) ContainsRound(h ceremony.RoundHeight) (bool, error) {
	return s.meta.ContainsKey(roundKey(h))
}

// Artifact reads the contribution artifact or signature at loc's path.
func (s *Store) Artifact(key string) ([]byte, error) { return s.blobs.Get(key) }

// HasArtifact reports whether an artifact exists at key.
func (s *Store) HasArtifact(key string) bool { return s.blobs.Has(key) }

// PutArtifact writes a contribution artifact or signature atomically.
// Artifact writes are durable (rename-based) as soon as Put returns, so
// Save below only needs to flush the structured metadata keyspace.
func (s *Store) PutArtifact(key string, data []byte) error { return s.blobs.Put(key, data) }

// Save atomically persists all staged metadata inserts. A partially
// saved state is never observable on restart: the underlying pebble
// batch either commits in full or not at all.
func (s *Store) Save() error { return s.meta.Save() }

// Close releases the pebble handle and the data directory lock.
func (s *Store) Close() error {
	err1 := s.meta.Close()
	err2 := s.blobs.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
