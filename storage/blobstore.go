package storage

import (
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/gofrs/flock"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

// BlobStore is the content-addressed store for contribution artifacts,
// keyed by Locator.Path(). Writes are atomic (write-to-temp, rename);
// reads are served from a lock-free in-memory cache first, matching the
// "readers are lock-free" resource note.
type BlobStore struct {
	baseDir string
	cache   *fastcache.Cache
	dirLock *flock.Flock
}

// OpenBlobStore creates baseDir if absent, acquires an exclusive
// advisory lock on it for the process lifetime, and sizes the read
// cache at cacheBytes.
func OpenBlobStore(baseDir string, cacheBytes int) (*BlobStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, ceremony.WrapError(ceremony.ErrStorageFailed, "create blob directory", err)
	}

	lock := flock.New(filepath.Join(baseDir, ".coordinator.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, ceremony.WrapError(ceremony.ErrStorageFailed, "acquire data directory lock", err)
	}
	if !locked {
		return nil, ceremony.NewError(ceremony.ErrStorageFailed, "data directory already locked by another coordinator process")
	}

	return &BlobStore{
		baseDir: baseDir,
		cache:   fastcache.New(cacheBytes),
		dirLock: lock,
	}, nil
}

func (b *BlobStore) path(key string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(key))
}

// Has reports whether an artifact exists at key.
func (b *BlobStore) Has(key string) bool {
	if b.cache.Has([]byte(key)) {
		return true
	}
	_, err := os.Stat(b.path(key))
	return err == nil
}

// Get reads the artifact at key, consulting the read cache first.
func (b *BlobStore) Get(key string) ([]byte, error) {
	if v, ok := b.cache.HasGet(nil, []byte(key)); ok {
		return v, nil
	}
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ceremony.NewError(ceremony.ErrContributionLocatorMissing, key)
		}
		return nil, ceremony.WrapError(ceremony.ErrStorageFailed, "read artifact "+key, err)
	}
	b.cache.Set([]byte(key), data)
	return data, nil
}

// Put writes data at key via a temp-file-then-rename, overwriting any
// cached copy so the next Get observes the new bytes.
func (b *BlobStore) Put(key string, data []byte) error {
	full := b.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ceremony.WrapError(ceremony.ErrStorageFailed, "create artifact directory", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ceremony.WrapError(ceremony.ErrStorageFailed, "write artifact "+key, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return ceremony.WrapError(ceremony.ErrStorageFailed, "finalize artifact "+key, err)
	}

	b.cache.Set([]byte(key), data)
	return nil
}

// Close releases the data directory lock.
func (b *BlobStore) Close() error {
	return b.dirLock.Unlock()
}
