// Package storage implements the durable keyspace: structured round
// metadata backed by a pebble LSM instance, and content-addressed
// contribution artifacts backed by the filesystem with a lock-free read
// cache in front.
package storage

import (
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

var heightKey = []byte("height")

func roundKey(h ceremony.RoundHeight) []byte {
	return []byte("round/" + itoaKey(h))
}

func itoaKey(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// MetadataStore is the ordered key-value map over RoundHeight and Round
// records. Inserts accumulate in an indexed batch that is only durable
// once Save commits it, matching "a partially-saved state must never be
// observable on restart".
type MetadataStore struct {
	db    *pebble.DB
	batch *pebble.Batch
}

// OpenMetadataStore opens (creating if absent) a pebble instance rooted
// at dir.
func OpenMetadataStore(dir string) (*MetadataStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, ceremony.WrapError(ceremony.ErrStorageFailed, "open metadata store", err)
	}
	return &MetadataStore{db: db, batch: db.NewIndexedBatch()}, nil
}

// Get returns the raw value for key, consulting pending (unsaved) inserts
// before the committed state.
func (m *MetadataStore) Get(key []byte) ([]byte, bool, error) {
	val, closer, err := m.batch.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ceremony.WrapError(ceremony.ErrStorageFailed, "get", err)
	}
	out := append([]byte(nil), val...)
	closer.Close()
	return out, true, nil
}

// ContainsKey reports whether key is present, pending or committed.
func (m *MetadataStore) ContainsKey(key []byte) (bool, error) {
	_, ok, err := m.Get(key)
	return ok, err
}

// Insert stages key/value for the next Save. It never partially applies:
// on internal fault it returns StorageFailed and the batch is unchanged.
func (m *MetadataStore) Insert(key, value []byte) error {
	if err := m.batch.Set(key, value, nil); err != nil {
		return ceremony.WrapError(ceremony.ErrStorageFailed, "insert", err)
	}
	return nil
}

// Save commits all staged inserts in a single pebble batch write and
// opens a fresh batch for subsequent inserts.
func (m *MetadataStore) Save() error {
	if err := m.batch.Commit(pebble.Sync); err != nil {
		return ceremony.WrapError(ceremony.ErrStorageFailed, "save", err)
	}
	m.batch = m.db.NewIndexedBatch()
	return nil
}

// Close releases the underlying pebble handle.
func (m *MetadataStore) Close() error {
	return m.db.Close()
}

// Height returns the current round height, if one has been recorded.
func (m *MetadataStore) Height() (ceremony.RoundHeight, bool, error) {
	val, ok, err := m.Get(heightKey)
	if err != nil || !ok {
		return 0, ok, err
	}
	var h ceremony.RoundHeight
	if err := json.Unmarshal(val, &h); err != nil {
		return 0, false, ceremony.WrapError(ceremony.ErrStorageFailed, "decode height", err)
	}
	return h, true, nil
}

// SetHeight stages the current round height for the next Save.
func (m *MetadataStore) SetHeight(h ceremony.RoundHeight) error {
	buf, err := json.Marshal(h)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrStorageFailed, "encode height", err)
	}
	return m.Insert(heightKey, buf)
}

// Round decodes the Round record at height h, if present.
func (m *MetadataStore) Round(h ceremony.RoundHeight) (*ceremony.Round, bool, error) {
	val, ok, err := m.Get(roundKey(h))
	if err != nil || !ok {
		return nil, ok, err
	}
	var r ceremony.Round
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, false, ceremony.WrapError(ceremony.ErrStorageFailed, "decode round", err)
	}
	return &r, true, nil
}

// PutRound stages a Round record for the next Save.
func (m *MetadataStore) PutRound(r *ceremony.Round) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrStorageFailed, "encode round", err)
	}
	return m.Insert(roundKey(r.Height), buf)
}
