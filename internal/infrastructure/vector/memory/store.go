package memory

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

var (
	bucketEntries = []byte("index_entries")
	bucketMeta    = []byte("index_meta")
	keyCount      = []byte("entry_count")
)

// SnapshotStore persists the latest index snapshot in a bbolt file. A snapshot
// is written in one transaction, so a crash leaves either the old or the new one.
type SnapshotStore struct {
	db *bbolt.DB
}

func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func (s *SnapshotStore) Save(entries []domain.IndexedEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketEntries) != nil {
			if err := tx.DeleteBucket(bucketEntries); err != nil {
				return fmt.Errorf("drop entries bucket: %w", err)
			}
		}
		b, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return fmt.Errorf("create entries bucket: %w", err)
		}
		for n, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("encode entry %d: %w", n, err)
			}
			if err := b.Put(seqKey(uint64(n)), data); err != nil {
				return err
			}
		}

		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return meta.Put(keyCount, seqKey(uint64(len(entries))))
	})
}

// Load returns the persisted entries in insertion order. ok is false when no
// snapshot was ever saved.
func (s *SnapshotStore) Load() (entries []domain.IndexedEntry, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil || meta.Get(keyCount) == nil {
			return nil
		}
		ok = true
		count := binary.BigEndian.Uint64(meta.Get(keyCount))

		b := tx.Bucket(bucketEntries)
		if b == nil {
			return fmt.Errorf("entries bucket missing")
		}
		entries = make([]domain.IndexedEntry, 0, count)
		err := b.ForEach(func(_, v []byte) error {
			var entry domain.IndexedEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			entries = append(entries, entry)
			return nil
		})
		if err != nil {
			return err
		}
		if uint64(len(entries)) != count {
			return fmt.Errorf("snapshot is incomplete: %d/%d entries", len(entries), count)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return entries, ok, nil
}

func seqKey(n uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	return key
}
