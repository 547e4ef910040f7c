package idempotency

import (
	"context"
	"encoding/json"
	"github.com/boltdb/bolt"
	"time"
)

const bucketName = "idempotency"

// BoltStore Store kept in a single BoltDB file, so keys survive restarts
// without an external process
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) the database at path and ensures the bucket exists
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

// Close releases the database file lock
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Reserve checks and inserts inside one write transaction
func (s *BoltStore) Reserve(_ context.Context, key string, ttl time.Duration) (Record, bool, error) {
	var rec Record
	reserved := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		now := s.now()

		if existing := b.Get([]byte(key)); existing != nil {
			var cur Record
			if err := json.Unmarshal(existing, &cur); err != nil {
				return err
			}
			if !cur.expired(now) {
				rec = cur
				return nil
			}
		}

		rec = Record{Key: key, State: InFlight, ExpiresAt: now.Add(ttl)}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		reserved = true
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, reserved, nil
}

func (s *BoltStore) Complete(_ context.Context, key string, result []byte, ttl time.Duration) error {
	rec := Record{Key: key, State: Completed, Result: result, ExpiresAt: s.now().Add(ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), data)
	})
}

func (s *BoltStore) Release(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// Purge deletes expired records and returns how many were removed
func (s *BoltStore) Purge(_ context.Context) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		now := s.now()
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil || rec.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
