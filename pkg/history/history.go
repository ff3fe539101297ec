// Package history keeps a durable record of every append/rewrite this
// tool performs against a destination file: what was appended, whether
// the update was in-place or required a full rewrite, and how much free
// space was provisioned. It is consulted by nothing inside a single
// invocation of the CLI, but gives an operator an audit trail across
// many invocations against the same destination.
//
// Grounded on the teacher's pkg/log/db.go bbolt usage: one bucket, keys
// are big-endian-encoded timestamps so the bucket iterates in time order,
// values are JSON-encoded records.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "history"

// Kind distinguishes how an append was carried out.
type Kind string

const (
	// KindInPlace means the destination's moov/free/mdat were updated
	// without relocating any existing bytes.
	KindInPlace Kind = "in_place"
	// KindRewrite means the destination was fully rewritten with new
	// padding, because the in-place path reported NeedsRewrite.
	KindRewrite Kind = "rewrite"
)

// Record is one completed append or rewrite against a destination file.
type Record struct {
	Time        time.Time
	Destination string
	Sources     []string
	Kind        Kind
	ChunksAdded int
	BytesAdded  int64
	FreeAfter   int64
}

// DB is a handle to the bbolt-backed history store.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history bucket: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the underlying database file.
func (h *DB) Close() error {
	return h.db.Close()
}

// Append persists r. Its key is r.Time, so two records at the exact same
// nanosecond would collide; callers should stamp Time once, right before
// calling Append.
func (h *DB) Append(r Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	key := encodeKey(r.Time)
	return h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(key, value)
	})
}

// ForDestination returns every record concerning destination, oldest
// first.
func (h *DB) ForDestination(destination string) ([]Record, error) {
	var records []Record
	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshal history record: %w", err)
			}
			if r.Destination == destination {
				records = append(records, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func encodeKey(t time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return key
}
