// Package bbolt provides a BBolt-backed store.Store for single-node
// deployments. All records are JSON-encoded; claim and decision writes run
// inside a single bbolt update transaction, which makes the conditional
// claim update and decision recording atomic.
package bbolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/slipway-hq/slipway/store"
)

var (
	usersBucket     = []byte("users")
	usernamesBucket = []byte("usernames") // username -> user id
	sessionsBucket  = []byte("sessions")  // token -> session
	itemsBucket     = []byte("items")
	decisionsBucket = []byte("decisions")
	countersBucket  = []byte("counters") // sequence counters
)

// Store implements store.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ store.Store = (*Store)(nil)

// New returns a Store backed by the given BBolt database, creating the
// required buckets if missing.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, usernamesBucket, sessionsBucket, itemsBucket, decisionsBucket, countersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewFromFile opens a BBolt database at the given path and returns a Store.
func NewFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func nextSeq(tx *bbolt.Tx, name string) (int64, error) {
	b := tx.Bucket(countersBucket)
	var n int64
	if raw := b.Get([]byte(name)); raw != nil {
		n = int64(binary.BigEndian.Uint64(raw))
	}
	n++
	if err := b.Put([]byte(name), itob(n)); err != nil {
		return 0, err
	}
	return n, nil
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bbolt.Bucket, key []byte, v any) error {
	data := b.Get(key)
	if data == nil {
		return store.ErrNotFound
	}
	return json.Unmarshal(data, v)
}
