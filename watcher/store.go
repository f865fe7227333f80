package watcher

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCheckpoint = []byte("checkpoint")
	bucketProcessed  = []byte("processed")

	keyCursor = []byte("cursor")
)

// Store persists the watcher's poll cursor and the set of burns it has
// already applied, so a restart neither misses nor double-applies events.
type Store struct {
	db *bolt.DB
}

// OpenStore initialises (and migrates) the BoltDB-backed checkpoint store.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("watcher: open store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCheckpoint, bucketProcessed} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("watcher: init store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Cursor returns the sequence of the last event the watcher fully handled.
func (s *Store) Cursor() (uint64, error) {
	var cursor uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCheckpoint).Get(keyCursor)
		if len(raw) == 8 {
			cursor = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("watcher: load cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor advances the checkpoint without recording a processed burn. Used
// when a batch ends on events that were skipped (already processed, unknown
// instance).
func (s *Store) SetCursor(sequence uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putCursor(tx, sequence)
	})
	if err != nil {
		return fmt.Errorf("watcher: save cursor: %w", err)
	}
	return nil
}

// IsProcessed reports whether the burn of instanceID was already applied.
func (s *Store) IsProcessed(instanceID string) (bool, error) {
	var processed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		processed = tx.Bucket(bucketProcessed).Get([]byte(instanceID)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("watcher: check processed: %w", err)
	}
	return processed, nil
}

// MarkProcessed records an applied burn and advances the cursor in one
// transaction, so a crash between the two cannot split them.
func (s *Store) MarkProcessed(instanceID, txHash string, sequence uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketProcessed).Put([]byte(instanceID), []byte(txHash)); err != nil {
			return err
		}
		return putCursor(tx, sequence)
	})
	if err != nil {
		return fmt.Errorf("watcher: mark processed: %w", err)
	}
	return nil
}

func putCursor(tx *bolt.Tx, sequence uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, sequence)
	return tx.Bucket(bucketCheckpoint).Put(keyCursor, buf)
}
