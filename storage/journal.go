package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	"mintforge/authority"
)

const (
	nonceKeyPrefix    = "nonce:"
	instanceKeyPrefix = "instance:"
)

// Journal is the write-ahead journal for the signing authority. Every
// mutation is written durably before the authority's in-memory commit
// finalises, so a crash can only lose state that was never acknowledged.
type Journal struct {
	db Database
}

var _ authority.Journal = (*Journal)(nil)

// NewJournal wraps an already-open database.
func NewJournal(db Database) *Journal {
	return &Journal{db: db}
}

// OpenJournal opens (or creates) a LevelDB-backed journal at the provided
// path.
func OpenJournal(path string) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("storage: journal path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve journal path: %w", err)
	}
	db, err := NewLevelDB(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	j.db.Close()
	return nil
}

// ClaimCommitted records a player's advanced nonce.
func (j *Journal) ClaimCommitted(player string, nextNonce uint64) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("storage: journal not configured")
	}
	if err := j.db.Put(nonceKey(player), encodeNonce(nextNonce)); err != nil {
		return fmt.Errorf("storage: record claim: %w", err)
	}
	return nil
}

// MintCommitted records an instance ID entering the minted set. The owning
// player is stored as the value for operational forensics.
func (j *Journal) MintCommitted(player string, instanceID string) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("storage: journal not configured")
	}
	if err := j.db.Put(instanceKey(instanceID), []byte(player)); err != nil {
		return fmt.Errorf("storage: record mint: %w", err)
	}
	return nil
}

// InstanceCleared removes a burned instance from the journal.
func (j *Journal) InstanceCleared(instanceID string) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("storage: journal not configured")
	}
	if err := j.db.Delete(instanceKey(instanceID)); err != nil {
		return fmt.Errorf("storage: clear instance: %w", err)
	}
	return nil
}

// NonceReset removes a player's nonce entry, matching the in-memory rewind to
// zero.
func (j *Journal) NonceReset(player string) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("storage: journal not configured")
	}
	if err := j.db.Delete(nonceKey(player)); err != nil {
		return fmt.Errorf("storage: reset nonce: %w", err)
	}
	return nil
}

// Replace substitutes the whole journal contents with the supplied snapshot.
// Restores are operator-driven and re-runnable, so the clear-then-insert
// sequence does not need to be a single atomic write; every individual entry
// is still durable before the in-memory swap happens.
func (j *Journal) Replace(state *authority.State) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("storage: journal not configured")
	}
	if state == nil {
		return fmt.Errorf("storage: nil state")
	}

	for _, prefix := range []string{nonceKeyPrefix, instanceKeyPrefix} {
		var stale [][]byte
		if err := j.db.Scan([]byte(prefix), func(key, _ []byte) error {
			stale = append(stale, append([]byte(nil), key...))
			return nil
		}); err != nil {
			return fmt.Errorf("storage: scan journal: %w", err)
		}
		for _, key := range stale {
			if err := j.db.Delete(key); err != nil {
				return fmt.Errorf("storage: clear journal: %w", err)
			}
		}
	}
	for player, nonce := range state.Nonces {
		if err := j.db.Put(nonceKey(player), encodeNonce(nonce)); err != nil {
			return fmt.Errorf("storage: restore nonce: %w", err)
		}
	}
	for _, instanceID := range state.Instances {
		if err := j.db.Put(instanceKey(instanceID), nil); err != nil {
			return fmt.Errorf("storage: restore instance: %w", err)
		}
	}
	return nil
}

// Load reconstructs the authority state recorded in the journal. Used once at
// boot to hydrate the in-memory maps.
func (j *Journal) Load() (*authority.State, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("storage: journal not configured")
	}
	state := &authority.State{Nonces: make(map[string]uint64), Instances: []string{}}

	if err := j.db.Scan([]byte(nonceKeyPrefix), func(key, value []byte) error {
		player := strings.TrimPrefix(string(key), nonceKeyPrefix)
		if len(value) != 8 {
			return fmt.Errorf("storage: corrupt nonce entry for %s", player)
		}
		state.Nonces[player] = binary.BigEndian.Uint64(value)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := j.db.Scan([]byte(instanceKeyPrefix), func(key, _ []byte) error {
		state.Instances = append(state.Instances, strings.TrimPrefix(string(key), instanceKeyPrefix))
		return nil
	}); err != nil {
		return nil, err
	}

	return state, nil
}

func nonceKey(player string) []byte {
	return []byte(nonceKeyPrefix + player)
}

func instanceKey(instanceID string) []byte {
	return []byte(instanceKeyPrefix + instanceID)
}

func encodeNonce(nonce uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	return buf
}
