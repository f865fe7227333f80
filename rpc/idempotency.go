package rpc

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency (
    key          TEXT PRIMARY KEY,
    payload_hash TEXT NOT NULL,
    response     TEXT NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idempotency_created_at ON idempotency(created_at);
`

// IdempotencyRecord is a cached response for one idempotency key.
type IdempotencyRecord struct {
	Key         string
	PayloadHash string
	Response    string
	CreatedAt   time.Time
}

// IdempotencyStore persists responses to keyed signing requests so network
// retries replay the original bundle instead of minting a second signature.
type IdempotencyStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenIdempotencyStore opens the SQLite-backed cache at the given DSN.
func OpenIdempotencyStore(dsn string) (*IdempotencyStore, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, errors.New("rpc: idempotency dsn required")
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("rpc: open idempotency store: %w", err)
	}
	if _, err := db.Exec(idempotencySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("rpc: apply idempotency schema: %w", err)
	}
	return &IdempotencyStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the cached record for key, if any.
func (s *IdempotencyStore) Lookup(key string) (*IdempotencyRecord, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("rpc: idempotency store not configured")
	}
	row := s.db.QueryRow(`SELECT payload_hash, response, created_at FROM idempotency WHERE key = ?`, key)
	record := &IdempotencyRecord{Key: key}
	var createdAt int64
	if err := row.Scan(&record.PayloadHash, &record.Response, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rpc: load idempotency record: %w", err)
	}
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	return record, true, nil
}

// Store caches the response under key. An existing record wins: the first
// response for a key is the one every retry sees.
func (s *IdempotencyStore) Store(key, payloadHash, response string) error {
	if s == nil || s.db == nil {
		return errors.New("rpc: idempotency store not configured")
	}
	_, err := s.db.Exec(
		`INSERT INTO idempotency(key, payload_hash, response, created_at) VALUES(?, ?, ?, ?)
         ON CONFLICT(key) DO NOTHING`,
		key, payloadHash, response, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("rpc: store idempotency record: %w", err)
	}
	return nil
}

// PruneBefore removes records older than the cutoff.
func (s *IdempotencyStore) PruneBefore(cutoff time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("rpc: idempotency store not configured")
	}
	if _, err := s.db.Exec(`DELETE FROM idempotency WHERE created_at < ?`, cutoff.Unix()); err != nil {
		return fmt.Errorf("rpc: prune idempotency records: %w", err)
	}
	return nil
}

// hashPayload fingerprints a request body so a reused key with a different
// payload can be detected and rejected.
func hashPayload(method string, body []byte) string {
	digest := sha256.Sum256(append([]byte(method+"\x00"), body...))
	return hex.EncodeToString(digest[:])
}
