// Package audit keeps the relational trail of everything the signing
// authority hands out: one row per issued authorization and one per
// administrative action. Reconciliation jobs export the trail to CSV and
// Parquet and join it against on-chain redemptions.
package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Authorization kinds.
const (
	KindClaim = "claim"
	KindMint  = "mint"
)

// Administrative actions.
const (
	ActionNonceReset    = "nonce_reset"
	ActionInstanceClear = "instance_clear"
)

// Authorization records one signed bundle handed to a caller. Amounts travel
// as decimal strings because they are unsigned 256-bit on chain.
type Authorization struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind       string    `gorm:"size:16;index"`
	Player     string    `gorm:"size:64;index"`
	Amount     string    `gorm:"size:96"`
	Nonce      uint64
	ItemID     string `gorm:"size:96"`
	InstanceID string `gorm:"size:80;index"`
	CreatedAt  time.Time
}

// AdminAction records an operator intervention together with its reason.
type AdminAction struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Action        string    `gorm:"size:32;index"`
	Player        string    `gorm:"size:64;index"`
	InstanceID    string    `gorm:"size:80"`
	PreviousNonce uint64
	Reason        string `gorm:"size:512"`
	CreatedAt     time.Time
}

// Store wraps the audit database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the audit database. DSNs starting with postgres:// use the
// Postgres driver; anything else is treated as a SQLite path or DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, errors.New("audit: dsn required")
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.AutoMigrate(&Authorization{}, &AdminAction{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SetClock overrides the time source for deterministic tests.
func (s *Store) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.now = clock
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordClaim appends a gold claim authorization row.
func (s *Store) RecordClaim(player, amount string, nonce uint64) error {
	if s == nil || s.db == nil {
		return errors.New("audit: store not configured")
	}
	row := Authorization{
		ID:        uuid.New(),
		Kind:      KindClaim,
		Player:    player,
		Amount:    amount,
		Nonce:     nonce,
		CreatedAt: s.now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("audit: record claim: %w", err)
	}
	return nil
}

// RecordMint appends an item mint authorization row.
func (s *Store) RecordMint(player, itemID, amount, instanceID string) error {
	if s == nil || s.db == nil {
		return errors.New("audit: store not configured")
	}
	row := Authorization{
		ID:         uuid.New(),
		Kind:       KindMint,
		Player:     player,
		Amount:     amount,
		ItemID:     itemID,
		InstanceID: instanceID,
		CreatedAt:  s.now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("audit: record mint: %w", err)
	}
	return nil
}

// RecordAdmin appends an administrative action row.
func (s *Store) RecordAdmin(action, player, instanceID, reason string, previousNonce uint64) error {
	if s == nil || s.db == nil {
		return errors.New("audit: store not configured")
	}
	row := AdminAction{
		ID:            uuid.New(),
		Action:        action,
		Player:        player,
		InstanceID:    instanceID,
		PreviousNonce: previousNonce,
		Reason:        reason,
		CreatedAt:     s.now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("audit: record admin action: %w", err)
	}
	return nil
}

// Authorizations returns authorization rows created inside [start, end),
// oldest first.
func (s *Store) Authorizations(start, end time.Time) ([]Authorization, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("audit: store not configured")
	}
	var rows []Authorization
	query := s.db.Order("created_at asc")
	if !start.IsZero() {
		query = query.Where("created_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("created_at < ?", end)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit: list authorizations: %w", err)
	}
	return rows, nil
}

// AdminActions returns administrative rows created inside [start, end),
// oldest first.
func (s *Store) AdminActions(start, end time.Time) ([]AdminAction, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("audit: store not configured")
	}
	var rows []AdminAction
	query := s.db.Order("created_at asc")
	if !start.IsZero() {
		query = query.Where("created_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("created_at < ?", end)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit: list admin actions: %w", err)
	}
	return rows, nil
}
