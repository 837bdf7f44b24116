package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheRow is the relational representation of a cache entry: one row
// per resolved key, with the encrypted blob as an opaque column.
type cacheRow struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:512"`
	Value     []byte    `gorm:"column:cache_value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (cacheRow) TableName() string {
	return "token_cache_entries"
}

// SQL is a relational blob store using gorm. Application-level
// encryption is applied before storage when a strategy is configured, so
// the database never holds plaintext token material. Row-level
// consistency from the underlying database makes additional locking
// unnecessary.
type SQL struct {
	db       *gorm.DB
	strategy EncryptionStrategy
}

// NewSQL creates a SQL-backed store, migrating the cache table if
// needed. A nil strategy defaults to NoEncryptionStrategy.
func NewSQL(db *gorm.DB, strategy EncryptionStrategy) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}

	if err := db.AutoMigrate(&cacheRow{}); err != nil {
		return nil, fmt.Errorf("migrating token cache table: %w", err)
	}

	return &SQL{db: db, strategy: strategy}, nil
}

// Get retrieves and decrypts the blob stored under key.
func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row cacheRow
	err := s.db.WithContext(ctx).
		Take(&row, "cache_key = ?", s.strategy.StorageKey(key)).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: querying cache row: %v", ErrUnavailable, err)
	}

	blob, err := s.strategy.DecryptValue(ctx, row.Value, key)
	if err != nil {
		return nil, false, fmt.Errorf("decrypting cache row for key %q: %w", key, err)
	}

	return blob, true, nil
}

// Set encrypts and upserts the blob stored under key.
func (s *SQL) Set(ctx context.Context, key string, blob []byte) error {
	value, err := s.strategy.EncryptValue(ctx, blob, key)
	if err != nil {
		return fmt.Errorf("encrypting cache row for key %q: %w", key, err)
	}

	row := cacheRow{
		Key:       s.strategy.StorageKey(key),
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"cache_value", "updated_at"}),
		}).
		Create(&row).
		Error
	if err != nil {
		return fmt.Errorf("%w: upserting cache row: %v", ErrUnavailable, err)
	}

	return nil
}

// Invalidate deletes the row stored under key.
func (s *SQL) Invalidate(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Delete(&cacheRow{}, "cache_key = ?", s.strategy.StorageKey(key)).
		Error
	if err != nil {
		return fmt.Errorf("%w: deleting cache row: %v", ErrUnavailable, err)
	}

	return nil
}

// Atomic is true: row-level consistency covers same-key access.
func (s *SQL) Atomic() bool {
	return true
}

// Close releases the database connection and encryption strategy.
func (s *SQL) Close() error {
	serr := s.strategy.Close()

	db, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}

	return serr
}
