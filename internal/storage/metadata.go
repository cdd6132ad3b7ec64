package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MetadataRepository is a small key/value table for store-level settings
// such as the sealing salt.
type MetadataRepository struct {
	db DBTX
}

func NewMetadataRepository(db DBTX) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Get returns (nil, nil) when key is absent.
func (r *MetadataRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r *MetadataRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}
