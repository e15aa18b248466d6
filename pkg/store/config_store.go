package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/wxgate/wxgate/pkg/registry"
)

// ConfigStore is the key/value persistence behind the registry. Values are
// stored verbatim; the registry handles sealing and opening secrets.
type ConfigStore struct {
	db *sql.DB
}

// NewConfigStore creates a ConfigStore.
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Get returns the stored value for key and whether it is encrypted at rest.
// Absent keys yield registry.ErrKeyNotFound.
func (s *ConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value     string
		encrypted bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, encrypted FROM config WHERE key = $1`, key).
		Scan(&value, &encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, registry.ErrKeyNotFound
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to get config key %q", key)
	}
	return value, encrypted, nil
}

// Set upserts a key.
func (s *ConfigStore) Set(ctx context.Context, key, value string, encrypted bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, encrypted, updated_ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			encrypted = excluded.encrypted,
			updated_ts = excluded.updated_ts`,
		key, value, encrypted, toMillis(time.Now()))
	return errors.Wrapf(err, "failed to set config key %q", key)
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *ConfigStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = $1`, key)
	return errors.Wrapf(err, "failed to delete config key %q", key)
}
