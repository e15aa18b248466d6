// Package store implements plain-SQL persistence for every entity table.
// All multi-statement writes are transactional, every call takes a context,
// and encrypted columns pass through pkg/crypto at this boundary so callers
// only ever see plaintext.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/wxgate/wxgate/pkg/crypto"
	"github.com/wxgate/wxgate/pkg/database"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Stores bundles one store per entity over a shared database client.
type Stores struct {
	Instances *InstanceStore
	Platforms *PlatformStore
	Rules     *RuleStore
	Listeners *ListenerStore
	Messages  *MessageStore
	Attempts  *AttemptStore
	Config    *ConfigStore
}

// New creates all entity stores.
func New(client *database.Client, codec *crypto.Codec) *Stores {
	db := client.DB()
	return &Stores{
		Instances: NewInstanceStore(db, codec),
		Platforms: NewPlatformStore(db, codec),
		Rules:     NewRuleStore(db),
		Listeners: NewListenerStore(db),
		Messages:  NewMessageStore(db),
		Attempts:  NewAttemptStore(db),
		Config:    NewConfigStore(db),
	}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// toMillis converts a time to the epoch-millisecond representation used by
// every timestamp column.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis converts an epoch-millisecond column value back to a time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// fromNullMillis converts a nullable millisecond column to a *time.Time.
func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// toNullMillis converts a *time.Time to a nullable millisecond value.
func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}
