package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/wxgate/wxgate/pkg/crypto"
	"github.com/wxgate/wxgate/pkg/models"
)

const platformColumns = `platform_id, name, kind, config_enc, enabled, created_ts, updated_ts`

// PlatformStore persists service platform records. The whole config map is
// stored as one encrypted JSON blob since any key may hold a secret.
type PlatformStore struct {
	db    *sql.DB
	codec *crypto.Codec
}

// NewPlatformStore creates a PlatformStore.
func NewPlatformStore(db *sql.DB, codec *crypto.Codec) *PlatformStore {
	return &PlatformStore{db: db, codec: codec}
}

// Create inserts a new platform.
func (s *PlatformStore) Create(ctx context.Context, p *models.Platform) error {
	configEnc, err := s.sealConfig(p.Config)
	if err != nil {
		return err
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO platforms (`+platformColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.PlatformID, p.Name, string(p.Kind), configEnc, p.Enabled,
		toMillis(now), toMillis(now))
	return errors.Wrap(err, "failed to insert platform")
}

// Get returns one platform, or ErrNotFound.
func (s *PlatformStore) Get(ctx context.Context, platformID string) (*models.Platform, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+platformColumns+` FROM platforms WHERE platform_id = $1`, platformID)
	return s.scan(row)
}

// List returns all platforms ordered by creation time.
func (s *PlatformStore) List(ctx context.Context) ([]*models.Platform, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+platformColumns+` FROM platforms ORDER BY created_ts ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query platforms")
	}
	defer rows.Close()

	var out []*models.Platform
	for rows.Next() {
		p, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate platforms")
}

// Update rewrites the mutable fields of a platform.
func (s *PlatformStore) Update(ctx context.Context, p *models.Platform) error {
	configEnc, err := s.sealConfig(p.Config)
	if err != nil {
		return err
	}

	p.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE platforms SET name = $1, kind = $2, config_enc = $3, enabled = $4, updated_ts = $5
		WHERE platform_id = $6`,
		p.Name, string(p.Kind), configEnc, p.Enabled, toMillis(p.UpdatedAt), p.PlatformID)
	if err != nil {
		return errors.Wrap(err, "failed to update platform")
	}
	return requireRow(res)
}

// SetEnabled flips the enabled flag.
func (s *PlatformStore) SetEnabled(ctx context.Context, platformID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE platforms SET enabled = $1, updated_ts = $2 WHERE platform_id = $3`,
		enabled, toMillis(time.Now()), platformID)
	if err != nil {
		return errors.Wrap(err, "failed to set platform enabled")
	}
	return requireRow(res)
}

// Delete removes a platform row.
func (s *PlatformStore) Delete(ctx context.Context, platformID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM platforms WHERE platform_id = $1`, platformID)
	if err != nil {
		return errors.Wrap(err, "failed to delete platform")
	}
	return requireRow(res)
}

func (s *PlatformStore) sealConfig(config map[string]any) (string, error) {
	if config == nil {
		config = map[string]any{}
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal platform config")
	}
	sealed, err := s.codec.Encrypt(string(raw))
	if err != nil {
		return "", errors.Wrap(err, "failed to encrypt platform config")
	}
	return sealed, nil
}

func (s *PlatformStore) scan(row rowScanner) (*models.Platform, error) {
	var (
		p         models.Platform
		kind      string
		configEnc string
		createdTS int64
		updatedTS int64
	)
	err := row.Scan(&p.PlatformID, &p.Name, &kind, &configEnc, &p.Enabled, &createdTS, &updatedTS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan platform")
	}

	if configEnc != "" {
		raw, err := s.codec.Decrypt(configEnc)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decrypt config for platform %s", p.PlatformID)
		}
		if err := json.Unmarshal([]byte(raw), &p.Config); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal config for platform %s", p.PlatformID)
		}
	}
	if p.Config == nil {
		p.Config = map[string]any{}
	}

	p.Kind = models.PlatformKind(kind)
	p.CreatedAt = fromMillis(createdTS)
	p.UpdatedAt = fromMillis(updatedTS)
	return &p, nil
}
