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

const instanceColumns = `instance_id, name, base_url, api_key_enc, enabled, status,
	last_active_ts, last_error, config, created_ts, updated_ts`

// InstanceStore persists agent instance records. API keys live encrypted in
// the api_key_enc column and are decrypted on read.
type InstanceStore struct {
	db    *sql.DB
	codec *crypto.Codec
}

// NewInstanceStore creates an InstanceStore.
func NewInstanceStore(db *sql.DB, codec *crypto.Codec) *InstanceStore {
	return &InstanceStore{db: db, codec: codec}
}

// Create inserts a new instance.
func (s *InstanceStore) Create(ctx context.Context, inst *models.Instance) error {
	keyEnc, err := s.codec.Encrypt(inst.APIKey)
	if err != nil {
		return errors.Wrap(err, "failed to encrypt api key")
	}
	configJSON, err := json.Marshal(inst.Config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal instance config")
	}

	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	if inst.Status == "" {
		inst.Status = models.InstanceStatusInitializing
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inst.InstanceID, inst.Name, inst.BaseURL, keyEnc, inst.Enabled,
		string(inst.Status), toNullMillis(inst.LastActiveAt), inst.LastError,
		string(configJSON), toMillis(now), toMillis(now))
	return errors.Wrap(err, "failed to insert instance")
}

// Get returns one instance, or ErrNotFound.
func (s *InstanceStore) Get(ctx context.Context, instanceID string) (*models.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+` FROM instances WHERE instance_id = $1`, instanceID)
	return s.scan(row)
}

// List returns all instances ordered by creation time.
func (s *InstanceStore) List(ctx context.Context) ([]*models.Instance, error) {
	return s.list(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_ts ASC`)
}

// ListEnabled returns enabled instances ordered by creation time.
func (s *InstanceStore) ListEnabled(ctx context.Context) ([]*models.Instance, error) {
	return s.list(ctx, `
		SELECT `+instanceColumns+` FROM instances WHERE enabled = $1 ORDER BY created_ts ASC`, true)
}

// Update rewrites the mutable fields of an instance.
func (s *InstanceStore) Update(ctx context.Context, inst *models.Instance) error {
	keyEnc, err := s.codec.Encrypt(inst.APIKey)
	if err != nil {
		return errors.Wrap(err, "failed to encrypt api key")
	}
	configJSON, err := json.Marshal(inst.Config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal instance config")
	}

	inst.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET name = $1, base_url = $2, api_key_enc = $3, enabled = $4, config = $5, updated_ts = $6
		WHERE instance_id = $7`,
		inst.Name, inst.BaseURL, keyEnc, inst.Enabled, string(configJSON),
		toMillis(inst.UpdatedAt), inst.InstanceID)
	if err != nil {
		return errors.Wrap(err, "failed to update instance")
	}
	return requireRow(res)
}

// UpdateStatus records the runtime status of an instance. lastActive is
// only written when non-nil, so health failures keep the last activity time.
func (s *InstanceStore) UpdateStatus(ctx context.Context, instanceID string, status models.InstanceStatus, lastError string, lastActive *time.Time) error {
	var res sql.Result
	var err error
	if lastActive != nil {
		res, err = s.db.ExecContext(ctx, `
			UPDATE instances SET status = $1, last_error = $2, last_active_ts = $3, updated_ts = $4
			WHERE instance_id = $5`,
			string(status), lastError, toMillis(*lastActive), toMillis(time.Now()), instanceID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE instances SET status = $1, last_error = $2, updated_ts = $3
			WHERE instance_id = $4`,
			string(status), lastError, toMillis(time.Now()), instanceID)
	}
	if err != nil {
		return errors.Wrap(err, "failed to update instance status")
	}
	return requireRow(res)
}

// SetEnabled flips the enabled flag.
func (s *InstanceStore) SetEnabled(ctx context.Context, instanceID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE instances SET enabled = $1, updated_ts = $2 WHERE instance_id = $3`,
		enabled, toMillis(time.Now()), instanceID)
	if err != nil {
		return errors.Wrap(err, "failed to set instance enabled")
	}
	return requireRow(res)
}

// Delete removes an instance row.
func (s *InstanceStore) Delete(ctx context.Context, instanceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE instance_id = $1`, instanceID)
	if err != nil {
		return errors.Wrap(err, "failed to delete instance")
	}
	return requireRow(res)
}

func (s *InstanceStore) list(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query instances")
	}
	defer rows.Close()

	var out []*models.Instance
	for rows.Next() {
		inst, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate instances")
}

func (s *InstanceStore) scan(row rowScanner) (*models.Instance, error) {
	var (
		inst       models.Instance
		status     string
		keyEnc     string
		lastActive sql.NullInt64
		configJSON string
		createdTS  int64
		updatedTS  int64
	)
	err := row.Scan(&inst.InstanceID, &inst.Name, &inst.BaseURL, &keyEnc, &inst.Enabled,
		&status, &lastActive, &inst.LastError, &configJSON, &createdTS, &updatedTS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan instance")
	}

	if keyEnc != "" {
		key, err := s.codec.Decrypt(keyEnc)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decrypt api key for instance %s", inst.InstanceID)
		}
		inst.APIKey = key
	}
	if err := json.Unmarshal([]byte(configJSON), &inst.Config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config for instance %s", inst.InstanceID)
	}

	inst.Status = models.InstanceStatus(status)
	inst.LastActiveAt = fromNullMillis(lastActive)
	inst.CreatedAt = fromMillis(createdTS)
	inst.UpdatedAt = fromMillis(updatedTS)
	return &inst, nil
}

// requireRow converts a zero-row update/delete into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
