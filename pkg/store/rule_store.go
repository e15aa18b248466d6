package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/wxgate/wxgate/pkg/models"
)

const ruleColumns = `rule_id, name, instance_id, chat_pattern, platform_id, priority,
	enabled, only_at_messages, created_ts, updated_ts`

// RuleStore persists delivery rules.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore creates a RuleStore.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// Create inserts a new rule.
func (s *RuleStore) Create(ctx context.Context, r *models.Rule) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.RuleID, r.Name, r.InstanceID, r.ChatPattern, r.PlatformID, r.Priority,
		r.Enabled, r.OnlyAtMessages, toMillis(now), toMillis(now))
	return errors.Wrap(err, "failed to insert rule")
}

// Get returns one rule, or ErrNotFound.
func (s *RuleStore) Get(ctx context.Context, ruleID string) (*models.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE rule_id = $1`, ruleID)
	return scanRule(row)
}

// List returns all rules ordered by priority then id.
func (s *RuleStore) List(ctx context.Context) ([]*models.Rule, error) {
	return s.list(ctx, `
		SELECT `+ruleColumns+` FROM rules ORDER BY priority DESC, rule_id ASC`)
}

// ListEnabled returns enabled rules ordered by priority then id.
func (s *RuleStore) ListEnabled(ctx context.Context) ([]*models.Rule, error) {
	return s.list(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE enabled = $1
		ORDER BY priority DESC, rule_id ASC`, true)
}

// Update rewrites the mutable fields of a rule.
func (s *RuleStore) Update(ctx context.Context, r *models.Rule) error {
	r.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = $1, instance_id = $2, chat_pattern = $3, platform_id = $4,
			priority = $5, enabled = $6, only_at_messages = $7, updated_ts = $8
		WHERE rule_id = $9`,
		r.Name, r.InstanceID, r.ChatPattern, r.PlatformID, r.Priority,
		r.Enabled, r.OnlyAtMessages, toMillis(r.UpdatedAt), r.RuleID)
	if err != nil {
		return errors.Wrap(err, "failed to update rule")
	}
	return requireRow(res)
}

// Delete removes a rule row.
func (s *RuleStore) Delete(ctx context.Context, ruleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return errors.Wrap(err, "failed to delete rule")
	}
	return requireRow(res)
}

func (s *RuleStore) list(ctx context.Context, query string, args ...any) ([]*models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query rules")
	}
	defer rows.Close()

	var out []*models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate rules")
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var (
		r         models.Rule
		createdTS int64
		updatedTS int64
	)
	err := row.Scan(&r.RuleID, &r.Name, &r.InstanceID, &r.ChatPattern, &r.PlatformID,
		&r.Priority, &r.Enabled, &r.OnlyAtMessages, &createdTS, &updatedTS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan rule")
	}
	r.CreatedAt = fromMillis(createdTS)
	r.UpdatedAt = fromMillis(updatedTS)
	return &r, nil
}
