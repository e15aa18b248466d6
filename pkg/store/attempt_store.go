package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/wxgate/wxgate/pkg/models"
)

const attemptColumns = `attempt_id, message_id, attempt_no, rule_id, platform_id,
	started_ts, finished_ts, outcome, error, retryable`

// AttemptStore persists the delivery-attempt ledger. One row per dispatch
// attempt; error text is redacted before it reaches this layer.
type AttemptStore struct {
	db *sql.DB
}

// NewAttemptStore creates an AttemptStore.
func NewAttemptStore(db *sql.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// Record inserts one ledger row.
func (s *AttemptStore) Record(ctx context.Context, a *models.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.AttemptID, a.MessageID, a.AttemptNo, a.RuleID, a.PlatformID,
		toMillis(a.StartedAt), toMillis(a.FinishedAt), string(a.Outcome),
		a.Error, a.Retryable)
	return errors.Wrap(err, "failed to insert delivery attempt")
}

// ListByMessage returns a message's attempts in attempt order.
func (s *AttemptStore) ListByMessage(ctx context.Context, messageID string) ([]*models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE message_id = $1 ORDER BY attempt_no ASC`, messageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query delivery attempts")
	}
	defer rows.Close()

	var out []*models.DeliveryAttempt
	for rows.Next() {
		var (
			a          models.DeliveryAttempt
			outcome    string
			startedTS  int64
			finishedTS int64
		)
		if err := rows.Scan(&a.AttemptID, &a.MessageID, &a.AttemptNo, &a.RuleID,
			&a.PlatformID, &startedTS, &finishedTS, &outcome, &a.Error, &a.Retryable); err != nil {
			return nil, errors.Wrap(err, "failed to scan delivery attempt")
		}
		a.Outcome = models.AttemptOutcome(outcome)
		a.StartedAt = fromMillis(startedTS)
		a.FinishedAt = fromMillis(finishedTS)
		out = append(out, &a)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate delivery attempts")
}
