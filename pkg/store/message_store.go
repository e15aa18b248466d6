package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/wxgate/wxgate/pkg/models"
)

// DedupWindow is the sliding window within which an identical
// (instance, chat, sender, content_hash) tuple ingests exactly once.
const DedupWindow = 60 * time.Second

const messageColumns = `seq, message_id, instance_id, chat_name, sender, sender_remark,
	content, mtype, content_hash, local_file_path, received_ts, at_me,
	delivery_status, delivery_attempts, next_attempt_ts, delivering_since_ts,
	reply_content, reply_status, last_error`

// MessageStore persists harvested messages and drives their delivery state
// machine. Row-level claims make it safe under concurrent delivery workers.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a MessageStore.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Ingest persists a new message unless an identical one arrived within the
// dedup window. Returns duplicate=true (and no error) when the message was
// dropped. The dedup check and the insert run in one transaction.
func (s *MessageStore) Ingest(ctx context.Context, m *models.Message) (duplicate bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin ingest transaction")
	}
	defer func() { _ = tx.Rollback() }()

	windowStart := toMillis(m.ReceivedAt.Add(-DedupWindow))
	var n int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE instance_id = $1 AND chat_name = $2 AND sender = $3
			AND content_hash = $4 AND received_ts > $5`,
		m.InstanceID, m.ChatName, m.Sender, m.ContentHash, windowStart).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "failed to check dedup window")
	}
	if n > 0 {
		return true, nil
	}

	if m.DeliveryStatus == "" {
		m.DeliveryStatus = models.DeliveryStatusPending
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (message_id, instance_id, chat_name, sender, sender_remark,
			content, mtype, content_hash, local_file_path, received_ts, at_me,
			delivery_status, next_attempt_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq`,
		m.MessageID, m.InstanceID, m.ChatName, m.Sender, m.SenderRemark,
		m.Content, string(m.MType), m.ContentHash, m.LocalFilePath,
		toMillis(m.ReceivedAt), m.AtMe, string(m.DeliveryStatus),
		toMillis(m.ReceivedAt)).Scan(&m.Seq)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert message")
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "failed to commit ingest")
	}
	return false, nil
}

// ClaimNext atomically moves the next eligible PENDING message to DELIVERING
// and returns it. Eligibility honors the backoff schedule and per-chat
// single-flight ordering: a message is claimable only when no earlier
// message of the same (instance, chat) is still pending or in flight.
// Returns (nil, nil) when nothing is claimable.
func (s *MessageStore) ClaimNext(ctx context.Context, now time.Time) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET delivery_status = $1, delivering_since_ts = $2,
			delivery_attempts = delivery_attempts + 1
		WHERE message_id = (
			SELECT m.message_id FROM messages m
			WHERE m.delivery_status = $3 AND m.next_attempt_ts <= $4
				AND NOT EXISTS (
					SELECT 1 FROM messages d
					WHERE d.instance_id = m.instance_id AND d.chat_name = m.chat_name
						AND d.delivery_status = $5
				)
				AND NOT EXISTS (
					SELECT 1 FROM messages e
					WHERE e.instance_id = m.instance_id AND e.chat_name = m.chat_name
						AND e.delivery_status = $6 AND e.seq < m.seq
				)
			ORDER BY m.seq ASC
			LIMIT 1
		) AND delivery_status = $7
		RETURNING `+messageColumns,
		string(models.DeliveryStatusDelivering), toMillis(now),
		string(models.DeliveryStatusPending), toMillis(now),
		string(models.DeliveryStatusDelivering),
		string(models.DeliveryStatusPending),
		string(models.DeliveryStatusPending))

	msg, err := scanMessage(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return msg, err
}

// MarkDelivering moves a specific message to DELIVERING without going
// through the claim query. Used by management-triggered redelivery.
func (s *MessageStore) MarkDelivering(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = $1, delivering_since_ts = $2
		WHERE message_id = $3 AND delivery_status = $4`,
		string(models.DeliveryStatusDelivering), toMillis(time.Now()),
		messageID, string(models.DeliveryStatusPending))
	if err != nil {
		return errors.Wrap(err, "failed to mark message delivering")
	}
	return requireRow(res)
}

// Requeue returns a terminal message to PENDING with a fresh attempt
// budget. Used by management-triggered redelivery.
func (s *MessageStore) Requeue(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = $1, delivery_attempts = 0,
			next_attempt_ts = $2, delivering_since_ts = NULL, last_error = ''
		WHERE message_id = $3`,
		string(models.DeliveryStatusPending), toMillis(time.Now()), messageID)
	if err != nil {
		return errors.Wrap(err, "failed to requeue message")
	}
	return requireRow(res)
}

// MarkDelivered finishes a message, recording the platform reply (nil for
// an explicit no-reply).
func (s *MessageStore) MarkDelivered(ctx context.Context, messageID string, reply *string) error {
	replyStatus := "none"
	if reply != nil {
		replyStatus = "sent"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = $1, reply_content = $2, reply_status = $3,
			delivering_since_ts = NULL, last_error = ''
		WHERE message_id = $4`,
		string(models.DeliveryStatusDelivered), reply, replyStatus, messageID)
	if err != nil {
		return errors.Wrap(err, "failed to mark message delivered")
	}
	return requireRow(res)
}

// RequeueForRetry returns a DELIVERING message to PENDING with a scheduled
// next attempt.
func (s *MessageStore) RequeueForRetry(ctx context.Context, messageID, lastError string, nextAttempt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = $1, next_attempt_ts = $2, last_error = $3,
			delivering_since_ts = NULL
		WHERE message_id = $4`,
		string(models.DeliveryStatusPending), toMillis(nextAttempt), lastError, messageID)
	if err != nil {
		return errors.Wrap(err, "failed to requeue message")
	}
	return requireRow(res)
}

// MarkFailed moves a message to terminal FAILED.
func (s *MessageStore) MarkFailed(ctx context.Context, messageID, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = $1, last_error = $2, delivering_since_ts = NULL
		WHERE message_id = $3`,
		string(models.DeliveryStatusFailed), lastError, messageID)
	if err != nil {
		return errors.Wrap(err, "failed to mark message failed")
	}
	return requireRow(res)
}

// Skip moves a message to terminal SKIPPED with a reason.
func (s *MessageStore) Skip(ctx context.Context, messageID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = $1, last_error = $2, delivering_since_ts = NULL
		WHERE message_id = $3`,
		string(models.DeliveryStatusSkipped), reason, messageID)
	if err != nil {
		return errors.Wrap(err, "failed to skip message")
	}
	return requireRow(res)
}

// ReclaimStale returns DELIVERING messages whose lease expired to PENDING.
// Run at dispatcher startup and periodically; covers worker crashes.
func (s *MessageStore) ReclaimStale(ctx context.Context, lease time.Duration, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = $1, delivering_since_ts = NULL
		WHERE delivery_status = $2 AND delivering_since_ts IS NOT NULL AND delivering_since_ts < $3`,
		string(models.DeliveryStatusPending), string(models.DeliveryStatusDelivering),
		toMillis(now.Add(-lease)))
	if err != nil {
		return 0, errors.Wrap(err, "failed to reclaim stale messages")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "failed to read reclaimed count")
}

// CountPending returns the pending-queue depth. The listener engine uses it
// for backpressure.
func (s *MessageStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE delivery_status = $1`,
		string(models.DeliveryStatusPending)).Scan(&n)
	return n, errors.Wrap(err, "failed to count pending messages")
}

// Get returns one message by id, or ErrNotFound.
func (s *MessageStore) Get(ctx context.Context, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE message_id = $1`, messageID)
	return scanMessage(row)
}

// List returns messages matching the filters, newest first.
func (s *MessageStore) List(ctx context.Context, f models.MessageFilters) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		query += clause
	}
	if f.InstanceID != "" {
		add(` AND instance_id = $`+strconv.Itoa(len(args)+1), f.InstanceID)
	}
	if f.ChatName != "" {
		add(` AND chat_name = $`+strconv.Itoa(len(args)+1), f.ChatName)
	}
	if f.Since != nil {
		add(` AND received_ts >= $`+strconv.Itoa(len(args)+1), toMillis(*f.Since))
	}
	if f.Status != "" {
		add(` AND delivery_status = $`+strconv.Itoa(len(args)+1), string(f.Status))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` ORDER BY seq DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)
	if f.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(len(args)+1)
		args = append(args, f.Offset)
	}

	return s.queryMessages(ctx, query, args...)
}

// ListSince returns up to limit messages with seq greater than sinceSeq, in
// seq order. Used for WebSocket catch-up.
func (s *MessageStore) ListSince(ctx context.Context, sinceSeq int64, limit int) ([]*models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		sinceSeq, limit)
}

func (s *MessageStore) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query messages")
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate messages")
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m          models.Message
		mtype      string
		status     string
		filePath   sql.NullString
		nextTS     int64
		sinceTS    sql.NullInt64
		receivedTS int64
		reply      sql.NullString
	)
	err := row.Scan(&m.Seq, &m.MessageID, &m.InstanceID, &m.ChatName, &m.Sender,
		&m.SenderRemark, &m.Content, &mtype, &m.ContentHash, &filePath,
		&receivedTS, &m.AtMe, &status, &m.DeliveryAttempts, &nextTS, &sinceTS,
		&reply, &m.ReplyStatus, &m.LastError)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan message")
	}

	m.MType = models.MType(mtype)
	m.DeliveryStatus = models.DeliveryStatus(status)
	m.ReceivedAt = fromMillis(receivedTS)
	m.NextAttemptAt = fromMillis(nextTS)
	m.DeliveringSince = fromNullMillis(sinceTS)
	if filePath.Valid {
		m.LocalFilePath = &filePath.String
	}
	if reply.Valid {
		m.ReplyContent = &reply.String
	}
	return &m, nil
}

