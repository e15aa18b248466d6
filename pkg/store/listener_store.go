package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/wxgate/wxgate/pkg/models"
)

const listenerColumns = `instance_id, chat_name, state, added_ts, last_message_ts,
	marked_for_removal, manual, conversation_started, fixed`

// ListenerStore persists the (instance, chat) listener set. The listener
// engine owns the in-memory copy; this table makes restarts resume where
// they left off.
type ListenerStore struct {
	db *sql.DB
}

// NewListenerStore creates a ListenerStore.
func NewListenerStore(db *sql.DB) *ListenerStore {
	return &ListenerStore{db: db}
}

// Create inserts a new listener row.
func (s *ListenerStore) Create(ctx context.Context, l *models.Listener) error {
	if l.State == "" {
		l.State = models.ListenerStateInactive
	}
	if l.AddedAt.IsZero() {
		l.AddedAt = time.Now()
	}
	if l.LastMessageAt.IsZero() {
		l.LastMessageAt = l.AddedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listeners (`+listenerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.InstanceID, l.ChatName, string(l.State), toMillis(l.AddedAt),
		toMillis(l.LastMessageAt), l.MarkedForRemoval, l.Manual,
		l.ConversationStarted, l.Fixed)
	return errors.Wrap(err, "failed to insert listener")
}

// Get returns one listener, or ErrNotFound.
func (s *ListenerStore) Get(ctx context.Context, instanceID, chatName string) (*models.Listener, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+listenerColumns+` FROM listeners
		WHERE instance_id = $1 AND chat_name = $2`, instanceID, chatName)
	return scanListener(row)
}

// List returns all listeners ordered by instance then chat.
func (s *ListenerStore) List(ctx context.Context) ([]*models.Listener, error) {
	return s.list(ctx, `
		SELECT `+listenerColumns+` FROM listeners ORDER BY instance_id, chat_name`)
}

// ListByInstance returns one instance's listeners.
func (s *ListenerStore) ListByInstance(ctx context.Context, instanceID string) ([]*models.Listener, error) {
	return s.list(ctx, `
		SELECT `+listenerColumns+` FROM listeners
		WHERE instance_id = $1 ORDER BY chat_name`, instanceID)
}

// CountByInstance returns the listener count for one instance.
func (s *ListenerStore) CountByInstance(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM listeners WHERE instance_id = $1`, instanceID).Scan(&n)
	return n, errors.Wrap(err, "failed to count listeners")
}

// Touch records message activity: last_message_ts, state, and the
// conversation-started flag move together on ingest.
func (s *ListenerStore) Touch(ctx context.Context, instanceID, chatName string, lastMessage time.Time, state models.ListenerState, conversationStarted bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listeners SET last_message_ts = $1, state = $2, conversation_started = $3
		WHERE instance_id = $4 AND chat_name = $5`,
		toMillis(lastMessage), string(state), conversationStarted, instanceID, chatName)
	if err != nil {
		return errors.Wrap(err, "failed to touch listener")
	}
	return requireRow(res)
}

// SetState updates only the lifecycle state column.
func (s *ListenerStore) SetState(ctx context.Context, instanceID, chatName string, state models.ListenerState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listeners SET state = $1 WHERE instance_id = $2 AND chat_name = $3`,
		string(state), instanceID, chatName)
	if err != nil {
		return errors.Wrap(err, "failed to set listener state")
	}
	return requireRow(res)
}

// MarkForRemoval flags a listener for the cleanup loop.
func (s *ListenerStore) MarkForRemoval(ctx context.Context, instanceID, chatName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listeners SET marked_for_removal = $1, state = $2
		WHERE instance_id = $3 AND chat_name = $4`,
		true, string(models.ListenerStateMarkedForRemoval), instanceID, chatName)
	if err != nil {
		return errors.Wrap(err, "failed to mark listener for removal")
	}
	return requireRow(res)
}

// Delete removes a listener row. Removal of an already-removed listener is
// not an error: L3 and the management surface may race on the same row.
func (s *ListenerStore) Delete(ctx context.Context, instanceID, chatName string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM listeners WHERE instance_id = $1 AND chat_name = $2`,
		instanceID, chatName)
	return errors.Wrap(err, "failed to delete listener")
}

func (s *ListenerStore) list(ctx context.Context, query string, args ...any) ([]*models.Listener, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query listeners")
	}
	defer rows.Close()

	var out []*models.Listener
	for rows.Next() {
		l, err := scanListener(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate listeners")
}

func scanListener(row rowScanner) (*models.Listener, error) {
	var (
		l       models.Listener
		state   string
		addedTS int64
		lastTS  int64
	)
	err := row.Scan(&l.InstanceID, &l.ChatName, &state, &addedTS, &lastTS,
		&l.MarkedForRemoval, &l.Manual, &l.ConversationStarted, &l.Fixed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan listener")
	}
	l.State = models.ListenerState(state)
	l.AddedAt = fromMillis(addedTS)
	l.LastMessageAt = fromMillis(lastTS)
	return &l, nil
}
