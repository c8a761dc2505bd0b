// Package notifications persists per-user in-app notifications, streams
// them over websockets, and mirrors them to Pub/Sub for downstream
// consumers. Outbox handlers are the only producers.
package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	EventType string          `json:"eventType"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ReadAt    *time.Time      `json:"readAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Insert writes a notification inside the caller's transaction (or pool).
func (s *Store) Insert(ctx context.Context, q database.Queryer, userID, eventType, title, body string, payload map[string]interface{}) (*Notification, error) {
	var payloadJSON []byte
	if payload != nil {
		var err error
		if payloadJSON, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	var n Notification
	err := q.QueryRowContext(ctx, `
		INSERT INTO notification_events (user_id, event_type, title, body, payload)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, user_id, event_type, title, body, payload, read_at, created_at`,
		userID, eventType, title, body, payloadJSON).
		Scan(&n.ID, &n.UserID, &n.EventType, &n.Title, &n.Body, &n.Payload, &n.ReadAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// List returns a user's notifications, newest first.
func (s *Store) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, int, error) {
	where := `WHERE user_id = $1`
	if unreadOnly {
		where += ` AND read_at IS NULL`
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notification_events `+where, userID).Scan(&total); err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, title, body, payload, read_at, created_at
		FROM notification_events `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventType, &n.Title, &n.Body, &n.Payload, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, 0, apperr.Internal.WithCause(err)
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// MarkRead marks one notification read for its owner.
func (s *Store) MarkRead(ctx context.Context, userID, notificationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_events SET read_at = now()
		WHERE id = $1 AND user_id = $2 AND read_at IS NULL`, notificationID, userID)
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM notification_events WHERE id = $1 AND user_id = $2)`,
			notificationID, userID).Scan(&exists); err != nil {
			return apperr.Internal.WithCause(err)
		}
		if !exists {
			return apperr.NotificationNotFound
		}
	}
	return nil
}

// MarkAllRead marks every unread notification read.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_events SET read_at = now()
		WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, apperr.Internal.WithCause(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
