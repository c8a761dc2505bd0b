// Package chat provides buyer/seller messaging with keyset cursor
// pagination over message history.
package chat

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

type Chat struct {
	ID        string    `json:"id"`
	OrderID   *string   `json:"orderId,omitempty"`
	BuyerID   string    `json:"buyerId"`
	SellerID  string    `json:"sellerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Open finds or creates the chat between a buyer and a seller, optionally
// pinned to an order.
func (s *Store) Open(ctx context.Context, buyerID, sellerID string, orderID *string) (*Chat, error) {
	var c Chat
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chats (buyer_id, seller_id, order_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (buyer_id, seller_id, order_id) DO UPDATE SET buyer_id = EXCLUDED.buyer_id
		RETURNING id, order_id, buyer_id, seller_id, created_at`,
		buyerID, sellerID, orderID).
		Scan(&c.ID, &c.OrderID, &c.BuyerID, &c.SellerID, &c.CreatedAt)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &c, nil
}

// Get returns a chat the user participates in.
func (s *Store) Get(ctx context.Context, chatID, userID string) (*Chat, error) {
	var c Chat
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, created_at
		FROM chats WHERE id = $1`, chatID).
		Scan(&c.ID, &c.OrderID, &c.BuyerID, &c.SellerID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.ChatNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	if c.BuyerID != userID && c.SellerID != userID {
		return nil, apperr.ChatNotFound
	}
	return &c, nil
}

// ListForUser returns the user's chats, most recent activity first.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.order_id, c.buyer_id, c.seller_id, c.created_at
		FROM chats c
		LEFT JOIN LATERAL (
			SELECT created_at FROM messages WHERE chat_id = c.id
			ORDER BY created_at DESC LIMIT 1
		) m ON true
		WHERE c.buyer_id = $1 OR c.seller_id = $1
		ORDER BY coalesce(m.created_at, c.created_at) DESC`, userID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.OrderID, &c.BuyerID, &c.SellerID, &c.CreatedAt); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// Send appends a message from a participant.
func (s *Store) Send(ctx context.Context, chatID, senderID, body string) (*Message, error) {
	if body == "" {
		return nil, apperr.Validation("message body is required", nil)
	}
	if _, err := s.Get(ctx, chatID, senderID); err != nil {
		return nil, err
	}
	var m Message
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, body)
		VALUES ($1,$2,$3)
		RETURNING id, chat_id, sender_id, body, created_at`,
		chatID, senderID, body).
		Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.CreatedAt)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &m, nil
}

// cursor is the keyset position for message pagination, newest first.
type cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// EncodeCursor serializes a keyset position.
func EncodeCursor(createdAt time.Time, id string) string {
	body, _ := json.Marshal(cursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(body)
}

func decodeCursor(raw string) (*cursor, error) {
	body, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, apperr.CursorInvalid
	}
	var c cursor
	if err := json.Unmarshal(body, &c); err != nil || c.ID == "" {
		return nil, apperr.CursorInvalid
	}
	return &c, nil
}

// Messages pages through chat history newest first. The returned cursor is
// empty when the history is exhausted.
func (s *Store) Messages(ctx context.Context, chatID, userID, after string, limit int) ([]Message, string, error) {
	if _, err := s.Get(ctx, chatID, userID); err != nil {
		return nil, "", err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT id, chat_id, sender_id, body, created_at
		FROM messages WHERE chat_id = $1`
	args := []interface{}{chatID}
	if after != "" {
		cur, err := decodeCursor(after)
		if err != nil {
			return nil, "", err
		}
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cur.CreatedAt, cur.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + strconv.Itoa(limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, "", apperr.Internal.WithCause(err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", apperr.Internal.WithCause(err)
	}

	next := ""
	if len(messages) > limit {
		messages = messages[:limit]
		last := messages[len(messages)-1]
		next = EncodeCursor(last.CreatedAt, last.ID)
	}
	return messages, next, nil
}
