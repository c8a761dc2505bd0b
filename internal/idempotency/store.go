// Package idempotency deduplicates monetary writes. A client-supplied key,
// scoped per endpoint, maps to a fingerprint of the request body and the
// cached response; replays with the same body get the cached response and
// replays with a different body fail IDEMPOTENCY_CONFLICT.
package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

// Header is the cross-cutting request header carrying the key.
const Header = "Idempotency-Key"

// DefaultTTL bounds how long a key blocks divergent replays.
const DefaultTTL = 24 * time.Hour

// Scopes for the monetary endpoints.
const (
	ScopeOrderCreate   = "order_create"
	ScopePaymentStart  = "payment_start"
	ScopeRefundRequest = "refund_request"
)

// Replay is a cached response for a repeated key.
type Replay struct {
	Status int
	Body   json.RawMessage
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store { return &Store{db: db} }

func fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Check looks up the key. Returns (nil, nil) for a fresh key, a Replay for
// an identical replay, and IDEMPOTENCY_CONFLICT for a body mismatch.
// Expired rows are treated as fresh.
func (s *Store) Check(ctx context.Context, scope, key string, body []byte) (*Replay, error) {
	keyHash := fingerprint([]byte(key))
	reqHash := fingerprint(body)

	var storedReqHash string
	var status sql.NullInt64
	var respBody []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT request_hash, response_status, response_body, expires_at
		FROM idempotency_keys
		WHERE scope = $1 AND key_hash = $2`, scope, keyHash).
		Scan(&storedReqHash, &status, &respBody, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	if time.Now().After(expiresAt) {
		return nil, nil
	}
	if storedReqHash != reqHash {
		return nil, apperr.IdempotencyConflict
	}
	if !status.Valid {
		// First attempt is still in flight; a concurrent identical replay
		// cannot be served a response yet.
		return nil, apperr.IdempotencyConflict.WithMessage("request with this idempotency key is still in progress")
	}
	return &Replay{Status: int(status.Int64), Body: respBody}, nil
}

// Reserve claims the key before the handler runs. Exactly one caller wins:
// the insert only lands on a fresh key or over an expired row, so a
// concurrent loser sees zero rows and gets a conflict instead of running
// the handler a second time.
func (s *Store) Reserve(ctx context.Context, scope, key string, body []byte) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (scope, key_hash, request_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope, key_hash) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_status = NULL,
		    response_body = NULL,
		    expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at < now()`,
		scope, fingerprint([]byte(key)), fingerprint(body), time.Now().Add(DefaultTTL))
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	return reserveOutcome(res.RowsAffected())
}

// reserveOutcome maps the upsert's row count onto the caller's fate. Zero
// rows means a live row already holds the key.
func reserveOutcome(rows int64, err error) error {
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	if rows == 0 {
		return apperr.IdempotencyConflict.WithMessage("request with this idempotency key is still in progress")
	}
	return nil
}

// SaveResponse caches the completed response for future replays.
func (s *Store) SaveResponse(ctx context.Context, scope, key string, status int, body json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_status = $3, response_body = $4
		WHERE scope = $1 AND key_hash = $2`,
		scope, fingerprint([]byte(key)), status, []byte(body))
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	return nil
}

// Release drops a reservation after a handler failure so the client can
// retry with the same key.
func (s *Store) Release(ctx context.Context, scope, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE scope = $1 AND key_hash = $2 AND response_status IS NULL`,
		scope, fingerprint([]byte(key)))
	return err
}

// PurgeExpired removes rows past their TTL; called by the retention loop.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
