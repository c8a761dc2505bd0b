// Package payments orchestrates the checkout lifecycle against the payment
// provider: session start, buyer return recording, and the HMAC-signed
// confirmation webhook that is the sole authority for marking orders paid.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/config"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/metrics"
	"github.com/coziyoo/backend/internal/orders"
	"github.com/coziyoo/backend/internal/outbox"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "x-provider-signature"

// Attempt statuses.
const (
	StatusInitiated          = "initiated"
	StatusReturnedSuccess    = "returned_success"
	StatusReturnedFailed     = "returned_failed"
	StatusConfirmed          = "confirmed"
	StatusConfirmationFailed = "confirmation_failed"
)

type Attempt struct {
	ID                  string          `json:"id"`
	OrderID             string          `json:"orderId"`
	Provider            string          `json:"provider"`
	ProviderSessionID   string          `json:"providerSessionId"`
	ProviderReferenceID *string         `json:"providerReferenceId,omitempty"`
	Status              string          `json:"status"`
	SignatureValid      *bool           `json:"signatureValid,omitempty"`
	CallbackPayload     json.RawMessage `json:"callbackPayload,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

type Service struct {
	db     *database.DB
	cfg    config.PaymentConfig
	logger *log.Logger
}

func NewService(db *database.DB, cfg config.PaymentConfig) *Service {
	return &Service{
		db:     db,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[PAYMENTS] ", log.LstdFlags),
	}
}

const attemptCols = `id, order_id, provider, provider_session_id, provider_reference_id,
	status, signature_valid, callback_payload, created_at, updated_at`

func scanAttempt(row interface{ Scan(...interface{}) error }) (*Attempt, error) {
	var a Attempt
	err := row.Scan(&a.ID, &a.OrderID, &a.Provider, &a.ProviderSessionID,
		&a.ProviderReferenceID, &a.Status, &a.SignatureValid, &a.CallbackPayload,
		&a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.PaymentAttemptNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &a, nil
}

// StartResult is the checkout handoff returned to the buyer client.
type StartResult struct {
	AttemptID   string `json:"attemptId"`
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
	OrderStatus string `json:"orderStatus"`
}

// Start opens a payment session for a buyer-owned order. A seller_approved
// order moves to awaiting_payment in the same transaction; an order already
// awaiting payment with a live attempt conflicts.
func (s *Service) Start(ctx context.Context, buyerID, orderID string) (*StartResult, error) {
	sessionID := "ps_" + uuid.NewString()

	var result *StartResult
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var status, orderBuyer string
		err := tx.QueryRowContext(ctx,
			`SELECT status, buyer_id FROM orders WHERE id = $1 FOR UPDATE`, orderID).
			Scan(&status, &orderBuyer)
		if err == sql.ErrNoRows {
			return apperr.OrderNotFound
		}
		if err != nil {
			return err
		}
		if orderBuyer != buyerID {
			return apperr.ForbiddenOrder
		}

		switch status {
		case orders.StatusSellerApproved:
			actor := orders.TransitionActor{Kind: orders.ActorBuyer, ID: buyerID, Realm: "app", UserID: buyerID}
			if _, err := orders.ApplyTransition(ctx, tx, orderID, orders.StatusAwaitingPayment, actor,
				map[string]interface{}{"reason": "payment_started"}); err != nil {
				return err
			}
		case orders.StatusAwaitingPayment:
			var live bool
			err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM payment_attempts
					WHERE order_id = $1 AND status IN ('initiated','returned_success')
				)`, orderID).Scan(&live)
			if err != nil {
				return err
			}
			if live {
				return apperr.PaymentSessionConflict
			}
		default:
			return apperr.OrderInvalidState.WithDetails(map[string]interface{}{
				"status": status,
			})
		}

		var attemptID string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO payment_attempts (order_id, provider_session_id)
			VALUES ($1,$2) RETURNING id`, orderID, sessionID).Scan(&attemptID)
		if err != nil {
			return err
		}

		if err := outbox.Enqueue(ctx, tx, outbox.EventPaymentSessionStarted, "payment_attempt", attemptID,
			map[string]interface{}{"orderId": orderID, "sessionId": sessionID}); err != nil {
			return err
		}

		result = &StartResult{
			AttemptID:   attemptID,
			SessionID:   sessionID,
			CheckoutURL: fmt.Sprintf("%s/%s", s.cfg.CheckoutBaseURL, sessionID),
			OrderStatus: orders.StatusAwaitingPayment,
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("💳 Payment session %s started for order %s", sessionID, orderID)
	return result, nil
}

// RecordReturn notes the buyer's browser return from checkout. It is
// informational only; the webhook remains the source of truth.
func (s *Service) RecordReturn(ctx context.Context, sessionID string, success bool) (*Attempt, error) {
	to := StatusReturnedSuccess
	if !success {
		to = StatusReturnedFailed
	}
	attempt, err := scanAttempt(s.db.QueryRowContext(ctx, `
		UPDATE payment_attempts
		SET status = $2, updated_at = now()
		WHERE provider_session_id = $1 AND status = 'initiated'
		RETURNING `+attemptCols, sessionID, to))
	if err != nil {
		if apperr.IsCode(err, "PAYMENT_ATTEMPT_NOT_FOUND") {
			// Webhook may already have confirmed; report current state.
			return s.bySession(ctx, sessionID)
		}
		return nil, err
	}
	return attempt, nil
}

// WebhookPayload is the provider confirmation body.
type WebhookPayload struct {
	SessionID           string `json:"sessionId"`
	ProviderReferenceID string `json:"providerReferenceId"`
	Result              string `json:"result"` // confirmed | failed
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body in constant
// time.
func (s *Service) VerifySignature(rawBody []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(rawBody)
	return hmac.Equal(provided, mac.Sum(nil))
}

// WebhookResult is the acknowledgement body returned to the provider.
type WebhookResult struct {
	Accepted   bool `json:"accepted"`
	Paid       bool `json:"paid"`
	Idempotent bool `json:"idempotent,omitempty"`
}

// HandleWebhook processes a provider confirmation. Invalid signatures mark
// the attempt without touching the order. A confirmed result moves the
// order to paid in the same transaction as the attempt update; replays of
// an already-confirmed session are acknowledged without effect.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	var payload WebhookPayload
	// Parse leniently first; the signature check decides trust.
	_ = json.Unmarshal(rawBody, &payload)

	if !s.VerifySignature(rawBody, signature) {
		metrics.PaymentWebhooks.WithLabelValues("signature_invalid").Inc()
		if payload.SessionID != "" {
			s.markSignatureInvalid(ctx, payload.SessionID, rawBody)
		}
		return nil, apperr.WebhookSignatureInvalid
	}

	if payload.SessionID == "" {
		metrics.PaymentWebhooks.WithLabelValues("malformed").Inc()
		return nil, apperr.Validation("webhook payload missing sessionId", nil)
	}

	result := &WebhookResult{Accepted: true}
	var stateConflict bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		attempt, err := scanAttempt(tx.QueryRowContext(ctx,
			`SELECT `+attemptCols+` FROM payment_attempts WHERE provider_session_id = $1 FOR UPDATE`,
			payload.SessionID))
		if err != nil {
			return err
		}

		newStatus, settleOrder, idempotent := decideWebhook(attempt.Status, payload.Result)
		if idempotent {
			result.Paid = true
			result.Idempotent = true
			// Replay of a settled session; still keep the payload history.
			_, err := tx.ExecContext(ctx, `
				UPDATE payment_attempts
				SET callback_payload = callback_payload || $2::jsonb, updated_at = now()
				WHERE id = $1`, attempt.ID, appendable(rawBody))
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE payment_attempts
			SET status = $2, provider_reference_id = $3, signature_valid = true,
				callback_payload = callback_payload || $4::jsonb, updated_at = now()
			WHERE id = $1`,
			attempt.ID, newStatus, nullIfEmpty(payload.ProviderReferenceID),
			appendable(rawBody)); err != nil {
			return err
		}

		if !settleOrder {
			return nil
		}

		actor := orders.TransitionActor{Kind: orders.ActorSystem, Realm: "system"}
		if _, err := orders.ApplyTransition(ctx, tx, attempt.OrderID, orders.StatusPaid, actor,
			map[string]interface{}{"sessionId": payload.SessionID, "referenceId": payload.ProviderReferenceID}); err != nil {
			if !apperr.IsCode(err, "ORDER_INVALID_STATE") {
				return err
			}
			// The order left awaiting_payment while checkout was open.
			// Commit the attempt as failed, with the payload retained, and
			// surface the conflict after the transaction lands.
			if _, err := tx.ExecContext(ctx, `
				UPDATE payment_attempts SET status = $2, updated_at = now()
				WHERE id = $1`, attempt.ID, StatusConfirmationFailed); err != nil {
				return err
			}
			stateConflict = true
			return nil
		}
		result.Paid = true
		return outbox.Enqueue(ctx, tx, outbox.EventPaymentConfirmed, "order", attempt.OrderID,
			map[string]interface{}{
				"orderId":     attempt.OrderID,
				"sessionId":   payload.SessionID,
				"referenceId": payload.ProviderReferenceID,
			})
	})
	if err != nil {
		metrics.PaymentWebhooks.WithLabelValues("error").Inc()
		return nil, wrap(err)
	}
	if stateConflict {
		metrics.PaymentWebhooks.WithLabelValues("state_conflict").Inc()
		s.logger.Printf("⚠️ Webhook for session %s arrived after the order moved on", payload.SessionID)
		return nil, apperr.PaymentStateConflict
	}
	metrics.PaymentWebhooks.WithLabelValues(payload.Result).Inc()
	s.logger.Printf("✅ Webhook processed for session %s (result=%s)", payload.SessionID, payload.Result)
	return result, nil
}

// decideWebhook maps a provider result onto the attempt given its current
// status. A session that already confirmed is acknowledged untouched.
func decideWebhook(attemptStatus, result string) (newStatus string, settleOrder, idempotent bool) {
	if attemptStatus == StatusConfirmed {
		return StatusConfirmed, false, true
	}
	if result == "confirmed" {
		return StatusConfirmed, true, false
	}
	return StatusConfirmationFailed, false, false
}

func (s *Service) markSignatureInvalid(ctx context.Context, sessionID string, rawBody []byte) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_attempts
		SET signature_valid = false,
			status = CASE WHEN status = 'confirmed' THEN status ELSE 'confirmation_failed' END,
			callback_payload = callback_payload || $2::jsonb, updated_at = now()
		WHERE provider_session_id = $1`, sessionID, appendable(rawBody))
	if err != nil {
		s.logger.Printf("⚠️ Failed to record invalid signature for session %s: %v", sessionID, err)
	}
}

// OrderStatus returns the latest attempt for an order.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (*Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx, `
		SELECT `+attemptCols+` FROM payment_attempts
		WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID))
}

func (s *Service) bySession(ctx context.Context, sessionID string) (*Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM payment_attempts WHERE provider_session_id = $1`, sessionID))
}

// appendable wraps a raw callback body as a single-element JSON array so it
// can be concatenated onto the stored payload history.
func appendable(rawBody []byte) []byte {
	if !json.Valid(rawBody) {
		quoted, _ := json.Marshal(string(rawBody))
		rawBody = quoted
	}
	out := make([]byte, 0, len(rawBody)+2)
	out = append(out, '[')
	out = append(out, rawBody...)
	out = append(out, ']')
	return out
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func wrap(err error) error {
	if apperr.As(err) != nil {
		return err
	}
	return apperr.Internal.WithCause(err)
}
