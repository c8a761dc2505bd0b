// Package deliveryproof implements PIN-based handover proof for delivery
// orders. The buyer receives a 6-digit code in-app; the seller enters it at
// handover. Only the SHA-256 of the code is stored.
package deliveryproof

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/outbox"
)

const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusFailed   = "failed"
	StatusExpired  = "expired"
)

const (
	pinTTL      = 10 * time.Minute
	maxAttempts = 5
)

type Record struct {
	ID                   string     `json:"id"`
	OrderID              string     `json:"orderId"`
	SentAt               time.Time  `json:"sentAt"`
	ExpiresAt            time.Time  `json:"expiresAt"`
	VerificationAttempts int        `json:"verificationAttempts"`
	Status               string     `json:"status"`
	VerifiedAt           *time.Time `json:"verifiedAt,omitempty"`
	Superseded           bool       `json:"superseded"`
	CreatedAt            time.Time  `json:"createdAt"`
}

type Service struct {
	db     *database.DB
	logger *log.Logger
}

func NewService(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: log.New(log.Writer(), "[DELIVERY] ", log.LstdFlags),
	}
}

const recordCols = `id, order_id, sent_at, expires_at, verification_attempts,
	status, verified_at, superseded, created_at`

func scanRecord(row interface{ Scan(...interface{}) error }) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.OrderID, &r.SentAt, &r.ExpiresAt, &r.VerificationAttempts,
		&r.Status, &r.VerifiedAt, &r.Superseded, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.DeliveryProofNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &r, nil
}

// Issue generates a fresh PIN for a delivery order the seller owns. Any
// previous record is superseded; regeneration always replaces.
func (s *Service) Issue(ctx context.Context, sellerID, orderID string) (*Record, error) {
	pin, err := newPIN()
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	var record *Record
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var deliveryType, status, orderSeller, buyerID string
		err := tx.QueryRowContext(ctx,
			`SELECT delivery_type, status, seller_id, buyer_id FROM orders WHERE id = $1 FOR UPDATE`, orderID).
			Scan(&deliveryType, &status, &orderSeller, &buyerID)
		if err == sql.ErrNoRows {
			return apperr.OrderNotFound
		}
		if err != nil {
			return err
		}
		if orderSeller != sellerID {
			return apperr.ForbiddenOrder
		}
		if deliveryType != "delivery" {
			return apperr.DeliveryProofNotRequired
		}
		switch status {
		case "ready", "in_delivery", "delivered":
		default:
			return apperr.OrderInvalidState.WithMessage("PIN can only be issued during handover")
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE delivery_proof_records SET superseded = true
			WHERE order_id = $1 AND NOT superseded`, orderID); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO delivery_proof_records (order_id, pin_hash, expires_at)
			VALUES ($1,$2,now() + $3 * interval '1 second')
			RETURNING `+recordCols, orderID, hashPIN(pin), int(pinTTL.Seconds()))
		if record, err = scanRecord(row); err != nil {
			return err
		}

		return outbox.Enqueue(ctx, tx, outbox.EventDeliveryPinIssued, "order", orderID,
			map[string]interface{}{
				"orderId":   orderID,
				"buyerId":   buyerID,
				"pin":       pin,
				"expiresAt": record.ExpiresAt.Format(time.RFC3339),
			})
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("🔐 Delivery PIN issued for order %s (expires %s)", orderID, record.ExpiresAt.Format(time.RFC3339))
	return record, nil
}

// Verify checks the PIN the seller entered. Wrong codes count against the
// attempt budget; the record fails permanently once it is exhausted, and
// an expired PIN must be reissued.
func (s *Service) Verify(ctx context.Context, sellerID, orderID, pin string) (*Record, error) {
	var record *Record
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var orderSeller string
		err := tx.QueryRowContext(ctx, `SELECT seller_id FROM orders WHERE id = $1`, orderID).Scan(&orderSeller)
		if err == sql.ErrNoRows {
			return apperr.OrderNotFound
		}
		if err != nil {
			return err
		}
		if orderSeller != sellerID {
			return apperr.ForbiddenOrder
		}

		var pinHash string
		row := tx.QueryRowContext(ctx, `
			SELECT `+recordCols+`, pin_hash FROM delivery_proof_records
			WHERE order_id = $1 AND NOT superseded
			FOR UPDATE`, orderID)
		var r Record
		err = row.Scan(&r.ID, &r.OrderID, &r.SentAt, &r.ExpiresAt, &r.VerificationAttempts,
			&r.Status, &r.VerifiedAt, &r.Superseded, &r.CreatedAt, &pinHash)
		if err == sql.ErrNoRows {
			return apperr.DeliveryProofNotFound
		}
		if err != nil {
			return err
		}

		switch r.Status {
		case StatusVerified:
			record = &r
			return nil
		case StatusFailed:
			return apperr.PinMaxAttempts
		case StatusExpired:
			return apperr.PinExpired
		}

		if time.Now().After(r.ExpiresAt) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE delivery_proof_records SET status = 'expired' WHERE id = $1`, r.ID); err != nil {
				return err
			}
			return apperr.PinExpired
		}

		if subtle.ConstantTimeCompare([]byte(hashPIN(pin)), []byte(pinHash)) != 1 {
			attempts := r.VerificationAttempts + 1
			status := StatusPending
			if attempts >= maxAttempts {
				status = StatusFailed
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE delivery_proof_records
				SET verification_attempts = $2, status = $3
				WHERE id = $1`, r.ID, attempts, status); err != nil {
				return err
			}
			if status == StatusFailed {
				return apperr.PinMaxAttempts
			}
			return apperr.PinInvalid.WithDetails(map[string]interface{}{
				"attemptsRemaining": maxAttempts - attempts,
			})
		}

		row = tx.QueryRowContext(ctx, `
			UPDATE delivery_proof_records
			SET status = 'verified', verified_at = now(),
				verification_attempts = verification_attempts + 1
			WHERE id = $1 RETURNING `+recordCols, r.ID)
		if record, err = scanRecord(row); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, outbox.EventDeliveryPinVerified, "order", orderID,
			map[string]interface{}{"orderId": orderID})
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("✅ Delivery PIN verified for order %s", orderID)
	return record, nil
}

// ForOrder returns the active (non-superseded) proof record.
func (s *Service) ForOrder(ctx context.Context, orderID string) (*Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM delivery_proof_records
		WHERE order_id = $1 AND NOT superseded`, orderID))
}

func newPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

func wrap(err error) error {
	if apperr.As(err) != nil {
		return err
	}
	return apperr.Internal.WithCause(err)
}
