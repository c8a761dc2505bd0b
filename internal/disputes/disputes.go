// Package disputes handles refund requests and chargeback cases, and posts
// the finance adjustments their outcomes imply.
package disputes

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/audit"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/finance"
	"github.com/coziyoo/backend/internal/orders"
	"github.com/coziyoo/backend/internal/outbox"
)

// Case statuses.
const (
	StatusOpened      = "opened"
	StatusUnderReview = "under_review"
	StatusWon         = "won"
	StatusLost        = "lost"
	StatusClosed      = "closed"
)

// Liability parties.
const (
	LiabilitySeller   = "seller"
	LiabilityPlatform = "platform"
	LiabilityProvider = "provider"
	LiabilityShared   = "shared"
)

type Case struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"orderId"`
	PaymentAttemptID *string         `json:"paymentAttemptId,omitempty"`
	CaseType         string          `json:"caseType"`
	Status           string          `json:"status"`
	ReasonCode       *string         `json:"reasonCode,omitempty"`
	LiabilityParty   string          `json:"liabilityParty"`
	LiabilityRatio   decimal.Decimal `json:"liabilityRatio"`
	Evidence         json.RawMessage `json:"evidence,omitempty"`
	OpenedBy         *string         `json:"openedBy,omitempty"`
	ResolvedBy       *string         `json:"resolvedBy,omitempty"`
	ResolvedAt       *time.Time      `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type Service struct {
	db     *database.DB
	logger *log.Logger
}

func NewService(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: log.New(log.Writer(), "[DISPUTES] ", log.LstdFlags),
	}
}

const caseCols = `id, order_id, payment_attempt_id, case_type, status, reason_code,
	liability_party, liability_ratio, evidence, opened_by, resolved_by, resolved_at,
	created_at, updated_at`

func scanCase(row interface{ Scan(...interface{}) error }) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.OrderID, &c.PaymentAttemptID, &c.CaseType, &c.Status,
		&c.ReasonCode, &c.LiabilityParty, &c.LiabilityRatio, &c.Evidence,
		&c.OpenedBy, &c.ResolvedBy, &c.ResolvedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.DisputeNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &c, nil
}

// refundPath reports whether a refund request is allowed for the order
// status, and whether the order moves to refund_pending. Mid-fulfilment
// orders (preparing through in_delivery) and completed orders keep their
// status; the case is settled through adjustments at resolution.
func refundPath(status string) (transition, allowed bool) {
	switch status {
	case orders.StatusPaid, orders.StatusDelivered:
		return true, true
	case orders.StatusPreparing, orders.StatusReady, orders.StatusInDelivery, orders.StatusCompleted:
		return false, true
	}
	return false, false
}

// RequestRefund opens a refund case for a buyer-owned order. A paid or
// delivered order moves to refund_pending; a completed order keeps its
// status and the refund is settled through adjustments. The gross amount
// is debited from the seller immediately, pending resolution.
func (s *Service) RequestRefund(ctx context.Context, buyerID, orderID, reasonCode string, note *string) (*Case, error) {
	var c *Case
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var status, orderBuyer, sellerID string
		var total decimal.Decimal
		err := tx.QueryRowContext(ctx,
			`SELECT status, buyer_id, seller_id, total_price FROM orders WHERE id = $1 FOR UPDATE`, orderID).
			Scan(&status, &orderBuyer, &sellerID, &total)
		if err == sql.ErrNoRows {
			return apperr.OrderNotFound
		}
		if err != nil {
			return err
		}
		if orderBuyer != buyerID {
			return apperr.ForbiddenOrder
		}

		transition, allowed := refundPath(status)
		if !allowed {
			return apperr.OrderInvalidState.WithMessage("order status %s does not allow a refund request", status)
		}
		if transition {
			actor := orders.TransitionActor{Kind: orders.ActorBuyer, ID: buyerID, Realm: "app", UserID: buyerID}
			if _, err := orders.ApplyTransition(ctx, tx, orderID, orders.StatusRefundPending, actor,
				map[string]interface{}{"reasonCode": reasonCode}); err != nil {
				return err
			}
		}

		var open bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM payment_dispute_cases
				WHERE order_id = $1 AND status IN ('opened','under_review')
			)`, orderID).Scan(&open)
		if err != nil {
			return err
		}
		if open {
			return apperr.DisputeInvalidState.WithMessage("an open dispute already exists for this order")
		}

		var attemptID *string
		var id string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM payment_attempts
			WHERE order_id = $1 AND status = 'confirmed'
			ORDER BY created_at DESC LIMIT 1`, orderID).Scan(&id)
		if err == nil {
			attemptID = &id
		} else if err != sql.ErrNoRows {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO payment_dispute_cases
				(order_id, payment_attempt_id, case_type, reason_code, opened_by)
			VALUES ($1,$2,'refund',$3,$4)
			RETURNING `+caseCols, orderID, attemptID, reasonCode, buyerID)
		if c, err = scanCase(row); err != nil {
			return err
		}

		if _, err := finance.AddAdjustment(ctx, tx, finance.Adjustment{
			SellerID:   sellerID,
			OrderID:    &orderID,
			DisputeID:  &c.ID,
			Amount:     total.Neg(),
			ReasonCode: "REFUND_REQUEST",
			Note:       note,
		}); err != nil {
			return err
		}

		return outbox.Enqueue(ctx, tx, outbox.EventDisputeOpened, "dispute", c.ID,
			map[string]interface{}{
				"disputeId":  c.ID,
				"orderId":    orderID,
				"reasonCode": reasonCode,
			})
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("⚠️ Refund case %s opened for order %s (%s)", c.ID, orderID, reasonCode)
	return c, nil
}

// ResolveInput is the admin resolution decision.
type ResolveInput struct {
	Decision       string          `json:"decision"` // won | lost | closed
	LiabilityParty string          `json:"liabilityParty"`
	LiabilityRatio decimal.Decimal `json:"liabilityRatio"` // seller share for shared liability
	Note           *string         `json:"note,omitempty"`
}

// Resolve settles a dispute. A lost case debits the liable seller share of
// the order total as a fresh adjustment; the resolution-time adjustment is
// authoritative and stacks on the request-time debit. Orders parked in
// refund_pending move to refunded (lost) or refund_rejected (won).
func (s *Service) Resolve(ctx context.Context, adminID, caseID string, in ResolveInput) (*Case, error) {
	var target string
	switch in.Decision {
	case "won":
		target = StatusWon
	case "lost":
		target = StatusLost
	case "closed":
		target = StatusClosed
	default:
		return nil, apperr.Validation("decision must be won, lost, or closed", nil)
	}

	var c *Case
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := scanCase(tx.QueryRowContext(ctx,
			`SELECT `+caseCols+` FROM payment_dispute_cases WHERE id = $1 FOR UPDATE`, caseID))
		if err != nil {
			return err
		}
		if current.Status != StatusOpened && current.Status != StatusUnderReview {
			return apperr.DisputeInvalidState
		}

		ratio := sellerShare(in.LiabilityParty, in.LiabilityRatio)
		row := tx.QueryRowContext(ctx, `
			UPDATE payment_dispute_cases
			SET status = $2, liability_party = $3, liability_ratio = $4,
				resolved_by = $5, resolved_at = now(), updated_at = now()
			WHERE id = $1 RETURNING `+caseCols,
			caseID, target, in.LiabilityParty, ratio, adminID)
		if c, err = scanCase(row); err != nil {
			return err
		}

		var orderStatus, sellerID string
		var total decimal.Decimal
		err = tx.QueryRowContext(ctx,
			`SELECT status, seller_id, total_price FROM orders WHERE id = $1 FOR UPDATE`, c.OrderID).
			Scan(&orderStatus, &sellerID, &total)
		if err != nil {
			return err
		}

		if target == StatusLost && ratio.IsPositive() {
			if _, err := finance.AddAdjustment(ctx, tx, finance.Adjustment{
				SellerID:   sellerID,
				OrderID:    &c.OrderID,
				DisputeID:  &c.ID,
				Amount:     total.Mul(ratio).RoundBank(2).Neg(),
				ReasonCode: "DISPUTE_LOST",
				Note:       in.Note,
				CreatedBy:  &adminID,
			}); err != nil {
				return err
			}
		}

		if orderStatus == orders.StatusRefundPending && target != StatusClosed {
			orderTarget := orders.StatusRefundRejected
			if target == StatusLost {
				orderTarget = orders.StatusRefunded
			}
			actor := orders.TransitionActor{Kind: orders.ActorAdmin, ID: adminID, Realm: "admin"}
			if _, err := orders.ApplyTransition(ctx, tx, c.OrderID, orderTarget, actor,
				map[string]interface{}{"disputeId": c.ID}); err != nil {
				return err
			}
		}

		if err := audit.Record(ctx, tx, adminID, "dispute_resolve", "dispute", &caseID,
			map[string]interface{}{"status": current.Status},
			map[string]interface{}{
				"status":         target,
				"liabilityParty": in.LiabilityParty,
				"liabilityRatio": ratio.String(),
			}, in.Note); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, outbox.EventDisputeResolved, "dispute", caseID,
			map[string]interface{}{
				"disputeId": caseID,
				"orderId":   c.OrderID,
				"status":    target,
			})
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("⚖️ Dispute %s resolved: %s (liability=%s)", caseID, target, in.LiabilityParty)
	return c, nil
}

// AddEvidence appends an evidence item to an open case.
func (s *Service) AddEvidence(ctx context.Context, caseID string, item map[string]interface{}) (*Case, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, apperr.Validation("evidence must be a JSON object", nil)
	}
	c, err := scanCase(s.db.QueryRowContext(ctx, `
		UPDATE payment_dispute_cases
		SET evidence = evidence || $2::jsonb, updated_at = now()
		WHERE id = $1 AND status IN ('opened','under_review')
		RETURNING `+caseCols, caseID, "["+string(body)+"]"))
	if err != nil {
		if apperr.IsCode(err, "DISPUTE_NOT_FOUND") {
			return nil, apperr.DisputeInvalidState
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, caseID string) (*Case, error) {
	return scanCase(s.db.QueryRowContext(ctx,
		`SELECT `+caseCols+` FROM payment_dispute_cases WHERE id = $1`, caseID))
}

func (s *Service) ListForOrder(ctx context.Context, orderID string) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseCols+` FROM payment_dispute_cases WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var cases []Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

// ListOpen returns unresolved cases for the admin queue, oldest first.
func (s *Service) ListOpen(ctx context.Context, limit, offset int) ([]Case, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM payment_dispute_cases WHERE status IN ('opened','under_review')`).Scan(&total); err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseCols+` FROM payment_dispute_cases
		WHERE status IN ('opened','under_review')
		ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var cases []Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		cases = append(cases, *c)
	}
	return cases, total, rows.Err()
}

// sellerShare maps the liability decision to the seller's debit fraction.
func sellerShare(party string, ratio decimal.Decimal) decimal.Decimal {
	switch party {
	case LiabilitySeller:
		return decimal.NewFromInt(1)
	case LiabilityShared:
		if ratio.IsNegative() {
			return decimal.Zero
		}
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			return decimal.NewFromInt(1)
		}
		return ratio
	default:
		return decimal.Zero
	}
}

func wrap(err error) error {
	if apperr.As(err) != nil {
		return err
	}
	return apperr.Internal.WithCause(err)
}
