// Package finance owns money math: versioned commission settings, the
// immutable OrderFinance row written at completion, signed adjustments for
// refunds and disputes, and reconciliation reports.
package finance

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/audit"
	"github.com/coziyoo/backend/internal/database"
)

// DefaultCommissionRate seeds an installation with no configured rate.
var DefaultCommissionRate = decimal.NewFromFloat(0.10)

type CommissionSetting struct {
	ID            string          `json:"id"`
	Rate          decimal.Decimal `json:"commissionRate"`
	IsActive      bool            `json:"isActive"`
	EffectiveFrom time.Time       `json:"effectiveFrom"`
	CreatedBy     *string         `json:"createdBy,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type OrderFinance struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	SellerID       string          `json:"sellerId"`
	GrossAmount    decimal.Decimal `json:"grossAmount"`
	CommissionRate decimal.Decimal `json:"commissionRateSnapshot"`
	Commission     decimal.Decimal `json:"commissionAmount"`
	SellerNet      decimal.Decimal `json:"sellerNetAmount"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type Adjustment struct {
	ID         string          `json:"id"`
	SellerID   string          `json:"sellerId"`
	OrderID    *string         `json:"orderId,omitempty"`
	DisputeID  *string         `json:"disputeId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	ReasonCode string          `json:"reasonCode"`
	Note       *string         `json:"note,omitempty"`
	CreatedBy  *string         `json:"createdBy,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type Service struct {
	db     *database.DB
	logger *log.Logger
}

func NewService(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: log.New(log.Writer(), "[FINANCE] ", log.LstdFlags),
	}
}

// Split computes the commission and seller net for a gross amount using
// banker's rounding to 2 decimal places.
func Split(gross, rate decimal.Decimal) (commission, net decimal.Decimal) {
	commission = gross.Mul(rate).RoundBank(2)
	net = gross.Sub(commission)
	return commission, net
}

// ActiveRate returns the current commission rate, falling back to the
// default when none is configured.
func (s *Service) ActiveRate(ctx context.Context, q database.Queryer) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT commission_rate FROM commission_settings WHERE is_active`).Scan(&rate)
	if err == sql.ErrNoRows {
		return DefaultCommissionRate, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

// SetRate activates a new commission rate. The previous active row is
// deactivated in the same transaction; history is never deleted.
func (s *Service) SetRate(ctx context.Context, adminID string, rate decimal.Decimal) (*CommissionSetting, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, apperr.Validation("commissionRate must be in [0, 1)", nil)
	}

	var setting CommissionSetting
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var previous *decimal.Decimal
		var prev decimal.Decimal
		err := tx.QueryRowContext(ctx,
			`UPDATE commission_settings SET is_active = false WHERE is_active RETURNING commission_rate`).Scan(&prev)
		if err == nil {
			previous = &prev
		} else if err != sql.ErrNoRows {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO commission_settings (commission_rate, is_active, created_by)
			VALUES ($1, true, $2)
			RETURNING id, commission_rate, is_active, effective_from, created_by, created_at`,
			rate, adminID).
			Scan(&setting.ID, &setting.Rate, &setting.IsActive, &setting.EffectiveFrom,
				&setting.CreatedBy, &setting.CreatedAt)
		if err != nil {
			return err
		}

		var before interface{}
		if previous != nil {
			before = map[string]interface{}{"commissionRate": previous.String()}
		}
		return audit.Record(ctx, tx, adminID, "commission_rate_set", "commission_setting", &setting.ID,
			before, map[string]interface{}{"commissionRate": rate.String()}, nil)
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("💰 Commission rate set to %s by admin %s", rate.String(), adminID)
	return &setting, nil
}

// RecordCompletion writes the OrderFinance row inside the completion
// transaction. The unique order_id constraint makes it idempotent.
func (s *Service) RecordCompletion(ctx context.Context, tx *sql.Tx, orderID, sellerID string, gross decimal.Decimal) error {
	rate, err := s.ActiveRate(ctx, tx)
	if err != nil {
		return err
	}
	commission, net := Split(gross, rate)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_finance
			(order_id, seller_id, gross_amount, commission_rate_snapshot, commission_amount, seller_net_amount)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id) DO NOTHING`,
		orderID, sellerID, gross, rate, commission, net)
	return err
}

// ForOrder returns the finance row for a completed order.
func (s *Service) ForOrder(ctx context.Context, orderID string) (*OrderFinance, error) {
	var f OrderFinance
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, seller_id, gross_amount, commission_rate_snapshot,
			commission_amount, seller_net_amount, created_at
		FROM order_finance WHERE order_id = $1`, orderID).
		Scan(&f.ID, &f.OrderID, &f.SellerID, &f.GrossAmount, &f.CommissionRate,
			&f.Commission, &f.SellerNet, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.OrderNotFound.WithMessage("no finance record for order")
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &f, nil
}

// AddAdjustment posts a signed adjustment inside the caller's transaction.
// Negative amounts debit the seller.
func AddAdjustment(ctx context.Context, q database.Queryer, a Adjustment) (*Adjustment, error) {
	err := q.QueryRowContext(ctx, `
		INSERT INTO finance_adjustments (seller_id, order_id, dispute_id, amount, reason_code, note, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at`,
		a.SellerID, a.OrderID, a.DisputeID, a.Amount, a.ReasonCode, a.Note, a.CreatedBy).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SellerSummary aggregates a seller's earnings over a period.
type SellerSummary struct {
	SellerID        string          `json:"sellerId"`
	CompletedOrders int             `json:"completedOrders"`
	GrossTotal      decimal.Decimal `json:"grossTotal"`
	CommissionTotal decimal.Decimal `json:"commissionTotal"`
	NetTotal        decimal.Decimal `json:"netTotal"`
	Adjustments     decimal.Decimal `json:"adjustmentsTotal"`
	PayableTotal    decimal.Decimal `json:"payableTotal"`
}

func (s *Service) SellerSummary(ctx context.Context, sellerID string, from, to time.Time) (*SellerSummary, error) {
	sum := &SellerSummary{SellerID: sellerID}
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
			coalesce(sum(gross_amount), 0),
			coalesce(sum(commission_amount), 0),
			coalesce(sum(seller_net_amount), 0)
		FROM order_finance
		WHERE seller_id = $1 AND created_at >= $2 AND created_at < $3`,
		sellerID, from, to).
		Scan(&sum.CompletedOrders, &sum.GrossTotal, &sum.CommissionTotal, &sum.NetTotal)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT coalesce(sum(amount), 0)
		FROM finance_adjustments
		WHERE seller_id = $1 AND created_at >= $2 AND created_at < $3`,
		sellerID, from, to).Scan(&sum.Adjustments)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	sum.PayableTotal = sum.NetTotal.Add(sum.Adjustments)
	return sum, nil
}

// ListAdjustments returns a seller's adjustments, newest first.
func (s *Service) ListAdjustments(ctx context.Context, sellerID string, limit, offset int) ([]Adjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seller_id, order_id, dispute_id, amount, reason_code, note, created_by, created_at
		FROM finance_adjustments
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, sellerID, limit, offset)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.SellerID, &a.OrderID, &a.DisputeID, &a.Amount,
			&a.ReasonCode, &a.Note, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func wrap(err error) error {
	if apperr.As(err) != nil {
		return err
	}
	return apperr.Internal.WithCause(err)
}
