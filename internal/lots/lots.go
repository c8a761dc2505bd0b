// Package lots implements production lot traceability: lot lifecycle,
// first-expired-first-out allocation for orders, recall propagation, and
// the derived foods.current_stock cache.
package lots

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/outbox"
)

// Lot statuses.
const (
	StatusOpen      = "open"
	StatusLocked    = "locked"
	StatusDepleted  = "depleted"
	StatusRecalled  = "recalled"
	StatusDiscarded = "discarded"
)

type Lot struct {
	ID                string     `json:"id"`
	SellerID          string     `json:"sellerId"`
	FoodID            string     `json:"foodId"`
	LotNumber         string     `json:"lotNumber"`
	ProducedAt        time.Time  `json:"producedAt"`
	UseBy             *time.Time `json:"useBy,omitempty"`
	BestBefore        *time.Time `json:"bestBefore,omitempty"`
	QuantityProduced  int        `json:"quantityProduced"`
	QuantityAvailable int        `json:"quantityAvailable"`
	Status            string     `json:"status"`
	RecallReason      *string    `json:"recallReason,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Allocation is one lot contribution to an order item.
type Allocation struct {
	LotID     string `json:"lotId"`
	LotNumber string `json:"lotNumber"`
	Quantity  int    `json:"quantity"`
}

type Service struct {
	db     *database.DB
	logger *log.Logger
}

func NewService(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: log.New(log.Writer(), "[LOTS] ", log.LstdFlags),
	}
}

const lotCols = `id, seller_id, food_id, lot_number, produced_at, use_by, best_before,
	quantity_produced, quantity_available, status, recall_reason, created_at, updated_at`

func scanLot(row interface{ Scan(...interface{}) error }) (*Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.SellerID, &l.FoodID, &l.LotNumber, &l.ProducedAt,
		&l.UseBy, &l.BestBefore, &l.QuantityProduced, &l.QuantityAvailable,
		&l.Status, &l.RecallReason, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.LotNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &l, nil
}

type CreateLotInput struct {
	FoodID           string
	LotNumber        string
	ProducedAt       time.Time
	UseBy            *time.Time
	BestBefore       *time.Time
	QuantityProduced int
}

// CreateLot registers a new lot for a seller-owned food. The lot opens with
// its full quantity available and the food's stock cache moves with it.
func (s *Service) CreateLot(ctx context.Context, sellerID string, in CreateLotInput) (*Lot, error) {
	if in.QuantityProduced <= 0 {
		return nil, apperr.LotInvalidQty.WithMessage("quantityProduced must be positive")
	}
	if in.UseBy == nil && in.BestBefore == nil {
		return nil, apperr.Validation("lot requires a useBy or bestBefore date", nil)
	}
	if in.ProducedAt.IsZero() {
		in.ProducedAt = time.Now().UTC()
	}
	if in.LotNumber == "" {
		in.LotNumber = fmt.Sprintf("LOT-%s-%d", in.ProducedAt.Format("20060102"), time.Now().UnixNano()%100000)
	}

	var lot *Lot
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT seller_id FROM foods WHERE id = $1`, in.FoodID).Scan(&owner)
		if err == sql.ErrNoRows {
			return apperr.FoodNotFound
		}
		if err != nil {
			return err
		}
		if owner != sellerID {
			return apperr.RoleNotAllowed.WithMessage("food belongs to another seller")
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO production_lots
				(seller_id, food_id, lot_number, produced_at, use_by, best_before,
				 quantity_produced, quantity_available)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
			RETURNING `+lotCols,
			sellerID, in.FoodID, in.LotNumber, in.ProducedAt, in.UseBy, in.BestBefore, in.QuantityProduced)
		lot, err = scanLot(row)
		if err != nil {
			return err
		}
		return recomputeStock(ctx, tx, in.FoodID)
	})
	if err != nil {
		if database.IsUniqueViolation(err, "production_lots_lot_number_key") {
			return nil, apperr.Validation("lot number already exists", nil)
		}
		return nil, wrap(err)
	}
	s.logger.Printf("📦 Lot %s created for food %s (qty=%d)", lot.LotNumber, lot.FoodID, lot.QuantityProduced)
	return lot, nil
}

func (s *Service) GetLot(ctx context.Context, sellerID, lotID string) (*Lot, error) {
	lot, err := scanLot(s.db.QueryRowContext(ctx,
		`SELECT `+lotCols+` FROM production_lots WHERE id = $1`, lotID))
	if err != nil {
		return nil, err
	}
	if sellerID != "" && lot.SellerID != sellerID {
		return nil, apperr.LotNotFound
	}
	return lot, nil
}

func (s *Service) ListLots(ctx context.Context, sellerID, foodID string, includeClosed bool) ([]Lot, error) {
	query := `SELECT ` + lotCols + ` FROM production_lots WHERE seller_id = $1`
	args := []interface{}{sellerID}
	if foodID != "" {
		query += ` AND food_id = $2`
		args = append(args, foodID)
	}
	if !includeClosed {
		query += ` AND status = 'open'`
	}
	query += ` ORDER BY coalesce(use_by, best_before, produced_at) ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

// AdminListLots lists lots across all sellers, newest first, with optional
// seller and status filters. Used by the recall tooling.
func (s *Service) AdminListLots(ctx context.Context, sellerID, status string, limit, offset int) ([]Lot, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	if sellerID != "" {
		args = append(args, sellerID)
		where += fmt.Sprintf(` AND seller_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM production_lots `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT `+lotCols+` FROM production_lots `+where+`
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, 0, err
		}
		lots = append(lots, *l)
	}
	return lots, total, rows.Err()
}

// AdjustLot corrects the available quantity of an open lot, e.g. after
// spoilage or a counting error. Allocated quantity cannot be reclaimed.
func (s *Service) AdjustLot(ctx context.Context, sellerID, lotID string, newAvailable int) (*Lot, error) {
	var lot *Lot
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := lockLot(ctx, tx, lotID)
		if err != nil {
			return err
		}
		if current.SellerID != sellerID {
			return apperr.LotNotFound
		}
		if current.Status != StatusOpen {
			return apperr.LotStatusInvalid
		}
		if newAvailable < 0 || newAvailable > current.QuantityProduced {
			return apperr.LotInvalidQty
		}
		status := StatusOpen
		if newAvailable == 0 {
			status = StatusDepleted
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE production_lots
			SET quantity_available = $2, status = $3, updated_at = now()
			WHERE id = $1
			RETURNING `+lotCols, lotID, newAvailable, status)
		if lot, err = scanLot(row); err != nil {
			return err
		}
		return recomputeStock(ctx, tx, lot.FoodID)
	})
	if err != nil {
		return nil, wrap(err)
	}
	return lot, nil
}

// DiscardLot removes the remaining quantity of a lot from sale.
func (s *Service) DiscardLot(ctx context.Context, sellerID, lotID string, reason string) (*Lot, error) {
	return s.closeLot(ctx, sellerID, lotID, StatusDiscarded, reason, nil)
}

// RecallLot marks a lot recalled and emits an event carrying every order
// that consumed it, so affected buyers can be notified.
func (s *Service) RecallLot(ctx context.Context, sellerID, lotID string, reason string) (*Lot, []string, error) {
	var affected []string
	lot, err := s.closeLot(ctx, sellerID, lotID, StatusRecalled, reason, &affected)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Printf("🚨 Lot %s recalled, %d orders affected", lot.LotNumber, len(affected))
	return lot, affected, nil
}

func (s *Service) closeLot(ctx context.Context, sellerID, lotID, status, reason string, affectedOut *[]string) (*Lot, error) {
	var lot *Lot
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := lockLot(ctx, tx, lotID)
		if err != nil {
			return err
		}
		if current.SellerID != sellerID {
			return apperr.LotNotFound
		}
		if current.Status == StatusRecalled || current.Status == StatusDiscarded {
			return apperr.LotStatusInvalid
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE production_lots
			SET status = $2, quantity_available = 0, recall_reason = $3, updated_at = now()
			WHERE id = $1
			RETURNING `+lotCols, lotID, status, nullIfEmpty(reason))
		if lot, err = scanLot(row); err != nil {
			return err
		}
		if err := recomputeStock(ctx, tx, lot.FoodID); err != nil {
			return err
		}

		if status != StatusRecalled {
			return nil
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT oi.order_id
			FROM order_item_lot_allocations a
			JOIN order_items oi ON oi.id = a.order_item_id
			WHERE a.lot_id = $1`, lotID)
		if err != nil {
			return err
		}
		defer rows.Close()
		var orderIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			orderIDs = append(orderIDs, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if affectedOut != nil {
			*affectedOut = orderIDs
		}
		return outbox.Enqueue(ctx, tx, outbox.EventLotRecalled, "production_lot", lotID, map[string]interface{}{
			"lotId":     lotID,
			"lotNumber": lot.LotNumber,
			"foodId":    lot.FoodID,
			"sellerId":  lot.SellerID,
			"reason":    reason,
			"orderIds":  orderIDs,
		})
	})
	if err != nil {
		return nil, wrap(err)
	}
	return lot, nil
}

type candidate struct {
	id        string
	lotNumber string
	available int
}

// planAllocations walks the candidates in the order the query produced
// them, draining each lot before moving to the next. Returns false when the
// candidates cannot cover the quantity.
func planAllocations(candidates []candidate, quantity int) ([]Allocation, bool) {
	remaining := quantity
	var allocs []Allocation
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		take := c.available
		if take > remaining {
			take = remaining
		}
		allocs = append(allocs, Allocation{LotID: c.id, LotNumber: c.lotNumber, Quantity: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, false
	}
	return allocs, true
}

// Allocate satisfies quantity units of foodID from the seller's open lots in
// first-expired-first-out order: coalesce(use_by, best_before, produced_at)
// ascending, created_at as the tiebreaker. Rows are locked in that order so
// concurrent allocators queue instead of deadlocking. Runs inside the order
// creation transaction; an insufficiency aborts the whole order.
func Allocate(ctx context.Context, tx *sql.Tx, sellerID, foodID string, quantity int) ([]Allocation, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, lot_number, quantity_available
		FROM production_lots
		WHERE seller_id = $1 AND food_id = $2 AND status = 'open'
			AND quantity_available > 0
			AND coalesce(use_by, 'infinity'::timestamptz) > now()
		ORDER BY coalesce(use_by, best_before, produced_at) ASC, created_at ASC
		FOR UPDATE`, sellerID, foodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.lotNumber, &c.available); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	allocs, ok := planAllocations(candidates, quantity)
	if !ok {
		return nil, apperr.InsufficientStock(foodID)
	}

	for _, a := range allocs {
		res, err := tx.ExecContext(ctx, `
			UPDATE production_lots
			SET quantity_available = quantity_available - $2,
				status = CASE WHEN quantity_available - $2 = 0 THEN 'depleted' ELSE status END,
				updated_at = now()
			WHERE id = $1 AND quantity_available >= $2`, a.LotID, a.Quantity)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, apperr.InsufficientStock(foodID)
		}
	}
	if err := recomputeStock(ctx, tx, foodID); err != nil {
		return nil, err
	}
	return allocs, nil
}

// Release returns an order's allocations to their lots, used when an order
// is rejected, cancelled before handover, or expires. Recalled and
// discarded lots keep zero availability.
func Release(ctx context.Context, tx *sql.Tx, orderID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT a.lot_id, a.quantity, l.food_id
		FROM order_item_lot_allocations a
		JOIN order_items oi ON oi.id = a.order_item_id
		JOIN production_lots l ON l.id = a.lot_id
		WHERE oi.order_id = $1
		ORDER BY a.lot_id
		FOR UPDATE OF l`, orderID)
	if err != nil {
		return err
	}
	defer rows.Close()

	type restore struct {
		lotID    string
		quantity int
		foodID   string
	}
	var restores []restore
	for rows.Next() {
		var r restore
		if err := rows.Scan(&r.lotID, &r.quantity, &r.foodID); err != nil {
			return err
		}
		restores = append(restores, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	touched := map[string]bool{}
	for _, r := range restores {
		_, err := tx.ExecContext(ctx, `
			UPDATE production_lots
			SET quantity_available = least(quantity_available + $2, quantity_produced),
				status = CASE WHEN status = 'depleted' THEN 'open' ELSE status END,
				updated_at = now()
			WHERE id = $1 AND status IN ('open','depleted')`, r.lotID, r.quantity)
		if err != nil {
			return err
		}
		touched[r.foodID] = true
	}
	for foodID := range touched {
		if err := recomputeStock(ctx, tx, foodID); err != nil {
			return err
		}
	}
	return nil
}

// RecordAllocations persists the lot breakdown for an order item.
func RecordAllocations(ctx context.Context, tx *sql.Tx, orderItemID string, allocs []Allocation) error {
	for _, a := range allocs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_item_lot_allocations (order_item_id, lot_id, quantity)
			VALUES ($1,$2,$3)`, orderItemID, a.LotID, a.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// ExpireLots closes open lots whose use_by has passed. Run by the sweeper.
func (s *Service) ExpireLots(ctx context.Context) (int, error) {
	var foodIDs []string
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE production_lots
			SET status = 'discarded', quantity_available = 0,
				recall_reason = 'use_by elapsed', updated_at = now()
			WHERE status = 'open' AND use_by IS NOT NULL AND use_by <= now()
			RETURNING food_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			foodIDs = append(foodIDs, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, id := range foodIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := recomputeStock(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrap(err)
	}
	if len(foodIDs) > 0 {
		s.logger.Printf("⏳ Expired %d lots past use_by", len(foodIDs))
	}
	return len(foodIDs), nil
}

// OrderAllocations lists the lot breakdown for an order, for traceability
// views and recall investigation.
func (s *Service) OrderAllocations(ctx context.Context, orderID string) (map[string][]Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.order_item_id, a.lot_id, l.lot_number, a.quantity
		FROM order_item_lot_allocations a
		JOIN order_items oi ON oi.id = a.order_item_id
		JOIN production_lots l ON l.id = a.lot_id
		WHERE oi.order_id = $1
		ORDER BY a.created_at`, orderID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	out := map[string][]Allocation{}
	for rows.Next() {
		var itemID string
		var a Allocation
		if err := rows.Scan(&itemID, &a.LotID, &a.LotNumber, &a.Quantity); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		out[itemID] = append(out[itemID], a)
	}
	return out, rows.Err()
}

// OrdersForLot lists the orders that consumed a lot, for admin recall
// investigation.
func (s *Service) OrdersForLot(ctx context.Context, lotID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT oi.order_id
		FROM order_item_lot_allocations a
		JOIN order_items oi ON oi.id = a.order_item_id
		WHERE a.lot_id = $1`, lotID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		orderIDs = append(orderIDs, id)
	}
	return orderIDs, rows.Err()
}

// recomputeStock rebuilds foods.current_stock from open, unexpired lots.
// The cache is always derived, never incremented blindly.
func recomputeStock(ctx context.Context, tx *sql.Tx, foodID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE foods
		SET current_stock = (
			SELECT coalesce(sum(quantity_available), 0)
			FROM production_lots
			WHERE food_id = $1 AND status = 'open'
				AND coalesce(use_by, 'infinity'::timestamptz) > now()
		), updated_at = now()
		WHERE id = $1`, foodID)
	return err
}

func lockLot(ctx context.Context, tx *sql.Tx, lotID string) (*Lot, error) {
	return scanLot(tx.QueryRowContext(ctx,
		`SELECT `+lotCols+` FROM production_lots WHERE id = $1 FOR UPDATE`, lotID))
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
