// Package orders owns the order lifecycle: idempotent creation with FEFO
// lot allocation, the transition table with its actor matrix, the
// completion gate, and the expiry/auto-complete sweeper.
package orders

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/audit"
	"github.com/coziyoo/backend/internal/config"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/identity"
	"github.com/coziyoo/backend/internal/lots"
	"github.com/coziyoo/backend/internal/metrics"
	"github.com/coziyoo/backend/internal/outbox"
)

// createTxRetries bounds reruns of the create transaction after
// serialization conflicts.
const createTxRetries = 3

type Order struct {
	ID               string          `json:"id"`
	BuyerID          string          `json:"buyerId"`
	SellerID         string          `json:"sellerId"`
	Status           string          `json:"status"`
	DeliveryType     string          `json:"deliveryType"`
	DeliveryAddress  json.RawMessage `json:"deliveryAddress,omitempty"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	Currency         string          `json:"currency"`
	PaymentCompleted bool            `json:"paymentCompleted"`
	OrderCode        string          `json:"orderCode"`
	ShortID          string          `json:"shortId"`
	Note             *string         `json:"note,omitempty"`
	Items            []OrderItem     `json:"items,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type OrderItem struct {
	ID          string            `json:"id"`
	FoodID      string            `json:"foodId"`
	FoodName    string            `json:"foodName"`
	UnitPrice   decimal.Decimal   `json:"unitPrice"`
	Quantity    int               `json:"quantity"`
	Allocations []lots.Allocation `json:"lotAllocations,omitempty"`
}

type OrderEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"eventType"`
	FromStatus *string         `json:"fromStatus,omitempty"`
	ToStatus   *string         `json:"toStatus,omitempty"`
	ActorRealm *string         `json:"actorRealm,omitempty"`
	ActorID    *string         `json:"actorId,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// FinanceRecorder writes the immutable OrderFinance row when an order
// completes. Implemented by the finance service.
type FinanceRecorder interface {
	RecordCompletion(ctx context.Context, tx *sql.Tx, orderID, sellerID string, gross decimal.Decimal) error
}

type Service struct {
	db      *database.DB
	finance FinanceRecorder
	cfg     config.OrderSweeperConfig
	logger  *log.Logger
}

func NewService(db *database.DB, finance FinanceRecorder, cfg config.OrderSweeperConfig) *Service {
	return &Service{
		db:      db,
		finance: finance,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[ORDERS] ", log.LstdFlags),
	}
}

const orderCols = `id, buyer_id, seller_id, status, delivery_type, delivery_address,
	total_price, currency, payment_completed, order_code, short_id, note, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.Status, &o.DeliveryType,
		&o.DeliveryAddress, &o.TotalPrice, &o.Currency, &o.PaymentCompleted,
		&o.OrderCode, &o.ShortID, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.OrderNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &o, nil
}

// --- Creation ---

type CreateItemInput struct {
	FoodID   string `json:"foodId"`
	Quantity int    `json:"quantity"`
}

type CreateOrderInput struct {
	DeliveryType    string            `json:"deliveryType"`
	DeliveryAddress json.RawMessage   `json:"deliveryAddress,omitempty"`
	Note            *string           `json:"note,omitempty"`
	Items           []CreateItemInput `json:"items"`
}

func (in CreateOrderInput) validate() error {
	if in.DeliveryType != "delivery" && in.DeliveryType != "pickup" {
		return apperr.Validation("deliveryType must be delivery or pickup", nil)
	}
	if in.DeliveryType == "delivery" && len(in.DeliveryAddress) == 0 {
		return apperr.Validation("delivery orders require a deliveryAddress", nil)
	}
	if len(in.Items) == 0 {
		return apperr.Validation("order requires at least one item", nil)
	}
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return apperr.Validation("item quantity must be positive", nil)
		}
	}
	return nil
}

// Create opens the order under serializable isolation: prices are read,
// lots are allocated FEFO, and the order lands in pending_seller_approval
// in one transaction. Any allocation shortfall aborts the whole order.
func (s *Service) Create(ctx context.Context, buyerID string, in CreateOrderInput) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// Concurrent orders against the same lots abort each other under
	// serializable isolation; a bounded rerun absorbs the conflict instead
	// of surfacing a 500. The closure holds all of its state, so a rerun
	// starts from scratch.
	var order *Order
	err := s.db.WithSerializableRetry(ctx, createTxRetries, func(tx *sql.Tx) error {
		order = nil
		type pricedItem struct {
			foodID    string
			foodName  string
			unitPrice decimal.Decimal
			quantity  int
			sellerID  string
		}
		priced := make([]pricedItem, 0, len(in.Items))
		total := decimal.Zero
		currency := ""
		sellerID := ""

		for _, item := range in.Items {
			var p pricedItem
			var isActive bool
			var cur string
			err := tx.QueryRowContext(ctx, `
				SELECT seller_id, name, price, currency, is_active
				FROM foods WHERE id = $1`, item.FoodID).
				Scan(&p.sellerID, &p.foodName, &p.unitPrice, &cur, &isActive)
			if err == sql.ErrNoRows {
				return apperr.FoodNotFound
			}
			if err != nil {
				return err
			}
			if !isActive {
				return apperr.Validation("food is not available", map[string]interface{}{"foodId": item.FoodID})
			}
			if sellerID == "" {
				sellerID, currency = p.sellerID, cur
			} else if sellerID != p.sellerID {
				return apperr.Validation("all items must belong to the same seller", nil)
			}
			if p.sellerID == buyerID {
				return apperr.Validation("cannot order from yourself", nil)
			}
			p.foodID, p.quantity = item.FoodID, item.Quantity
			priced = append(priced, p)
			total = total.Add(p.unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO orders
				(buyer_id, seller_id, status, delivery_type, delivery_address,
				 total_price, currency, order_code, short_id, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING `+orderCols,
			buyerID, sellerID, StatusPendingSellerApproval, in.DeliveryType,
			nullIfEmptyJSON(in.DeliveryAddress), total, currency,
			newOrderCode(), identity.NewShortID(), in.Note)
		var err error
		if order, err = scanOrder(row); err != nil {
			return err
		}

		for _, p := range priced {
			var itemID string
			err := tx.QueryRowContext(ctx, `
				INSERT INTO order_items (order_id, food_id, food_name, unit_price, quantity)
				VALUES ($1,$2,$3,$4,$5) RETURNING id`,
				order.ID, p.foodID, p.foodName, p.unitPrice, p.quantity).Scan(&itemID)
			if err != nil {
				return err
			}
			allocs, err := lots.Allocate(ctx, tx, sellerID, p.foodID, p.quantity)
			if err != nil {
				return err
			}
			if err := lots.RecordAllocations(ctx, tx, itemID, allocs); err != nil {
				return err
			}
			order.Items = append(order.Items, OrderItem{
				ID: itemID, FoodID: p.foodID, FoodName: p.foodName,
				UnitPrice: p.unitPrice, Quantity: p.quantity, Allocations: allocs,
			})
		}

		if err := insertEvent(ctx, tx, order.ID, "order_created", nil, strPtr(order.Status), nil, &buyerID, nil); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, outbox.EventOrderCreated, "order", order.ID, map[string]interface{}{
			"orderId":  order.ID,
			"buyerId":  buyerID,
			"sellerId": sellerID,
			"total":    total.StringFixed(2),
			"currency": currency,
		})
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("🧾 Order %s created (buyer=%s seller=%s total=%s)",
		order.OrderCode, order.BuyerID, order.SellerID, order.TotalPrice.StringFixed(2))
	return order, nil
}

// --- Reads ---

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetScoped enforces resource ownership for app users.
func (s *Service) GetScoped(ctx context.Context, orderID, userID string) (*Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID && order.SellerID != userID {
		return nil, apperr.ForbiddenOrder
	}
	return order, nil
}

func (s *Service) loadItems(ctx context.Context, order *Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, food_id, food_name, unit_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY created_at`, order.ID)
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.FoodID, &it.FoodName, &it.UnitPrice, &it.Quantity); err != nil {
			return apperr.Internal.WithCause(err)
		}
		order.Items = append(order.Items, it)
	}
	return rows.Err()
}

// List returns orders where the user acts in the given role, newest first.
func (s *Service) List(ctx context.Context, userID, role, status string, limit, offset int) ([]Order, int, error) {
	column := "buyer_id"
	if role == ActorSeller {
		column = "seller_id"
	}
	where := fmt.Sprintf("WHERE %s = $1", column)
	args := []interface{}{userID}
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+orderCols+` FROM orders `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

func (s *Service) Events(ctx context.Context, orderID string) ([]OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, from_status, to_status, actor_realm, actor_id, detail, created_at
		FROM order_events WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var events []OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.FromStatus, &e.ToStatus,
			&e.ActorRealm, &e.ActorID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Transitions ---

// TransitionActor identifies who drives a transition, for the actor matrix
// and the event trail.
type TransitionActor struct {
	Kind   string // buyer, seller, system, admin
	ID     string
	Realm  string
	UserID string // ownership check subject; empty for system/admin
}

// Transition moves an order to a new status, enforcing the transition
// table, the actor matrix, ownership, and the completion gate. Stock is
// restored on pre-handover exits and finance is written on completion.
func (s *Service) Transition(ctx context.Context, orderID, to string, actor TransitionActor, detail map[string]interface{}) (*Order, error) {
	var order *Order
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			return err
		}

		switch actor.Kind {
		case ActorBuyer:
			if current.BuyerID != actor.UserID {
				return apperr.ForbiddenOrder
			}
		case ActorSeller:
			if current.SellerID != actor.UserID {
				return apperr.ForbiddenOrder
			}
		}

		if !CanTransition(current.Status, to) {
			return apperr.OrderInvalidState.WithDetails(map[string]interface{}{
				"from": current.Status, "to": to,
			})
		}
		if !ActorMayTransition(actor.Kind, current.Status, to) {
			return apperr.RoleNotAllowed.WithMessage("actor may not drive %s → %s", current.Status, to)
		}

		if to == StatusCompleted {
			if err := s.checkCompletionGate(ctx, tx, current); err != nil {
				return err
			}
		}

		order, err = applyTransition(ctx, tx, current, to, actor, detail)
		if err != nil {
			return err
		}

		if to == StatusCompleted {
			if err := s.finance.RecordCompletion(ctx, tx, order.ID, order.SellerID, order.TotalPrice); err != nil {
				return err
			}
			metrics.OrdersCompleted.Inc()
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("🔀 Order %s: %s (by %s)", order.OrderCode, order.Status, actor.Kind)
	return order, nil
}

// ApplyTransition runs a transition inside a caller-owned transaction. The
// payment confirmer uses it so order state and payment state commit
// together. The caller is responsible for matrix checks it cannot express.
func ApplyTransition(ctx context.Context, tx *sql.Tx, orderID, to string, actor TransitionActor, detail map[string]interface{}) (*Order, error) {
	current, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, apperr.OrderInvalidState.WithDetails(map[string]interface{}{
			"from": current.Status, "to": to,
		})
	}
	if !ActorMayTransition(actor.Kind, current.Status, to) {
		return nil, apperr.RoleNotAllowed
	}
	return applyTransition(ctx, tx, current, to, actor, detail)
}

func applyTransition(ctx context.Context, tx *sql.Tx, current *Order, to string, actor TransitionActor, detail map[string]interface{}) (*Order, error) {
	paymentCompleted := current.PaymentCompleted || to == StatusPaid

	row := tx.QueryRowContext(ctx, `
		UPDATE orders SET status = $2, payment_completed = $3, updated_at = now()
		WHERE id = $1 RETURNING `+orderCols, current.ID, to, paymentCompleted)
	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}

	if restoresStock(current.Status, to) {
		if err := lots.Release(ctx, tx, order.ID); err != nil {
			return nil, err
		}
	}

	from := current.Status
	if err := insertEvent(ctx, tx, order.ID, "status_changed", &from, &to,
		nullIfEmptyStr(actor.Realm), nullIfEmptyStr(actor.ID), detail); err != nil {
		return nil, err
	}
	if err := outbox.Enqueue(ctx, tx, outbox.EventOrderStatusChanged, "order", order.ID, map[string]interface{}{
		"orderId": order.ID,
		"from":    from,
		"to":      to,
		"buyerId": order.BuyerID,
	}); err != nil {
		return nil, err
	}
	return order, nil
}

// checkCompletionGate enforces delivered→completed preconditions: verified
// delivery proof for delivery orders and both disclosure phases, unless an
// admin override audit row exists for the order.
func (s *Service) checkCompletionGate(ctx context.Context, tx *sql.Tx, order *Order) error {
	override, err := audit.HasOverride(ctx, tx, "order", order.ID, "completion_override")
	if err != nil {
		return err
	}
	if override {
		return nil
	}

	if order.DeliveryType == "delivery" {
		var verified bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM delivery_proof_records
				WHERE order_id = $1 AND status = 'verified' AND NOT superseded
			)`, order.ID).Scan(&verified)
		if err != nil {
			return err
		}
		if !verified {
			return apperr.OrderInvalidState.WithMessage("completion requires a verified delivery proof")
		}
	}

	var phases int
	err = tx.QueryRowContext(ctx, `
		SELECT count(DISTINCT phase) FROM allergen_disclosure_records
		WHERE order_id = $1 AND phase IN ('pre_order','handover')`, order.ID).Scan(&phases)
	if err != nil {
		return err
	}
	if phases < 2 {
		return apperr.OrderInvalidState.WithMessage("completion requires pre_order and handover allergen disclosures")
	}
	return nil
}

// --- Sweeper ---

// RunSweeper drives auto-expiry and auto-complete until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Printf("🚀 Order sweeper started (interval=%s)", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Order sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Printf("⚠️ Sweep failed: %v", err)
			}
		}
	}
}

// Sweep expires stale pre-payment orders and auto-completes delivered
// orders past the completion window when the gate passes.
func (s *Service) Sweep(ctx context.Context) error {
	if err := s.expireStale(ctx, StatusPendingSellerApproval, s.cfg.ApprovalExpiry); err != nil {
		return err
	}
	if err := s.expireStale(ctx, StatusAwaitingPayment, s.cfg.PaymentExpiry); err != nil {
		return err
	}
	return s.autoComplete(ctx)
}

func (s *Service) expireStale(ctx context.Context, status string, age time.Duration) error {
	ids, err := s.staleIDs(ctx, status, age)
	if err != nil {
		return err
	}
	system := TransitionActor{Kind: ActorSystem}
	for _, id := range ids {
		if _, err := s.Transition(ctx, id, StatusExpired, system,
			map[string]interface{}{"reason": "auto_expired", "staleStatus": status}); err != nil {
			s.logger.Printf("⚠️ Auto-expire %s failed: %v", id, err)
		}
	}
	return nil
}

func (s *Service) autoComplete(ctx context.Context) error {
	ids, err := s.staleIDs(ctx, StatusDelivered, s.cfg.AutoCompleteAge)
	if err != nil {
		return err
	}
	system := TransitionActor{Kind: ActorSystem}
	for _, id := range ids {
		_, err := s.Transition(ctx, id, StatusCompleted, system,
			map[string]interface{}{"reason": "auto_completed"})
		if err != nil {
			// Gate not satisfied yet; the order stays delivered for manual
			// completion or a later sweep.
			if apperr.IsCode(err, "ORDER_INVALID_STATE") {
				continue
			}
			s.logger.Printf("⚠️ Auto-complete %s failed: %v", id, err)
		}
	}
	return nil
}

func (s *Service) staleIDs(ctx context.Context, status string, age time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND updated_at <= now() - $2 * interval '1 second'
		ORDER BY updated_at
		LIMIT 200`, status, int(age.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Helpers ---

func insertEvent(ctx context.Context, tx *sql.Tx, orderID, eventType string, from, to, actorRealm, actorID *string, detail map[string]interface{}) error {
	var detailJSON []byte
	if detail != nil {
		var err error
		if detailJSON, err = json.Marshal(detail); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (order_id, event_type, from_status, to_status, actor_realm, actor_id, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		orderID, eventType, from, to, actorRealm, actorID, detailJSON)
	return err
}

const orderCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newOrderCode() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i := range buf {
		buf[i] = orderCodeAlphabet[int(buf[i])%len(orderCodeAlphabet)]
	}
	return string(buf)
}

func strPtr(s string) *string { return &s }

func nullIfEmptyStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfEmptyJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func wrap(err error) error {
	if apperr.As(err) != nil {
		return err
	}
	return apperr.Internal.WithCause(err)
}
