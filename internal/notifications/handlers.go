package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/outbox"
)

// Service turns outbox events into user notifications and fans them out
// over the hub and Pub/Sub.
type Service struct {
	db        *database.DB
	store     *Store
	hub       *Hub
	publisher *Publisher
	logger    *log.Logger
}

func NewService(db *database.DB, store *Store, hub *Hub, publisher *Publisher) *Service {
	return &Service{
		db:        db,
		store:     store,
		hub:       hub,
		publisher: publisher,
		logger:    log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags),
	}
}

// Notify persists one notification and pushes it to live channels.
func (s *Service) Notify(ctx context.Context, userID, eventType, title, body string, payload map[string]interface{}) error {
	n, err := s.store.Insert(ctx, s.db, userID, eventType, title, body, payload)
	if err != nil {
		return err
	}
	s.hub.Push(n)
	s.publisher.Publish(n)
	return nil
}

// RegisterHandlers wires the notification fan-out into the outbox worker.
// Handlers are idempotent at the user-experience level: a redelivered event
// produces a duplicate row but never corrupts state.
func (s *Service) RegisterHandlers(registry *outbox.Registry) {
	registry.Register(outbox.EventOrderCreated, s.onOrderCreated)
	registry.Register(outbox.EventOrderStatusChanged, s.onOrderStatusChanged)
	registry.Register(outbox.EventPaymentConfirmed, s.onPaymentConfirmed)
	registry.Register(outbox.EventLotRecalled, s.onLotRecalled)
	registry.Register(outbox.EventDeliveryPinIssued, s.onDeliveryPinIssued)
	registry.Register(outbox.EventComplianceStatusChanged, s.onComplianceStatusChanged)
	registry.Register(outbox.EventDisputeResolved, s.onDisputeResolved)
}

func (s *Service) onOrderCreated(ctx context.Context, ev *outbox.Event) error {
	var p struct {
		OrderID  string `json:"orderId"`
		SellerID string `json:"sellerId"`
		Total    string `json:"total"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}
	return s.Notify(ctx, p.SellerID, ev.EventType, "New order",
		fmt.Sprintf("You received a new order for %s %s.", p.Total, p.Currency),
		map[string]interface{}{"orderId": p.OrderID})
}

func (s *Service) onOrderStatusChanged(ctx context.Context, ev *outbox.Event) error {
	var p struct {
		OrderID string `json:"orderId"`
		From    string `json:"from"`
		To      string `json:"to"`
		BuyerID string `json:"buyerId"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}
	return s.Notify(ctx, p.BuyerID, ev.EventType, "Order update",
		fmt.Sprintf("Your order is now %s.", p.To),
		map[string]interface{}{"orderId": p.OrderID, "status": p.To})
}

func (s *Service) onPaymentConfirmed(ctx context.Context, ev *outbox.Event) error {
	var p struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}
	var sellerID string
	if err := s.db.QueryRowContext(ctx,
		`SELECT seller_id FROM orders WHERE id = $1`, p.OrderID).Scan(&sellerID); err != nil {
		return err
	}
	return s.Notify(ctx, sellerID, ev.EventType, "Payment received",
		"Payment was confirmed for one of your orders.",
		map[string]interface{}{"orderId": p.OrderID})
}

func (s *Service) onLotRecalled(ctx context.Context, ev *outbox.Event) error {
	var p struct {
		LotNumber string   `json:"lotNumber"`
		Reason    string   `json:"reason"`
		OrderIDs  []string `json:"orderIds"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}
	for _, orderID := range p.OrderIDs {
		var buyerID string
		if err := s.db.QueryRowContext(ctx,
			`SELECT buyer_id FROM orders WHERE id = $1`, orderID).Scan(&buyerID); err != nil {
			return err
		}
		if err := s.Notify(ctx, buyerID, ev.EventType, "Food safety recall",
			"An item in one of your orders was recalled. Please do not consume it.",
			map[string]interface{}{"orderId": orderID, "lotNumber": p.LotNumber, "reason": p.Reason}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) onDeliveryPinIssued(ctx context.Context, ev *outbox.Event) error {
	var p struct {
		OrderID   string `json:"orderId"`
		BuyerID   string `json:"buyerId"`
		PIN       string `json:"pin"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}
	return s.Notify(ctx, p.BuyerID, ev.EventType, "Delivery code",
		fmt.Sprintf("Share code %s with your courier to confirm delivery.", p.PIN),
		map[string]interface{}{"orderId": p.OrderID, "expiresAt": p.ExpiresAt})
}

func (s *Service) onComplianceStatusChanged(ctx context.Context, ev *outbox.Event) error {
	var p struct {
		SellerID string `json:"sellerId"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}
	return s.Notify(ctx, p.SellerID, ev.EventType, "Compliance update",
		fmt.Sprintf("Your seller profile is now %s.", p.Status),
		map[string]interface{}{"status": p.Status})
}

func (s *Service) onDisputeResolved(ctx context.Context, ev *outbox.Event) error {
	var p struct {
		DisputeID string `json:"disputeId"`
		OrderID   string `json:"orderId"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}
	var buyerID string
	if err := s.db.QueryRowContext(ctx,
		`SELECT buyer_id FROM orders WHERE id = $1`, p.OrderID).Scan(&buyerID); err != nil {
		return err
	}
	return s.Notify(ctx, buyerID, ev.EventType, "Dispute resolved",
		"Your refund request has been resolved.",
		map[string]interface{}{"orderId": p.OrderID, "disputeId": p.DisputeID, "status": p.Status})
}
