// Package outbox implements the transactional event outbox. Producers
// enqueue events inside the same database transaction as the domain write;
// a worker pool delivers them at-least-once to registered handlers, with
// exponential backoff and a dead-letter table for terminal failures.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coziyoo/backend/internal/database"
)

// Domain event types emitted by the core.
const (
	EventOrderCreated            = "order_created"
	EventOrderStatusChanged      = "order_status_changed"
	EventPaymentSessionStarted   = "payment_session_started"
	EventPaymentConfirmed        = "payment_confirmed"
	EventLotRecalled             = "lot_recalled"
	EventComplianceStatusChanged = "compliance_status_changed"
	EventDisputeOpened           = "dispute_opened"
	EventDisputeResolved         = "dispute_resolved"
	EventDeliveryPinIssued       = "delivery_pin_issued"
	EventDeliveryPinVerified     = "delivery_pin_verified"
	EventReportRequested         = "finance_report_requested"
)

// Event is one outbox row.
type Event struct {
	ID            string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       json.RawMessage
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
}

// Enqueue writes an event inside the caller's transaction. The event is
// invisible to the worker until that transaction commits, so a rolled-back
// domain write never leaks an event.
func Enqueue(ctx context.Context, q database.Queryer, eventType, aggregateType, aggregateID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload for %s: %w", eventType, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox_events (event_type, aggregate_type, aggregate_id, payload)
		VALUES ($1, $2, $3, $4)`,
		eventType, aggregateType, aggregateID, body)
	if err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", eventType, err)
	}
	return nil
}

// Handler processes one event. Handlers must be idempotent: delivery is
// at-least-once and the aggregate id is the dedup key.
type Handler func(ctx context.Context, ev *Event) error

// Registry maps event types to handlers. An event type with no handler is
// marked processed immediately (forward compatibility for retired types).
type Registry struct {
	handlers map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

func (r *Registry) Register(eventType string, h Handler) {
	r.handlers[eventType] = append(r.handlers[eventType], h)
}

func (r *Registry) handlersFor(eventType string) []Handler {
	return r.handlers[eventType]
}
