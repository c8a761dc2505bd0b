package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	w := NewWorker(nil, NewRegistry(), WorkerConfig{BaseBackoff: 5 * time.Second})

	assert.Equal(t, 5*time.Second, w.Backoff(1))
	assert.Equal(t, 10*time.Second, w.Backoff(2))
	assert.Equal(t, 20*time.Second, w.Backoff(3))
	assert.Equal(t, 40*time.Second, w.Backoff(4))
}

func TestBackoffClampsAtOneHour(t *testing.T) {
	w := NewWorker(nil, NewRegistry(), WorkerConfig{BaseBackoff: 5 * time.Second})
	assert.Equal(t, time.Hour, w.Backoff(20))
}

func TestBackoffNormalizesBadAttempt(t *testing.T) {
	w := NewWorker(nil, NewRegistry(), WorkerConfig{BaseBackoff: 5 * time.Second})
	assert.Equal(t, w.Backoff(1), w.Backoff(0))
	assert.Equal(t, w.Backoff(1), w.Backoff(-3))
}

func TestRegistryFansOutPerEventType(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, ev *Event) error { return nil }
	r.Register(EventOrderCreated, noop)
	r.Register(EventOrderCreated, noop)
	r.Register(EventPaymentConfirmed, noop)

	assert.Len(t, r.handlersFor(EventOrderCreated), 2)
	assert.Len(t, r.handlersFor(EventPaymentConfirmed), 1)
	assert.Empty(t, r.handlersFor(EventLotRecalled))
}

func TestClaimLeaseDefaults(t *testing.T) {
	w := NewWorker(nil, NewRegistry(), WorkerConfig{})
	assert.Equal(t, 5*time.Minute, w.cfg.ClaimLease)

	w = NewWorker(nil, NewRegistry(), WorkerConfig{ClaimLease: 30 * time.Second})
	assert.Equal(t, 30*time.Second, w.cfg.ClaimLease)
}
