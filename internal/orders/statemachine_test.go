package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		legal    bool
	}{
		{StatusPendingSellerApproval, StatusSellerApproved, true},
		{StatusSellerApproved, StatusAwaitingPayment, true},
		{StatusAwaitingPayment, StatusPaid, true},
		{StatusPaid, StatusPreparing, true},
		{StatusReady, StatusDelivered, true}, // pickup handover skips in_delivery
		{StatusDelivered, StatusCompleted, true},
		{StatusRefundPending, StatusRefunded, true},

		{StatusPendingSellerApproval, StatusPaid, false},
		{StatusPaid, StatusCompleted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusRefunded, StatusPaid, false},
		{StatusDelivered, StatusCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.legal, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestActorMayTransition(t *testing.T) {
	// Sellers approve, buyers do not.
	assert.True(t, ActorMayTransition(ActorSeller, StatusPendingSellerApproval, StatusSellerApproved))
	assert.False(t, ActorMayTransition(ActorBuyer, StatusPendingSellerApproval, StatusSellerApproved))

	// Only the system confirms payment.
	assert.True(t, ActorMayTransition(ActorSystem, StatusAwaitingPayment, StatusPaid))
	assert.False(t, ActorMayTransition(ActorBuyer, StatusAwaitingPayment, StatusPaid))
	assert.False(t, ActorMayTransition(ActorSeller, StatusAwaitingPayment, StatusPaid))

	// Refund settlement is admin-only.
	assert.True(t, ActorMayTransition(ActorAdmin, StatusRefundPending, StatusRefunded))
	assert.False(t, ActorMayTransition(ActorBuyer, StatusRefundPending, StatusRefunded))

	// Admin may drive any legal move but never an illegal one.
	assert.True(t, ActorMayTransition(ActorAdmin, StatusPaid, StatusCancelled))
	assert.False(t, ActorMayTransition(ActorAdmin, StatusCompleted, StatusPaid))
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{
		StatusCompleted, StatusRejected, StatusCancelled,
		StatusRefunded, StatusRefundRejected, StatusExpired,
	} {
		assert.True(t, IsTerminal(status), status)
	}
	for _, status := range []string{
		StatusDraft, StatusPendingSellerApproval, StatusPaid,
		StatusDelivered, StatusRefundPending,
	} {
		assert.False(t, IsTerminal(status), status)
	}
}

func TestRestoresStock(t *testing.T) {
	// Pre-handover exits return allocations.
	assert.True(t, restoresStock(StatusPendingSellerApproval, StatusRejected))
	assert.True(t, restoresStock(StatusAwaitingPayment, StatusExpired))
	assert.True(t, restoresStock(StatusPaid, StatusCancelled))
	assert.True(t, restoresStock(StatusPreparing, StatusCancelled))

	// Post-handover the food is gone.
	assert.False(t, restoresStock(StatusDelivered, StatusCancelled))
	assert.False(t, restoresStock(StatusCompleted, StatusCancelled))

	// Non-releasing targets never restore.
	assert.False(t, restoresStock(StatusPaid, StatusRefundPending))
	assert.False(t, restoresStock(StatusDelivered, StatusCompleted))
}

func TestEveryTransitionNamesKnownStatuses(t *testing.T) {
	known := map[string]bool{
		StatusDraft: true, StatusPendingSellerApproval: true, StatusSellerApproved: true,
		StatusAwaitingPayment: true, StatusPaid: true, StatusPreparing: true,
		StatusReady: true, StatusInDelivery: true, StatusDelivered: true,
		StatusCompleted: true, StatusRejected: true, StatusCancelled: true,
		StatusRefundPending: true, StatusRefunded: true, StatusRefundRejected: true,
		StatusExpired: true,
	}
	for key, actors := range transitions {
		require.True(t, known[key.from], "unknown source %q", key.from)
		require.True(t, known[key.to], "unknown target %q", key.to)
		require.NotEmpty(t, actors, "%s -> %s has no actors", key.from, key.to)
		assert.False(t, IsTerminal(key.from), "terminal %q must not be a source", key.from)
	}
}
