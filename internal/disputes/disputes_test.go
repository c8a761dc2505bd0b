package disputes

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/coziyoo/backend/internal/orders"
)

func TestSellerShare(t *testing.T) {
	one := decimal.NewFromInt(1)

	// Full seller liability ignores the ratio.
	assert.True(t, one.Equal(sellerShare(LiabilitySeller, decimal.Zero)))
	assert.True(t, one.Equal(sellerShare(LiabilitySeller, decimal.NewFromFloat(0.3))))

	// Shared liability clamps the ratio to [0, 1].
	assert.True(t, decimal.NewFromFloat(0.5).Equal(sellerShare(LiabilityShared, decimal.NewFromFloat(0.5))))
	assert.True(t, decimal.Zero.Equal(sellerShare(LiabilityShared, decimal.NewFromFloat(-0.2))))
	assert.True(t, one.Equal(sellerShare(LiabilityShared, decimal.NewFromFloat(1.5))))

	// Platform or provider liability debits the seller nothing.
	assert.True(t, decimal.Zero.Equal(sellerShare(LiabilityPlatform, one)))
	assert.True(t, decimal.Zero.Equal(sellerShare(LiabilityProvider, one)))
	assert.True(t, decimal.Zero.Equal(sellerShare("unknown", one)))
}

func TestRefundPath(t *testing.T) {
	// Paid and delivered orders park in refund_pending while the case is
	// reviewed.
	for _, status := range []string{orders.StatusPaid, orders.StatusDelivered} {
		transition, allowed := refundPath(status)
		assert.True(t, allowed, status)
		assert.True(t, transition, status)
	}

	// Mid-fulfilment and completed orders keep their status; the refund is
	// settled through adjustments at resolution time.
	for _, status := range []string{
		orders.StatusPreparing, orders.StatusReady, orders.StatusInDelivery, orders.StatusCompleted,
	} {
		transition, allowed := refundPath(status)
		assert.True(t, allowed, status)
		assert.False(t, transition, status)
	}

	// Everything before payment, and terminal failures, cannot refund.
	for _, status := range []string{
		orders.StatusDraft, orders.StatusPendingSellerApproval, orders.StatusSellerApproved,
		orders.StatusAwaitingPayment, orders.StatusCancelled, orders.StatusRejected,
		orders.StatusRefunded, orders.StatusExpired,
	} {
		_, allowed := refundPath(status)
		assert.False(t, allowed, status)
	}
}
