package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/disclosure"
	"github.com/coziyoo/backend/internal/orders"
)

func TestDisclosureWriteAllowed(t *testing.T) {
	order := &orders.Order{BuyerID: "buyer-1", SellerID: "seller-1"}

	// Buyers acknowledge the pre-order disclosure, but only before payment.
	require.NoError(t, disclosureWriteAllowed(disclosure.PhasePreOrder, order, "buyer-1"))

	err := disclosureWriteAllowed(disclosure.PhasePreOrder, order, "seller-1")
	assert.True(t, apperr.IsCode(err, "FORBIDDEN_ORDER_SCOPE"))

	paid := &orders.Order{BuyerID: "buyer-1", SellerID: "seller-1", PaymentCompleted: true}
	err = disclosureWriteAllowed(disclosure.PhasePreOrder, paid, "buyer-1")
	assert.True(t, apperr.IsCode(err, "ORDER_INVALID_STATE"))

	// Handover confirmation stays with the seller.
	require.NoError(t, disclosureWriteAllowed(disclosure.PhaseHandover, order, "seller-1"))

	err = disclosureWriteAllowed(disclosure.PhaseHandover, order, "buyer-1")
	assert.True(t, apperr.IsCode(err, "FORBIDDEN_ORDER_SCOPE"))

	// Unknown phases pass through; the store rejects them on save.
	require.NoError(t, disclosureWriteAllowed("mystery", order, "buyer-1"))
}
