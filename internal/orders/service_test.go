package orders

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coziyoo/backend/internal/apperr"
)

func TestNewOrderCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := newOrderCode()
		require.Len(t, code, 8)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(orderCodeAlphabet, r), "code %q", code)
		}
		// Ambiguous glyphs are excluded from the alphabet.
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "1")
		assert.False(t, seen[code], "order code collision: %s", code)
		seen[code] = true
	}
}

func TestCreateOrderInputValidation(t *testing.T) {
	valid := CreateOrderInput{
		DeliveryType: "pickup",
		Items:        []CreateItemInput{{FoodID: "f1", Quantity: 2}},
	}
	assert.NoError(t, valid.validate())

	cases := []struct {
		name string
		in   CreateOrderInput
	}{
		{"bad delivery type", CreateOrderInput{DeliveryType: "drone",
			Items: []CreateItemInput{{FoodID: "f1", Quantity: 1}}}},
		{"delivery without address", CreateOrderInput{DeliveryType: "delivery",
			Items: []CreateItemInput{{FoodID: "f1", Quantity: 1}}}},
		{"no items", CreateOrderInput{DeliveryType: "pickup"}},
		{"zero quantity", CreateOrderInput{DeliveryType: "pickup",
			Items: []CreateItemInput{{FoodID: "f1", Quantity: 0}}}},
		{"negative quantity", CreateOrderInput{DeliveryType: "pickup",
			Items: []CreateItemInput{{FoodID: "f1", Quantity: -2}}}},
	}
	for _, tc := range cases {
		err := tc.in.validate()
		require.Error(t, err, tc.name)
		assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"), tc.name)
	}
}
