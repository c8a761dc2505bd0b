package deliveryproof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPINIsSixDigits(t *testing.T) {
	for i := 0; i < 100; i++ {
		pin, err := newPIN()
		require.NoError(t, err)
		require.Len(t, pin, 6)
		for _, r := range pin {
			assert.True(t, r >= '0' && r <= '9', "pin %q", pin)
		}
	}
}

func TestHashPINIsDeterministicAndOpaque(t *testing.T) {
	h := hashPIN("123456")
	assert.Equal(t, h, hashPIN("123456"))
	assert.NotEqual(t, h, hashPIN("123457"))
	assert.Len(t, h, 64)
	assert.NotContains(t, h, "123456")
}
