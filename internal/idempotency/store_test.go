package idempotency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coziyoo/backend/internal/apperr"
)

func TestFingerprintIsStable(t *testing.T) {
	a := fingerprint([]byte(`{"foodId":"f1"}`))
	b := fingerprint([]byte(`{"foodId":"f1"}`))
	c := fingerprint([]byte(`{"foodId":"f2"}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestReserveOutcome(t *testing.T) {
	// The winner's upsert touches exactly one row.
	require.NoError(t, reserveOutcome(1, nil))

	// A loser's upsert lands on a live row and touches nothing; it must not
	// be allowed to run the handler a second time.
	err := reserveOutcome(0, nil)
	assert.True(t, apperr.IsCode(err, "IDEMPOTENCY_CONFLICT"))

	// Driver errors are masked as internal.
	err = reserveOutcome(0, errors.New("driver: bad connection"))
	assert.True(t, apperr.IsCode(err, "INTERNAL_ERROR"))
}
