package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coziyoo/backend/internal/apperr"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)
	raw := EncodeCursor(at, "msg-123")

	c, err := decodeCursor(raw)
	require.NoError(t, err)
	assert.Equal(t, "msg-123", c.ID)
	assert.True(t, c.CreatedAt.Equal(at))
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"not base64 !!!",
		"aGVsbG8",           // valid base64, not JSON
		"e30",               // {} with no id
		"eyJ0IjoiYmFkIn0",   // bad timestamp shape
	} {
		_, err := decodeCursor(raw)
		require.Error(t, err, "input %q", raw)
		assert.True(t, apperr.IsCode(err, "CURSOR_INVALID"), "input %q got %v", raw, err)
	}
}
