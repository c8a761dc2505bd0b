package retention

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/config"
)

func TestWindowDaysPrefersFamilyOverlay(t *testing.T) {
	p := NewPurger(nil, config.RetentionConfig{Interval: time.Hour}, &config.RetentionPolicy{
		DefaultDays: 730,
		Families: map[string]int{
			FamilyMessages: 365,
			FamilyAbuseEvents: 0, // zero overlay falls back to the default
		},
	})

	assert.Equal(t, 365, p.windowDays(FamilyMessages))
	assert.Equal(t, 730, p.windowDays(FamilyAbuseEvents))
	assert.Equal(t, 730, p.windowDays(FamilyNotifications))
	assert.Equal(t, 730, p.windowDays("unknown_family"))
}

func TestEveryFamilyHasAPurge(t *testing.T) {
	for _, family := range []string{
		FamilyMessages, FamilyNotifications, FamilyAbuseEvents,
		FamilyOutboxDone, FamilyIdempotency, FamilyMediaAssets,
		FamilyCompliance, FamilyLots, FamilyPayments,
		FamilyDisclosures, FamilyDisputes, FamilyAuthAudit,
	} {
		_, ok := purges[family]
		assert.True(t, ok, "family %s has no purge statement", family)
	}
	assert.Len(t, purges, 12)
}

func TestLegalHoldNotFoundShape(t *testing.T) {
	// ReleaseHold surfaces this for unknown or already-released holds; the
	// HTTP layer passes it straight through.
	assert.Equal(t, "LEGAL_HOLD_NOT_FOUND", apperr.LegalHoldNotFound.Code)
	assert.Equal(t, http.StatusNotFound, apperr.LegalHoldNotFound.Status)
}
