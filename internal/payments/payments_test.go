package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/config"
)

func testService() *Service {
	return NewService(nil, config.PaymentConfig{
		WebhookSecret:   "webhook-test-secret-0123",
		CheckoutBaseURL: "https://checkout.example/session",
	})
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	svc := testService()
	body := []byte(`{"sessionId":"ps_abc","result":"confirmed"}`)

	assert.True(t, svc.VerifySignature(body, sign("webhook-test-secret-0123", body)))

	// Wrong secret, tampered body, malformed hex, and empty signature all
	// fail.
	assert.False(t, svc.VerifySignature(body, sign("some-other-secret-000000", body)))
	assert.False(t, svc.VerifySignature([]byte(`{"sessionId":"ps_abc","result":"failed"}`),
		sign("webhook-test-secret-0123", body)))
	assert.False(t, svc.VerifySignature(body, "zzzz-not-hex"))
	assert.False(t, svc.VerifySignature(body, ""))
}

func TestAppendableWrapsJSONBody(t *testing.T) {
	out := appendable([]byte(`{"a":1}`))
	assert.JSONEq(t, `[{"a":1}]`, string(out))
}

func TestAppendableQuotesNonJSONBody(t *testing.T) {
	out := appendable([]byte("plain text body"))
	assert.JSONEq(t, `["plain text body"]`, string(out))
}

func TestDecideWebhook(t *testing.T) {
	cases := []struct {
		name          string
		attemptStatus string
		result        string
		wantStatus    string
		wantSettle    bool
		wantIdem      bool
	}{
		{"fresh confirmation", StatusInitiated, "confirmed", StatusConfirmed, true, false},
		{"fresh failure", StatusInitiated, "failed", StatusConfirmationFailed, false, false},
		{"confirmation after browser return", StatusReturnedSuccess, "confirmed", StatusConfirmed, true, false},
		{"failure after browser return", StatusReturnedFailed, "failed", StatusConfirmationFailed, false, false},
		{"replay of settled session", StatusConfirmed, "confirmed", StatusConfirmed, false, true},
		{"failed replay of settled session", StatusConfirmed, "failed", StatusConfirmed, false, true},
	}
	for _, tc := range cases {
		status, settle, idem := decideWebhook(tc.attemptStatus, tc.result)
		assert.Equal(t, tc.wantStatus, status, tc.name)
		assert.Equal(t, tc.wantSettle, settle, tc.name)
		assert.Equal(t, tc.wantIdem, idem, tc.name)
	}
}

func TestLateConfirmationMapsToStateConflict(t *testing.T) {
	// A confirmed result for an order that already left awaiting_payment is
	// committed as confirmation_failed and surfaced as a 409.
	status, settle, _ := decideWebhook(StatusInitiated, "confirmed")
	assert.Equal(t, StatusConfirmed, status)
	assert.True(t, settle, "settlement is attempted, the state machine decides")

	assert.Equal(t, "PAYMENT_STATE_CONFLICT", apperr.PaymentStateConflict.Code)
	assert.Equal(t, http.StatusConflict, apperr.PaymentStateConflict.Status)
}
