package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/foods", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	// Multiple hops: the first entry is the originating client.
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1, 10.0.0.2")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", bearerToken(req))

	req.Header.Set("Authorization", "bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", bearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, bearerToken(req))
}

func TestBearerTokenWebSocketQueryFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/stream?token=ws-token", nil)
	// Plain requests never read the query parameter.
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Upgrade", "websocket")
	assert.Equal(t, "ws-token", bearerToken(req))
}

func TestStatusRecorderCapturesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}

	sr.WriteHeader(http.StatusCreated)
	sr.Write([]byte(`{"data":{}}`))

	assert.Equal(t, http.StatusCreated, sr.status)
	assert.Equal(t, `{"data":{}}`, sr.body.String())
	assert.Equal(t, `{"data":{}}`, rec.Body.String())
}

func TestStatusRecorderDefaultsTo200OnImplicitWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}
	sr.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, sr.status)
}
