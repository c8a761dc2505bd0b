// Package dispatch is the glue to the out-of-process voice stack: it
// forwards intents to the agent runtime and mints LiveKit room tokens for
// clients joining a voice session. The engines themselves live elsewhere.
package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/config"
)

// SignatureHeader authenticates dispatches to the agent runtime.
const SignatureHeader = "x-agent-signature"

type Dispatcher struct {
	agent   config.AgentConfig
	livekit config.LiveKitConfig
	client  *http.Client
	logger  *log.Logger
}

func NewDispatcher(agent config.AgentConfig, livekit config.LiveKitConfig) *Dispatcher {
	return &Dispatcher{
		agent:   agent,
		livekit: livekit,
		client:  &http.Client{Timeout: agent.DispatchTimeout},
		logger:  log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
}

// AgentRequest is one intent forwarded to the runtime.
type AgentRequest struct {
	UserID  string                 `json:"userId"`
	Intent  string                 `json:"intent"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// AgentResponse is the runtime's reply, passed through verbatim.
type AgentResponse struct {
	SessionID string          `json:"sessionId"`
	Reply     json.RawMessage `json:"reply,omitempty"`
}

// Dispatch signs and forwards an intent to the agent runtime. Upstream
// failures map to provider-qualified codes; the runtime's body is never
// surfaced raw to clients.
func (d *Dispatcher) Dispatch(ctx context.Context, req AgentRequest) (*AgentResponse, error) {
	if d.agent.RuntimeURL == "" {
		return nil, apperr.Upstream("AGENT", http.StatusServiceUnavailable).
			WithMessage("agent runtime is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.agent.RuntimeURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SignatureHeader, sign(body, d.agent.SharedSecret))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Upstream("AGENT", http.StatusGatewayTimeout).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		d.logger.Printf("⚠️ Agent runtime returned %d for intent %s", resp.StatusCode, req.Intent)
		return nil, apperr.Upstream("AGENT", resp.StatusCode)
	}

	var out AgentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, apperr.Upstream("AGENT", http.StatusBadGateway).WithCause(err)
	}
	return &out, nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// videoGrant is the LiveKit room permission claim.
type videoGrant struct {
	Room     string `json:"room"`
	RoomJoin bool   `json:"roomJoin"`
	CanPub   bool   `json:"canPublish"`
	CanSub   bool   `json:"canSubscribe"`
}

type livekitClaims struct {
	jwt.RegisteredClaims
	Video videoGrant `json:"video"`
}

// RoomToken mints a LiveKit access token for a user joining a voice room.
type RoomToken struct {
	Token string `json:"token"`
	WSURL string `json:"wsUrl"`
}

// MintRoomToken issues a short-lived LiveKit join token signed with the
// API secret.
func (d *Dispatcher) MintRoomToken(identity, room string, ttl time.Duration) (*RoomToken, error) {
	if d.livekit.APIKey == "" || d.livekit.APISecret == "" {
		return nil, apperr.Upstream("LIVEKIT", http.StatusServiceUnavailable).
			WithMessage("LiveKit is not configured")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	now := time.Now()
	claims := livekitClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    d.livekit.APIKey,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Video: videoGrant{Room: room, RoomJoin: true, CanPub: true, CanSub: true},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(d.livekit.APISecret))
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &RoomToken{Token: signed, WSURL: d.livekit.WSURL}, nil
}
