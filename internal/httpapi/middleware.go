package httpapi

import (
	"bytes"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/coziyoo/backend/internal/abuse"
	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/idempotency"
	"github.com/coziyoo/backend/internal/identity"
	"github.com/coziyoo/backend/internal/metrics"
)

// statusRecorder captures the status and body written by a handler so the
// logging and idempotency layers can observe them.
type statusRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// recoverMiddleware turns handler panics into INTERNAL_ERROR responses.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[HTTP] 💀 Panic on %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, apperr.Internal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument logs each request and feeds the Prometheus collectors. The
// route template, not the raw path, is the metric label.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
		log.Printf("[HTTP] %s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Millisecond))
	})
}

// clientIP prefers the first X-Forwarded-For hop; the listener sits behind
// a trusted proxy in every deployed environment.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerToken extracts the access token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	// WebSocket clients cannot set headers from the browser; allow the
	// token as a query parameter on upgrade requests only.
	if r.Header.Get("Upgrade") == "websocket" {
		return r.URL.Query().Get("token")
	}
	return ""
}

// authenticate verifies the bearer token against the policy's realm,
// resolves the effective role, and attaches the actor to the context.
func (s *Server) authenticate(policy authz.Policy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apperr.Unauthorized)
			return
		}
		claims, err := s.identity.VerifyAccess(r.Context(), token, policy.Realm)
		if err != nil {
			writeError(w, err)
			return
		}
		role, err := authz.ResolveRole(claims.Role, r.Header.Get(authz.ActorRoleHeader))
		if err != nil {
			writeError(w, err)
			return
		}
		actor := &authz.Actor{
			UserID:     claims.UserID,
			SessionID:  claims.SessionID,
			Realm:      identity.Realm(claims.Realm),
			Role:       role,
			Capability: claims.Role,
		}
		if err := policy.Allow(actor); err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(authz.WithActor(r.Context(), actor)))
	}
}

// guard applies the abuse gate for a flow before the handler runs. The
// subject is the authenticated user when present, else the IP alone.
func (s *Server) guard(flow abuse.Flow, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := ""
		if actor := authz.ActorFrom(r.Context()); actor != nil {
			subject = actor.UserID
		}
		if err := s.abuse.Check(r.Context(), flow, clientIP(r), subject); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

// idempotent wraps a monetary handler with key-based replay protection.
// Requests without a key pass straight through; keyed replays with the same
// body get the cached response, divergent bodies fail IDEMPOTENCY_CONFLICT.
func (s *Server) idempotent(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotency.Header)
		if key == "" {
			next(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, apperr.Validation("request body is too large or unreadable", nil).WithCause(err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		replay, err := s.idem.Check(r.Context(), scope, key, body)
		if err != nil {
			writeError(w, err)
			return
		}
		if replay != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(replay.Status)
			w.Write(replay.Body)
			return
		}
		if err := s.idem.Reserve(r.Context(), scope, key, body); err != nil {
			writeError(w, err)
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)

		if rec.status >= 200 && rec.status < 300 {
			if err := s.idem.SaveResponse(r.Context(), scope, key, rec.status, rec.body.Bytes()); err != nil {
				log.Printf("[HTTP] ⚠️ Failed to cache idempotent response: %v", err)
			}
			return
		}
		if err := s.idem.Release(r.Context(), scope, key); err != nil {
			log.Printf("[HTTP] ⚠️ Failed to release idempotency key: %v", err)
		}
	}
}

// appPolicy and adminPolicy are the common endpoint policies.
func appPolicy(roles ...string) authz.Policy {
	return authz.Policy{Realm: identity.RealmApp, Roles: roles}
}

func adminPolicy(roles ...string) authz.Policy {
	return authz.Policy{Realm: identity.RealmAdmin, Roles: roles}
}
