package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coziyoo/backend/internal/apperr"
)

// Realm is an isolated authentication domain. App and admin realms have
// separate user tables and separate signing secrets; tokens from one realm
// are never accepted on the other's endpoints.
type Realm string

const (
	RealmApp   Realm = "app"
	RealmAdmin Realm = "admin"
)

// AccessClaims is the JWT payload for short-lived access tokens.
type AccessClaims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	Realm     string `json:"realm"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies access tokens for both realms.
type TokenSigner struct {
	secrets   map[Realm][]byte
	accessTTL time.Duration
}

func NewTokenSigner(appSecret, adminSecret string, accessTTL time.Duration) *TokenSigner {
	return &TokenSigner{
		secrets: map[Realm][]byte{
			RealmApp:   []byte(appSecret),
			RealmAdmin: []byte(adminSecret),
		},
		accessTTL: accessTTL,
	}
}

// SignAccess mints an access token bound to a session in the given realm.
func (s *TokenSigner) SignAccess(realm Realm, userID, sessionID, role string) (string, time.Time, error) {
	secret, ok := s.secrets[realm]
	if !ok {
		return "", time.Time{}, fmt.Errorf("identity: unknown realm %q", realm)
	}
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		UserID:    userID,
		SessionID: sessionID,
		Realm:     string(realm),
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "coziyoo-core",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: sign access token: %w", err)
	}
	return token, exp, nil
}

// VerifyAccess decodes and validates an access token for the expected realm.
// A structurally valid token signed for the other realm fails with
// AUTH_REALM_MISMATCH rather than a generic signature error.
func (s *TokenSigner) VerifyAccess(tokenStr string, realm Realm) (*AccessClaims, error) {
	secret, ok := s.secrets[realm]
	if !ok {
		return nil, fmt.Errorf("identity: unknown realm %q", realm)
	}

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		// Distinguish a cross-realm token from a garbage one: if the other
		// realm's secret verifies the signature, the caller hit the wrong
		// surface with a real token.
		for otherRealm, otherSecret := range s.secrets {
			if otherRealm == realm {
				continue
			}
			other := &AccessClaims{}
			if t, oErr := jwt.ParseWithClaims(tokenStr, other, func(t *jwt.Token) (interface{}, error) {
				return otherSecret, nil
			}); oErr == nil && t.Valid {
				return nil, apperr.AuthRealmMismatch
			}
		}
		return nil, apperr.TokenInvalid.WithCause(err)
	}
	if claims.Realm != string(realm) {
		return nil, apperr.AuthRealmMismatch
	}
	return claims, nil
}

// NewRefreshToken generates an opaque refresh token. Only its SHA-256 hash
// is persisted; the cleartext is returned to the client exactly once.
func NewRefreshToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("identity: generate refresh token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken returns the hex SHA-256 of a refresh token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewShortID returns an opaque 12-character identifier used in client-facing
// references (order codes, user short ids).
func NewShortID() string {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("identity: short id entropy: %v", err))
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return strings.ToLower(enc[:12])
}

// NormalizeDisplayName produces the canonical uniqueness key for a display
// name: trimmed, lowercased, inner whitespace collapsed.
func NormalizeDisplayName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
