package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coziyoo/backend/internal/apperr"
)

func testSigner() *TokenSigner {
	return NewTokenSigner(
		"app-secret-0123456789-0123456789-app",
		"admin-secret-0123456789-0123456789-x",
		15*time.Minute,
	)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	signer := testSigner()
	token, exp, err := signer.SignAccess(RealmApp, "user-1", "sess-1", "buyer")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := signer.VerifyAccess(token, RealmApp)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "buyer", claims.Role)
	assert.Equal(t, string(RealmApp), claims.Realm)
}

func TestAccessTokenRealmIsolation(t *testing.T) {
	signer := testSigner()
	appToken, _, err := signer.SignAccess(RealmApp, "user-1", "sess-1", "buyer")
	require.NoError(t, err)

	// An app token is signed with the app secret and must never verify
	// against the admin realm.
	_, err = signer.VerifyAccess(appToken, RealmAdmin)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, "AUTH_REALM_MISMATCH"), "got %v", err)

	adminToken, _, err := signer.SignAccess(RealmAdmin, "admin-1", "sess-9", "admin")
	require.NoError(t, err)
	_, err = signer.VerifyAccess(adminToken, RealmApp)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, "AUTH_REALM_MISMATCH"), "got %v", err)
}

func TestVerifyAccessRejectsGarbage(t *testing.T) {
	signer := testSigner()
	_, err := signer.VerifyAccess("not-a-jwt", RealmApp)
	assert.Error(t, err)
	_, err = signer.VerifyAccess("", RealmApp)
	assert.Error(t, err)
}

func TestNewRefreshTokenIsOpaqueAndHashed(t *testing.T) {
	token, hash, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Len(t, hash, 64) // hex sha256
	assert.Equal(t, hash, HashRefreshToken(token))

	token2, hash2, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.NotEqual(t, hash, hash2)
}

func TestNewShortID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewShortID()
		assert.Len(t, id, 12)
		assert.False(t, seen[id], "short id collision: %s", id)
		seen[id] = true
	}
}

func TestNormalizeDisplayName(t *testing.T) {
	cases := map[string]string{
		"Ayşe's Kitchen":       "ayşe's kitchen",
		"  Mehmet   Usta  ":    "mehmet usta",
		"HOME\tCOOK":           "home cook",
		"plain":                "plain",
		"":                     "",
		"   ":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeDisplayName(in), "input %q", in)
	}
}
