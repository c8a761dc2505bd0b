package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/identity"
)

func TestResolveRoleSingleCapability(t *testing.T) {
	role, err := ResolveRole(RoleBuyer, "")
	require.NoError(t, err)
	assert.Equal(t, RoleBuyer, role)

	// Requesting your own capability is a no-op.
	role, err = ResolveRole(RoleSeller, RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, role)

	// Requesting a capability you don't hold is rejected.
	_, err = ResolveRole(RoleBuyer, RoleSeller)
	assert.True(t, apperr.IsCode(err, "ROLE_NOT_ALLOWED"))
}

func TestResolveRoleBothCapability(t *testing.T) {
	// No header defaults to buyer.
	role, err := ResolveRole(RoleBoth, "")
	require.NoError(t, err)
	assert.Equal(t, RoleBuyer, role)

	role, err = ResolveRole(RoleBoth, RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, role)

	role, err = ResolveRole(RoleBoth, RoleBuyer)
	require.NoError(t, err)
	assert.Equal(t, RoleBuyer, role)

	// The effective role is never `both` or anything else.
	_, err = ResolveRole(RoleBoth, RoleBoth)
	assert.True(t, apperr.IsCode(err, "ROLE_NOT_ALLOWED"))
	_, err = ResolveRole(RoleBoth, RoleAdmin)
	assert.True(t, apperr.IsCode(err, "ROLE_NOT_ALLOWED"))
}

func TestResolveRoleUnknownCapability(t *testing.T) {
	_, err := ResolveRole("", "")
	assert.True(t, apperr.IsCode(err, "ROLE_NOT_ALLOWED"))
	_, err = ResolveRole("superuser", "")
	assert.True(t, apperr.IsCode(err, "ROLE_NOT_ALLOWED"))
}

func TestPolicyAllow(t *testing.T) {
	buyer := &Actor{UserID: "u1", Realm: identity.RealmApp, Role: RoleBuyer}
	seller := &Actor{UserID: "u2", Realm: identity.RealmApp, Role: RoleSeller}
	admin := &Actor{UserID: "a1", Realm: identity.RealmAdmin, Role: RoleAdmin}
	super := &Actor{UserID: "a2", Realm: identity.RealmAdmin, Role: RoleSuperAdmin}

	anyApp := Policy{Realm: identity.RealmApp}
	assert.NoError(t, anyApp.Allow(buyer))
	assert.NoError(t, anyApp.Allow(seller))
	assert.True(t, apperr.IsCode(anyApp.Allow(admin), "AUTH_REALM_MISMATCH"))
	assert.True(t, apperr.IsCode(anyApp.Allow(nil), "UNAUTHORIZED"))

	sellerOnly := Policy{Realm: identity.RealmApp, Roles: []string{RoleSeller}}
	assert.NoError(t, sellerOnly.Allow(seller))
	assert.True(t, apperr.IsCode(sellerOnly.Allow(buyer), "ROLE_NOT_ALLOWED"))

	adminOnly := Policy{Realm: identity.RealmAdmin, Roles: []string{RoleAdmin}}
	assert.NoError(t, adminOnly.Allow(admin))
	// super_admin satisfies admin-scoped routes.
	assert.NoError(t, adminOnly.Allow(super))

	superOnly := Policy{Realm: identity.RealmAdmin, Roles: []string{RoleSuperAdmin}}
	assert.NoError(t, superOnly.Allow(super))
	assert.True(t, apperr.IsCode(superOnly.Allow(admin), "ROLE_NOT_ALLOWED"))
}
