// Package authz resolves the effective actor for a request and enforces the
// per-endpoint realm/role matrix. Users with the `both` capability select
// their role per request via the x-actor-role header.
package authz

import (
	"context"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/identity"
)

// ActorRoleHeader carries the requested role for both-capability users.
const ActorRoleHeader = "x-actor-role"

const (
	RoleBuyer      = "buyer"
	RoleSeller     = "seller"
	RoleBoth       = "both"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Actor is the resolved identity attached to a request. Role is the
// effective capability being exercised, never `both`.
type Actor struct {
	UserID    string
	SessionID string
	Realm     identity.Realm
	Role      string
	// Capability is the stored role set (may be `both` for app users).
	Capability string
}

// Policy declares what an endpoint accepts.
type Policy struct {
	Realm identity.Realm
	Roles []string // empty = any authenticated role in the realm
}

// ResolveRole derives the effective role from the stored capability and the
// client-requested role header.
func ResolveRole(capability, requested string) (string, error) {
	switch capability {
	case RoleBuyer, RoleSeller, RoleAdmin, RoleSuperAdmin:
		if requested != "" && requested != capability {
			return "", apperr.RoleNotAllowed.WithMessage("role %q not available for this account", requested)
		}
		return capability, nil
	case RoleBoth:
		switch requested {
		case RoleBuyer, RoleSeller:
			return requested, nil
		case "":
			// Default both-users to buyer; seller surfaces require the header.
			return RoleBuyer, nil
		default:
			return "", apperr.RoleNotAllowed.WithMessage("role %q not available for this account", requested)
		}
	default:
		return "", apperr.RoleNotAllowed
	}
}

// Allow checks the actor against a policy.
func (p Policy) Allow(actor *Actor) error {
	if actor == nil {
		return apperr.Unauthorized
	}
	if actor.Realm != p.Realm {
		return apperr.AuthRealmMismatch
	}
	if len(p.Roles) == 0 {
		return nil
	}
	for _, role := range p.Roles {
		if actor.Role == role {
			return nil
		}
		// super_admin satisfies admin-scoped routes.
		if role == RoleAdmin && actor.Role == RoleSuperAdmin {
			return nil
		}
	}
	return apperr.RoleNotAllowed
}

type actorKey struct{}

// WithActor stores the resolved actor on the context.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom retrieves the resolved actor, or nil.
func ActorFrom(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorKey{}).(*Actor)
	return actor
}
