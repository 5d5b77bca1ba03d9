package authz

import (
	"context"
	"time"
)

// Store describes the persistence operations the engine depends on. Adapters
// live elsewhere (internal/store/pg for Postgres, Memory in this package).
type Store interface {
	Users(ctx context.Context) UserStore
	Organisations(ctx context.Context) OrganisationStore
	Permissions(ctx context.Context) PermissionStore
	Agents(ctx context.Context) AgentStore
	Grants(ctx context.Context) GrantStore
	Memberships(ctx context.Context) MembershipStore

	// InTx runs fn atomically. The Store passed to fn is bound to the
	// transaction; a non-nil error from fn rolls everything back.
	InTx(ctx context.Context, fn func(Store) error) error
}

// UserStore reads users and persists role updates.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	UpdateRole(ctx context.Context, id string, role Role) error
}

// OrganisationStore reads organisations.
type OrganisationStore interface {
	Find(ctx context.Context, id string) (*Organisation, error)
	List(ctx context.Context) ([]Organisation, error)
	ListByIDs(ctx context.Context, ids []string) ([]Organisation, error)
}

// PermissionStore manages the seeded permission catalog rows.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	Find(ctx context.Context, key string) (*Permission, error)
	List(ctx context.Context) ([]Permission, error)
}

// AgentStore manages agent assignment records. Records are soft-revoked
// through Deactivate, never deleted.
type AgentStore interface {
	Create(ctx context.Context, agent *Agent) error
	Find(ctx context.Context, id string) (*Agent, error)
	ActiveByUser(ctx context.Context, userID string) (*Agent, error)
	ActiveByOrganisation(ctx context.Context, orgID string) (*Agent, error)
	Deactivate(ctx context.Context, id string, revokedAt time.Time, revokedBy string) error
}

// GrantStore manages agent-scoped and direct permission grants.
type GrantStore interface {
	CreateAgentGrant(ctx context.Context, grant *AgentGrant) error
	FindAgentGrant(ctx context.Context, agentID, permissionKey string) (*AgentGrant, error)
	ListAgentGrants(ctx context.Context, agentID string) ([]AgentGrant, error)
	DeleteAgentGrant(ctx context.Context, agentID, permissionKey string) error

	CreateDirectGrant(ctx context.Context, grant *DirectGrant) error
	FindDirectGrant(ctx context.Context, userID, permissionKey string) (*DirectGrant, error)
	ListDirectGrants(ctx context.Context, userID string) ([]DirectGrant, error)
	DeleteDirectGrant(ctx context.Context, userID, permissionKey string) error
}

// MembershipStore reads organisation memberships. Memberships are created by
// the surrounding system; the engine only consumes them.
type MembershipStore interface {
	ListByUser(ctx context.Context, userID string) ([]Membership, error)
}
