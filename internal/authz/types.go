package authz

import "time"

// Role is the denormalized role attribute cached on a user. The stored value
// is a convenience for quick checks; whether a user is an agent is derived
// from the active Agent record, which is the source of truth.
type Role string

const (
	// RoleBase is the default, most restricted state.
	RoleBase Role = "base"
	// RoleElevated marks a user actively managing exactly one organisation.
	RoleElevated Role = "elevated"
	// RolePlatformAdmin bypasses every permission check. Assigned manually,
	// never touched by role synchronization.
	RolePlatformAdmin Role = "platform-admin"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBase, RoleElevated, RolePlatformAdmin:
		return true
	}
	return false
}

// User is an identity created and owned by the surrounding system. The engine
// only ever mutates its Role.
type User struct {
	ID        string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Organisation is a tenant boundary.
type Organisation struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Agent records that a user administers an organisation. Revocation flips
// Active to false; rows are never deleted, so the full assignment history
// stays queryable.
type Agent struct {
	ID             string
	UserID         string
	OrganisationID string
	Active         bool
	AssignedAt     time.Time
	AssignedBy     string
	RevokedAt      *time.Time
	RevokedBy      string
}

// Permission is a named capability. SystemReserved keys are exercisable by
// platform admins only and can never be granted to an agent or a user.
type Permission struct {
	Key            string
	Name           string
	Description    string
	SystemReserved bool
}

// AgentGrant gives a permission to an agent, scoped to the agent's
// organisation. Rows survive agent revocation for audit but grant nothing
// once the agent is inactive.
type AgentGrant struct {
	AgentID       string
	PermissionKey string
	GrantedAt     time.Time
	GrantedBy     string
}

// DirectGrant gives a permission to a user independent of any organisation.
type DirectGrant struct {
	UserID        string
	PermissionKey string
	GrantedAt     time.Time
	GrantedBy     string
}

// Membership records that a user belongs to an organisation. Read access
// only; it carries no grants.
type Membership struct {
	UserID         string
	OrganisationID string
	CreatedAt      time.Time
}

// Summary aggregates everything the engine knows about a user's access.
type Summary struct {
	UserID                  string
	Role                    Role
	IsAgent                 bool
	ManagedOrganisation     *Organisation
	DirectPermissions       []string
	AgentPermissions        []string
	AllPermissions          []string
	AccessibleOrganisations []Organisation
}
