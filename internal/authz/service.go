package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgauthz.org/internal/audit"
	"orgauthz.org/internal/obs"
)

// Service is the authorization engine: agent lifecycle management, role
// synchronization and access evaluation over a Store.
type Service struct {
	store   Store
	catalog *Catalog
	now     func() time.Time
}

// Option configures Service behavior.
type Option func(*Service) error

// WithCatalog replaces the builtin permission catalog.
func WithCatalog(c *Catalog) Option {
	return func(s *Service) error {
		if c == nil {
			return errors.New("authz: catalog is required")
		}
		s.catalog = c
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the engine on top of a Store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	svc := &Service{
		store:   store,
		catalog: DefaultCatalog(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Catalog exposes the permission catalog in use.
func (s *Service) Catalog() *Catalog { return s.catalog }

// EnsureCatalog seeds the catalog permissions into the store idempotently.
func (s *Service) EnsureCatalog(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, s.catalog.All())
}

// Assign designates user as the agent for organisation. An existing active
// agent for the organisation is displaced (deactivated, row retained), and any
// prior assignment of the same user is deactivated as well — one org, one
// active agent, most recent assignment wins. The caller is trusted to have
// verified that assignedBy is a platform admin.
func (s *Service) Assign(ctx context.Context, userID, orgID, assignedBy string) (Agent, error) {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" || orgID == "" {
		return Agent{}, fmt.Errorf("%w: user_id and organisation_id are required", ErrInvalidInput)
	}

	var created Agent
	err := s.store.InTx(ctx, func(tx Store) error {
		users := tx.Users(ctx)
		agents := tx.Agents(ctx)

		user, err := users.Find(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.Organisations(ctx).Find(ctx, orgID); err != nil {
			return err
		}
		now := s.now().UTC()

		// Displace the organisation's incumbent agent, if any.
		incumbent, err := agents.ActiveByOrganisation(ctx, orgID)
		switch {
		case err == nil:
			if err := agents.Deactivate(ctx, incumbent.ID, now, assignedBy); err != nil {
				return err
			}
			if incumbent.UserID != userID {
				prevUser, err := users.Find(ctx, incumbent.UserID)
				if err != nil {
					return err
				}
				if err := syncRole(ctx, users, prevUser, false); err != nil {
					return err
				}
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}

		// A user administers at most one organisation: reassignment moves
		// them, deactivating the prior record.
		prior, err := agents.ActiveByUser(ctx, userID)
		switch {
		case err == nil:
			if err := agents.Deactivate(ctx, prior.ID, now, assignedBy); err != nil {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}

		agent := Agent{
			UserID:         userID,
			OrganisationID: orgID,
			Active:         true,
			AssignedAt:     now,
			AssignedBy:     assignedBy,
		}
		if err := agents.Create(ctx, &agent); err != nil {
			return err
		}
		if err := syncRole(ctx, users, user, true); err != nil {
			return err
		}
		created = agent
		return nil
	})
	if err != nil {
		return Agent{}, err
	}

	obs.AgentLifecycle("assign")
	_ = audit.LogEvent(ctx, "authz.agent.assign", map[string]any{
		"agent_id":        created.ID,
		"user_id":         created.UserID,
		"organisation_id": created.OrganisationID,
		"assigned_by":     created.AssignedBy,
	})
	return created, nil
}

// Revoke deactivates an agent assignment and downgrades the user's role.
// Revoking an already-inactive agent is a no-op. The agent's permission rows
// stay in place for audit but grant nothing once the agent is inactive.
func (s *Service) Revoke(ctx context.Context, agentID, revokedBy string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidInput)
	}

	var revoked *Agent
	err := s.store.InTx(ctx, func(tx Store) error {
		users := tx.Users(ctx)
		agents := tx.Agents(ctx)

		agent, err := agents.Find(ctx, agentID)
		if err != nil {
			return err
		}
		if !agent.Active {
			return nil
		}
		now := s.now().UTC()
		if err := agents.Deactivate(ctx, agent.ID, now, revokedBy); err != nil {
			return err
		}
		user, err := users.Find(ctx, agent.UserID)
		if err != nil {
			return err
		}
		if err := syncRole(ctx, users, user, false); err != nil {
			return err
		}
		revoked = agent
		return nil
	})
	if err != nil {
		return err
	}
	if revoked == nil {
		return nil
	}

	obs.AgentLifecycle("revoke")
	_ = audit.LogEvent(ctx, "authz.agent.revoke", map[string]any{
		"agent_id":        revoked.ID,
		"user_id":         revoked.UserID,
		"organisation_id": revoked.OrganisationID,
		"revoked_by":      revokedBy,
	})
	return nil
}

// GrantAgentPermission grants a catalog permission to an agent. Granting an
// already-granted permission returns the existing record. System-reserved
// permissions are never grantable.
func (s *Service) GrantAgentPermission(ctx context.Context, agentID, permissionKey, grantedBy string) (AgentGrant, error) {
	agentID = strings.TrimSpace(agentID)
	permissionKey = strings.TrimSpace(permissionKey)
	if agentID == "" || permissionKey == "" {
		return AgentGrant{}, fmt.Errorf("%w: agent_id and permission key are required", ErrInvalidInput)
	}
	perm, err := s.catalog.Lookup(permissionKey)
	if err != nil {
		return AgentGrant{}, err
	}
	if perm.SystemReserved {
		return AgentGrant{}, fmt.Errorf("%w: %s", ErrReservedPermission, permissionKey)
	}

	grants := s.store.Grants(ctx)
	if _, err := s.store.Agents(ctx).Find(ctx, agentID); err != nil {
		return AgentGrant{}, err
	}
	if existing, err := grants.FindAgentGrant(ctx, agentID, permissionKey); err == nil {
		return *existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return AgentGrant{}, err
	}

	grant := AgentGrant{
		AgentID:       agentID,
		PermissionKey: permissionKey,
		GrantedAt:     s.now().UTC(),
		GrantedBy:     grantedBy,
	}
	if err := grants.CreateAgentGrant(ctx, &grant); err != nil {
		// A concurrent grant for the same pair is still a success.
		if errors.Is(err, ErrConflict) {
			if existing, ferr := grants.FindAgentGrant(ctx, agentID, permissionKey); ferr == nil {
				return *existing, nil
			}
		}
		return AgentGrant{}, err
	}

	_ = audit.LogEvent(ctx, "authz.permission.grant", map[string]any{
		"agent_id":   agentID,
		"permission": permissionKey,
		"granted_by": grantedBy,
	})
	return grant, nil
}

// RevokeAgentPermission removes a permission from an agent. Revoking an
// absent grant is a no-op, not an error.
func (s *Service) RevokeAgentPermission(ctx context.Context, agentID, permissionKey string) error {
	agentID = strings.TrimSpace(agentID)
	permissionKey = strings.TrimSpace(permissionKey)
	if agentID == "" || permissionKey == "" {
		return fmt.Errorf("%w: agent_id and permission key are required", ErrInvalidInput)
	}
	if _, err := s.store.Agents(ctx).Find(ctx, agentID); err != nil {
		return err
	}
	if err := s.store.Grants(ctx).DeleteAgentGrant(ctx, agentID, permissionKey); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	_ = audit.LogEvent(ctx, "authz.permission.revoke", map[string]any{
		"agent_id":   agentID,
		"permission": permissionKey,
	})
	return nil
}

// GrantDirectPermission grants a permission to a user independent of any
// agent assignment. Same idempotence and reserved-key rules as agent grants.
func (s *Service) GrantDirectPermission(ctx context.Context, userID, permissionKey, grantedBy string) (DirectGrant, error) {
	userID = strings.TrimSpace(userID)
	permissionKey = strings.TrimSpace(permissionKey)
	if userID == "" || permissionKey == "" {
		return DirectGrant{}, fmt.Errorf("%w: user_id and permission key are required", ErrInvalidInput)
	}
	perm, err := s.catalog.Lookup(permissionKey)
	if err != nil {
		return DirectGrant{}, err
	}
	if perm.SystemReserved {
		return DirectGrant{}, fmt.Errorf("%w: %s", ErrReservedPermission, permissionKey)
	}

	grants := s.store.Grants(ctx)
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return DirectGrant{}, err
	}
	if existing, err := grants.FindDirectGrant(ctx, userID, permissionKey); err == nil {
		return *existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return DirectGrant{}, err
	}

	grant := DirectGrant{
		UserID:        userID,
		PermissionKey: permissionKey,
		GrantedAt:     s.now().UTC(),
		GrantedBy:     grantedBy,
	}
	if err := grants.CreateDirectGrant(ctx, &grant); err != nil {
		if errors.Is(err, ErrConflict) {
			if existing, ferr := grants.FindDirectGrant(ctx, userID, permissionKey); ferr == nil {
				return *existing, nil
			}
		}
		return DirectGrant{}, err
	}

	_ = audit.LogEvent(ctx, "authz.direct_permission.grant", map[string]any{
		"user_id":    userID,
		"permission": permissionKey,
		"granted_by": grantedBy,
	})
	return grant, nil
}

// RevokeDirectPermission removes a direct grant. No-op when absent.
func (s *Service) RevokeDirectPermission(ctx context.Context, userID, permissionKey string) error {
	userID = strings.TrimSpace(userID)
	permissionKey = strings.TrimSpace(permissionKey)
	if userID == "" || permissionKey == "" {
		return fmt.Errorf("%w: user_id and permission key are required", ErrInvalidInput)
	}
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Grants(ctx).DeleteDirectGrant(ctx, userID, permissionKey); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	_ = audit.LogEvent(ctx, "authz.direct_permission.revoke", map[string]any{
		"user_id":    userID,
		"permission": permissionKey,
	})
	return nil
}
