package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgauthz.org/internal/authz"
	"orgauthz.org/internal/ids"
)

// User store ---------------------------------------------------------------

type userStore struct{ q querier }

func (s *userStore) Find(ctx context.Context, id string) (*authz.User, error) {
	var u authz.User
	err := s.q.QueryRowContext(ctx, `
		select id, email, role, created_at, updated_at
		from users
		where id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", authz.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) UpdateRole(ctx context.Context, id string, role authz.Role) error {
	res, err := s.q.ExecContext(ctx, `
		update users set role = $2, updated_at = now() where id = $1
	`, id, role)
	if err != nil {
		return mapPgError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: user %s", authz.ErrNotFound, id)
	}
	return nil
}

// Organisation store -------------------------------------------------------

type orgStore struct{ q querier }

func (s *orgStore) Find(ctx context.Context, id string) (*authz.Organisation, error) {
	var org authz.Organisation
	err := s.q.QueryRowContext(ctx, `
		select id, name, active, created_at, updated_at
		from organisations
		where id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Active, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: organisation %s", authz.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *orgStore) List(ctx context.Context) ([]authz.Organisation, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, name, active, created_at, updated_at
		from organisations
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrgs(rows)
}

func (s *orgStore) ListByIDs(ctx context.Context, orgIDs []string) ([]authz.Organisation, error) {
	if len(orgIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(orgIDs))
	args := make([]any, len(orgIDs))
	for i, id := range orgIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`
		select id, name, active, created_at, updated_at
		from organisations
		where id in (%s)
		order by name
	`, strings.Join(placeholders, ", "))
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrgs(rows)
}

func scanOrgs(rows *sql.Rows) ([]authz.Organisation, error) {
	var result []authz.Organisation
	for rows.Next() {
		var org authz.Organisation
		if err := rows.Scan(&org.ID, &org.Name, &org.Active, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Permission store ---------------------------------------------------------

type permissionStore struct{ q querier }

func (s *permissionStore) Ensure(ctx context.Context, perms []authz.Permission) error {
	for _, p := range perms {
		_, err := s.q.ExecContext(ctx, `
			insert into permissions (key, name, description, system_reserved)
			values ($1, $2, $3, $4)
			on conflict (key) do nothing
		`, p.Key, p.Name, p.Description, p.SystemReserved)
		if err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

func (s *permissionStore) Find(ctx context.Context, key string) (*authz.Permission, error) {
	var p authz.Permission
	err := s.q.QueryRowContext(ctx, `
		select key, name, description, system_reserved
		from permissions
		where key = $1
	`, key).Scan(&p.Key, &p.Name, &p.Description, &p.SystemReserved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: permission %s", authz.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *permissionStore) List(ctx context.Context) ([]authz.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select key, name, description, system_reserved
		from permissions
		order by key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.Key, &p.Name, &p.Description, &p.SystemReserved); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// Agent store --------------------------------------------------------------

type agentStore struct{ q querier }

const agentColumns = `id, user_id, organisation_id, active, assigned_at, assigned_by, revoked_at, revoked_by`

func (s *agentStore) Create(ctx context.Context, agent *authz.Agent) error {
	if agent.ID == "" {
		agent.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into agents (id, user_id, organisation_id, active, assigned_at, assigned_by)
		values ($1, $2, $3, $4, $5, $6)
	`, agent.ID, agent.UserID, agent.OrganisationID, agent.Active, agent.AssignedAt, nullIfEmpty(agent.AssignedBy))
	return mapPgError(err)
}

func (s *agentStore) Find(ctx context.Context, id string) (*authz.Agent, error) {
	return s.scanOne(s.q.QueryRowContext(ctx,
		`select `+agentColumns+` from agents where id = $1`, id),
		fmt.Sprintf("agent %s", id))
}

func (s *agentStore) ActiveByUser(ctx context.Context, userID string) (*authz.Agent, error) {
	return s.scanOne(s.q.QueryRowContext(ctx,
		`select `+agentColumns+` from agents where user_id = $1 and active`, userID),
		fmt.Sprintf("active agent for user %s", userID))
}

func (s *agentStore) ActiveByOrganisation(ctx context.Context, orgID string) (*authz.Agent, error) {
	return s.scanOne(s.q.QueryRowContext(ctx,
		`select `+agentColumns+` from agents where organisation_id = $1 and active`, orgID),
		fmt.Sprintf("active agent for organisation %s", orgID))
}

func (s *agentStore) scanOne(row *sql.Row, what string) (*authz.Agent, error) {
	var (
		a          authz.Agent
		assignedBy sql.NullString
		revokedAt  sql.NullTime
		revokedBy  sql.NullString
	)
	err := row.Scan(&a.ID, &a.UserID, &a.OrganisationID, &a.Active, &a.AssignedAt, &assignedBy, &revokedAt, &revokedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", authz.ErrNotFound, what)
	}
	if err != nil {
		return nil, err
	}
	if assignedBy.Valid {
		a.AssignedBy = assignedBy.String
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		a.RevokedAt = &t
	}
	if revokedBy.Valid {
		a.RevokedBy = revokedBy.String
	}
	return &a, nil
}

func (s *agentStore) Deactivate(ctx context.Context, id string, revokedAt time.Time, revokedBy string) error {
	res, err := s.q.ExecContext(ctx, `
		update agents
		set active = false, revoked_at = $2, revoked_by = $3
		where id = $1
	`, id, revokedAt, nullIfEmpty(revokedBy))
	if err != nil {
		return mapPgError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: agent %s", authz.ErrNotFound, id)
	}
	return nil
}

// Grant store --------------------------------------------------------------

type grantStore struct{ q querier }

func (s *grantStore) CreateAgentGrant(ctx context.Context, grant *authz.AgentGrant) error {
	_, err := s.q.ExecContext(ctx, `
		insert into agent_permissions (agent_id, permission_key, granted_at, granted_by)
		values ($1, $2, $3, $4)
	`, grant.AgentID, grant.PermissionKey, grant.GrantedAt, nullIfEmpty(grant.GrantedBy))
	return mapPgError(err)
}

func (s *grantStore) FindAgentGrant(ctx context.Context, agentID, permissionKey string) (*authz.AgentGrant, error) {
	var (
		g         authz.AgentGrant
		grantedBy sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select agent_id, permission_key, granted_at, granted_by
		from agent_permissions
		where agent_id = $1 and permission_key = $2
	`, agentID, permissionKey).Scan(&g.AgentID, &g.PermissionKey, &g.GrantedAt, &grantedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agent grant %s/%s", authz.ErrNotFound, agentID, permissionKey)
	}
	if err != nil {
		return nil, err
	}
	if grantedBy.Valid {
		g.GrantedBy = grantedBy.String
	}
	return &g, nil
}

func (s *grantStore) ListAgentGrants(ctx context.Context, agentID string) ([]authz.AgentGrant, error) {
	rows, err := s.q.QueryContext(ctx, `
		select agent_id, permission_key, granted_at, granted_by
		from agent_permissions
		where agent_id = $1
		order by permission_key
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []authz.AgentGrant
	for rows.Next() {
		var (
			g         authz.AgentGrant
			grantedBy sql.NullString
		)
		if err := rows.Scan(&g.AgentID, &g.PermissionKey, &g.GrantedAt, &grantedBy); err != nil {
			return nil, err
		}
		if grantedBy.Valid {
			g.GrantedBy = grantedBy.String
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *grantStore) DeleteAgentGrant(ctx context.Context, agentID, permissionKey string) error {
	res, err := s.q.ExecContext(ctx, `
		delete from agent_permissions
		where agent_id = $1 and permission_key = $2
	`, agentID, permissionKey)
	if err != nil {
		return mapPgError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: agent grant %s/%s", authz.ErrNotFound, agentID, permissionKey)
	}
	return nil
}

func (s *grantStore) CreateDirectGrant(ctx context.Context, grant *authz.DirectGrant) error {
	_, err := s.q.ExecContext(ctx, `
		insert into direct_permissions (user_id, permission_key, granted_at, granted_by)
		values ($1, $2, $3, $4)
	`, grant.UserID, grant.PermissionKey, grant.GrantedAt, nullIfEmpty(grant.GrantedBy))
	return mapPgError(err)
}

func (s *grantStore) FindDirectGrant(ctx context.Context, userID, permissionKey string) (*authz.DirectGrant, error) {
	var (
		g         authz.DirectGrant
		grantedBy sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select user_id, permission_key, granted_at, granted_by
		from direct_permissions
		where user_id = $1 and permission_key = $2
	`, userID, permissionKey).Scan(&g.UserID, &g.PermissionKey, &g.GrantedAt, &grantedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: direct grant %s/%s", authz.ErrNotFound, userID, permissionKey)
	}
	if err != nil {
		return nil, err
	}
	if grantedBy.Valid {
		g.GrantedBy = grantedBy.String
	}
	return &g, nil
}

func (s *grantStore) ListDirectGrants(ctx context.Context, userID string) ([]authz.DirectGrant, error) {
	rows, err := s.q.QueryContext(ctx, `
		select user_id, permission_key, granted_at, granted_by
		from direct_permissions
		where user_id = $1
		order by permission_key
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []authz.DirectGrant
	for rows.Next() {
		var (
			g         authz.DirectGrant
			grantedBy sql.NullString
		)
		if err := rows.Scan(&g.UserID, &g.PermissionKey, &g.GrantedAt, &grantedBy); err != nil {
			return nil, err
		}
		if grantedBy.Valid {
			g.GrantedBy = grantedBy.String
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *grantStore) DeleteDirectGrant(ctx context.Context, userID, permissionKey string) error {
	res, err := s.q.ExecContext(ctx, `
		delete from direct_permissions
		where user_id = $1 and permission_key = $2
	`, userID, permissionKey)
	if err != nil {
		return mapPgError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: direct grant %s/%s", authz.ErrNotFound, userID, permissionKey)
	}
	return nil
}

// Membership store ---------------------------------------------------------

type membershipStore struct{ q querier }

func (s *membershipStore) ListByUser(ctx context.Context, userID string) ([]authz.Membership, error) {
	rows, err := s.q.QueryContext(ctx, `
		select user_id, organisation_id, created_at
		from memberships
		where user_id = $1
		order by organisation_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []authz.Membership
	for rows.Next() {
		var m authz.Membership
		if err := rows.Scan(&m.UserID, &m.OrganisationID, &m.CreatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memberships, nil
}
