package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"orgauthz.org/internal/ids"
)

// Memory implements Store in process memory. It backs the engine tests and
// the smoke binary; production deployments use the Postgres adapter. InTx
// serializes writers under one mutex and does not roll back partial work —
// acceptable for single-process use.
type Memory struct {
	mu    sync.RWMutex
	state memState
}

type pairKey struct{ left, right string }

type memState struct {
	users        map[string]User
	orgs         map[string]Organisation
	perms        map[string]Permission
	agents       map[string]Agent
	agentGrants  map[pairKey]AgentGrant
	directGrants map[pairKey]DirectGrant
	memberships  []Membership
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: memState{
		users:        make(map[string]User),
		orgs:         make(map[string]Organisation),
		perms:        make(map[string]Permission),
		agents:       make(map[string]Agent),
		agentGrants:  make(map[pairKey]AgentGrant),
		directGrants: make(map[pairKey]DirectGrant),
	}}
}

// PutUser inserts or replaces a user record. Users are owned by the
// surrounding system; this is the fixture entry point.
func (m *Memory) PutUser(u User) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleBase
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.state.users[u.ID] = u
	return u
}

// PutOrganisation inserts or replaces an organisation record.
func (m *Memory) PutOrganisation(org Organisation) Organisation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if org.ID == "" {
		org.ID = ids.New()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	m.state.orgs[org.ID] = org
	return org
}

// AddMembership records that a user belongs to an organisation.
func (m *Memory) AddMembership(userID, orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.state.memberships {
		if mem.UserID == userID && mem.OrganisationID == orgID {
			return
		}
	}
	m.state.memberships = append(m.state.memberships, Membership{
		UserID:         userID,
		OrganisationID: orgID,
		CreatedAt:      time.Now().UTC(),
	})
}

func (m *Memory) Users(ctx context.Context) UserStore { return &memUsers{m: m, mu: &m.mu} }
func (m *Memory) Organisations(ctx context.Context) OrganisationStore {
	return &memOrgs{m: m, mu: &m.mu}
}
func (m *Memory) Permissions(ctx context.Context) PermissionStore {
	return &memPerms{m: m, mu: &m.mu}
}
func (m *Memory) Agents(ctx context.Context) AgentStore { return &memAgents{m: m, mu: &m.mu} }
func (m *Memory) Grants(ctx context.Context) GrantStore { return &memGrants{m: m, mu: &m.mu} }
func (m *Memory) Memberships(ctx context.Context) MembershipStore {
	return &memMemberships{m: m, mu: &m.mu}
}

// InTx locks the store for the duration of fn. The Store handed to fn shares
// the already-held lock, so fn must not call back into the outer store.
func (m *Memory) InTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTxStore{m: m})
}

// memTxStore is the lock-free view used inside InTx.
type memTxStore struct{ m *Memory }

func (t *memTxStore) Users(ctx context.Context) UserStore { return &memUsers{m: t.m} }
func (t *memTxStore) Organisations(ctx context.Context) OrganisationStore {
	return &memOrgs{m: t.m}
}
func (t *memTxStore) Permissions(ctx context.Context) PermissionStore { return &memPerms{m: t.m} }
func (t *memTxStore) Agents(ctx context.Context) AgentStore          { return &memAgents{m: t.m} }
func (t *memTxStore) Grants(ctx context.Context) GrantStore          { return &memGrants{m: t.m} }
func (t *memTxStore) Memberships(ctx context.Context) MembershipStore {
	return &memMemberships{m: t.m}
}
func (t *memTxStore) InTx(ctx context.Context, fn func(Store) error) error { return fn(t) }

type locker struct{ mu *sync.RWMutex }

func (l locker) lock() func() {
	if l.mu == nil {
		return func() {}
	}
	l.mu.Lock()
	return l.mu.Unlock
}

func (l locker) rlock() func() {
	if l.mu == nil {
		return func() {}
	}
	l.mu.RLock()
	return l.mu.RUnlock
}

// User store ---------------------------------------------------------------

type memUsers struct {
	m  *Memory
	mu *sync.RWMutex
}

func (s *memUsers) Find(ctx context.Context, id string) (*User, error) {
	defer locker{s.mu}.rlock()()
	u, ok := s.m.state.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	out := u
	return &out, nil
}

func (s *memUsers) UpdateRole(ctx context.Context, id string, role Role) error {
	defer locker{s.mu}.lock()()
	u, ok := s.m.state.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	s.m.state.users[id] = u
	return nil
}

// Organisation store -------------------------------------------------------

type memOrgs struct {
	m  *Memory
	mu *sync.RWMutex
}

func (s *memOrgs) Find(ctx context.Context, id string) (*Organisation, error) {
	defer locker{s.mu}.rlock()()
	org, ok := s.m.state.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: organisation %s", ErrNotFound, id)
	}
	out := org
	return &out, nil
}

func (s *memOrgs) List(ctx context.Context) ([]Organisation, error) {
	defer locker{s.mu}.rlock()()
	out := make([]Organisation, 0, len(s.m.state.orgs))
	for _, org := range s.m.state.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memOrgs) ListByIDs(ctx context.Context, orgIDs []string) ([]Organisation, error) {
	defer locker{s.mu}.rlock()()
	var out []Organisation
	for _, id := range orgIDs {
		if org, ok := s.m.state.orgs[id]; ok {
			out = append(out, org)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Permission store ---------------------------------------------------------

type memPerms struct {
	m  *Memory
	mu *sync.RWMutex
}

func (s *memPerms) Ensure(ctx context.Context, perms []Permission) error {
	defer locker{s.mu}.lock()()
	for _, p := range perms {
		if _, ok := s.m.state.perms[p.Key]; !ok {
			s.m.state.perms[p.Key] = p
		}
	}
	return nil
}

func (s *memPerms) Find(ctx context.Context, key string) (*Permission, error) {
	defer locker{s.mu}.rlock()()
	p, ok := s.m.state.perms[key]
	if !ok {
		return nil, fmt.Errorf("%w: permission %s", ErrNotFound, key)
	}
	out := p
	return &out, nil
}

func (s *memPerms) List(ctx context.Context) ([]Permission, error) {
	defer locker{s.mu}.rlock()()
	out := make([]Permission, 0, len(s.m.state.perms))
	for _, p := range s.m.state.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Agent store --------------------------------------------------------------

type memAgents struct {
	m  *Memory
	mu *sync.RWMutex
}

func (s *memAgents) Create(ctx context.Context, agent *Agent) error {
	defer locker{s.mu}.lock()()
	if agent.ID == "" {
		agent.ID = ids.New()
	}
	if agent.Active {
		// Backstop for the one-active-per-org and one-active-per-user
		// invariants, mirroring the partial unique indexes in Postgres.
		for _, existing := range s.m.state.agents {
			if !existing.Active {
				continue
			}
			if existing.OrganisationID == agent.OrganisationID || existing.UserID == agent.UserID {
				return fmt.Errorf("%w: active agent exists", ErrConflict)
			}
		}
	}
	s.m.state.agents[agent.ID] = *agent
	return nil
}

func (s *memAgents) Find(ctx context.Context, id string) (*Agent, error) {
	defer locker{s.mu}.rlock()()
	a, ok := s.m.state.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, id)
	}
	out := a
	return &out, nil
}

func (s *memAgents) ActiveByUser(ctx context.Context, userID string) (*Agent, error) {
	defer locker{s.mu}.rlock()()
	for _, a := range s.m.state.agents {
		if a.Active && a.UserID == userID {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: no active agent for user %s", ErrNotFound, userID)
}

func (s *memAgents) ActiveByOrganisation(ctx context.Context, orgID string) (*Agent, error) {
	defer locker{s.mu}.rlock()()
	for _, a := range s.m.state.agents {
		if a.Active && a.OrganisationID == orgID {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: no active agent for organisation %s", ErrNotFound, orgID)
}

func (s *memAgents) Deactivate(ctx context.Context, id string, revokedAt time.Time, revokedBy string) error {
	defer locker{s.mu}.lock()()
	a, ok := s.m.state.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %s", ErrNotFound, id)
	}
	a.Active = false
	a.RevokedAt = &revokedAt
	a.RevokedBy = revokedBy
	s.m.state.agents[id] = a
	return nil
}

// Grant store --------------------------------------------------------------

type memGrants struct {
	m  *Memory
	mu *sync.RWMutex
}

func (s *memGrants) CreateAgentGrant(ctx context.Context, grant *AgentGrant) error {
	defer locker{s.mu}.lock()()
	key := pairKey{grant.AgentID, grant.PermissionKey}
	if _, ok := s.m.state.agentGrants[key]; ok {
		return fmt.Errorf("%w: grant exists", ErrConflict)
	}
	s.m.state.agentGrants[key] = *grant
	return nil
}

func (s *memGrants) FindAgentGrant(ctx context.Context, agentID, permissionKey string) (*AgentGrant, error) {
	defer locker{s.mu}.rlock()()
	g, ok := s.m.state.agentGrants[pairKey{agentID, permissionKey}]
	if !ok {
		return nil, fmt.Errorf("%w: agent grant %s/%s", ErrNotFound, agentID, permissionKey)
	}
	out := g
	return &out, nil
}

func (s *memGrants) ListAgentGrants(ctx context.Context, agentID string) ([]AgentGrant, error) {
	defer locker{s.mu}.rlock()()
	var out []AgentGrant
	for key, g := range s.m.state.agentGrants {
		if key.left == agentID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionKey < out[j].PermissionKey })
	return out, nil
}

func (s *memGrants) DeleteAgentGrant(ctx context.Context, agentID, permissionKey string) error {
	defer locker{s.mu}.lock()()
	key := pairKey{agentID, permissionKey}
	if _, ok := s.m.state.agentGrants[key]; !ok {
		return fmt.Errorf("%w: agent grant %s/%s", ErrNotFound, agentID, permissionKey)
	}
	delete(s.m.state.agentGrants, key)
	return nil
}

func (s *memGrants) CreateDirectGrant(ctx context.Context, grant *DirectGrant) error {
	defer locker{s.mu}.lock()()
	key := pairKey{grant.UserID, grant.PermissionKey}
	if _, ok := s.m.state.directGrants[key]; ok {
		return fmt.Errorf("%w: grant exists", ErrConflict)
	}
	s.m.state.directGrants[key] = *grant
	return nil
}

func (s *memGrants) FindDirectGrant(ctx context.Context, userID, permissionKey string) (*DirectGrant, error) {
	defer locker{s.mu}.rlock()()
	g, ok := s.m.state.directGrants[pairKey{userID, permissionKey}]
	if !ok {
		return nil, fmt.Errorf("%w: direct grant %s/%s", ErrNotFound, userID, permissionKey)
	}
	out := g
	return &out, nil
}

func (s *memGrants) ListDirectGrants(ctx context.Context, userID string) ([]DirectGrant, error) {
	defer locker{s.mu}.rlock()()
	var out []DirectGrant
	for key, g := range s.m.state.directGrants {
		if key.left == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionKey < out[j].PermissionKey })
	return out, nil
}

func (s *memGrants) DeleteDirectGrant(ctx context.Context, userID, permissionKey string) error {
	defer locker{s.mu}.lock()()
	key := pairKey{userID, permissionKey}
	if _, ok := s.m.state.directGrants[key]; !ok {
		return fmt.Errorf("%w: direct grant %s/%s", ErrNotFound, userID, permissionKey)
	}
	delete(s.m.state.directGrants, key)
	return nil
}

// Membership store ---------------------------------------------------------

type memMemberships struct {
	m  *Memory
	mu *sync.RWMutex
}

func (s *memMemberships) ListByUser(ctx context.Context, userID string) ([]Membership, error) {
	defer locker{s.mu}.rlock()()
	var out []Membership
	for _, mem := range s.m.state.memberships {
		if mem.UserID == userID {
			out = append(out, mem)
		}
	}
	return out, nil
}
