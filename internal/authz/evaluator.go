package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"orgauthz.org/internal/obs"
)

// CanAccess decides whether a user may exercise a capability, optionally
// within an organisation context (orgID may be empty). Decision order:
//
//  1. platform-admin: always allowed, organisation ignored.
//  2. active agent: denied outside the managed organisation, otherwise
//     allowed iff the capability was granted to the agent.
//  3. base user: allowed iff a direct grant exists; organisation has no
//     effect on direct grants.
//
// Absence of a grant, agent or organisation context is a normal false, never
// an error. ErrNotFound is returned only for ids that do not exist at all.
func (s *Service) CanAccess(ctx context.Context, userID, capabilityKey, orgID string) (bool, error) {
	granted, err := s.evaluate(ctx, userID, capabilityKey, orgID)
	if err != nil {
		return false, err
	}
	if granted {
		obs.AccessDecision("grant")
	} else {
		obs.AccessDecision("deny")
	}
	return granted, nil
}

func (s *Service) evaluate(ctx context.Context, userID, capabilityKey, orgID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	capabilityKey = strings.TrimSpace(capabilityKey)
	if userID == "" || capabilityKey == "" {
		return false, fmt.Errorf("%w: user_id and capability key are required", ErrInvalidInput)
	}

	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.Role == RolePlatformAdmin {
		return true, nil
	}

	agent, err := s.store.Agents(ctx).ActiveByUser(ctx, userID)
	switch {
	case err == nil:
		if orgID != "" {
			org, err := s.store.Organisations(ctx).Find(ctx, orgID)
			if err != nil {
				return false, err
			}
			// Agent grants never cross organisation boundaries.
			if org.ID != agent.OrganisationID {
				return false, nil
			}
		}
		_, err := s.store.Grants(ctx).FindAgentGrant(ctx, agent.ID, capabilityKey)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	_, err = s.store.Grants(ctx).FindDirectGrant(ctx, userID, capabilityKey)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// AccessibleOrganisations returns the organisations a user may see: every
// active organisation for a platform admin, the managed organisation for an
// active agent, the membership set for a base user.
func (s *Service) AccessibleOrganisations(ctx context.Context, userID string) ([]Organisation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	orgs := s.store.Organisations(ctx)

	if user.Role == RolePlatformAdmin {
		all, err := orgs.List(ctx)
		if err != nil {
			return nil, err
		}
		return activeOnly(all), nil
	}

	agent, err := s.store.Agents(ctx).ActiveByUser(ctx, userID)
	switch {
	case err == nil:
		org, err := orgs.Find(ctx, agent.OrganisationID)
		if err != nil {
			return nil, err
		}
		return activeOnly([]Organisation{*org}), nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	memberships, err := s.store.Memberships(ctx).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.OrganisationID)
	}
	member, err := orgs.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return activeOnly(member), nil
}

// CanManageOrganisation reports whether a user administers an organisation:
// platform admins manage everything, an active agent manages exactly their
// own organisation, base users manage nothing.
func (s *Service) CanManageOrganisation(ctx context.Context, userID, orgID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" || orgID == "" {
		return false, fmt.Errorf("%w: user_id and organisation_id are required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return false, err
	}
	org, err := s.store.Organisations(ctx).Find(ctx, orgID)
	if err != nil {
		return false, err
	}
	if user.Role == RolePlatformAdmin {
		return true, nil
	}
	agent, err := s.store.Agents(ctx).ActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return agent.OrganisationID == org.ID, nil
}

// PermissionSummary aggregates a user's role, agent status, grants and
// accessible organisations into one read-side record.
func (s *Service) PermissionSummary(ctx context.Context, userID string) (Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Summary{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{UserID: user.ID, Role: user.Role}

	direct, err := s.store.Grants(ctx).ListDirectGrants(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	for _, g := range direct {
		summary.DirectPermissions = append(summary.DirectPermissions, g.PermissionKey)
	}

	agent, err := s.store.Agents(ctx).ActiveByUser(ctx, userID)
	switch {
	case err == nil:
		summary.IsAgent = true
		org, err := s.store.Organisations(ctx).Find(ctx, agent.OrganisationID)
		if err != nil {
			return Summary{}, err
		}
		summary.ManagedOrganisation = org
		agentGrants, err := s.store.Grants(ctx).ListAgentGrants(ctx, agent.ID)
		if err != nil {
			return Summary{}, err
		}
		for _, g := range agentGrants {
			summary.AgentPermissions = append(summary.AgentPermissions, g.PermissionKey)
		}
	case !errors.Is(err, ErrNotFound):
		return Summary{}, err
	}

	summary.AllPermissions = mergeKeys(summary.DirectPermissions, summary.AgentPermissions)

	accessible, err := s.AccessibleOrganisations(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	summary.AccessibleOrganisations = accessible
	return summary, nil
}

func activeOnly(orgs []Organisation) []Organisation {
	var out []Organisation
	for _, org := range orgs {
		if org.Active {
			out = append(out, org)
		}
	}
	return out
}

func mergeKeys(groups ...[]string) []string {
	set := make(map[string]struct{})
	for _, keys := range groups {
		for _, k := range keys {
			set[k] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
