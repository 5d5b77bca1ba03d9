package authz

import (
	"context"
	"errors"
	"testing"
)

func TestCanAccessPlatformAdmin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	admin := store.PutUser(User{Email: "root@example.com", Role: RolePlatformAdmin})
	org := store.PutOrganisation(Organisation{Name: "Acme", Active: true})

	for _, key := range []string{PermViewReports, PermEditSystemSettings, PermManageAgents} {
		ok, err := svc.CanAccess(ctx, admin.ID, key, "")
		if err != nil || !ok {
			t.Fatalf("admin denied %s: ok=%v err=%v", key, ok, err)
		}
		ok, err = svc.CanAccess(ctx, admin.ID, key, org.ID)
		if err != nil || !ok {
			t.Fatalf("admin denied %s in org: ok=%v err=%v", key, ok, err)
		}
	}
}

func TestCanAccessAgentScopedToOrganisation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	alice := store.PutUser(User{Email: "alice@example.com"})
	orgA := store.PutOrganisation(Organisation{Name: "Acme", Active: true})
	orgB := store.PutOrganisation(Organisation{Name: "Beta", Active: true})

	agent, err := svc.Assign(ctx, alice.ID, orgA.ID, "admin-1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.GrantAgentPermission(ctx, agent.ID, PermViewReports, "admin-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	ok, err := svc.CanAccess(ctx, alice.ID, PermViewReports, orgA.ID)
	if err != nil || !ok {
		t.Fatalf("agent denied in own org: ok=%v err=%v", ok, err)
	}
	ok, err = svc.CanAccess(ctx, alice.ID, PermViewReports, "")
	if err != nil || !ok {
		t.Fatalf("agent denied without org context: ok=%v err=%v", ok, err)
	}

	// Grants never cross organisation boundaries.
	ok, err = svc.CanAccess(ctx, alice.ID, PermViewReports, orgB.ID)
	if err != nil {
		t.Fatalf("cross-org check errored: %v", err)
	}
	if ok {
		t.Fatalf("agent permission leaked into another organisation")
	}

	// Ungranted capability is a plain deny.
	ok, err = svc.CanAccess(ctx, alice.ID, PermDeleteUsers, orgA.ID)
	if err != nil || ok {
		t.Fatalf("ungranted capability allowed: ok=%v err=%v", ok, err)
	}
}

func TestCanAccessBaseUserDirectGrants(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	carol := store.PutUser(User{Email: "carol@example.com"})
	org := store.PutOrganisation(Organisation{Name: "Acme", Active: true})

	ok, err := svc.CanAccess(ctx, carol.ID, PermViewContacts, "")
	if err != nil || ok {
		t.Fatalf("base user without grants allowed: ok=%v err=%v", ok, err)
	}

	if _, err := svc.GrantDirectPermission(ctx, carol.ID, PermViewContacts, "admin-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err = svc.CanAccess(ctx, carol.ID, PermViewContacts, "")
	if err != nil || !ok {
		t.Fatalf("direct grant denied: ok=%v err=%v", ok, err)
	}
	// Direct grants are organisation independent.
	ok, err = svc.CanAccess(ctx, carol.ID, PermViewContacts, org.ID)
	if err != nil || !ok {
		t.Fatalf("direct grant denied with org context: ok=%v err=%v", ok, err)
	}
}

func TestCanAccessRevokedAgentGrantsInert(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	alice := store.PutUser(User{Email: "alice@example.com"})
	org := store.PutOrganisation(Organisation{Name: "Acme", Active: true})

	agent, err := svc.Assign(ctx, alice.ID, org.ID, "admin-1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.GrantAgentPermission(ctx, agent.ID, PermViewReports, "admin-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := svc.Revoke(ctx, agent.ID, "admin-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// The grant row survives revocation for audit, but grants nothing.
	if _, err := store.Grants(ctx).FindAgentGrant(ctx, agent.ID, PermViewReports); err != nil {
		t.Fatalf("grant row should survive revocation: %v", err)
	}
	ok, err := svc.CanAccess(ctx, alice.ID, PermViewReports, org.ID)
	if err != nil || ok {
		t.Fatalf("revoked agent still has access: ok=%v err=%v", ok, err)
	}
}

func TestCanAccessErrors(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CanAccess(ctx, "ghost", PermViewReports, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
	if _, err := svc.CanAccess(ctx, "", PermViewReports, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	alice := store.PutUser(User{Email: "alice@example.com"})
	org := store.PutOrganisation(Organisation{Name: "Acme", Active: true})
	if _, err := svc.Assign(ctx, alice.ID, org.ID, "admin-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	// An agent evaluated against an id that names no organisation is an
	// error, not a deny.
	if _, err := svc.CanAccess(ctx, alice.ID, PermViewReports, "ghost-org"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown organisation, got %v", err)
	}
}

func TestAccessibleOrganisations(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	admin := store.PutUser(User{Email: "root@example.com", Role: RolePlatformAdmin})
	alice := store.PutUser(User{Email: "alice@example.com"})
	carol := store.PutUser(User{Email: "carol@example.com"})
	dave := store.PutUser(User{Email: "dave@example.com"})

	acme := store.PutOrganisation(Organisation{Name: "Acme", Active: true})
	beta := store.PutOrganisation(Organisation{Name: "Beta", Active: true})
	dormant := store.PutOrganisation(Organisation{Name: "Dormant", Active: false})

	if _, err := svc.Assign(ctx, alice.ID, acme.ID, admin.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	store.AddMembership(carol.ID, acme.ID)
	store.AddMembership(carol.ID, beta.ID)
	store.AddMembership(carol.ID, dormant.ID)

	// Platform admin sees every active organisation.
	orgs, err := svc.AccessibleOrganisations(ctx, admin.ID)
	if err != nil {
		t.Fatalf("admin orgs: %v", err)
	}
	if len(orgs) != 2 {
		t.Fatalf("admin should see 2 active orgs, got %d", len(orgs))
	}

	// Agent sees exactly the managed organisation.
	orgs, err = svc.AccessibleOrganisations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("agent orgs: %v", err)
	}
	if len(orgs) != 1 || orgs[0].ID != acme.ID {
		t.Fatalf("agent should see only %s, got %+v", acme.ID, orgs)
	}

	// Base user sees active membership organisations.
	orgs, err = svc.AccessibleOrganisations(ctx, carol.ID)
	if err != nil {
		t.Fatalf("member orgs: %v", err)
	}
	if len(orgs) != 2 {
		t.Fatalf("member should see 2 active orgs, got %d", len(orgs))
	}
	for _, org := range orgs {
		if !org.Active {
			t.Fatalf("inactive organisation leaked: %+v", org)
		}
	}

	// No memberships, no agent: empty.
	orgs, err = svc.AccessibleOrganisations(ctx, dave.ID)
	if err != nil {
		t.Fatalf("loner orgs: %v", err)
	}
	if len(orgs) != 0 {
		t.Fatalf("expected no orgs, got %+v", orgs)
	}
}

func TestCanManageOrganisation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	admin := store.PutUser(User{Email: "root@example.com", Role: RolePlatformAdmin})
	alice := store.PutUser(User{Email: "alice@example.com"})
	carol := store.PutUser(User{Email: "carol@example.com"})
	acme := store.PutOrganisation(Organisation{Name: "Acme", Active: true})
	beta := store.PutOrganisation(Organisation{Name: "Beta", Active: true})

	if _, err := svc.Assign(ctx, alice.ID, acme.ID, admin.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	store.AddMembership(carol.ID, acme.ID)

	cases := []struct {
		name   string
		userID string
		orgID  string
		want   bool
	}{
		{"admin manages any org", admin.ID, beta.ID, true},
		{"agent manages own org", alice.ID, acme.ID, true},
		{"agent does not manage other org", alice.ID, beta.ID, false},
		{"member does not manage", carol.ID, acme.ID, false},
	}
	for _, tc := range cases {
		ok, err := svc.CanManageOrganisation(ctx, tc.userID, tc.orgID)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ok != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, ok, tc.want)
		}
	}

	if _, err := svc.CanManageOrganisation(ctx, alice.ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown org, got %v", err)
	}
}

func TestPermissionSummary(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	alice := store.PutUser(User{Email: "alice@example.com"})
	acme := store.PutOrganisation(Organisation{Name: "Acme", Active: true})

	agent, err := svc.Assign(ctx, alice.ID, acme.ID, "admin-1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.GrantAgentPermission(ctx, agent.ID, PermViewReports, "admin-1"); err != nil {
		t.Fatalf("agent grant: %v", err)
	}
	if _, err := svc.GrantAgentPermission(ctx, agent.ID, PermViewContacts, "admin-1"); err != nil {
		t.Fatalf("agent grant: %v", err)
	}
	if _, err := svc.GrantDirectPermission(ctx, alice.ID, PermViewContacts, "admin-1"); err != nil {
		t.Fatalf("direct grant: %v", err)
	}

	summary, err := svc.PermissionSummary(ctx, alice.ID)
	if err != nil {
		t.Fatalf("PermissionSummary: %v", err)
	}
	if summary.Role != RoleElevated || !summary.IsAgent {
		t.Fatalf("unexpected role/agent: %+v", summary)
	}
	if summary.ManagedOrganisation == nil || summary.ManagedOrganisation.ID != acme.ID {
		t.Fatalf("managed organisation missing: %+v", summary.ManagedOrganisation)
	}
	if len(summary.DirectPermissions) != 1 || summary.DirectPermissions[0] != PermViewContacts {
		t.Fatalf("unexpected direct permissions: %v", summary.DirectPermissions)
	}
	if len(summary.AgentPermissions) != 2 {
		t.Fatalf("unexpected agent permissions: %v", summary.AgentPermissions)
	}
	// Union is deduplicated and sorted.
	want := []string{PermViewContacts, PermViewReports}
	if len(summary.AllPermissions) != len(want) {
		t.Fatalf("unexpected union: %v", summary.AllPermissions)
	}
	for i, key := range want {
		if summary.AllPermissions[i] != key {
			t.Fatalf("unexpected union order: %v", summary.AllPermissions)
		}
	}
	if len(summary.AccessibleOrganisations) != 1 || summary.AccessibleOrganisations[0].ID != acme.ID {
		t.Fatalf("unexpected accessible orgs: %+v", summary.AccessibleOrganisations)
	}

	base, err := svc.PermissionSummary(ctx, store.PutUser(User{Email: "empty@example.com"}).ID)
	if err != nil {
		t.Fatalf("empty summary: %v", err)
	}
	if base.IsAgent || base.ManagedOrganisation != nil || len(base.AllPermissions) != 0 {
		t.Fatalf("expected empty summary, got %+v", base)
	}

	if _, err := svc.PermissionSummary(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncRoleTransitions(t *testing.T) {
	_, store := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role   Role
		active bool
		want   Role
	}{
		{RoleBase, true, RoleElevated},
		{RoleElevated, false, RoleBase},
		{RoleBase, false, RoleBase},
		{RoleElevated, true, RoleElevated},
		{RolePlatformAdmin, true, RolePlatformAdmin},
		{RolePlatformAdmin, false, RolePlatformAdmin},
	}
	for _, tc := range cases {
		u := store.PutUser(User{Email: string(tc.role) + "@example.com", Role: tc.role})
		if err := syncRole(ctx, store.Users(ctx), &u, tc.active); err != nil {
			t.Fatalf("syncRole(%s, %v): %v", tc.role, tc.active, err)
		}
		if u.Role != tc.want {
			t.Fatalf("syncRole(%s, %v) = %s, want %s", tc.role, tc.active, u.Role, tc.want)
		}
		stored, _ := store.Users(ctx).Find(ctx, u.ID)
		if stored.Role != tc.want {
			t.Fatalf("stored role %s, want %s", stored.Role, tc.want)
		}
	}
}
