package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"orgauthz.org/internal/authz"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := authz.NewMemory()
	svc, err := authz.NewService(store)
	if err != nil {
		log.Fatalf("new service: %v", err)
	}
	if err := svc.EnsureCatalog(ctx); err != nil {
		log.Fatalf("ensure catalog: %v", err)
	}

	admin := store.PutUser(authz.User{Email: "admin@example.com", Role: authz.RolePlatformAdmin})
	alice := store.PutUser(authz.User{Email: "alice@example.com"})
	bob := store.PutUser(authz.User{Email: "bob@example.com"})
	org := store.PutOrganisation(authz.Organisation{Name: "Acme", Active: true})

	agent, err := svc.Assign(ctx, alice.ID, org.ID, admin.ID)
	if err != nil {
		log.Fatalf("assign alice: %v", err)
	}
	if _, err := svc.GrantAgentPermission(ctx, agent.ID, authz.PermViewReports, admin.ID); err != nil {
		log.Fatalf("grant view_reports: %v", err)
	}

	ok, err := svc.CanAccess(ctx, alice.ID, authz.PermViewReports, org.ID)
	if err != nil || !ok {
		log.Fatalf("alice should view reports: ok=%v err=%v", ok, err)
	}
	ok, err = svc.CanAccess(ctx, alice.ID, authz.PermDeleteUsers, org.ID)
	if err != nil || ok {
		log.Fatalf("alice should not delete users: ok=%v err=%v", ok, err)
	}
	ok, err = svc.CanAccess(ctx, admin.ID, authz.PermEditSystemSettings, "")
	if err != nil || !ok {
		log.Fatalf("platform admin should bypass: ok=%v err=%v", ok, err)
	}

	// Reassignment displaces the incumbent agent.
	replacement, err := svc.Assign(ctx, bob.ID, org.ID, admin.ID)
	if err != nil {
		log.Fatalf("assign bob: %v", err)
	}
	ok, err = svc.CanAccess(ctx, alice.ID, authz.PermViewReports, org.ID)
	if err != nil || ok {
		log.Fatalf("displaced agent should lose access: ok=%v err=%v", ok, err)
	}
	summary, err := svc.PermissionSummary(ctx, alice.ID)
	if err != nil {
		log.Fatalf("summary alice: %v", err)
	}
	if summary.Role != authz.RoleBase || summary.IsAgent {
		log.Fatalf("alice should be a base user again: role=%s agent=%v", summary.Role, summary.IsAgent)
	}

	if err := svc.Revoke(ctx, replacement.ID, admin.ID); err != nil {
		log.Fatalf("revoke bob: %v", err)
	}
	ok, err = svc.CanManageOrganisation(ctx, bob.ID, org.ID)
	if err != nil || ok {
		log.Fatalf("revoked agent should not manage org: ok=%v err=%v", ok, err)
	}

	fmt.Printf("✅ authz smoke test passed: org=%s agents=%s,%s\n", org.ID, agent.ID, replacement.ID)
}
