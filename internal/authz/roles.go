package authz

import "context"

// syncRole keeps the cached role consistent with agent status: an active
// assignment elevates a base user, losing the last one downgrades an elevated
// user. Platform admins are never touched. Runs in the same transaction as
// the agent mutation that triggered it.
func syncRole(ctx context.Context, users UserStore, user *User, hasActiveAgent bool) error {
	var next Role
	switch {
	case user.Role == RolePlatformAdmin:
		return nil
	case hasActiveAgent && user.Role == RoleBase:
		next = RoleElevated
	case !hasActiveAgent && user.Role == RoleElevated:
		next = RoleBase
	default:
		return nil
	}
	if err := users.UpdateRole(ctx, user.ID, next); err != nil {
		return err
	}
	user.Role = next
	return nil
}
