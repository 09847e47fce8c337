package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestApprovalGrantRejectsSelfApproval(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	res, _, _ := newTestResolver(t, &current)

	role, err := res.CreateRole(ctx, "admin", RoleSpec{Name: "payments-approver"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	p, err := res.CreatePermission(ctx, "admin", PermissionSpec{
		Resource:         "payments",
		Action:           "approve",
		RequiresApproval: true,
	})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}

	conditions := map[string]any{"requested_by": "admin"}
	if err := res.GrantPermission(ctx, "admin", role.ID, p.ID, conditions); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for self-approval, got %v", err)
	}
	// A different approver may complete the same grant.
	if err := res.GrantPermission(ctx, "other-admin", role.ID, p.ID, conditions); err != nil {
		t.Fatalf("GrantPermission by second party: %v", err)
	}
}
