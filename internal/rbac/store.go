package rbac

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a missing role, permission, or assignment.
	ErrNotFound = errors.New("rbac: not found")
	// ErrConflict reports a state conflict, such as revoking an inactive
	// assignment or a parent change that would create a cycle.
	ErrConflict = errors.New("rbac: conflict")
	// ErrInvalidInput reports malformed input.
	ErrInvalidInput = errors.New("rbac: invalid input")
)

// Store persists roles, permissions, grants, and assignments. Implementations
// must reject writes that would create a cycle in the role parent chain.
type Store interface {
	InsertRole(ctx context.Context, r Role) error
	RoleByID(ctx context.Context, id string) (Role, error)
	UpdateRoleParent(ctx context.Context, roleID string, parentID *string, hierarchyPath string) error

	InsertPermission(ctx context.Context, p Permission) error
	PermissionByID(ctx context.Context, id string) (Permission, error)

	InsertRolePermission(ctx context.Context, rp RolePermission) error
	DeleteRolePermission(ctx context.Context, roleID, permissionID string) error
	PermissionsByRole(ctx context.Context, roleID string) ([]Permission, error)

	InsertAssignment(ctx context.Context, a Assignment) error
	AssignmentsByUser(ctx context.Context, userID string) ([]Assignment, error)
	RevokeAssignment(ctx context.Context, id string, at time.Time) error
}
