package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arxcore.io/internal/audit"
	"arxcore.io/internal/ids"
	"arxcore.io/internal/obs"
)

// maxHierarchyDepth bounds the parent-chain walk. The store rejects
// cycle-forming writes, so hitting the bound means corrupt data; the walk
// stops and the partial set is used.
const maxHierarchyDepth = 16

// Resolver answers authorization questions over the role hierarchy and
// carries the administrative operations that shape it.
type Resolver struct {
	store Store
	trail *audit.Trail
	now   func() time.Time
}

// Option configures Resolver behavior.
type Option func(*Resolver)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, trail *audit.Trail, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	r := &Resolver{store: store, trail: trail, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// HasPermission reports whether any of the user's effective role assignments
// resolves the named permission, directly or through ancestor roles.
func (r *Resolver) HasPermission(ctx context.Context, userID, permissionName string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(permissionName) == "" {
		return false, fmt.Errorf("%w: user id and permission name are required", ErrInvalidInput)
	}
	assignments, err := r.effectiveAssignments(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		resolved, err := r.resolvedPermissions(ctx, a.RoleID)
		if err != nil {
			return false, err
		}
		if _, ok := resolved[permissionName]; ok {
			return true, nil
		}
	}
	return false, nil
}

// CanAccessResource reports whether the user may touch a specific resource
// instance. The grant must come from an assignment whose every non-empty
// scope restriction admits the target; an unrestricted assignment imposes
// nothing.
func (r *Resolver) CanAccessResource(ctx context.Context, userID, resource, resourceID string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(resource) == "" {
		return false, fmt.Errorf("%w: user id and resource are required", ErrInvalidInput)
	}
	assignments, err := r.effectiveAssignments(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if a.ScopeRestrictions != nil && !a.ScopeRestrictions.Admits(resource, resourceID) {
			continue
		}
		resolved, err := r.resolvedPermissions(ctx, a.RoleID)
		if err != nil {
			return false, err
		}
		for _, p := range resolved {
			if p.Resource == resource {
				return true, nil
			}
		}
	}
	return false, nil
}

// RoleSpec describes a role to create.
type RoleSpec struct {
	Name         string
	ParentRoleID *string
}

// CreateRole inserts a role and records its position in the hierarchy. The
// parent chain is walked to compute the hierarchy path; a missing parent is
// ErrNotFound.
func (r *Resolver) CreateRole(ctx context.Context, actorID string, spec RoleSpec) (Role, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := r.now().UTC()
	role := Role{
		ID:           ids.NewAt(now),
		Name:         name,
		ParentRoleID: spec.ParentRoleID,
		Active:       true,
		CreatedAt:    now,
	}
	role.HierarchyPath = "/" + role.ID
	if spec.ParentRoleID != nil {
		parent, err := r.store.RoleByID(ctx, *spec.ParentRoleID)
		if err != nil {
			return Role{}, fmt.Errorf("load parent role: %w", err)
		}
		if depth := strings.Count(parent.HierarchyPath, "/"); depth >= maxHierarchyDepth {
			return Role{}, fmt.Errorf("%w: role hierarchy too deep", ErrConflict)
		}
		role.HierarchyPath = parent.HierarchyPath + "/" + role.ID
	}
	if err := r.store.InsertRole(ctx, role); err != nil {
		return Role{}, fmt.Errorf("insert role: %w", err)
	}
	r.audit(ctx, actorID, "rbac.role_created", map[string]any{
		"role_id": role.ID,
		"before":  nil,
		"after":   map[string]any{"name": role.Name, "parent_role_id": spec.ParentRoleID, "hierarchy_path": role.HierarchyPath},
	})
	return role, nil
}

// SetRoleParent re-homes a role under a new parent and recomputes its
// hierarchy path. A parent chain that leads back to the role itself is a
// cycle and is refused.
func (r *Resolver) SetRoleParent(ctx context.Context, actorID, roleID string, parentID *string) (Role, error) {
	role, err := r.store.RoleByID(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	path := "/" + role.ID
	if parentID != nil {
		cur := *parentID
		for depth := 0; ; depth++ {
			if cur == roleID {
				return Role{}, fmt.Errorf("%w: parent change would create a cycle", ErrConflict)
			}
			if depth >= maxHierarchyDepth {
				return Role{}, fmt.Errorf("%w: role hierarchy too deep", ErrConflict)
			}
			ancestor, err := r.store.RoleByID(ctx, cur)
			if err != nil {
				return Role{}, fmt.Errorf("load ancestor role: %w", err)
			}
			if ancestor.ParentRoleID == nil {
				break
			}
			cur = *ancestor.ParentRoleID
		}
		parent, err := r.store.RoleByID(ctx, *parentID)
		if err != nil {
			return Role{}, fmt.Errorf("load parent role: %w", err)
		}
		path = parent.HierarchyPath + "/" + role.ID
	}
	if err := r.store.UpdateRoleParent(ctx, roleID, parentID, path); err != nil {
		return Role{}, fmt.Errorf("update role parent: %w", err)
	}
	before := map[string]any{"parent_role_id": role.ParentRoleID, "hierarchy_path": role.HierarchyPath}
	role.ParentRoleID = parentID
	role.HierarchyPath = path
	r.audit(ctx, actorID, "rbac.role_reparented", map[string]any{
		"role_id": role.ID,
		"before":  before,
		"after":   map[string]any{"parent_role_id": parentID, "hierarchy_path": path},
	})
	return role, nil
}

// PermissionSpec describes a permission to create.
type PermissionSpec struct {
	Resource           string
	Action             string
	Conditions         map[string]any
	DataClassification DataClassification
	RequiresApproval   bool
}

// CreatePermission inserts a permission. FullName is derived as
// "resource.action".
func (r *Resolver) CreatePermission(ctx context.Context, actorID string, spec PermissionSpec) (Permission, error) {
	resource := strings.TrimSpace(spec.Resource)
	action := strings.TrimSpace(spec.Action)
	if resource == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	if spec.DataClassification == "" {
		spec.DataClassification = ClassificationInternal
	}
	now := r.now().UTC()
	p := Permission{
		ID:                 ids.NewAt(now),
		Resource:           resource,
		Action:             action,
		FullName:           resource + "." + action,
		Conditions:         spec.Conditions,
		DataClassification: spec.DataClassification,
		RequiresApproval:   spec.RequiresApproval,
		CreatedAt:          now,
	}
	if err := r.store.InsertPermission(ctx, p); err != nil {
		return Permission{}, fmt.Errorf("insert permission: %w", err)
	}
	r.audit(ctx, actorID, "rbac.permission_created", map[string]any{
		"permission_id": p.ID,
		"before":        nil,
		"after":         map[string]any{"full_name": p.FullName, "data_classification": string(p.DataClassification), "requires_approval": p.RequiresApproval},
	})
	return p, nil
}

// GrantPermission attaches a permission to a role. For approval-requiring
// permissions the actor may not also be the requester recorded in the grant
// conditions; one person cannot hold both sides of the approval.
func (r *Resolver) GrantPermission(ctx context.Context, actorID, roleID, permissionID string, conditions map[string]any) error {
	if _, err := r.store.RoleByID(ctx, roleID); err != nil {
		return fmt.Errorf("load role: %w", err)
	}
	p, err := r.store.PermissionByID(ctx, permissionID)
	if err != nil {
		return fmt.Errorf("load permission: %w", err)
	}
	if p.RequiresApproval {
		if requester, ok := conditions["requested_by"].(string); ok && requester == actorID {
			return fmt.Errorf("%w: approval-requiring grant cannot be approved by its requester", ErrConflict)
		}
	}
	rp := RolePermission{
		RoleID:       roleID,
		PermissionID: permissionID,
		Conditions:   conditions,
		GrantedAt:    r.now().UTC(),
	}
	if err := r.store.InsertRolePermission(ctx, rp); err != nil {
		return fmt.Errorf("insert role permission: %w", err)
	}
	r.audit(ctx, actorID, "rbac.permission_granted", map[string]any{
		"role_id": roleID,
		"before":  nil,
		"after":   map[string]any{"permission_id": permissionID, "full_name": p.FullName},
	})
	return nil
}

// RevokePermission detaches a permission from a role; roles inheriting from
// it lose the permission with it.
func (r *Resolver) RevokePermission(ctx context.Context, actorID, roleID, permissionID string) error {
	if err := r.store.DeleteRolePermission(ctx, roleID, permissionID); err != nil {
		return fmt.Errorf("delete role permission: %w", err)
	}
	r.audit(ctx, actorID, "rbac.permission_revoked", map[string]any{
		"role_id": roleID,
		"before":  map[string]any{"permission_id": permissionID},
		"after":   nil,
	})
	return nil
}

// AssignRole binds a user to a role, optionally scoped and time-limited.
func (r *Resolver) AssignRole(ctx context.Context, actorID, userID, roleID string, scope *Scope, expiresAt *time.Time) (Assignment, error) {
	if strings.TrimSpace(userID) == "" {
		return Assignment{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if _, err := r.store.RoleByID(ctx, roleID); err != nil {
		return Assignment{}, fmt.Errorf("load role: %w", err)
	}
	now := r.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return Assignment{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	a := Assignment{
		ID:                ids.NewAt(now),
		UserID:            userID,
		RoleID:            roleID,
		ScopeRestrictions: scope,
		AssignedAt:        now,
		ExpiresAt:         expiresAt,
		Active:            true,
	}
	if err := r.store.InsertAssignment(ctx, a); err != nil {
		return Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	r.audit(ctx, actorID, "rbac.role_assigned", map[string]any{
		"assignment_id": a.ID,
		"before":        nil,
		"after":         map[string]any{"user_id": userID, "role_id": roleID, "expires_at": expiresAt, "scope": scope},
	})
	return a, nil
}

// RevokeRole deactivates the user's assignment of the given role. Revoking an
// assignment that is already inactive is a conflict, not a no-op.
func (r *Resolver) RevokeRole(ctx context.Context, actorID, userID, roleID string) error {
	assignments, err := r.store.AssignmentsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	var target *Assignment
	for i := range assignments {
		if assignments[i].RoleID == roleID {
			a := assignments[i]
			if a.Active && a.RevokedAt == nil {
				target = &a
				break
			}
			target = &a
		}
	}
	if target == nil {
		return ErrNotFound
	}
	if !target.Active || target.RevokedAt != nil {
		return fmt.Errorf("%w: assignment already revoked", ErrConflict)
	}
	now := r.now().UTC()
	if err := r.store.RevokeAssignment(ctx, target.ID, now); err != nil {
		return fmt.Errorf("revoke assignment: %w", err)
	}
	r.audit(ctx, actorID, "rbac.role_revoked", map[string]any{
		"assignment_id": target.ID,
		"before":        map[string]any{"user_id": userID, "role_id": roleID, "active": true},
		"after":         map[string]any{"active": false, "revoked_at": now},
	})
	return nil
}

func (r *Resolver) effectiveAssignments(ctx context.Context, userID string) ([]Assignment, error) {
	assignments, err := r.store.AssignmentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	now := r.now().UTC()
	out := assignments[:0:0]
	for _, a := range assignments {
		if a.Effective(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

// resolvedPermissions merges the role's own grants with everything inherited
// from ancestor roles, keyed by permission full name. An inactive role ends
// the walk and contributes nothing.
func (r *Resolver) resolvedPermissions(ctx context.Context, roleID string) (map[string]Permission, error) {
	out := make(map[string]Permission)
	cur := roleID
	for depth := 0; ; depth++ {
		if depth >= maxHierarchyDepth {
			obs.Warn("role hierarchy walk hit depth bound", map[string]any{"role_id": roleID})
			return out, nil
		}
		role, err := r.store.RoleByID(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("load role: %w", err)
		}
		if !role.Active {
			return out, nil
		}
		perms, err := r.store.PermissionsByRole(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("list role permissions: %w", err)
		}
		for _, p := range perms {
			if _, ok := out[p.FullName]; !ok {
				out[p.FullName] = p
			}
		}
		if role.ParentRoleID == nil {
			return out, nil
		}
		cur = *role.ParentRoleID
	}
}

func (r *Resolver) audit(ctx context.Context, actor, action string, changes map[string]any) {
	if r.trail == nil {
		return
	}
	r.trail.Log(ctx, actor, action, changes, nil)
}
