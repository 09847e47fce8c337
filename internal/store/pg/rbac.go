package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"arxcore.io/internal/rbac"
)

var _ rbac.Store = (*Store)(nil)

func (s *Store) InsertRole(ctx context.Context, r rbac.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, parent_role_id, hierarchy_path, active, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, r.ID, r.Name, nullIfEmptyPtr(r.ParentRoleID), r.HierarchyPath, r.Active, r.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.ErrConflict
			case pgErrForeignKeyViolation:
				return rbac.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) RoleByID(ctx context.Context, id string) (rbac.Role, error) {
	var (
		r      rbac.Role
		parent sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, parent_role_id, hierarchy_path, active, created_at
		from roles where id=$1
	`, id).Scan(&r.ID, &r.Name, &parent, &r.HierarchyPath, &r.Active, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	if parent.Valid {
		r.ParentRoleID = &parent.String
	}
	return r, nil
}

func (s *Store) UpdateRoleParent(ctx context.Context, roleID string, parentID *string, hierarchyPath string) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set parent_role_id=$2, hierarchy_path=$3 where id=$1
	`, roleID, nullIfEmptyPtr(parentID), hierarchyPath)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return rbac.ErrNotFound
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) InsertPermission(ctx context.Context, p rbac.Permission) error {
	conditions, err := marshalConditions(p.Conditions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into permissions (id, resource, action, full_name, conditions, data_classification, requires_approval, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, p.ID, p.Resource, p.Action, p.FullName, conditions, string(p.DataClassification), p.RequiresApproval, p.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) PermissionByID(ctx context.Context, id string) (rbac.Permission, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, resource, action, full_name, conditions, data_classification, requires_approval, created_at
		from permissions where id=$1
	`, id)
	return scanPermission(row.Scan)
}

func (s *Store) InsertRolePermission(ctx context.Context, rp rbac.RolePermission) error {
	conditions, err := marshalConditions(rp.Conditions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id, conditions, granted_at)
		values ($1,$2,$3,$4)
	`, rp.RoleID, rp.PermissionID, conditions, rp.GrantedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.ErrConflict
			case pgErrForeignKeyViolation:
				return rbac.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) DeleteRolePermission(ctx context.Context, roleID, permissionID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from role_permissions where role_id=$1 and permission_id=$2
	`, roleID, permissionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) PermissionsByRole(ctx context.Context, roleID string) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.resource, p.action, p.full_name, p.conditions, p.data_classification, p.requires_approval, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id=$1
		order by p.full_name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Permission
	for rows.Next() {
		p, err := scanPermission(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertAssignment(ctx context.Context, a rbac.Assignment) error {
	scope := []byte("null")
	if a.ScopeRestrictions != nil {
		raw, err := json.Marshal(a.ScopeRestrictions)
		if err != nil {
			return fmt.Errorf("marshal scope: %w", err)
		}
		scope = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_role_assignments (id, user_id, role_id, scope_restrictions, assigned_at, expires_at, active, revoked_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.ID, a.UserID, a.RoleID, scope, a.AssignedAt, nullTime(a.ExpiresAt), a.Active, nullTime(a.RevokedAt))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.ErrConflict
			case pgErrForeignKeyViolation:
				return rbac.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) AssignmentsByUser(ctx context.Context, userID string) ([]rbac.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, role_id, scope_restrictions, assigned_at, expires_at, active, revoked_at
		from user_role_assignments
		where user_id=$1
		order by assigned_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Assignment
	for rows.Next() {
		var (
			a         rbac.Assignment
			scope     []byte
			expiresAt sql.NullTime
			revokedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &scope, &a.AssignedAt, &expiresAt, &a.Active, &revokedAt); err != nil {
			return nil, err
		}
		a.ExpiresAt = timePtr(expiresAt)
		a.RevokedAt = timePtr(revokedAt)
		if len(scope) > 0 && string(scope) != "null" {
			var sc rbac.Scope
			if err := json.Unmarshal(scope, &sc); err != nil {
				return nil, fmt.Errorf("decode scope: %w", err)
			}
			a.ScopeRestrictions = &sc
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAssignment(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update user_role_assignments set active=false, revoked_at=$2 where id=$1 and active
	`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func scanPermission(scan func(dest ...any) error) (rbac.Permission, error) {
	var (
		p              rbac.Permission
		conditions     []byte
		classification string
	)
	err := scan(&p.ID, &p.Resource, &p.Action, &p.FullName, &conditions, &classification, &p.RequiresApproval, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Permission{}, err
	}
	p.DataClassification = rbac.DataClassification(classification)
	if len(conditions) > 0 && string(conditions) != "null" {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return rbac.Permission{}, fmt.Errorf("decode conditions: %w", err)
		}
	}
	return p, nil
}

func marshalConditions(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}
	return raw, nil
}

func nullIfEmptyPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullIfEmpty(*s)
}
