package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arxcore.io/internal/audit"
)

type fakeStore struct {
	mu          sync.Mutex
	roles       map[string]Role
	permissions map[string]Permission
	grants      map[string][]RolePermission
	assignments map[string]Assignment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:       map[string]Role{},
		permissions: map[string]Permission{},
		grants:      map[string][]RolePermission{},
		assignments: map[string]Assignment{},
	}
}

func (f *fakeStore) InsertRole(_ context.Context, r Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[r.ID] = r
	return nil
}

func (f *fakeStore) RoleByID(_ context.Context, id string) (Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) UpdateRoleParent(_ context.Context, roleID string, parentID *string, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	r.ParentRoleID = parentID
	r.HierarchyPath = path
	f.roles[roleID] = r
	return nil
}

func (f *fakeStore) InsertPermission(_ context.Context, p Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissions[p.ID] = p
	return nil
}

func (f *fakeStore) PermissionByID(_ context.Context, id string) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.permissions[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) InsertRolePermission(_ context.Context, rp RolePermission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[rp.RoleID] = append(f.grants[rp.RoleID], rp)
	return nil
}

func (f *fakeStore) DeleteRolePermission(_ context.Context, roleID, permissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.grants[roleID][:0]
	found := false
	for _, rp := range f.grants[roleID] {
		if rp.PermissionID == permissionID {
			found = true
			continue
		}
		kept = append(kept, rp)
	}
	if !found {
		return ErrNotFound
	}
	f.grants[roleID] = kept
	return nil
}

func (f *fakeStore) PermissionsByRole(_ context.Context, roleID string) ([]Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Permission
	for _, rp := range f.grants[roleID] {
		out = append(out, f.permissions[rp.PermissionID])
	}
	return out, nil
}

func (f *fakeStore) InsertAssignment(_ context.Context, a Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignments[a.ID] = a
	return nil
}

func (f *fakeStore) AssignmentsByUser(_ context.Context, userID string) ([]Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Assignment
	for _, a := range f.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) RevokeAssignment(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return ErrNotFound
	}
	revokedAt := at
	a.Active = false
	a.RevokedAt = &revokedAt
	f.assignments[id] = a
	return nil
}

type recordingAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditStore) Append(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *recordingAuditStore) Query(_ context.Context, _ audit.Filter) ([]audit.Entry, error) {
	return nil, nil
}

func (r *recordingAuditStore) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingAuditStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func newTestResolver(t *testing.T, current *time.Time) (*Resolver, *fakeStore, *recordingAuditStore) {
	t.Helper()
	store := newFakeStore()
	sink := &recordingAuditStore{}
	trail := audit.NewTrail(sink, audit.WithClock(func() time.Time { return *current }))
	res, err := NewResolver(store, trail, WithClock(func() time.Time { return *current }))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return res, store, sink
}

// buildChain creates roles C -> B -> A (C inherits from B, B from A) and
// grants permission reports.read to A only.
func buildChain(t *testing.T, ctx context.Context, res *Resolver) (a, b, c Role, p Permission) {
	t.Helper()
	var err error
	a, err = res.CreateRole(ctx, "admin", RoleSpec{Name: "auditor"})
	if err != nil {
		t.Fatalf("CreateRole a: %v", err)
	}
	b, err = res.CreateRole(ctx, "admin", RoleSpec{Name: "analyst", ParentRoleID: &a.ID})
	if err != nil {
		t.Fatalf("CreateRole b: %v", err)
	}
	c, err = res.CreateRole(ctx, "admin", RoleSpec{Name: "intern", ParentRoleID: &b.ID})
	if err != nil {
		t.Fatalf("CreateRole c: %v", err)
	}
	p, err = res.CreatePermission(ctx, "admin", PermissionSpec{Resource: "reports", Action: "read"})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if err := res.GrantPermission(ctx, "admin", a.ID, p.ID, nil); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	return a, b, c, p
}

func TestInheritanceThroughAncestors(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	res, _, _ := newTestResolver(t, &current)
	a, _, c, p := buildChain(t, ctx, res)

	if _, err := res.AssignRole(ctx, "admin", "u1", c.ID, nil, nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	ok, err := res.HasPermission(ctx, "u1", "reports.read")
	if err != nil || !ok {
		t.Fatalf("HasPermission via two-level inheritance = %v, %v", ok, err)
	}

	// Revoking the grant at the root removes the permission transitively
	// without touching any descendant's own grant records.
	if err := res.RevokePermission(ctx, "admin", a.ID, p.ID); err != nil {
		t.Fatalf("RevokePermission: %v", err)
	}
	ok, err = res.HasPermission(ctx, "u1", "reports.read")
	if err != nil || ok {
		t.Fatalf("HasPermission after root revoke = %v, %v", ok, err)
	}
}

func TestOnlyEffectiveAssignmentsAuthorize(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	res, _, _ := newTestResolver(t, &current)
	_, _, c, _ := buildChain(t, ctx, res)

	expires := current.Add(time.Hour)
	if _, err := res.AssignRole(ctx, "admin", "u1", c.ID, nil, &expires); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if ok, _ := res.HasPermission(ctx, "u1", "reports.read"); !ok {
		t.Fatal("expected permission before expiry")
	}

	current = current.Add(2 * time.Hour)
	if ok, _ := res.HasPermission(ctx, "u1", "reports.read"); ok {
		t.Fatal("expired assignment still authorized")
	}
}

func TestRevokeRole(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	res, _, _ := newTestResolver(t, &current)
	_, _, c, _ := buildChain(t, ctx, res)

	if _, err := res.AssignRole(ctx, "admin", "u1", c.ID, nil, nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := res.RevokeRole(ctx, "admin", "u1", c.ID); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if ok, _ := res.HasPermission(ctx, "u1", "reports.read"); ok {
		t.Fatal("revoked assignment still authorized")
	}
	// Revoking twice is a conflict, revoking a never-assigned role is not found.
	if err := res.RevokeRole(ctx, "admin", "u1", c.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on double revoke, got %v", err)
	}
	if err := res.RevokeRole(ctx, "admin", "u2", c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unassigned user, got %v", err)
	}
}

func TestScopeRestrictions(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	res, _, _ := newTestResolver(t, &current)
	_, _, c, _ := buildChain(t, ctx, res)

	scope := &Scope{ResourceTypes: []string{"reports"}, ResourceIDs: []string{"r-42"}}
	if _, err := res.AssignRole(ctx, "admin", "u1", c.ID, scope, nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	cases := []struct {
		resource, id string
		want         bool
	}{
		{"reports", "r-42", true},
		{"reports", "r-99", false},
		{"accounts", "r-42", false},
		{"reports", "", false},
	}
	for _, tc := range cases {
		got, err := res.CanAccessResource(ctx, "u1", tc.resource, tc.id)
		if err != nil {
			t.Fatalf("CanAccessResource(%q, %q): %v", tc.resource, tc.id, err)
		}
		if got != tc.want {
			t.Errorf("CanAccessResource(%q, %q) = %v, want %v", tc.resource, tc.id, got, tc.want)
		}
	}

	// An unrestricted assignment imposes nothing.
	if _, err := res.AssignRole(ctx, "admin", "u2", c.ID, nil, nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if ok, _ := res.CanAccessResource(ctx, "u2", "reports", "r-99"); !ok {
		t.Fatal("unrestricted assignment should admit any instance")
	}
}

func TestCycleRejectedOnReparent(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	res, store, _ := newTestResolver(t, &current)
	a, _, c, _ := buildChain(t, ctx, res)

	// a <- b <- c already; re-homing a under c closes the loop.
	if _, err := res.SetRoleParent(ctx, "admin", a.ID, &c.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for cycle, got %v", err)
	}
	got, _ := store.RoleByID(ctx, a.ID)
	if got.ParentRoleID != nil {
		t.Fatal("role parent mutated despite cycle rejection")
	}
}

func TestAdminMutationsAuditOnce(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	res, _, sink := newTestResolver(t, &current)

	role, err := res.CreateRole(ctx, "admin", RoleSpec{Name: "operator"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("entries after create role = %d, want 1", sink.count())
	}
	p, err := res.CreatePermission(ctx, "admin", PermissionSpec{Resource: "keys", Action: "rotate"})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if err := res.GrantPermission(ctx, "admin", role.ID, p.ID, nil); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	if _, err := res.AssignRole(ctx, "admin", "u1", role.ID, nil, nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := res.RevokeRole(ctx, "admin", "u1", role.ID); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if sink.count() != 5 {
		t.Fatalf("entries after five mutations = %d, want 5", sink.count())
	}
	for _, e := range sink.entries {
		if e.ActorID != "admin" {
			t.Errorf("entry %s actor = %q", e.Action, e.ActorID)
		}
	}
}

func TestHierarchyPath(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	res, _, _ := newTestResolver(t, &current)
	a, b, c, _ := buildChain(t, ctx, res)

	if c.HierarchyPath != "/"+a.ID+"/"+b.ID+"/"+c.ID {
		t.Fatalf("hierarchy path = %q", c.HierarchyPath)
	}
}
