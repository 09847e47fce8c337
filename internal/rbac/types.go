package rbac

import "time"

// DataClassification labels the sensitivity of the data a permission exposes.
type DataClassification string

const (
	ClassificationPublic       DataClassification = "public"
	ClassificationInternal     DataClassification = "internal"
	ClassificationConfidential DataClassification = "confidential"
	ClassificationRestricted   DataClassification = "restricted"
)

// Role is a node in the role hierarchy. HierarchyPath is the slash-joined
// chain of role ids from the root down to this role; it is recomputed on
// every parent change so the ancestor chain can be read without walking.
type Role struct {
	ID            string
	Name          string
	ParentRoleID  *string
	HierarchyPath string
	Active        bool
	CreatedAt     time.Time
}

// Permission names a single allowed operation. FullName is the canonical
// "resource.action" identifier used in authorization checks.
type Permission struct {
	ID                 string
	Resource           string
	Action             string
	FullName           string
	Conditions         map[string]any
	DataClassification DataClassification
	RequiresApproval   bool
	CreatedAt          time.Time
}

// RolePermission links a permission to a role.
type RolePermission struct {
	RoleID       string
	PermissionID string
	Conditions   map[string]any
	GrantedAt    time.Time
}

// Scope is an allow-list restriction attached to a role assignment. An empty
// list imposes nothing; a non-empty list must admit the target.
type Scope struct {
	ResourceTypes []string `json:"resource_types,omitempty"`
	ResourceIDs   []string `json:"resource_ids,omitempty"`
}

// Admits reports whether the scope allows access to the given resource type
// and instance id. Every non-empty list must contain the target.
func (s Scope) Admits(resource, resourceID string) bool {
	if len(s.ResourceTypes) > 0 && !contains(s.ResourceTypes, resource) {
		return false
	}
	if len(s.ResourceIDs) > 0 {
		if resourceID == "" || !contains(s.ResourceIDs, resourceID) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Assignment binds a user to a role, optionally scoped and time-limited.
// Only active, non-revoked, non-expired assignments contribute to
// authorization decisions.
type Assignment struct {
	ID                string
	UserID            string
	RoleID            string
	ScopeRestrictions *Scope
	AssignedAt        time.Time
	ExpiresAt         *time.Time
	Active            bool
	RevokedAt         *time.Time
}

// Effective reports whether the assignment authorizes anything at the given
// instant.
func (a Assignment) Effective(now time.Time) bool {
	if !a.Active || a.RevokedAt != nil {
		return false
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	return true
}
