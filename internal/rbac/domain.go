package rbac

import (
	"sort"
	"strings"
	"time"
)

// WildcardSymbol grants every permission.
const WildcardSymbol = "*"

// DefaultAdminRole is provisioned with the wildcard when first referenced.
const DefaultAdminRole = "admin"

// Role represents a named permission grouping.
type Role struct {
	Name        string
	Description string
	Can         []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type permissionKind uint8

const (
	kindNamed permissionKind = iota
	kindWildcard
)

// Permission is either the wildcard or a single named capability.
type Permission struct {
	kind permissionKind
	name string
}

// Wildcard returns the permission that grants everything.
func Wildcard() Permission {
	return Permission{kind: kindWildcard}
}

// Named returns a named permission.
func Named(name string) Permission {
	return Permission{kind: kindNamed, name: name}
}

// ParsePermission maps the stored string form onto a Permission.
func ParsePermission(raw string) Permission {
	raw = strings.TrimSpace(raw)
	if raw == WildcardSymbol {
		return Wildcard()
	}
	return Named(raw)
}

// IsWildcard reports whether p is the wildcard.
func (p Permission) IsWildcard() bool { return p.kind == kindWildcard }

// String returns the stored form.
func (p Permission) String() string {
	if p.IsWildcard() {
		return WildcardSymbol
	}
	return p.name
}

// PermissionSet is the effective permission set of a principal.
// The zero value is an empty set.
type PermissionSet struct {
	wildcard bool
	named    map[string]struct{}
}

// NewPermissionSet builds a set from stored permission strings.
func NewPermissionSet(raw ...string) PermissionSet {
	var set PermissionSet
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		set.Add(ParsePermission(r))
	}
	return set
}

// Add inserts p into the set.
func (s *PermissionSet) Add(p Permission) {
	if p.IsWildcard() {
		s.wildcard = true
		return
	}
	if s.named == nil {
		s.named = make(map[string]struct{})
	}
	s.named[p.name] = struct{}{}
}

// Union merges other into s.
func (s *PermissionSet) Union(other PermissionSet) {
	if other.wildcard {
		s.wildcard = true
	}
	for name := range other.named {
		s.Add(Named(name))
	}
}

// Has reports whether the set grants perm, either exactly or through the wildcard.
func (s PermissionSet) Has(perm string) bool {
	if s.wildcard {
		return true
	}
	_, ok := s.named[perm]
	return ok
}

// HasAny reports whether at least one of perms is granted.
func (s PermissionSet) HasAny(perms ...string) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether nothing is granted.
func (s PermissionSet) IsEmpty() bool {
	return !s.wildcard && len(s.named) == 0
}

// Strings returns the sorted stored form of the set.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(s.named)+1)
	if s.wildcard {
		out = append(out, WildcardSymbol)
	}
	for name := range s.named {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
