package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/campusgate/doorlock/internal/shared"
)

// RepositoryPort defines data access methods for role resolution.
type RepositoryPort interface {
	UserRoleNames(ctx context.Context, userID int64) ([]string, error)
	RolesByName(ctx context.Context, names []string) ([]Role, error)
	EnsureRole(ctx context.Context, role Role) (Role, error)
}

// Service resolves effective permissions from role assignments.
type Service struct {
	repo      RepositoryPort
	logger    *slog.Logger
	adminRole string
}

// NewService builds a Service. An empty adminRole falls back to DefaultAdminRole.
func NewService(repo RepositoryPort, logger *slog.Logger, adminRole string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	adminRole = strings.TrimSpace(adminRole)
	if adminRole == "" {
		adminRole = DefaultAdminRole
	}
	return &Service{repo: repo, logger: logger, adminRole: adminRole}
}

// EffectivePermissions unions the `can` sets of every role the user holds.
// Roles referenced by the user but missing from the store are provisioned on
// the fly: empty for ordinary names, wildcard for the admin role.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	names, err := s.repo.UserRoleNames(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("rbac: load user roles: %w: %w", shared.ErrStore, err)
	}
	names = uniqueNames(names)
	if len(names) == 0 {
		return PermissionSet{}, nil
	}

	roles, err := s.repo.RolesByName(ctx, names)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("rbac: load roles: %w: %w", shared.ErrStore, err)
	}
	found := make(map[string]Role, len(roles))
	for _, role := range roles {
		found[role.Name] = role
	}

	var set PermissionSet
	for _, name := range names {
		role, ok := found[name]
		if !ok {
			role, err = s.provisionRole(ctx, name)
			if err != nil {
				return PermissionSet{}, err
			}
		}
		set.Union(NewPermissionSet(role.Can...))
	}
	return set, nil
}

// HasPermission reports whether the user holds perm directly or through the wildcard.
// Callers must treat a non-nil error as deny.
func (s *Service) HasPermission(ctx context.Context, userID int64, perm string) (bool, error) {
	set, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(perm), nil
}

func (s *Service) provisionRole(ctx context.Context, name string) (Role, error) {
	can := []string{}
	if name == s.adminRole {
		can = []string{WildcardSymbol}
	}
	s.logger.Warn("role referenced by user is missing, creating it",
		slog.String("role", name),
		slog.Any("can", can),
	)
	role, err := s.repo.EnsureRole(ctx, Role{Name: name, Description: "auto-created", Can: can})
	if err != nil {
		return Role{}, fmt.Errorf("rbac: provision role %q: %w: %w", name, shared.ErrStore, err)
	}
	return role, nil
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
