package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for users' roles and role definitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UserRoleNames returns the role names attached to a user. Unknown users have no roles.
func (r *Repository) UserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	err := r.pool.QueryRow(ctx, `SELECT roles FROM users WHERE id = $1`, userID).Scan(&names)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

// RolesByName loads the roles matching names. Missing names are simply absent from the result.
func (r *Repository) RolesByName(ctx context.Context, names []string) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, description, can, created_at, updated_at FROM roles WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.Name, &role.Description, &role.Can, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if role.Can == nil {
			role.Can = []string{}
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// EnsureRole inserts the role when absent and returns the stored row.
// A concurrent insert of the same name is resolved by the unique constraint.
func (r *Repository) EnsureRole(ctx context.Context, role Role) (Role, error) {
	can := role.Can
	if can == nil {
		can = []string{}
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO roles (name, description, can, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (name) DO NOTHING`, role.Name, role.Description, can)
	if err != nil {
		return Role{}, err
	}
	var stored Role
	err = r.pool.QueryRow(ctx, `SELECT name, description, can, created_at, updated_at FROM roles WHERE name = $1`, role.Name).
		Scan(&stored.Name, &stored.Description, &stored.Can, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	if stored.Can == nil {
		stored.Can = []string{}
	}
	return stored, nil
}
