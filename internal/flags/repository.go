package flags

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusgate/doorlock/internal/shared"
)

// Repository persists feature flags in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectFlag = `SELECT name, description, is_enabled, created_at, updated_at FROM feature_flags`

// Get loads one flag. Missing rows yield shared.ErrFlagNotFound.
func (r *Repository) Get(ctx context.Context, name string) (Flag, error) {
	var f Flag
	err := r.pool.QueryRow(ctx, selectFlag+` WHERE name = $1`, normalizeName(name)).
		Scan(&f.Name, &f.Description, &f.IsEnabled, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Flag{}, shared.ErrFlagNotFound
		}
		return Flag{}, err
	}
	return f, nil
}

// Create inserts the flag unless another writer got there first, and returns the stored row.
func (r *Repository) Create(ctx context.Context, flag Flag) (Flag, error) {
	var f Flag
	err := r.pool.QueryRow(ctx, `WITH ins AS (
			INSERT INTO feature_flags (name, description, is_enabled, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())
			ON CONFLICT (name) DO NOTHING
			RETURNING name, description, is_enabled, created_at, updated_at
		)
		SELECT name, description, is_enabled, created_at, updated_at FROM ins
		UNION ALL
		`+selectFlag+` WHERE name = $1
		LIMIT 1`, normalizeName(flag.Name), strings.TrimSpace(flag.Description), flag.IsEnabled).
		Scan(&f.Name, &f.Description, &f.IsEnabled, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return Flag{}, err
	}
	return f, nil
}

// SetEnabled writes the enabled state. Unknown flags yield shared.ErrFlagNotFound.
func (r *Repository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE feature_flags SET is_enabled = $2, updated_at = NOW() WHERE name = $1`, normalizeName(name), enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrFlagNotFound
	}
	return nil
}

// List returns all flags ordered by name.
func (r *Repository) List(ctx context.Context) ([]Flag, error) {
	rows, err := r.pool.Query(ctx, selectFlag+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Flag, error) {
		var f Flag
		err := row.Scan(&f.Name, &f.Description, &f.IsEnabled, &f.CreatedAt, &f.UpdatedAt)
		return f, err
	})
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
