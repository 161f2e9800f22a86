package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/libraryd/apiserver/types"
)

// RoleRepository handles persistence for roles.
type RoleRepository struct {
	db *sql.DB
}

func NewRoleRepository(db *sql.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// EnsureRoles inserts any of names that are missing and reports how many were added.
func (r *RoleRepository) EnsureRoles(ctx context.Context, names []types.RoleName) (int, error) {
	const query = `INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`
	added := 0
	for _, name := range names {
		result, err := r.db.ExecContext(ctx, query, string(name))
		if err != nil {
			return added, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return added, err
		}
		added += int(affected)
	}
	return added, nil
}

func (r *RoleRepository) List(ctx context.Context) ([]types.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []types.Role
	for rows.Next() {
		var role types.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *RoleRepository) GetByName(ctx context.Context, name types.RoleName) (types.Role, error) {
	var role types.Role
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM roles WHERE name = $1`, string(name)).
		Scan(&role.ID, &role.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Role{}, ErrNotFound
		}
		return types.Role{}, err
	}
	return role, nil
}

func (r *RoleRepository) GetByID(ctx context.Context, id int) (types.Role, error) {
	var role types.Role
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Role{}, ErrNotFound
		}
		return types.Role{}, err
	}
	return role, nil
}
