package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moneta/internal/core"
)

const userColumns = "u.id, u.name, u.full_name, u.hash"

func scanUser(dest *core.User) []any {
	return []any{&dest.ID, &dest.Name, &dest.FullName, &dest.Hash}
}

func (r *Repository) Users(ctx context.Context) ([]core.User, error) {
	rows, err := r.query(ctx, "SELECT "+userColumns+" FROM users u ORDER BY u.id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []core.User{}
	for rows.Next() {
		var u core.User
		if err := rows.Scan(scanUser(&u)...); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *Repository) UserByID(ctx context.Context, id int64) (core.User, error) {
	var u core.User
	err := r.queryRow(ctx, "SELECT "+userColumns+" FROM users u WHERE u.id = ?", id).
		Scan(scanUser(&u)...)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, nil
}

func (r *Repository) UserByName(ctx context.Context, name string) (core.User, error) {
	var u core.User
	err := r.queryRow(ctx, "SELECT "+userColumns+" FROM users u WHERE u.name = ?", name).
		Scan(scanUser(&u)...)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("load user %q: %w", name, err)
	}
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, u core.User) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertReturningID(ctx, tx, r,
		"INSERT INTO users (name, full_name, hash) VALUES (?, ?, ?)",
		u.Name, u.FullName, u.Hash)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, tx.Commit()
}

// UpdateUserHash replaces a user's password hash.
func (r *Repository) UpdateUserHash(ctx context.Context, id int64, hash string) error {
	res, err := r.exec(ctx, "UPDATE users SET hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return fmt.Errorf("update user hash: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
