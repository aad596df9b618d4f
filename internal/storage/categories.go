package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moneta/internal/core"
)

const categoryColumns = "c.id, c.user_id, c.name, c.description, c.color, c.parent"

func scanCategory(dest *core.Category) []any {
	return []any{&dest.ID, &dest.UserID, &dest.Name, &dest.Description, &dest.Color, &dest.Parent}
}

func (r *Repository) Categories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.query(ctx, "SELECT "+categoryColumns+" FROM categories c ORDER BY c.id")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []core.Category{}
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(scanCategory(&c)...); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *Repository) CategoryByID(ctx context.Context, id int64) (core.Category, error) {
	var c core.Category
	err := r.queryRow(ctx, "SELECT "+categoryColumns+" FROM categories c WHERE c.id = ?", id).
		Scan(scanCategory(&c)...)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("load category %d: %w", id, err)
	}
	return c, nil
}

// CategoryReplacements lists every replacement, for building the reverse
// "replaces" view across all users.
func (r *Repository) CategoryReplacements(ctx context.Context) ([]core.CategoryReplacement, error) {
	rows, err := r.query(ctx, `
		SELECT user_id, original, replacement
		FROM category_replacements
		ORDER BY user_id, original`)
	if err != nil {
		return nil, fmt.Errorf("list category replacements: %w", err)
	}
	defer rows.Close()

	replacements := []core.CategoryReplacement{}
	for rows.Next() {
		var cr core.CategoryReplacement
		if err := rows.Scan(&cr.UserID, &cr.Original, &cr.Replacement); err != nil {
			return nil, fmt.Errorf("scan category replacement: %w", err)
		}
		replacements = append(replacements, cr)
	}
	return replacements, rows.Err()
}

// CreateCategoryReplacement redirects one of the user's categories. A second
// write for the same original overwrites the first.
func (r *Repository) CreateCategoryReplacement(ctx context.Context, cr core.CategoryReplacement) error {
	_, err := r.exec(ctx, `
		DELETE FROM category_replacements WHERE user_id = ? AND original = ?`,
		cr.UserID, cr.Original)
	if err == nil {
		_, err = r.exec(ctx, `
			INSERT INTO category_replacements (user_id, original, replacement)
			VALUES (?, ?, ?)`,
			cr.UserID, cr.Original, cr.Replacement)
	}
	if err != nil {
		return fmt.Errorf("create category replacement: %w", err)
	}
	return nil
}

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertReturningID(ctx, tx, r, `
		INSERT INTO categories (user_id, name, description, color, parent)
		VALUES (?, ?, ?, ?, ?)`,
		c.UserID, c.Name, c.Description, c.Color, c.Parent)
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	return id, tx.Commit()
}
