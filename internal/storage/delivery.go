package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"moneta/internal/core"
)

// DeliveryRules lists every rule in evaluation order: ascending priority,
// ids breaking ties.
func (r *Repository) DeliveryRules(ctx context.Context) ([]core.DeliveryRule, error) {
	rows, err := r.query(ctx, `
		SELECT id, user_id, priority, template_id, account_id, amount, statement_regex, last_match
		FROM delivery_rules
		ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list delivery rules: %w", err)
	}
	defer rows.Close()

	rules := []core.DeliveryRule{}
	for rows.Next() {
		var dr core.DeliveryRule
		if err := rows.Scan(&dr.ID, &dr.UserID, &dr.Priority, &dr.TemplateID,
			&dr.AccountID, &dr.Amount, &dr.StatementRegex, &dr.LastMatch); err != nil {
			return nil, fmt.Errorf("scan delivery rule: %w", err)
		}
		rules = append(rules, dr)
	}
	return rules, rows.Err()
}

func (r *Repository) CreateDeliveryRule(ctx context.Context, dr core.DeliveryRule) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertReturningID(ctx, tx, r, `
		INSERT INTO delivery_rules (user_id, priority, template_id, account_id, amount, statement_regex, last_match)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dr.UserID, dr.Priority, dr.TemplateID, dr.AccountID, dr.Amount, dr.StatementRegex, dr.LastMatch)
	if err != nil {
		return 0, fmt.Errorf("create delivery rule: %w", err)
	}
	return id, tx.Commit()
}

// TouchDeliveryRule records when the rule last matched a statement.
func (r *Repository) TouchDeliveryRule(ctx context.Context, id int64, at time.Time) error {
	res, err := r.exec(ctx, "UPDATE delivery_rules SET last_match = ? WHERE id = ?", at, id)
	if err != nil {
		return fmt.Errorf("touch delivery rule %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// TemplateExpense loads a template expense with its raw child rows, no
// viewer rendering applied. Used when instantiating delivery rules.
func (r *Repository) TemplateExpense(ctx context.Context, id int64) (ExpenseInput, error) {
	var e core.Expense
	err := r.queryRow(ctx,
		"SELECT "+expenseColumns+" FROM expenses e WHERE e.id = ? AND e.is_template = ? AND e.is_deleted = ?",
		id, true, false).
		Scan(scanExpense(&e)...)
	if errors.Is(err, sql.ErrNoRows) {
		return ExpenseInput{}, ErrNotFound
	}
	if err != nil {
		return ExpenseInput{}, fmt.Errorf("load template %d: %w", id, err)
	}

	in := ExpenseInput{Info: e}

	rows, err := r.query(ctx, `
		SELECT id, expense_id, account_id, date, amount, fraction, comments, statement
		FROM expense_transactions WHERE expense_id = ? ORDER BY id`, id)
	if err != nil {
		return ExpenseInput{}, fmt.Errorf("load template transactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t core.ExpenseTransaction
		if err := rows.Scan(&t.ID, &t.ExpenseID, &t.AccountID, &t.Date, &t.Amount, &t.Fraction, &t.Comments, &t.Statement); err != nil {
			return ExpenseInput{}, fmt.Errorf("scan template transaction: %w", err)
		}
		in.Transactions = append(in.Transactions, t)
	}
	if err := rows.Err(); err != nil {
		return ExpenseInput{}, err
	}

	crows, err := r.query(ctx, `
		SELECT expense_id, category_id, weight
		FROM expense_categories WHERE expense_id = ? ORDER BY category_id`, id)
	if err != nil {
		return ExpenseInput{}, fmt.Errorf("load template categories: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var c core.ExpenseCategory
		if err := crows.Scan(&c.ExpenseID, &c.CategoryID, &c.Weight); err != nil {
			return ExpenseInput{}, fmt.Errorf("scan template category: %w", err)
		}
		in.Categories = append(in.Categories, c)
	}
	return in, crows.Err()
}
