package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"moneta/internal/core"
)

// ExpenseInput is a create or update request for an expense and its child
// rows. Child ids are assigned by storage; on update the previous child rows
// are replaced wholesale.
type ExpenseInput struct {
	Info         core.Expense
	Transactions []core.ExpenseTransaction
	Categories   []core.ExpenseCategory
}

// Validate checks the input against the domain rules before it touches the
// database.
func (in ExpenseInput) Validate() error {
	if err := in.Info.Validate(); err != nil {
		return err
	}
	if len(in.Transactions) == 0 {
		return errors.New("expense needs at least one transaction")
	}
	for _, t := range in.Transactions {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	for _, c := range in.Categories {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EventActor identifies who (or what) performed a mutation, for the audit
// trail.
type EventActor struct {
	UserID    *int64
	Tool      string
	Automatic bool
}

// CreateExpense writes the expense, its child rows and a create event in one
// transaction. Returns the new expense id.
func (r *Repository) CreateExpense(ctx context.Context, actor EventActor, in ExpenseInput) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	e := in.Info
	id, err := insertReturningID(ctx, tx, r, `
		INSERT INTO expenses (title, description, store, comments, booking_start, booking_end,
			is_deleted, is_template, is_preliminary, is_tax_relevant, is_unchecked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Title, e.Description, e.Store, e.Comments,
		touchTime(e.BookingStart), touchTime(e.BookingEnd),
		false, e.Template, e.Preliminary, e.TaxRelevant, e.Unchecked)
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}

	if err := r.insertChildren(ctx, tx, id, in); err != nil {
		return 0, err
	}
	if err := r.insertEvent(ctx, tx, id, actor, core.EventCreate); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// UpdateExpense rewrites the expense row, replaces its child rows and records
// a modify event. The expense must be reachable by the acting user; callers
// check that through RelevantExpenseByID first.
func (r *Repository) UpdateExpense(ctx context.Context, actor EventActor, id int64, in ExpenseInput) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	e := in.Info
	res, err := tx.ExecContext(ctx, r.rebind(`
		UPDATE expenses
		SET title = ?, description = ?, store = ?, comments = ?,
			booking_start = ?, booking_end = ?,
			is_template = ?, is_preliminary = ?, is_tax_relevant = ?, is_unchecked = ?
		WHERE id = ? AND is_deleted = ?`),
		e.Title, e.Description, e.Store, e.Comments,
		touchTime(e.BookingStart), touchTime(e.BookingEnd),
		e.Template, e.Preliminary, e.TaxRelevant, e.Unchecked,
		id, false)
	if err != nil {
		return fmt.Errorf("update expense %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	for _, table := range []string{"expense_transactions", "expense_categories"} {
		if _, err := tx.ExecContext(ctx, r.rebind("DELETE FROM "+table+" WHERE expense_id = ?"), id); err != nil {
			return fmt.Errorf("clear %s for expense %d: %w", table, id, err)
		}
	}
	if err := r.insertChildren(ctx, tx, id, in); err != nil {
		return err
	}
	if err := r.insertEvent(ctx, tx, id, actor, core.EventModify); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteExpense soft-deletes: the row stays for the audit trail but stops
// matching queries.
func (r *Repository) DeleteExpense(ctx context.Context, actor EventActor, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		r.rebind("UPDATE expenses SET is_deleted = ? WHERE id = ? AND is_deleted = ?"),
		true, id, false)
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if err := r.insertEvent(ctx, tx, id, actor, core.EventDelete); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) insertChildren(ctx context.Context, tx *sql.Tx, expenseID int64, in ExpenseInput) error {
	for _, t := range in.Transactions {
		_, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO expense_transactions (expense_id, account_id, date, amount, fraction, comments, statement)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			expenseID, t.AccountID, touchTime(t.Date), t.Amount, t.Fraction, t.Comments, t.Statement)
		if err != nil {
			return fmt.Errorf("insert transaction for expense %d: %w", expenseID, err)
		}
	}
	for _, c := range in.Categories {
		_, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO expense_categories (expense_id, category_id, weight)
			VALUES (?, ?, ?)`),
			expenseID, c.CategoryID, c.Weight)
		if err != nil {
			return fmt.Errorf("insert category for expense %d: %w", expenseID, err)
		}
	}
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx *sql.Tx, expenseID int64, actor EventActor, typ core.ExpenseEventType) error {
	_, err := tx.ExecContext(ctx, r.rebind(`
		INSERT INTO expense_events (expense_id, date, user_id, tool, is_automatic, type, target, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		expenseID, time.Now().UTC(), actor.UserID, actor.Tool, actor.Automatic,
		typ, core.TargetExpense, nil)
	if err != nil {
		return fmt.Errorf("insert %s event for expense %d: %w", typ, expenseID, err)
	}
	return nil
}
