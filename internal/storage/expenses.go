package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"moneta/internal/core"
)

// expensePerspectiveJoin attaches the synchronization of a transaction's
// account only when the viewer sits on the other side. Takes two uid
// arguments.
const expensePerspectiveJoin = `
	LEFT JOIN account_synchronizations s ON
		(s.account1 = t.account_id AND s.user1 <> ?) OR
		(s.account2 = t.account_id AND s.user2 <> ?)`

// expenseRelevance keeps expenses with at least one transaction on an account
// the viewer owns or reaches through a synchronization. Takes three uid
// arguments.
const expenseRelevance = "(a.user_id = ? OR s.user1 = ? OR s.user2 = ?)"

// RelevantExpenses lists the viewer's expenses sorted ascending by id, the
// order the batch renderer requires.
func (r *Repository) RelevantExpenses(ctx context.Context, uid int64, limit, offset int64) ([]core.Expense, error) {
	if limit <= 0 {
		limit = maxPageRows
	}
	rows, err := r.query(ctx, `
		SELECT DISTINCT `+expenseColumns+`
		FROM expenses e
		JOIN expense_transactions t ON t.expense_id = e.id
		JOIN accounts a ON a.id = t.account_id`+
		expensePerspectiveJoin+`
		WHERE `+expenseRelevance+`
		ORDER BY e.id
		LIMIT ? OFFSET ?`,
		uid, uid, uid, uid, uid, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()
	return collectExpenses(rows)
}

// RelevantExpenseByID loads one expense header, refusing rows outside the
// viewer's reach.
func (r *Repository) RelevantExpenseByID(ctx context.Context, uid, id int64) (core.Expense, error) {
	var e core.Expense
	err := r.queryRow(ctx, `
		SELECT DISTINCT `+expenseColumns+`
		FROM expenses e
		JOIN expense_transactions t ON t.expense_id = e.id
		JOIN accounts a ON a.id = t.account_id`+
		expensePerspectiveJoin+`
		WHERE e.id = ? AND `+expenseRelevance,
		uid, uid, id, uid, uid, uid).
		Scan(scanExpense(&e)...)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("load expense %d: %w", id, err)
	}
	return e, nil
}

func collectExpenses(rows *sql.Rows) ([]core.Expense, error) {
	expenses := []core.Expense{}
	for rows.Next() {
		var e core.Expense
		if err := rows.Scan(scanExpense(&e)...); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// ExpenseChildren holds the four secondary collections of a page of expenses,
// each sorted ascending by owning expense id.
type ExpenseChildren struct {
	Transactions []core.TransactionView
	Categories   []core.CategoryView
	Receipts     []core.ExpenseReceipt
	Events       []core.ExpenseEvent
}

// ChildrenByExpenseIDs fetches all four secondary collections for the given
// expense ids, one query per collection, concurrently.
func (r *Repository) ChildrenByExpenseIDs(ctx context.Context, uid int64, ids []int64) (ExpenseChildren, error) {
	var children ExpenseChildren
	if len(ids) == 0 {
		children = ExpenseChildren{
			Transactions: []core.TransactionView{},
			Categories:   []core.CategoryView{},
			Receipts:     []core.ExpenseReceipt{},
			Events:       []core.ExpenseEvent{},
		}
		return children, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		children.Transactions, err = r.transactionViews(gctx, uid, ids)
		return err
	})
	g.Go(func() error {
		var err error
		children.Categories, err = r.categoryViews(gctx, uid, ids)
		return err
	})
	g.Go(func() error {
		var err error
		children.Receipts, err = r.receiptsByExpenseIDs(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		children.Events, err = r.eventsByExpenseIDs(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return ExpenseChildren{}, err
	}
	return children, nil
}

func (r *Repository) transactionViews(ctx context.Context, uid int64, ids []int64) ([]core.TransactionView, error) {
	args := append([]any{uid, uid}, int64Args(ids)...)
	rows, err := r.query(ctx, `
		SELECT t.id, t.expense_id, t.account_id, t.date, t.amount, t.fraction, t.comments, t.statement,
		       `+accountColumns+`, `+syncColumns+`
		FROM expense_transactions t
		JOIN accounts a ON a.id = t.account_id`+
		expensePerspectiveJoin+`
		WHERE t.expense_id IN (`+inClause(len(ids))+`)
		ORDER BY t.expense_id, t.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	views := []core.TransactionView{}
	for rows.Next() {
		var t core.ExpenseTransaction
		var a core.Account
		var ns nullableSync
		dest := []any{&t.ID, &t.ExpenseID, &t.AccountID, &t.Date, &t.Amount, &t.Fraction, &t.Comments, &t.Statement}
		dest = append(dest, scanAccount(&a)...)
		dest = append(dest, ns.fields()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		views = append(views, core.TransactionView{
			Transaction: t,
			Account:     a,
			Perspective: perspectiveFor(t.AccountID, ns.value()),
		})
	}
	return views, rows.Err()
}

func (r *Repository) categoryViews(ctx context.Context, uid int64, ids []int64) ([]core.CategoryView, error) {
	args := append([]any{uid}, int64Args(ids)...)
	rows, err := r.query(ctx, `
		SELECT ec.expense_id, ec.category_id, ec.weight,
		       cr.user_id, cr.original, cr.replacement
		FROM expense_categories ec
		LEFT JOIN category_replacements cr ON cr.original = ec.category_id AND cr.user_id = ?
		WHERE ec.expense_id IN (`+inClause(len(ids))+`)
		ORDER BY ec.expense_id, ec.category_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list expense categories: %w", err)
	}
	defer rows.Close()

	views := []core.CategoryView{}
	for rows.Next() {
		var ec core.ExpenseCategory
		var ruid, rorig, rrepl sql.NullInt64
		if err := rows.Scan(&ec.ExpenseID, &ec.CategoryID, &ec.Weight, &ruid, &rorig, &rrepl); err != nil {
			return nil, fmt.Errorf("scan expense category: %w", err)
		}
		var repl *core.CategoryReplacement
		if ruid.Valid {
			repl = &core.CategoryReplacement{
				UserID:      ruid.Int64,
				Original:    rorig.Int64,
				Replacement: rrepl.Int64,
			}
		}
		views = append(views, core.CategoryView{Category: ec, Replacement: repl})
	}
	return views, rows.Err()
}

func (r *Repository) receiptsByExpenseIDs(ctx context.Context, ids []int64) ([]core.ExpenseReceipt, error) {
	rows, err := r.query(ctx, `
		SELECT id, expense_id, file_name
		FROM expense_receipts
		WHERE expense_id IN (`+inClause(len(ids))+`)
		ORDER BY expense_id, id`, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	receipts := []core.ExpenseReceipt{}
	for rows.Next() {
		var rc core.ExpenseReceipt
		if err := rows.Scan(&rc.ID, &rc.ExpenseID, &rc.FileName); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

func (r *Repository) eventsByExpenseIDs(ctx context.Context, ids []int64) ([]core.ExpenseEvent, error) {
	rows, err := r.query(ctx, `
		SELECT id, expense_id, date, user_id, tool, is_automatic, type, target, payload
		FROM expense_events
		WHERE expense_id IN (`+inClause(len(ids))+`)
		ORDER BY expense_id, id`, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []core.ExpenseEvent{}
	for rows.Next() {
		var ev core.ExpenseEvent
		if err := rows.Scan(&ev.ID, &ev.ExpenseID, &ev.Date, &ev.UserID, &ev.Tool, &ev.Automatic, &ev.Type, &ev.Target, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
