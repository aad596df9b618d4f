package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moneta/internal/core"
)

// BalanceView is a stored balance together with the viewer's perspective on
// its account.
type BalanceView struct {
	Balance     core.Balance
	Perspective core.AccountPerspective
}

const balanceColumns = "b.id, b.account_id, b.date, b.amount, b.comment"

func scanBalance(dest *core.Balance) []any {
	return []any{&dest.ID, &dest.AccountID, &dest.Date, &dest.Amount, &dest.Comment}
}

// balancePerspectiveJoin attaches the synchronization only when the balance
// sits on an account the viewer reaches through the other side. Takes two uid
// arguments.
const balancePerspectiveJoin = `
	LEFT JOIN account_synchronizations s ON
		(s.account1 = b.account_id AND s.user1 <> ?) OR
		(s.account2 = b.account_id AND s.user2 <> ?)`

// balanceRelevance keeps balances on accounts the viewer owns or reaches
// through a synchronization. Takes three uid arguments.
const balanceRelevance = "(a.user_id = ? OR s.user1 = ? OR s.user2 = ?)"

// RelevantBalances lists the viewer's balances, own and synchronized, sorted
// by id.
func (r *Repository) RelevantBalances(ctx context.Context, uid int64, limit, offset int64) ([]BalanceView, error) {
	if limit <= 0 {
		limit = maxPageRows
	}
	rows, err := r.query(ctx, `
		SELECT `+balanceColumns+`, `+syncColumns+`
		FROM balances b
		JOIN accounts a ON a.id = b.account_id`+
		balancePerspectiveJoin+`
		WHERE `+balanceRelevance+`
		ORDER BY b.id
		LIMIT ? OFFSET ?`,
		uid, uid, uid, uid, uid, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()
	return collectBalances(rows)
}

// RelevantBalanceByID loads one balance, refusing rows outside the viewer's
// reach.
func (r *Repository) RelevantBalanceByID(ctx context.Context, uid, id int64) (BalanceView, error) {
	var b core.Balance
	var ns nullableSync
	err := r.queryRow(ctx, `
		SELECT `+balanceColumns+`, `+syncColumns+`
		FROM balances b
		JOIN accounts a ON a.id = b.account_id`+
		balancePerspectiveJoin+`
		WHERE b.id = ? AND `+balanceRelevance,
		uid, uid, id, uid, uid, uid).
		Scan(append(scanBalance(&b), ns.fields()...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return BalanceView{}, ErrNotFound
	}
	if err != nil {
		return BalanceView{}, fmt.Errorf("load balance %d: %w", id, err)
	}
	return BalanceView{Balance: b, Perspective: perspectiveFor(b.AccountID, ns.value())}, nil
}

func collectBalances(rows *sql.Rows) ([]BalanceView, error) {
	views := []BalanceView{}
	for rows.Next() {
		var b core.Balance
		var ns nullableSync
		if err := rows.Scan(append(scanBalance(&b), ns.fields()...)...); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		views = append(views, BalanceView{Balance: b, Perspective: perspectiveFor(b.AccountID, ns.value())})
	}
	return views, rows.Err()
}

func (r *Repository) CreateBalance(ctx context.Context, b core.Balance) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertReturningID(ctx, tx, r, `
		INSERT INTO balances (account_id, date, amount, comment)
		VALUES (?, ?, ?, ?)`,
		b.AccountID, touchTime(b.Date), b.Amount, b.Comment)
	if err != nil {
		return 0, fmt.Errorf("create balance: %w", err)
	}
	return id, tx.Commit()
}
