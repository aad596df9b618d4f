package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moneta/internal/core"
)

// AccountWithSync pairs an account with the synchronization it takes part in,
// if any.
type AccountWithSync struct {
	Account         core.Account
	Synchronization *core.AccountSynchronization
}

// Accounts lists every account together with its synchronization. Accounts
// are visible to all users; perspectives are resolved at render time.
func (r *Repository) Accounts(ctx context.Context) ([]AccountWithSync, error) {
	rows, err := r.query(ctx, `
		SELECT `+accountColumns+`, `+syncColumns+`
		FROM accounts a
		LEFT JOIN account_synchronizations s ON a.id IN (s.account1, s.account2)
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []AccountWithSync{}
	for rows.Next() {
		var a core.Account
		var ns nullableSync
		if err := rows.Scan(append(scanAccount(&a), ns.fields()...)...); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, AccountWithSync{Account: a, Synchronization: ns.value()})
	}
	return accounts, rows.Err()
}

func (r *Repository) AccountByID(ctx context.Context, id int64) (AccountWithSync, error) {
	var a core.Account
	var ns nullableSync
	err := r.queryRow(ctx, `
		SELECT `+accountColumns+`, `+syncColumns+`
		FROM accounts a
		LEFT JOIN account_synchronizations s ON a.id IN (s.account1, s.account2)
		WHERE a.id = ?`, id).
		Scan(append(scanAccount(&a), ns.fields()...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return AccountWithSync{}, ErrNotFound
	}
	if err != nil {
		return AccountWithSync{}, fmt.Errorf("load account %d: %w", id, err)
	}
	return AccountWithSync{Account: a, Synchronization: ns.value()}, nil
}

// CreateSynchronization links two accounts. The account1 < account2 ordering
// is normalized here so callers can pass the pair either way.
func (r *Repository) CreateSynchronization(ctx context.Context, s core.AccountSynchronization) error {
	if s.Account1 > s.Account2 {
		s.Account1, s.Account2 = s.Account2, s.Account1
		s.User1, s.User2 = s.User2, s.User1
	}
	_, err := r.exec(ctx, `
		INSERT INTO account_synchronizations (account1, account2, user1, user2, invert)
		VALUES (?, ?, ?, ?, ?)`,
		s.Account1, s.Account2, s.User1, s.User2, s.Invert)
	if err != nil {
		return fmt.Errorf("create synchronization: %w", err)
	}
	return nil
}

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertReturningID(ctx, tx, r, `
		INSERT INTO accounts (user_id, name, description, color, iban, kind, availability, risk, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.Name, a.Description, a.Color, a.IBAN, a.Kind, a.Availability, a.Risk, a.Hidden)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, tx.Commit()
}
