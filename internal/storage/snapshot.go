package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"moneta/internal/core"
)

// Snapshot is a full, id-preserving copy of the database, used by the native
// export and import formats.
type Snapshot struct {
	Users                   []core.User                   `json:"users"`
	Accounts                []core.Account                `json:"accounts"`
	AccountSynchronizations []core.AccountSynchronization `json:"accountSynchronizations"`
	Categories              []core.Category               `json:"categories"`
	CategoryReplacements    []core.CategoryReplacement    `json:"categoryReplacements"`
	Balances                []core.Balance                `json:"balances"`
	Expenses                []core.Expense                `json:"expenses"`
	ExpenseTransactions     []core.ExpenseTransaction     `json:"expenseTransactions"`
	ExpenseCategories       []core.ExpenseCategory        `json:"expenseCategories"`
	ExpenseReceipts         []core.ExpenseReceipt         `json:"expenseReceipts"`
	ExpenseEvents           []core.ExpenseEvent           `json:"expenseEvents"`
	DeliveryRules           []core.DeliveryRule           `json:"deliveryRules"`
}

// importTables lists every snapshot table in foreign key order. Clean wipes
// walk it backwards.
var importTables = []string{
	"users", "accounts", "account_synchronizations",
	"categories", "category_replacements", "balances",
	"expenses", "expense_transactions", "expense_categories",
	"expense_receipts", "expense_events", "delivery_rules",
}

// Export reads the complete database into a snapshot.
func (r *Repository) Export(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{}
	var err error
	if s.Users, err = r.Users(ctx); err != nil {
		return nil, err
	}
	if s.Accounts, s.AccountSynchronizations, err = r.exportAccounts(ctx); err != nil {
		return nil, err
	}
	if s.Categories, err = r.Categories(ctx); err != nil {
		return nil, err
	}
	if s.CategoryReplacements, err = r.CategoryReplacements(ctx); err != nil {
		return nil, err
	}
	if s.Balances, err = r.exportBalances(ctx); err != nil {
		return nil, err
	}
	if err = r.exportExpenses(ctx, s); err != nil {
		return nil, err
	}
	if s.DeliveryRules, err = r.DeliveryRules(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) exportAccounts(ctx context.Context) ([]core.Account, []core.AccountSynchronization, error) {
	rows, err := r.query(ctx, "SELECT "+accountColumns+" FROM accounts a ORDER BY a.id")
	if err != nil {
		return nil, nil, fmt.Errorf("export accounts: %w", err)
	}
	defer rows.Close()

	accounts := []core.Account{}
	for rows.Next() {
		var a core.Account
		if err := rows.Scan(scanAccount(&a)...); err != nil {
			return nil, nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	srows, err := r.query(ctx,
		"SELECT account1, account2, user1, user2, invert FROM account_synchronizations ORDER BY account1")
	if err != nil {
		return nil, nil, fmt.Errorf("export synchronizations: %w", err)
	}
	defer srows.Close()

	syncs := []core.AccountSynchronization{}
	for srows.Next() {
		var s core.AccountSynchronization
		if err := srows.Scan(&s.Account1, &s.Account2, &s.User1, &s.User2, &s.Invert); err != nil {
			return nil, nil, fmt.Errorf("scan synchronization: %w", err)
		}
		syncs = append(syncs, s)
	}
	return accounts, syncs, srows.Err()
}

func (r *Repository) exportBalances(ctx context.Context) ([]core.Balance, error) {
	rows, err := r.query(ctx, "SELECT "+balanceColumns+" FROM balances b ORDER BY b.id")
	if err != nil {
		return nil, fmt.Errorf("export balances: %w", err)
	}
	defer rows.Close()

	balances := []core.Balance{}
	for rows.Next() {
		var b core.Balance
		if err := rows.Scan(scanBalance(&b)...); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *Repository) exportExpenses(ctx context.Context, s *Snapshot) error {
	rows, err := r.query(ctx, "SELECT "+expenseColumns+" FROM expenses e ORDER BY e.id")
	if err != nil {
		return fmt.Errorf("export expenses: %w", err)
	}
	defer rows.Close()
	if s.Expenses, err = collectExpenses(rows); err != nil {
		return err
	}

	trows, err := r.query(ctx, `
		SELECT id, expense_id, account_id, date, amount, fraction, comments, statement
		FROM expense_transactions ORDER BY id`)
	if err != nil {
		return fmt.Errorf("export transactions: %w", err)
	}
	defer trows.Close()
	s.ExpenseTransactions = []core.ExpenseTransaction{}
	for trows.Next() {
		var t core.ExpenseTransaction
		if err := trows.Scan(&t.ID, &t.ExpenseID, &t.AccountID, &t.Date, &t.Amount, &t.Fraction, &t.Comments, &t.Statement); err != nil {
			return fmt.Errorf("scan transaction: %w", err)
		}
		s.ExpenseTransactions = append(s.ExpenseTransactions, t)
	}
	if err := trows.Err(); err != nil {
		return err
	}

	crows, err := r.query(ctx, `
		SELECT expense_id, category_id, weight
		FROM expense_categories ORDER BY expense_id, category_id`)
	if err != nil {
		return fmt.Errorf("export expense categories: %w", err)
	}
	defer crows.Close()
	s.ExpenseCategories = []core.ExpenseCategory{}
	for crows.Next() {
		var c core.ExpenseCategory
		if err := crows.Scan(&c.ExpenseID, &c.CategoryID, &c.Weight); err != nil {
			return fmt.Errorf("scan expense category: %w", err)
		}
		s.ExpenseCategories = append(s.ExpenseCategories, c)
	}
	if err := crows.Err(); err != nil {
		return err
	}

	rrows, err := r.query(ctx, "SELECT id, expense_id, file_name FROM expense_receipts ORDER BY id")
	if err != nil {
		return fmt.Errorf("export receipts: %w", err)
	}
	defer rrows.Close()
	s.ExpenseReceipts = []core.ExpenseReceipt{}
	for rrows.Next() {
		var rc core.ExpenseReceipt
		if err := rrows.Scan(&rc.ID, &rc.ExpenseID, &rc.FileName); err != nil {
			return fmt.Errorf("scan receipt: %w", err)
		}
		s.ExpenseReceipts = append(s.ExpenseReceipts, rc)
	}
	if err := rrows.Err(); err != nil {
		return err
	}

	erows, err := r.query(ctx, `
		SELECT id, expense_id, date, user_id, tool, is_automatic, type, target, payload
		FROM expense_events ORDER BY id`)
	if err != nil {
		return fmt.Errorf("export events: %w", err)
	}
	defer erows.Close()
	s.ExpenseEvents = []core.ExpenseEvent{}
	for erows.Next() {
		var ev core.ExpenseEvent
		if err := erows.Scan(&ev.ID, &ev.ExpenseID, &ev.Date, &ev.UserID, &ev.Tool, &ev.Automatic, &ev.Type, &ev.Target, &ev.Payload); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		s.ExpenseEvents = append(s.ExpenseEvents, ev)
	}
	return erows.Err()
}

// Import writes a snapshot into the database, preserving ids. Rows that
// collide with existing ones are skipped. With clean set, all tables are
// wiped first.
func (r *Repository) Import(ctx context.Context, s *Snapshot, clean bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if clean {
		for i := len(importTables) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+importTables[i]); err != nil {
				return fmt.Errorf("clean %s: %w", importTables[i], err)
			}
		}
	}

	for _, u := range s.Users {
		if err := r.insertIgnore(ctx, tx, "users",
			[]string{"id", "name", "full_name", "hash"},
			u.ID, u.Name, u.FullName, u.Hash); err != nil {
			return err
		}
	}
	for _, a := range s.Accounts {
		if err := r.insertIgnore(ctx, tx, "accounts",
			[]string{"id", "user_id", "name", "description", "color", "iban", "kind", "availability", "risk", "hidden"},
			a.ID, a.UserID, a.Name, a.Description, a.Color, a.IBAN, a.Kind, a.Availability, a.Risk, a.Hidden); err != nil {
			return err
		}
	}
	for _, sy := range s.AccountSynchronizations {
		if err := r.insertIgnore(ctx, tx, "account_synchronizations",
			[]string{"account1", "account2", "user1", "user2", "invert"},
			sy.Account1, sy.Account2, sy.User1, sy.User2, sy.Invert); err != nil {
			return err
		}
	}
	for _, c := range s.Categories {
		if err := r.insertIgnore(ctx, tx, "categories",
			[]string{"id", "user_id", "name", "description", "color", "parent"},
			c.ID, c.UserID, c.Name, c.Description, c.Color, c.Parent); err != nil {
			return err
		}
	}
	for _, cr := range s.CategoryReplacements {
		if err := r.insertIgnore(ctx, tx, "category_replacements",
			[]string{"user_id", "original", "replacement"},
			cr.UserID, cr.Original, cr.Replacement); err != nil {
			return err
		}
	}
	for _, b := range s.Balances {
		if err := r.insertIgnore(ctx, tx, "balances",
			[]string{"id", "account_id", "date", "amount", "comment"},
			b.ID, b.AccountID, b.Date, b.Amount, b.Comment); err != nil {
			return err
		}
	}
	for _, e := range s.Expenses {
		if err := r.insertIgnore(ctx, tx, "expenses",
			[]string{"id", "title", "description", "store", "comments", "booking_start", "booking_end",
				"is_deleted", "is_template", "is_preliminary", "is_tax_relevant", "is_unchecked"},
			e.ID, e.Title, e.Description, e.Store, e.Comments, e.BookingStart, e.BookingEnd,
			e.Deleted, e.Template, e.Preliminary, e.TaxRelevant, e.Unchecked); err != nil {
			return err
		}
	}
	for _, t := range s.ExpenseTransactions {
		if err := r.insertIgnore(ctx, tx, "expense_transactions",
			[]string{"id", "expense_id", "account_id", "date", "amount", "fraction", "comments", "statement"},
			t.ID, t.ExpenseID, t.AccountID, t.Date, t.Amount, t.Fraction, t.Comments, t.Statement); err != nil {
			return err
		}
	}
	for _, c := range s.ExpenseCategories {
		if err := r.insertIgnore(ctx, tx, "expense_categories",
			[]string{"expense_id", "category_id", "weight"},
			c.ExpenseID, c.CategoryID, c.Weight); err != nil {
			return err
		}
	}
	for _, rc := range s.ExpenseReceipts {
		if err := r.insertIgnore(ctx, tx, "expense_receipts",
			[]string{"id", "expense_id", "file_name"},
			rc.ID, rc.ExpenseID, rc.FileName); err != nil {
			return err
		}
	}
	for _, ev := range s.ExpenseEvents {
		if err := r.insertIgnore(ctx, tx, "expense_events",
			[]string{"id", "expense_id", "date", "user_id", "tool", "is_automatic", "type", "target", "payload"},
			ev.ID, ev.ExpenseID, ev.Date, ev.UserID, ev.Tool, ev.Automatic, ev.Type, ev.Target, ev.Payload); err != nil {
			return err
		}
	}
	for _, dr := range s.DeliveryRules {
		if err := r.insertIgnore(ctx, tx, "delivery_rules",
			[]string{"id", "user_id", "priority", "template_id", "account_id", "amount", "statement_regex", "last_match"},
			dr.ID, dr.UserID, dr.Priority, dr.TemplateID, dr.AccountID, dr.Amount, dr.StatementRegex, dr.LastMatch); err != nil {
			return err
		}
	}

	if r.driver == DriverPostgres {
		if err := resyncSequences(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.logger.Info("snapshot imported",
		"users", len(s.Users),
		"accounts", len(s.Accounts),
		"expenses", len(s.Expenses),
		"balances", len(s.Balances),
		"clean", clean)
	return nil
}

// insertIgnore inserts one row with explicit ids, skipping conflicts, in the
// dialect's own spelling.
func (r *Repository) insertIgnore(ctx context.Context, tx *sql.Tx, table string, columns []string, args ...any) error {
	var q string
	values := "(" + inClause(len(columns)) + ")"
	cols := "(" + strings.Join(columns, ", ") + ")"
	if r.driver == DriverPostgres {
		q = "INSERT INTO " + table + " " + cols + " VALUES " + values + " ON CONFLICT DO NOTHING"
	} else {
		q = "INSERT OR IGNORE INTO " + table + " " + cols + " VALUES " + values
	}
	if _, err := tx.ExecContext(ctx, r.rebind(q), args...); err != nil {
		return fmt.Errorf("import into %s: %w", table, err)
	}
	return nil
}

// resyncSequences moves the postgres id sequences past imported explicit
// ids. sqlite's AUTOINCREMENT follows max(id) on its own.
func resyncSequences(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{
		"users", "accounts", "categories", "balances", "expenses",
		"expense_transactions", "expense_receipts", "expense_events", "delivery_rules",
	} {
		q := fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 1))",
			table, table)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("resync %s sequence: %w", table, err)
		}
	}
	return nil
}
