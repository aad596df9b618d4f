// Package storage persists users, accounts, balances and expenses behind a
// single Repository. It speaks both sqlite and postgres: queries are written
// once with ? placeholders and rebound for postgres at call time.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"moneta/internal/core"
	"moneta/internal/log"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a row does not exist or is not visible to the
// requesting user.
var ErrNotFound = errors.New("not found")

// maxPageRows stands in for "no limit" on unpaged listings.
const maxPageRows = int64(1) << 31

type Repository struct {
	db     *sql.DB
	driver string
	logger *log.Logger
}

// Open connects to the database, applies pending migrations and returns a
// ready Repository.
func Open(driver, dsn string, logger *log.Logger) (*Repository, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := RunMigrations(driver, dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if driver == DriverSQLite {
		// modernc sqlite serializes writes on a single connection.
		db.SetMaxOpenConns(1)
	}

	r := &Repository{
		db:     db,
		driver: driver,
		logger: logger.WithComponent(log.ComponentStorage),
	}
	r.logger.Info("database ready", "driver", driver)
	return r, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Driver() string {
	return r.driver
}

// rebind rewrites ? placeholders to $1..$n for postgres. The sqlite dialect
// takes queries as written.
func (r *Repository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// inClause renders n comma separated placeholders for an IN (...) list.
func inClause(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// likeOp is the case insensitive match operator for the active dialect.
// sqlite LIKE already folds ASCII case.
func (r *Repository) likeOp() string {
	if r.driver == DriverPostgres {
		return "ILIKE"
	}
	return "LIKE"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (r *Repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, r.rebind(query), args...)
}

func (r *Repository) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.db.QueryRowContext(ctx, r.rebind(query), args...)
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.rebind(query), args...)
}

// insertReturningID inserts one row and reports its generated id. Both
// dialects support RETURNING.
func insertReturningID(ctx context.Context, tx *sql.Tx, r *Repository, query string, args ...any) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, r.rebind(query+" RETURNING id"), args...).Scan(&id)
	return id, err
}

// nullableSync collects the columns of a LEFT JOINed synchronization row.
type nullableSync struct {
	account1 sql.NullInt64
	account2 sql.NullInt64
	user1    sql.NullInt64
	user2    sql.NullInt64
	invert   sql.NullBool
}

func (n *nullableSync) fields() []any {
	return []any{&n.account1, &n.account2, &n.user1, &n.user2, &n.invert}
}

func (n nullableSync) value() *core.AccountSynchronization {
	if !n.account1.Valid {
		return nil
	}
	return &core.AccountSynchronization{
		Account1: n.account1.Int64,
		Account2: n.account2.Int64,
		User1:    n.user1.Int64,
		User2:    n.user2.Int64,
		Invert:   n.invert.Bool,
	}
}

// perspectiveFor builds the viewer's perspective on an account from an
// optional synchronization row.
func perspectiveFor(accountID int64, sync *core.AccountSynchronization) core.AccountPerspective {
	if sync == nil {
		return core.OwnedDirectly(accountID)
	}
	return core.Redirected(accountID, *sync)
}

func scanAccount(dest *core.Account) []any {
	return []any{
		&dest.ID, &dest.UserID, &dest.Name, &dest.Description,
		&dest.Color, &dest.IBAN, &dest.Kind, &dest.Availability,
		&dest.Risk, &dest.Hidden,
	}
}

const accountColumns = "a.id, a.user_id, a.name, a.description, a.color, a.iban, a.kind, a.availability, a.risk, a.hidden"

const syncColumns = "s.account1, s.account2, s.user1, s.user2, s.invert"

func scanExpense(dest *core.Expense) []any {
	return []any{
		&dest.ID, &dest.Title, &dest.Description, &dest.Store, &dest.Comments,
		&dest.BookingStart, &dest.BookingEnd,
		&dest.Deleted, &dest.Template, &dest.Preliminary, &dest.TaxRelevant, &dest.Unchecked,
	}
}

const expenseColumns = "e.id, e.title, e.description, e.store, e.comments, e.booking_start, e.booking_end, e.is_deleted, e.is_template, e.is_preliminary, e.is_tax_relevant, e.is_unchecked"

// touchTime normalizes zero dates so NOT NULL columns always get a value.
func touchTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
