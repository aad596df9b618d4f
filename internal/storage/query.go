package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"moneta/internal/core"
)

// ErrBadQuery marks client-supplied query parameters that name unknown
// columns or carry unparsable values. Handlers map it to a 400.
var ErrBadQuery = errors.New("bad query")

type SortSpec struct {
	Column    string
	Ascending bool
}

// QueryParams is a parsed table query: paging, free-text needle, per-column
// filters and a sort chain. Column names are checked against closed tables,
// never interpolated from the request.
type QueryParams struct {
	Page        int64
	RowsPerPage int64
	Needle      string
	SortBy      []SortSpec
	FilterBy    map[string][]string
	From        *time.Time
	To          *time.Time
}

// Unfiltered reports whether the params restrict the result set beyond
// paging, i.e. whether the filtered count doubles as the total count.
func (p QueryParams) Unfiltered() bool {
	return len(p.FilterBy) == 0 && p.From == nil && p.To == nil
}

// expenseSortColumns maps client sort names to expense columns. Both
// camelCase and snake_case spellings are accepted.
var expenseSortColumns = map[string]string{
	"info.title":           "e.title",
	"info.id":              "e.id",
	"info.store":           "e.store",
	"info.description":     "e.description",
	"info.comments":        "e.comments",
	"info.bookingStart":    "e.booking_start",
	"info.booking_start":   "e.booking_start",
	"info.bookingEnd":      "e.booking_end",
	"info.booking_end":     "e.booking_end",
	"info.isTemplate":      "e.is_template",
	"info.is_template":     "e.is_template",
	"info.isPreliminary":   "e.is_preliminary",
	"info.is_preliminary":  "e.is_preliminary",
	"info.isTaxRelevant":   "e.is_tax_relevant",
	"info.is_tax_relevant": "e.is_tax_relevant",
	"info.isUnchecked":     "e.is_unchecked",
	"info.is_unchecked":    "e.is_unchecked",
}

var balanceSortColumns = map[string]string{
	"amount":  "b.amount",
	"id":      "b.id",
	"comment": "b.comment",
	"date":    "b.date",
}

// filterClause builds one WHERE fragment for a filter column.
type filterClause func(values []string) (string, []any, error)

func parseInt64s(column string, values []string) ([]any, error) {
	args := make([]any, len(values))
	for i, v := range values {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q wants integers, got %q", ErrBadQuery, column, v)
		}
		args[i] = n
	}
	return args, nil
}

func parseBools(column string, values []string) ([]any, error) {
	args := make([]any, len(values))
	for i, v := range values {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q wants booleans, got %q", ErrBadQuery, column, v)
		}
		args[i] = b
	}
	return args, nil
}

func inFilter(sqlColumn string, args []any) (string, []any) {
	return sqlColumn + " IN (" + inClause(len(args)) + ")", args
}

func stringFilter(sqlColumn string) filterClause {
	return func(values []string) (string, []any, error) {
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		clause, args := inFilter(sqlColumn, args)
		return clause, args, nil
	}
}

func intFilter(column, sqlColumn string) filterClause {
	return func(values []string) (string, []any, error) {
		args, err := parseInt64s(column, values)
		if err != nil {
			return "", nil, err
		}
		clause, args := inFilter(sqlColumn, args)
		return clause, args, nil
	}
}

func boolFilter(column, sqlColumn string) filterClause {
	return func(values []string) (string, []any, error) {
		args, err := parseBools(column, values)
		if err != nil {
			return "", nil, err
		}
		clause, args := inFilter(sqlColumn, args)
		return clause, args, nil
	}
}

// accountIDFilter matches an account id on either the transaction itself or
// either side of the attached synchronization, so filtering by the viewer's
// account also finds the partner's mirrored rows.
func accountIDFilter(column, sqlColumn string) filterClause {
	return func(values []string) (string, []any, error) {
		ids, err := parseInt64s(column, values)
		if err != nil {
			return "", nil, err
		}
		in := inClause(len(ids))
		clause := "(" + sqlColumn + " IN (" + in + ") OR s.account1 IN (" + in + ") OR s.account2 IN (" + in + "))"
		args := make([]any, 0, 3*len(ids))
		args = append(args, ids...)
		args = append(args, ids...)
		args = append(args, ids...)
		return clause, args, nil
	}
}

// categoryFilter matches a category directly or through the viewer's
// replacements: filtering by an original category also finds expenses tagged
// with its replacement.
func categoryFilter(values []string) (string, []any, error) {
	ids, err := parseInt64s("categories", values)
	if err != nil {
		return "", nil, err
	}
	in := inClause(len(ids))
	clause := "(ec.category_id IN (" + in + ") OR cr.original IN (" + in + "))"
	args := make([]any, 0, 2*len(ids))
	args = append(args, ids...)
	args = append(args, ids...)
	return clause, args, nil
}

func expenseFilterColumns() map[string]filterClause {
	cols := map[string]filterClause{
		"transactions":     accountIDFilter("transactions", "t.account_id"),
		"categories":       categoryFilter,
		"info.title":       stringFilter("e.title"),
		"info.id":          intFilter("info.id", "e.id"),
		"info.store":       stringFilter("e.store"),
		"info.description": stringFilter("e.description"),
		"info.comments":    stringFilter("e.comments"),
	}
	for _, flag := range [][2]string{
		{"info.isTemplate", "e.is_template"},
		{"info.is_template", "e.is_template"},
		{"info.isPreliminary", "e.is_preliminary"},
		{"info.is_preliminary", "e.is_preliminary"},
		{"info.isTaxRelevant", "e.is_tax_relevant"},
		{"info.is_tax_relevant", "e.is_tax_relevant"},
		{"info.isUnchecked", "e.is_unchecked"},
		{"info.is_unchecked", "e.is_unchecked"},
	} {
		cols[flag[0]] = boolFilter(flag[0], flag[1])
	}
	return cols
}

func balanceFilterColumns() map[string]filterClause {
	return map[string]filterClause{
		"accountId":  accountIDFilter("accountId", "b.account_id"),
		"account_id": accountIDFilter("account_id", "b.account_id"),
		"id":         intFilter("id", "b.id"),
		"amount":     intFilter("amount", "b.amount"),
		"comment":    stringFilter("b.comment"),
	}
}

// buildOrder renders the sort chain against a closed column table.
func buildOrder(p QueryParams, columns map[string]string) ([]string, error) {
	var parts []string
	for _, sb := range p.SortBy {
		col, ok := columns[sb.Column]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sort column %q", ErrBadQuery, sb.Column)
		}
		dir := "DESC"
		if sb.Ascending {
			dir = "ASC"
		}
		parts = append(parts, col+" "+dir)
	}
	return parts, nil
}

// buildFilters renders the filter map against a closed column table. Map
// iteration order does not matter: clauses are ANDed.
func buildFilters(p QueryParams, columns map[string]filterClause) ([]string, []any, error) {
	var clauses []string
	var args []any
	for column, values := range p.FilterBy {
		build, ok := columns[column]
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown filter column %q", ErrBadQuery, column)
		}
		clause, clauseArgs, err := build(values)
		if err != nil {
			return nil, nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	return clauses, args, nil
}

func needleClause(r *Repository, needle string, sqlColumns []string) (string, []any) {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return "", nil
	}
	pattern := "%" + needle + "%"
	parts := make([]string, len(sqlColumns))
	args := make([]any, len(sqlColumns))
	for i, col := range sqlColumns {
		parts[i] = col + " " + r.likeOp() + " ?"
		args[i] = pattern
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// QueryExpenses runs a table query over the viewer's expenses and reports
// the page plus the filtered row count. Deleted expenses never match.
func (r *Repository) QueryExpenses(ctx context.Context, uid int64, p QueryParams) ([]core.Expense, int64, error) {
	// The replacement join follows the tag's replacement so that filtering by
	// a replaced category still finds the newly tagged expenses.
	from := `
		FROM expenses e
		LEFT JOIN expense_transactions t ON t.expense_id = e.id
		LEFT JOIN accounts a ON a.id = t.account_id` +
		expensePerspectiveJoin + `
		LEFT JOIN expense_categories ec ON ec.expense_id = e.id
		LEFT JOIN category_replacements cr ON cr.replacement = ec.category_id AND cr.user_id = ?`

	where := []string{expenseRelevance, "e.is_deleted = ?"}
	args := []any{uid, uid, uid, uid, uid, uid, false}

	if p.From != nil {
		where = append(where, "e.booking_end >= ?")
		args = append(args, *p.From)
	}
	if p.To != nil {
		where = append(where, "e.booking_start <= ?")
		args = append(args, *p.To)
	}

	filters, filterArgs, err := buildFilters(p, expenseFilterColumns())
	if err != nil {
		return nil, 0, err
	}
	where = append(where, filters...)
	args = append(args, filterArgs...)

	if clause, needleArgs := needleClause(r, p.Needle, []string{"e.store", "e.description", "e.title", "e.comments"}); clause != "" {
		where = append(where, clause)
		args = append(args, needleArgs...)
	}

	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var filtered int64
	if err := r.queryRow(ctx, "SELECT COUNT(DISTINCT e.id)"+from+whereSQL, args...).Scan(&filtered); err != nil {
		return nil, 0, fmt.Errorf("count expenses: %w", err)
	}

	userOrder, err := buildOrder(p, expenseSortColumns)
	if err != nil {
		return nil, 0, err
	}
	// Templates sink, unchecked rows bubble, ids break remaining ties.
	order := append([]string{"e.is_template ASC", "e.is_unchecked DESC"}, userOrder...)
	order = append(order, "e.id ASC")

	args = append(args, p.RowsPerPage, p.Page*p.RowsPerPage)
	rows, err := r.query(ctx,
		"SELECT DISTINCT "+expenseColumns+from+whereSQL+
			" ORDER BY "+strings.Join(order, ", ")+
			" LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	expenses, err := collectExpenses(rows)
	if err != nil {
		return nil, 0, err
	}
	return expenses, filtered, nil
}

// QueryBalances runs a table query over the viewer's balances.
func (r *Repository) QueryBalances(ctx context.Context, uid int64, p QueryParams) ([]BalanceView, int64, error) {
	from := `
		FROM balances b
		JOIN accounts a ON a.id = b.account_id` +
		balancePerspectiveJoin

	where := []string{balanceRelevance}
	args := []any{uid, uid, uid, uid, uid}

	if p.From != nil {
		where = append(where, "b.date >= ?")
		args = append(args, *p.From)
	}
	if p.To != nil {
		where = append(where, "b.date <= ?")
		args = append(args, *p.To)
	}

	filters, filterArgs, err := buildFilters(p, balanceFilterColumns())
	if err != nil {
		return nil, 0, err
	}
	where = append(where, filters...)
	args = append(args, filterArgs...)

	if clause, needleArgs := needleClause(r, p.Needle, []string{"b.comment"}); clause != "" {
		where = append(where, clause)
		args = append(args, needleArgs...)
	}

	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var filtered int64
	if err := r.queryRow(ctx, "SELECT COUNT(DISTINCT b.id)"+from+whereSQL, args...).Scan(&filtered); err != nil {
		return nil, 0, fmt.Errorf("count balances: %w", err)
	}

	userOrder, err := buildOrder(p, balanceSortColumns)
	if err != nil {
		return nil, 0, err
	}
	order := append(userOrder, "b.id ASC")

	args = append(args, p.RowsPerPage, p.Page*p.RowsPerPage)
	rows, err := r.query(ctx,
		"SELECT DISTINCT "+balanceColumns+", "+syncColumns+from+whereSQL+
			" ORDER BY "+strings.Join(order, ", ")+
			" LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	views, err := collectBalances(rows)
	if err != nil {
		return nil, 0, err
	}
	return views, filtered, nil
}

// relevantExpenseIDs is the subquery behind the info endpoints.
const relevantExpenseIDs = `
	SELECT DISTINCT e.id
	FROM expenses e
	JOIN expense_transactions t ON t.expense_id = e.id
	JOIN accounts a ON a.id = t.account_id` +
	expensePerspectiveJoin + `
	WHERE ` + expenseRelevance

// ExpenseCount reports how many expenses the viewer can reach, deleted rows
// included.
func (r *Repository) ExpenseCount(ctx context.Context, uid int64) (int64, error) {
	var n int64
	err := r.queryRow(ctx,
		"SELECT COUNT(*) FROM expenses WHERE id IN ("+relevantExpenseIDs+")",
		uid, uid, uid, uid, uid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expenses: %w", err)
	}
	return n, nil
}

// storeHintWindow bounds how far back store suggestions look.
const storeHintWindow = 24 * 7 * 24 * time.Hour

// StoreHints lists the viewer's most used non-empty store names over the
// recent window, most frequent first.
func (r *Repository) StoreHints(ctx context.Context, uid int64) ([]string, error) {
	cutoff := time.Now().UTC().Add(-storeHintWindow)
	rows, err := r.query(ctx, `
		SELECT e.store
		FROM expenses e
		WHERE e.id IN (`+relevantExpenseIDs+`)
		AND e.store <> '' AND e.booking_end > ?
		GROUP BY e.store
		ORDER BY COUNT(*) DESC
		LIMIT 25`,
		uid, uid, uid, uid, uid, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store hints: %w", err)
	}
	defer rows.Close()

	stores := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan store hint: %w", err)
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

// BalanceCount reports how many balances the viewer can reach.
func (r *Repository) BalanceCount(ctx context.Context, uid int64) (int64, error) {
	var n int64
	err := r.queryRow(ctx, `
		SELECT COUNT(*) FROM balances WHERE id IN (
			SELECT DISTINCT b.id
			FROM balances b
			JOIN accounts a ON a.id = b.account_id`+
		balancePerspectiveJoin+`
			WHERE `+balanceRelevance+`
		)`,
		uid, uid, uid, uid, uid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count balances: %w", err)
	}
	return n, nil
}
