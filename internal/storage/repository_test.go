package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"moneta/internal/core"
	"moneta/internal/log"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	repo, err := Open(DriverSQLite, path, log.New(log.DefaultConfig()))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func i64p(v int64) *int64     { return &v }
func f64p(v float64) *float64 { return &v }

// fixture wires two households: alice and bob share a synchronized account
// pair (inverted), carol is unrelated.
type fixture struct {
	alice, bob, carol int64
	aliceAcc, bobAcc  int64
	carolAcc          int64
	groceries         int64
}

func seed(t *testing.T, repo *Repository) fixture {
	t.Helper()
	ctx := context.Background()

	var f fixture
	var err error
	if f.alice, err = repo.CreateUser(ctx, core.User{Name: "alice", FullName: "Alice", Hash: "x"}); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if f.bob, err = repo.CreateUser(ctx, core.User{Name: "bob", FullName: "Bob", Hash: "x"}); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if f.carol, err = repo.CreateUser(ctx, core.User{Name: "carol", FullName: "Carol", Hash: "x"}); err != nil {
		t.Fatalf("create carol: %v", err)
	}

	newAccount := func(uid int64, name string) int64 {
		id, err := repo.CreateAccount(ctx, core.Account{
			UserID:       uid,
			Name:         name,
			Kind:         core.AccountDebit,
			Availability: core.AvailabilityImmediately,
			Risk:         core.RiskNone,
		})
		if err != nil {
			t.Fatalf("create account %s: %v", name, err)
		}
		return id
	}
	f.aliceAcc = newAccount(f.alice, "alice checking")
	f.bobAcc = newAccount(f.bob, "bob checking")
	f.carolAcc = newAccount(f.carol, "carol checking")

	err = repo.CreateSynchronization(ctx, core.AccountSynchronization{
		Account1: f.aliceAcc, Account2: f.bobAcc,
		User1: f.alice, User2: f.bob,
		Invert: true,
	})
	if err != nil {
		t.Fatalf("create synchronization: %v", err)
	}

	if f.groceries, err = repo.CreateCategory(ctx, core.Category{UserID: f.alice, Name: "groceries"}); err != nil {
		t.Fatalf("create category: %v", err)
	}

	return f
}

func newExpense(t *testing.T, repo *Repository, actor int64, accountID int64, title, store string, amount int64, categories ...int64) int64 {
	t.Helper()
	now := time.Now().UTC()
	in := ExpenseInput{
		Info: core.Expense{
			Title:        title,
			Store:        store,
			BookingStart: now,
			BookingEnd:   now.Add(time.Hour),
		},
		Transactions: []core.ExpenseTransaction{
			{AccountID: accountID, Date: now, Amount: i64p(amount)},
		},
	}
	for _, c := range categories {
		in.Categories = append(in.Categories, core.ExpenseCategory{CategoryID: c, Weight: 1})
	}
	id, err := repo.CreateExpense(context.Background(), EventActor{UserID: &actor, Tool: "test"}, in)
	if err != nil {
		t.Fatalf("create expense %s: %v", title, err)
	}
	return id
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", "dsn", log.New(log.DefaultConfig())); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestExpenseVisibility(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	e1 := newExpense(t, repo, f.alice, f.aliceAcc, "rent", "", -100000)
	e2 := newExpense(t, repo, f.bob, f.bobAcc, "dinner", "osteria", -4500)
	e3 := newExpense(t, repo, f.carol, f.carolAcc, "book", "library", -1500)

	got, err := repo.RelevantExpenses(ctx, f.alice, 0, 0)
	if err != nil {
		t.Fatalf("alice expenses: %v", err)
	}
	if len(got) != 2 || got[0].ID != e1 || got[1].ID != e2 {
		t.Fatalf("alice should see [%d %d], got %v", e1, e2, got)
	}

	got, err = repo.RelevantExpenses(ctx, f.carol, 0, 0)
	if err != nil {
		t.Fatalf("carol expenses: %v", err)
	}
	if len(got) != 1 || got[0].ID != e3 {
		t.Fatalf("carol should see [%d], got %v", e3, got)
	}

	if _, err := repo.RelevantExpenseByID(ctx, f.carol, e1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("carol reaching alice's expense: want ErrNotFound, got %v", err)
	}
	if _, err := repo.RelevantExpenseByID(ctx, f.alice, e2); err != nil {
		t.Fatalf("alice reaching bob's synced expense: %v", err)
	}
}

func TestExpensePaging(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, newExpense(t, repo, f.alice, f.aliceAcc, "e", "", -100))
	}

	got, err := repo.RelevantExpenses(ctx, f.alice, 2, 1)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(got) != 2 || got[0].ID != ids[1] || got[1].ID != ids[2] {
		t.Fatalf("want ids %v, got %v", ids[1:3], got)
	}
}

func TestChildrenByExpenseIDs(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	e1 := newExpense(t, repo, f.alice, f.aliceAcc, "rent", "", -100000, f.groceries)
	e2 := newExpense(t, repo, f.bob, f.bobAcc, "dinner", "", -4500)

	children, err := repo.ChildrenByExpenseIDs(ctx, f.alice, []int64{e1, e2})
	if err != nil {
		t.Fatalf("children: %v", err)
	}

	if len(children.Transactions) != 2 {
		t.Fatalf("want 2 transactions, got %d", len(children.Transactions))
	}
	for i := 1; i < len(children.Transactions); i++ {
		if children.Transactions[i-1].Transaction.ExpenseID > children.Transactions[i].Transaction.ExpenseID {
			t.Fatal("transactions not sorted by expense id")
		}
	}

	// Alice's own account: no redirection.
	own := children.Transactions[0]
	if own.Perspective.Synced() {
		t.Error("transaction on alice's own account should not be synced")
	}

	// Bob's side of the link redirects to alice's account with flipped sign.
	synced := children.Transactions[1]
	if !synced.Perspective.Synced() {
		t.Fatal("transaction on bob's account should carry alice's perspective")
	}
	accountID, sign := synced.Perspective.Resolve()
	if accountID != f.aliceAcc || sign != -1 {
		t.Errorf("Resolve() = (%d, %d), want (%d, -1)", accountID, sign, f.aliceAcc)
	}

	if len(children.Categories) != 1 || children.Categories[0].Category.ExpenseID != e1 {
		t.Fatalf("unexpected categories %v", children.Categories)
	}
	// One create event per expense.
	if len(children.Events) != 2 {
		t.Fatalf("want 2 events, got %d", len(children.Events))
	}
	if children.Events[0].Type != core.EventCreate {
		t.Errorf("event type = %s, want %s", children.Events[0].Type, core.EventCreate)
	}

	empty, err := repo.ChildrenByExpenseIDs(ctx, f.alice, nil)
	if err != nil {
		t.Fatalf("empty children: %v", err)
	}
	if empty.Transactions == nil || len(empty.Transactions) != 0 {
		t.Error("empty id list should produce empty, non-nil collections")
	}
}

func TestQueryExpenses(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	newExpense(t, repo, f.alice, f.aliceAcc, "rent march", "landlord", -100000)
	e2 := newExpense(t, repo, f.alice, f.aliceAcc, "groceries", "corner shop", -2350, f.groceries)
	newExpense(t, repo, f.carol, f.carolAcc, "book", "library", -1500)

	page := QueryParams{RowsPerPage: 10}

	got, filtered, err := repo.QueryExpenses(ctx, f.alice, page)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || filtered != 2 {
		t.Fatalf("alice query: got %d rows, filtered %d, want 2/2", len(got), filtered)
	}

	needle := page
	needle.Needle = "corner"
	got, filtered, err = repo.QueryExpenses(ctx, f.alice, needle)
	if err != nil {
		t.Fatalf("needle query: %v", err)
	}
	if len(got) != 1 || got[0].ID != e2 || filtered != 1 {
		t.Fatalf("needle should match only %d, got %v", e2, got)
	}

	byCategory := page
	byCategory.FilterBy = map[string][]string{"categories": {strconv.FormatInt(f.groceries, 10)}}
	got, _, err = repo.QueryExpenses(ctx, f.alice, byCategory)
	if err != nil {
		t.Fatalf("category query: %v", err)
	}
	if len(got) != 1 || got[0].ID != e2 {
		t.Fatalf("category filter should match only %d, got %v", e2, got)
	}

	bad := page
	bad.FilterBy = map[string][]string{"info.id": {"one"}}
	if _, _, err := repo.QueryExpenses(ctx, f.alice, bad); !errors.Is(err, ErrBadQuery) {
		t.Fatalf("bad filter: want ErrBadQuery, got %v", err)
	}
}

func TestDeleteExpenseHidesFromQueries(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	id := newExpense(t, repo, f.alice, f.aliceAcc, "oops", "", -100)
	actor := EventActor{UserID: &f.alice, Tool: "test"}

	if err := repo.DeleteExpense(ctx, actor, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// A second delete finds nothing to flip.
	if err := repo.DeleteExpense(ctx, actor, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: want ErrNotFound, got %v", err)
	}

	got, _, err := repo.QueryExpenses(ctx, f.alice, QueryParams{RowsPerPage: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("deleted expense still visible: %v", got)
	}

	// The row itself survives for the audit trail, and so do its events.
	n, err := repo.ExpenseCount(ctx, f.alice)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("total count = %d, want 1", n)
	}
	children, err := repo.ChildrenByExpenseIDs(ctx, f.alice, []int64{id})
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children.Events) != 2 || children.Events[1].Type != core.EventDelete {
		t.Fatalf("expected create+delete events, got %v", children.Events)
	}
}

func TestUpdateExpenseReplacesChildren(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	id := newExpense(t, repo, f.alice, f.aliceAcc, "draft", "", -100)
	now := time.Now().UTC()

	err := repo.UpdateExpense(ctx, EventActor{UserID: &f.alice, Tool: "test"}, id, ExpenseInput{
		Info: core.Expense{Title: "final", BookingStart: now, BookingEnd: now.Add(time.Hour)},
		Transactions: []core.ExpenseTransaction{
			{AccountID: f.aliceAcc, Date: now, Amount: i64p(-600)},
			{AccountID: f.bobAcc, Date: now, Fraction: f64p(-0.5)},
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	e, err := repo.RelevantExpenseByID(ctx, f.alice, id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if e.Title != "final" {
		t.Errorf("title = %q, want final", e.Title)
	}

	children, err := repo.ChildrenByExpenseIDs(ctx, f.alice, []int64{id})
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children.Transactions) != 2 {
		t.Fatalf("want 2 replacement transactions, got %d", len(children.Transactions))
	}
}

func TestBalanceRelevance(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	b1, err := repo.CreateBalance(ctx, core.Balance{AccountID: f.aliceAcc, Amount: 150000, Comment: "payday"})
	if err != nil {
		t.Fatalf("create balance: %v", err)
	}
	if _, err = repo.CreateBalance(ctx, core.Balance{AccountID: f.bobAcc, Amount: -150000}); err != nil {
		t.Fatalf("create balance: %v", err)
	}
	if _, err = repo.CreateBalance(ctx, core.Balance{AccountID: f.carolAcc, Amount: 777}); err != nil {
		t.Fatalf("create balance: %v", err)
	}

	views, err := repo.RelevantBalances(ctx, f.alice, 0, 0)
	if err != nil {
		t.Fatalf("alice balances: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("alice should see 2 balances, got %d", len(views))
	}
	if views[0].Perspective.Synced() {
		t.Error("balance on alice's own account should not be synced")
	}
	if !views[1].Perspective.Synced() {
		t.Error("balance on bob's account should be redirected for alice")
	}

	if _, err := repo.RelevantBalanceByID(ctx, f.carol, b1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("carol reaching alice's balance: want ErrNotFound, got %v", err)
	}

	n, err := repo.BalanceCount(ctx, f.alice)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestQueryBalancesAccountFilterCoversSync(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	if _, err := repo.CreateBalance(ctx, core.Balance{AccountID: f.aliceAcc, Amount: 100}); err != nil {
		t.Fatalf("create balance: %v", err)
	}
	if _, err := repo.CreateBalance(ctx, core.Balance{AccountID: f.bobAcc, Amount: -100}); err != nil {
		t.Fatalf("create balance: %v", err)
	}

	p := QueryParams{
		RowsPerPage: 10,
		FilterBy:    map[string][]string{"accountId": {strconv.FormatInt(f.aliceAcc, 10)}},
	}
	views, filtered, err := repo.QueryBalances(ctx, f.alice, p)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// Filtering by alice's account also finds the mirrored balance on bob's
	// side of the link.
	if len(views) != 2 || filtered != 2 {
		t.Fatalf("want 2 balances through the sync link, got %d", len(views))
	}
}

func TestStoreHints(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		newExpense(t, repo, f.alice, f.aliceAcc, "coffee", "roastery", -300)
	}
	newExpense(t, repo, f.alice, f.aliceAcc, "rent", "", -100000)
	newExpense(t, repo, f.alice, f.aliceAcc, "cheese", "market", -1200)
	newExpense(t, repo, f.carol, f.carolAcc, "book", "library", -1500)

	hints, err := repo.StoreHints(ctx, f.alice)
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	if len(hints) != 2 {
		t.Fatalf("want 2 hints, got %v", hints)
	}
	if hints[0] != "roastery" {
		t.Errorf("most used store should come first, got %v", hints)
	}
}

func TestDeliveryRules(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	now := time.Now().UTC()
	tpl, err := repo.CreateExpense(ctx, EventActor{Tool: "test"}, ExpenseInput{
		Info: core.Expense{
			Title:        "monthly rent",
			Template:     true,
			BookingStart: now,
			BookingEnd:   now,
		},
		Transactions: []core.ExpenseTransaction{{AccountID: f.aliceAcc, Date: now, Amount: i64p(-100000)}},
		Categories:   []core.ExpenseCategory{{CategoryID: f.groceries, Weight: 1}},
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	second, err := repo.CreateDeliveryRule(ctx, core.DeliveryRule{
		UserID: f.alice, Priority: 2, TemplateID: tpl, StatementRegex: "RENT.*",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	first, err := repo.CreateDeliveryRule(ctx, core.DeliveryRule{
		UserID: f.alice, Priority: 1, TemplateID: tpl, StatementRegex: "LANDLORD.*", Amount: i64p(-100000),
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	rules, err := repo.DeliveryRules(ctx)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 2 || rules[0].ID != first || rules[1].ID != second {
		t.Fatalf("rules out of priority order: %v", rules)
	}

	in, err := repo.TemplateExpense(ctx, tpl)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if !in.Info.Template || len(in.Transactions) != 1 || len(in.Categories) != 1 {
		t.Fatalf("template loaded incompletely: %+v", in)
	}

	if err := repo.TouchDeliveryRule(ctx, first, now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	rules, err = repo.DeliveryRules(ctx)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if rules[0].LastMatch == nil {
		t.Error("touch should set last match")
	}

	// A non-template expense is not usable as a template.
	plain := newExpense(t, repo, f.alice, f.aliceAcc, "plain", "", -100)
	if _, err := repo.TemplateExpense(ctx, plain); !errors.Is(err, ErrNotFound) {
		t.Fatalf("plain expense as template: want ErrNotFound, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	f := seed(t, repo)
	ctx := context.Background()

	newExpense(t, repo, f.alice, f.aliceAcc, "rent", "landlord", -100000, f.groceries)
	if _, err := repo.CreateBalance(ctx, core.Balance{AccountID: f.aliceAcc, Amount: 500}); err != nil {
		t.Fatalf("create balance: %v", err)
	}

	snapshot, err := repo.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	target := newTestRepo(t)
	if err := target.Import(ctx, snapshot, false); err != nil {
		t.Fatalf("import: %v", err)
	}

	reexported, err := target.Export(ctx)
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}

	if len(reexported.Users) != len(snapshot.Users) ||
		len(reexported.Accounts) != len(snapshot.Accounts) ||
		len(reexported.AccountSynchronizations) != len(snapshot.AccountSynchronizations) ||
		len(reexported.Expenses) != len(snapshot.Expenses) ||
		len(reexported.ExpenseTransactions) != len(snapshot.ExpenseTransactions) ||
		len(reexported.ExpenseCategories) != len(snapshot.ExpenseCategories) ||
		len(reexported.ExpenseEvents) != len(snapshot.ExpenseEvents) ||
		len(reexported.Balances) != len(snapshot.Balances) {
		t.Fatal("round trip lost rows")
	}
	if reexported.Expenses[0].ID != snapshot.Expenses[0].ID {
		t.Error("import should preserve ids")
	}

	// Importing the same snapshot again is a no-op.
	if err := target.Import(ctx, snapshot, false); err != nil {
		t.Fatalf("second import: %v", err)
	}
	again, err := target.Export(ctx)
	if err != nil {
		t.Fatalf("third export: %v", err)
	}
	if len(again.Expenses) != len(snapshot.Expenses) {
		t.Error("repeated import should not duplicate rows")
	}

	// A clean import wipes local-only rows first.
	newExpense(t, repo, f.carol, f.carolAcc, "local only", "", -1)
	if err := repo.Import(ctx, snapshot, true); err != nil {
		t.Fatalf("clean import: %v", err)
	}
	final, err := repo.Export(ctx)
	if err != nil {
		t.Fatalf("final export: %v", err)
	}
	if len(final.Expenses) != len(snapshot.Expenses) {
		t.Errorf("clean import kept %d expenses, want %d", len(final.Expenses), len(snapshot.Expenses))
	}
}
