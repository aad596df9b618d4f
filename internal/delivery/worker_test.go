package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/log"
	"moneta/internal/storage"
)

type recordingPublisher struct {
	messages []*amqp.ExpenseEventMessage
}

func (p *recordingPublisher) PublishExpenseEvent(_ context.Context, _ string, msg *amqp.ExpenseEventMessage) error {
	p.messages = append(p.messages, msg)
	return nil
}

type testEnv struct {
	worker    *Worker
	repo      *storage.Repository
	publisher *recordingPublisher

	user     int64
	account  int64
	other    int64
	category int64
	template int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := log.New(log.DefaultConfig())
	repo, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "delivery.db"), logger)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	env := &testEnv{repo: repo, publisher: &recordingPublisher{}}
	env.worker = NewWorker(repo, env.publisher, "expense_events", logger)

	env.user, err = repo.CreateUser(ctx, core.User{Name: "alice", FullName: "Alice A", Hash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	env.account = mustCreateAccount(t, repo, env.user, "checking")
	env.other = mustCreateAccount(t, repo, env.user, "savings")
	env.category, err = repo.CreateCategory(ctx, core.Category{UserID: env.user, Name: "subscriptions"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	amount := int64(-999)
	fraction := 0.5
	env.template, err = repo.CreateExpense(ctx,
		storage.EventActor{UserID: &env.user, Tool: "test"},
		storage.ExpenseInput{
			Info: core.Expense{
				Title:        "streaming subscription",
				Store:        "streamco",
				BookingStart: day,
				BookingEnd:   day.Add(24 * time.Hour),
				Template:     true,
			},
			Transactions: []core.ExpenseTransaction{
				{AccountID: env.account, Date: day, Amount: &amount},
				{AccountID: env.other, Date: day, Fraction: &fraction, Comments: "split"},
			},
			Categories: []core.ExpenseCategory{
				{CategoryID: env.category, Weight: 1},
			},
		})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return env
}

func mustCreateAccount(t *testing.T, repo *storage.Repository, uid int64, name string) int64 {
	t.Helper()
	id, err := repo.CreateAccount(context.Background(), core.Account{
		UserID: uid, Name: name,
		Kind: core.AccountDebit, Availability: core.AvailabilityImmediately, Risk: core.RiskLow,
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return id
}

func (e *testEnv) addRule(t *testing.T, dr core.DeliveryRule) int64 {
	t.Helper()
	dr.UserID = e.user
	if dr.TemplateID == 0 {
		dr.TemplateID = e.template
	}
	id, err := e.repo.CreateDeliveryRule(context.Background(), dr)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return id
}

// deliveredExpenses returns every non-template expense visible to the user.
func (e *testEnv) deliveredExpenses(t *testing.T) []core.Expense {
	t.Helper()
	expenses, err := e.repo.RelevantExpenses(context.Background(), e.user, 0, 0)
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	delivered := []core.Expense{}
	for _, exp := range expenses {
		if !exp.Template {
			delivered = append(delivered, exp)
		}
	}
	return delivered
}

func TestHandleStatementDelivers(t *testing.T) {
	env := newTestEnv(t)
	ruleID := env.addRule(t, core.DeliveryRule{Priority: 1, StatementRegex: "(?i)streamco"})

	seen := time.Date(2024, 7, 15, 9, 30, 0, 0, time.UTC)
	msg := &amqp.StatementMessage{
		AccountID: env.account,
		Amount:    -1099,
		Date:      seen,
		Statement: "STREAMCO monthly 07/24",
	}
	if err := env.worker.HandleStatement(context.Background(), msg); err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}

	delivered := env.deliveredExpenses(t)
	if len(delivered) != 1 {
		t.Fatalf("len(delivered) = %d, want 1", len(delivered))
	}
	exp := delivered[0]
	if exp.Title != "streaming subscription" || exp.Template || !exp.Unchecked {
		t.Errorf("delivered = %+v, want unchecked non-template copy of the template", exp)
	}
	wantDay := time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)
	if !exp.BookingStart.Equal(wantDay) || !exp.BookingEnd.Equal(wantDay.Add(24*time.Hour)) {
		t.Errorf("booking window = [%v, %v), want [%v, %v)", exp.BookingStart, exp.BookingEnd, wantDay, wantDay.Add(24*time.Hour))
	}

	children, err := env.repo.ChildrenByExpenseIDs(context.Background(), env.user, []int64{exp.ID})
	if err != nil {
		t.Fatalf("load children: %v", err)
	}
	if len(children.Transactions) != 2 {
		t.Fatalf("len(transactions) = %d, want seen amount plus template fraction", len(children.Transactions))
	}
	fixed := children.Transactions[0].Transaction
	if fixed.Amount == nil || *fixed.Amount != -1099 || fixed.Statement != msg.Statement {
		t.Errorf("fixed transaction = %+v, want seen amount and statement", fixed)
	}
	share := children.Transactions[1].Transaction
	if share.Fraction == nil || *share.Fraction != 0.5 {
		t.Errorf("share transaction = %+v, want the template's fraction", share)
	}
	if len(children.Categories) != 1 || children.Categories[0].Category.CategoryID != env.category {
		t.Errorf("categories = %+v, want the template's category", children.Categories)
	}
	if len(children.Events) != 1 || !children.Events[0].Automatic {
		t.Errorf("events = %+v, want one automatic create event", children.Events)
	}

	rules, err := env.repo.DeliveryRules(context.Background())
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if rules[0].ID != ruleID || rules[0].LastMatch == nil {
		t.Errorf("rule after delivery = %+v, want LastMatch set", rules[0])
	}

	if len(env.publisher.messages) != 1 || env.publisher.messages[0].Type != core.EventCreate {
		t.Errorf("published = %+v, want one create event", env.publisher.messages)
	}
}

func TestHandleStatementPriorityOrder(t *testing.T) {
	env := newTestEnv(t)

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	amount := int64(-500)
	second, err := env.repo.CreateExpense(context.Background(),
		storage.EventActor{UserID: &env.user, Tool: "test"},
		storage.ExpenseInput{
			Info: core.Expense{
				Title: "fallback", BookingStart: day, BookingEnd: day.Add(24 * time.Hour), Template: true,
			},
			Transactions: []core.ExpenseTransaction{{AccountID: env.account, Date: day, Amount: &amount}},
		})
	if err != nil {
		t.Fatalf("create second template: %v", err)
	}

	env.addRule(t, core.DeliveryRule{Priority: 10, StatementRegex: "streamco", TemplateID: second})
	env.addRule(t, core.DeliveryRule{Priority: 1, StatementRegex: "streamco"})

	msg := &amqp.StatementMessage{AccountID: env.account, Amount: -1099, Date: day, Statement: "streamco"}
	if err := env.worker.HandleStatement(context.Background(), msg); err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}

	delivered := env.deliveredExpenses(t)
	if len(delivered) != 1 {
		t.Fatalf("len(delivered) = %d, want 1", len(delivered))
	}
	if delivered[0].Title != "streaming subscription" {
		t.Errorf("delivered title = %q, want the lower-priority-number rule to win", delivered[0].Title)
	}
}

func TestHandleStatementConstraints(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		rule      func(e *testEnv) core.DeliveryRule
		statement string
		want      int
	}{
		{
			name: "account mismatch",
			rule: func(e *testEnv) core.DeliveryRule {
				return core.DeliveryRule{Priority: 1, StatementRegex: "streamco", AccountID: &e.other}
			},
			statement: "streamco",
			want:      0,
		},
		{
			name: "amount mismatch",
			rule: func(e *testEnv) core.DeliveryRule {
				return core.DeliveryRule{Priority: 1, StatementRegex: "streamco", Amount: i64p(-500)}
			},
			statement: "streamco",
			want:      0,
		},
		{
			name: "amount match",
			rule: func(e *testEnv) core.DeliveryRule {
				return core.DeliveryRule{Priority: 1, StatementRegex: "streamco", Amount: i64p(-1099)}
			},
			statement: "streamco",
			want:      1,
		},
		{
			name: "regex mismatch",
			rule: func(e *testEnv) core.DeliveryRule {
				return core.DeliveryRule{Priority: 1, StatementRegex: "^exact$"}
			},
			statement: "not exact",
			want:      0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := newTestEnv(t)
			sub.addRule(t, tc.rule(sub))
			if err := sub.worker.HandleStatement(context.Background(), &amqp.StatementMessage{
				AccountID: sub.account, Amount: -1099, Date: day, Statement: tc.statement,
			}); err != nil {
				t.Fatalf("HandleStatement: %v", err)
			}
			if got := len(sub.deliveredExpenses(t)); got != tc.want {
				t.Errorf("delivered = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHandleStatementDeletedTemplateIsPermanent(t *testing.T) {
	env := newTestEnv(t)
	env.addRule(t, core.DeliveryRule{Priority: 1, StatementRegex: "streamco"})

	actor := storage.EventActor{UserID: &env.user, Tool: "test"}
	if err := env.repo.DeleteExpense(context.Background(), actor, env.template); err != nil {
		t.Fatalf("delete template: %v", err)
	}

	msg := &amqp.StatementMessage{AccountID: env.account, Amount: -1099, Date: time.Now(), Statement: "streamco"}
	err := env.worker.HandleStatement(context.Background(), msg)
	if !errors.Is(err, amqp.ErrPermanent) {
		t.Fatalf("HandleStatement error = %v, want one wrapping amqp.ErrPermanent", err)
	}

	if delivered := env.deliveredExpenses(t); len(delivered) != 0 {
		t.Errorf("delivered = %+v, want none", delivered)
	}
	if len(env.publisher.messages) != 0 {
		t.Errorf("published = %+v, want none", env.publisher.messages)
	}
}

func TestHandleStatementNoRules(t *testing.T) {
	env := newTestEnv(t)
	msg := &amqp.StatementMessage{AccountID: env.account, Amount: -1, Date: time.Now(), Statement: "anything"}
	if err := env.worker.HandleStatement(context.Background(), msg); err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}
	if got := len(env.deliveredExpenses(t)); got != 0 {
		t.Errorf("delivered = %d, want 0", got)
	}
}

func i64p(v int64) *int64 { return &v }
