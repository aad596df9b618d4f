// Package core holds the domain model and the per-viewer rendering engine:
// account synchronization resolution, category replacement, amount
// reconciliation and the merge-join assembly of expense pages.
//
// Everything in this package is pure and synchronous. It receives fully
// materialized, pre-sorted collections from the storage layer and produces
// fresh rendered values; nothing is mutated in place and nothing outlives a
// single call.
package core

import "time"

type AccountKind string

const (
	AccountCash    AccountKind = "cash"
	AccountDebit   AccountKind = "debit"
	AccountCredit  AccountKind = "credit"
	AccountDebt    AccountKind = "debt"
	AccountStocks  AccountKind = "stocks"
	AccountVirtual AccountKind = "virtual"
	AccountOther   AccountKind = "other"
)

type AccountAvailability string

const (
	AvailabilityImmediately AccountAvailability = "immediately"
	AvailabilityDays        AccountAvailability = "days"
	AvailabilityWeeks       AccountAvailability = "weeks"
	AvailabilityMonths      AccountAvailability = "months"
	AvailabilityYears       AccountAvailability = "years"
	AvailabilityDecades     AccountAvailability = "decades"
)

type AccountRisk string

const (
	RiskNone   AccountRisk = "none"
	RiskSlight AccountRisk = "slight"
	RiskLow    AccountRisk = "low"
	RiskMedium AccountRisk = "medium"
	RiskHigh   AccountRisk = "high"
	RiskHuge   AccountRisk = "huge"
)

type ExpenseEventType string

const (
	EventCreate ExpenseEventType = "create"
	EventModify ExpenseEventType = "modify"
	EventDelete ExpenseEventType = "delete"
)

type ExpenseEventTarget string

const (
	TargetExpense      ExpenseEventTarget = "expense"
	TargetCategories   ExpenseEventTarget = "categories"
	TargetReceipts     ExpenseEventTarget = "receipts"
	TargetTransactions ExpenseEventTarget = "transactions"
)

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"fullName"`
	Hash     string `json:"hash"`
}

type Account struct {
	ID           int64               `json:"id"`
	UserID       int64               `json:"userId"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Color        *string             `json:"color"`
	IBAN         *string             `json:"iban"`
	Kind         AccountKind         `json:"kind"`
	Availability AccountAvailability `json:"availability"`
	Risk         AccountRisk         `json:"risk"`
	Hidden       bool                `json:"hidden"`
}

type Category struct {
	ID          int64   `json:"id"`
	UserID      int64   `json:"userId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Color       *string `json:"color"`
	Parent      *int64  `json:"parent"`
}

// AccountSynchronization mirrors one user's account as the counterpart view of
// another user's account. Constraints (enforced by storage, relied on here):
// Account1 < Account2, and each account participates in at most one link.
// User1 and User2 denormalize the owners of the two accounts so that
// relevance queries stay expressible in plain SQL.
type AccountSynchronization struct {
	Account1 int64 `json:"account1"`
	Account2 int64 `json:"account2"`
	User1    int64 `json:"user1"`
	User2    int64 `json:"user2"`
	Invert   bool  `json:"invert"`
}

// Other returns the opposite side of the pair relative to accountID.
func (s AccountSynchronization) Other(accountID int64) int64 {
	if s.Account1 == accountID {
		return s.Account2
	}
	return s.Account1
}

// Sign is the multiplier applied to amounts crossing the link.
func (s AccountSynchronization) Sign() int64 {
	if s.Invert {
		return -1
	}
	return 1
}

// CategoryReplacement redirects a category to a preferred one for a single
// viewing user at render time only; storage keeps the original tagging.
type CategoryReplacement struct {
	UserID      int64 `json:"userId"`
	Original    int64 `json:"original"`
	Replacement int64 `json:"replacement"`
}

// Balance is a point-in-time account snapshot. It covers expenses with
// date < Date, i.e. what happened the same instant is not included.
type Balance struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"accountId"`
	Date      time.Time `json:"date"`
	Amount    int64     `json:"amount"` // cents
	Comment   string    `json:"comment"`
}

type Expense struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Store        string    `json:"store"`
	Comments     string    `json:"comments"`
	BookingStart time.Time `json:"bookingStart"`
	BookingEnd   time.Time `json:"bookingEnd"` // half-open: [BookingStart, BookingEnd)
	Deleted      bool      `json:"isDeleted"`
	Template     bool      `json:"isTemplate"`
	Preliminary  bool      `json:"isPreliminary"`
	TaxRelevant  bool      `json:"isTaxRelevant"`
	Unchecked    bool      `json:"isUnchecked"`
}

// ExpenseTransaction carries exactly one of Amount or Fraction, never both.
// A fraction is only meaningful when exactly one transaction of the same
// expense carries a fixed amount (the basis the fraction is settled against).
type ExpenseTransaction struct {
	ID        int64     `json:"id"`
	ExpenseID int64     `json:"expenseId"`
	AccountID int64     `json:"accountId"`
	Date      time.Time `json:"date"`
	Amount    *int64    `json:"amount"`   // cents
	Fraction  *float64  `json:"fraction"` // in [-1, 1]
	Comments  string    `json:"comments"`
	Statement string    `json:"statement"`
}

type ExpenseCategory struct {
	ExpenseID  int64   `json:"expenseId"`
	CategoryID int64   `json:"categoryId"`
	Weight     float64 `json:"weight"` // > 0
}

type ExpenseReceipt struct {
	ID        int64  `json:"id"`
	ExpenseID int64  `json:"expenseId"`
	FileName  string `json:"fileName"`
}

type ExpenseEvent struct {
	ID        int64              `json:"id"`
	ExpenseID int64              `json:"expenseId"`
	UserID    *int64             `json:"userId"`
	Date      time.Time          `json:"date"`
	Tool      string             `json:"tool"`
	Automatic bool               `json:"automatic"`
	Type      ExpenseEventType   `json:"eventType"`
	Target    ExpenseEventTarget `json:"eventTarget"`
	Payload   *string            `json:"payload"`
}

// DeliveryRule matches incoming bank statements against a template expense.
// Rules are evaluated in ascending Priority order; AccountID and Amount, when
// set, narrow the match beyond the statement regex.
type DeliveryRule struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"userId"`
	Priority       int64      `json:"priority"`
	TemplateID     int64      `json:"templateId"`
	AccountID      *int64     `json:"accountId"`
	Amount         *int64     `json:"amount"`
	StatementRegex string     `json:"statementRegex"`
	LastMatch      *time.Time `json:"lastMatch"`
}
