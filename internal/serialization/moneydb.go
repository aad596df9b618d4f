package serialization

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/log"
	"moneta/internal/storage"
)

// MoneyDB is the dump format of the predecessor application. Ids are kept
// as-is during conversion; the snapshot import preserves explicit ids, so no
// remapping is needed.
type MoneyDB struct {
	Users                []moneyDBUser                `json:"users"`
	Accounts             []moneyDBAccount             `json:"accounts"`
	AccountSyncings      []moneyDBAccountSyncing      `json:"accountSyncings"`
	Categories           []moneyDBCategory            `json:"categories"`
	CategoryReplacements []moneyDBCategoryReplacement `json:"categoryReplacements"`
	Expenses             []moneyDBExpense             `json:"expenses"`
	ExpenseFlags         []moneyDBExpenseFlag         `json:"expenseFlags"`
	ExpenseSharings      []moneyDBExpenseSharing      `json:"expenseSharings"`
	AutomationRules      []moneyDBAutomationRule      `json:"automationRules"`
	Balances             []moneyDBBalance             `json:"balances"`
}

type moneyDBUser struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Name     string `json:"name"`
}

type moneyDBAccount struct {
	ID           int64   `json:"id"`
	OwnerID      int64   `json:"ownerId"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Color        string  `json:"color"`
	Kind         string  `json:"kind"`
	Availability string  `json:"availability"`
	IBAN         *string `json:"iban"`
	Hidden       bool    `json:"hidden"`
}

type moneyDBAccountSyncing struct {
	Account1 int64 `json:"account1"`
	Account2 int64 `json:"account2"`
	Sign     bool  `json:"sign"`
}

type moneyDBCategory struct {
	ID          int64  `json:"id"`
	OwnerID     int64  `json:"ownerId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

type moneyDBCategoryReplacement struct {
	OwnerID     int64 `json:"ownerId"`
	Original    int64 `json:"original"`
	Replacement int64 `json:"replacement"`
}

type moneyDBBalance struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"accountId"`
	Date      time.Time       `json:"date"`
	Amount    decimal.Decimal `json:"amount"` // major units (euros)
}

type moneyDBExpense struct {
	ID                  int64           `json:"id"`
	OwnerID             int64           `json:"ownerId"`
	Amount              decimal.Decimal `json:"amount"` // major units, spend-positive
	ValueDate           time.Time       `json:"valueDate"`
	BookingDate         *time.Time      `json:"bookingDate"`
	AccountID           int64           `json:"accountId"`
	CategoryID          int64           `json:"categoryId"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Store               string          `json:"store"`
	Transaction         string          `json:"transaction"`
	Comments            string          `json:"comments"`
	CreationDate        time.Time       `json:"creationDate"`
	LastModified        time.Time       `json:"lastModified"`
	LastModifiedThrough string          `json:"lastModifiedThrough"`
	LastModifiedBy      int64           `json:"lastModifiedBy"`
}

const (
	sharingEqual         = "Equal"
	sharingFixedAmount   = "FixedAmount"
	sharingFixedFraction = "FixedFraction"
)

type moneyDBExpenseSharing struct {
	ExpenseID int64   `json:"expenseId"`
	AccountID int64   `json:"accountId"`
	Type      string  `json:"type"`
	Param     float64 `json:"param"`
}

const (
	flagTemplate       = "Template"
	flagNeedsAttention = "NeedsAttention"
	flagTaxRelevant    = "TaxRelevant"
	flagPreliminary    = "Preliminary"
)

type moneyDBExpenseFlag struct {
	ExpenseID int64  `json:"expenseId"`
	Flagging  string `json:"flagging"`
}

type moneyDBAutomationRule struct {
	OwnerID          int64            `json:"ownerId"`
	Title            string           `json:"title"`
	TemplateID       int64            `json:"templateId"`
	Priority         int64            `json:"priority"`
	RegexTime        *string          `json:"regexTime"`
	FilterAccount    *int64           `json:"filterAccount"`
	RegexTransaction *string          `json:"regexTransaction"`
	FilterAmount     *decimal.Decimal `json:"filterAmount"`
	LastDelivery     *time.Time       `json:"lastDelivery"`
}

// ReadMoneyDB parses a legacy dump.
func ReadMoneyDB(r io.Reader) (*MoneyDB, error) {
	var db MoneyDB
	if err := json.NewDecoder(r).Decode(&db); err != nil {
		return nil, fmt.Errorf("parse moneydb dump: %w", err)
	}
	return &db, nil
}

var (
	hundred      = decimal.NewFromInt(100)
	minusHundred = decimal.NewFromInt(-100)
)

// cents converts a spend-positive major-unit amount into signed cents,
// truncating toward zero.
func cents(amount decimal.Decimal) int64 {
	return amount.Mul(minusHundred).IntPart()
}

// Convert maps a legacy dump onto a native snapshot. Imported users have no
// password hash; every password must be renewed after the import.
func (db *MoneyDB) Convert(logger *log.Logger) *storage.Snapshot {
	logger = logger.WithComponent(log.ComponentImport)
	s := &storage.Snapshot{}

	for _, u := range db.Users {
		s.Users = append(s.Users, core.User{ID: u.ID, Name: u.Name, FullName: u.FullName})
	}

	owners := make(map[int64]int64, len(db.Accounts))
	for _, a := range db.Accounts {
		owners[a.ID] = a.OwnerID
		s.Accounts = append(s.Accounts, core.Account{
			ID:           a.ID,
			UserID:       a.OwnerID,
			Name:         a.Title,
			Description:  a.Description,
			Color:        emptyToNil(a.Color),
			IBAN:         a.IBAN,
			Kind:         convertKind(a.Kind),
			Availability: convertAvailability(a.Availability),
			Risk:         core.RiskMedium,
			Hidden:       a.Hidden,
		})
	}

	linked := map[int64]bool{}
	for _, sync := range db.AccountSyncings {
		if linked[sync.Account1] || linked[sync.Account2] {
			logger.Error("account participates in multiple synchronizations, dropping the extra link",
				log.FieldAccountID, sync.Account1)
			continue
		}
		linked[sync.Account1], linked[sync.Account2] = true, true
		s.AccountSynchronizations = append(s.AccountSynchronizations, core.AccountSynchronization{
			Account1: sync.Account1,
			Account2: sync.Account2,
			User1:    owners[sync.Account1],
			User2:    owners[sync.Account2],
			Invert:   !sync.Sign,
		})
	}

	for _, c := range db.Categories {
		s.Categories = append(s.Categories, core.Category{
			ID:          c.ID,
			UserID:      c.OwnerID,
			Name:        c.Title,
			Description: c.Description,
			Color:       emptyToNil(c.Color),
		})
	}
	for _, cr := range db.CategoryReplacements {
		s.CategoryReplacements = append(s.CategoryReplacements, core.CategoryReplacement{
			UserID:      cr.OwnerID,
			Original:    cr.Original,
			Replacement: cr.Replacement,
		})
	}

	for _, b := range db.Balances {
		s.Balances = append(s.Balances, core.Balance{
			ID:        b.ID,
			AccountID: b.AccountID,
			Date:      b.Date,
			Amount:    b.Amount.Mul(hundred).IntPart(),
		})
	}

	flags := map[int64]map[string]bool{}
	for _, f := range db.ExpenseFlags {
		if flags[f.ExpenseID] == nil {
			flags[f.ExpenseID] = map[string]bool{}
		}
		flags[f.ExpenseID][f.Flagging] = true
	}
	sharings := map[int64][]moneyDBExpenseSharing{}
	for _, sh := range db.ExpenseSharings {
		sharings[sh.ExpenseID] = append(sharings[sh.ExpenseID], sh)
	}

	var nextTransaction, nextEvent int64
	for _, e := range db.Expenses {
		booking := e.ValueDate
		if e.BookingDate != nil {
			booking = *e.BookingDate
		}
		s.Expenses = append(s.Expenses, core.Expense{
			ID:           e.ID,
			Title:        e.Title,
			Description:  e.Description,
			Store:        e.Store,
			Comments:     e.Comments,
			BookingStart: booking,
			BookingEnd:   booking,
			Template:     flags[e.ID][flagTemplate],
			Preliminary:  flags[e.ID][flagPreliminary],
			TaxRelevant:  flags[e.ID][flagTaxRelevant],
			Unchecked:    flags[e.ID][flagNeedsAttention],
		})

		s.ExpenseCategories = append(s.ExpenseCategories, core.ExpenseCategory{
			ExpenseID:  e.ID,
			CategoryID: e.CategoryID,
			Weight:     1,
		})

		for _, t := range convertTransactions(e, sharings[e.ID]) {
			nextTransaction++
			t.ID = nextTransaction
			s.ExpenseTransactions = append(s.ExpenseTransactions, t)
		}

		nextEvent++
		modifier := e.LastModifiedBy
		s.ExpenseEvents = append(s.ExpenseEvents, core.ExpenseEvent{
			ID:        nextEvent,
			ExpenseID: e.ID,
			UserID:    &modifier,
			Date:      e.LastModified,
			Tool:      e.LastModifiedThrough,
			Type:      core.EventModify,
			Target:    core.TargetExpense,
		})
	}

	var nextRule int64
	for _, rule := range db.AutomationRules {
		if rule.RegexTransaction == nil {
			logger.Warn("automation rule has no transaction regex, skipping",
				"title", rule.Title)
			continue
		}
		nextRule++
		dr := core.DeliveryRule{
			ID:             nextRule,
			UserID:         rule.OwnerID,
			Priority:       rule.Priority,
			TemplateID:     rule.TemplateID,
			AccountID:      rule.FilterAccount,
			StatementRegex: *rule.RegexTransaction,
			LastMatch:      rule.LastDelivery,
		}
		if rule.FilterAmount != nil {
			amount := cents(*rule.FilterAmount)
			dr.Amount = &amount
		}
		s.DeliveryRules = append(s.DeliveryRules, dr)
	}

	logger.Warn("passwords of all imported users must be renewed")
	return s
}

// convertTransactions splits a legacy expense into the owner's fixed-amount
// transaction plus one transaction per sharing. Fractional sharings survive
// only when no sharing carries a fixed amount; otherwise every share is
// settled into a fixed amount, since a fraction needs a single basis.
func convertTransactions(e moneyDBExpense, sharings []moneyDBExpenseSharing) []core.ExpenseTransaction {
	owner := cents(e.Amount)
	res := []core.ExpenseTransaction{{
		ExpenseID: e.ID,
		AccountID: e.AccountID,
		Date:      e.ValueDate,
		Amount:    &owner,
		Statement: e.Transaction,
	}}

	numEqual := int64(0)
	anyFixed := false
	for _, sh := range sharings {
		switch sh.Type {
		case sharingEqual:
			numEqual++
		case sharingFixedAmount:
			anyFixed = true
		}
	}

	for _, sh := range sharings {
		t := core.ExpenseTransaction{
			ExpenseID: e.ID,
			AccountID: sh.AccountID,
			Date:      e.ValueDate,
		}
		switch sh.Type {
		case sharingFixedAmount:
			amount := decimal.NewFromFloat(sh.Param).Mul(hundred).IntPart()
			t.Amount = &amount
		case sharingEqual:
			if anyFixed {
				amount := e.Amount.Div(decimal.NewFromInt(numEqual + 1)).Mul(minusHundred).IntPart()
				t.Amount = &amount
			} else {
				fraction := -1.0 / float64(numEqual+1)
				t.Fraction = &fraction
			}
		case sharingFixedFraction:
			if anyFixed {
				amount := e.Amount.Mul(decimal.NewFromFloat(sh.Param)).Mul(minusHundred).IntPart()
				t.Amount = &amount
			} else {
				fraction := -1.0 * sh.Param
				t.Fraction = &fraction
			}
		}
		res = append(res, t)
	}
	return res
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func convertKind(kind string) core.AccountKind {
	switch kind {
	case "Cash":
		return core.AccountCash
	case "Credit":
		return core.AccountCredit
	case "Debit":
		return core.AccountDebit
	case "Debt":
		return core.AccountDebt
	case "Virtual":
		return core.AccountVirtual
	case "Investment":
		return core.AccountStocks
	default:
		return core.AccountOther
	}
}

func convertAvailability(availability string) core.AccountAvailability {
	switch availability {
	case "Immediately":
		return core.AvailabilityImmediately
	case "Weeks":
		return core.AvailabilityWeeks
	case "Months":
		return core.AvailabilityMonths
	case "Years":
		return core.AvailabilityYears
	case "Decades":
		return core.AvailabilityDecades
	default:
		return core.AvailabilityImmediately
	}
}
