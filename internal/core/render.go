package core

// The contents of these "Rendered" entities may have been altered to be
// viewed by the user that requested them.

type RenderedAccount struct {
	Info            Account                 `json:"info"`
	Synchronization *AccountSynchronization `json:"synchronization"`
}

type RenderedExpense struct {
	Info         Expense              `json:"info"`
	Events       []ExpenseEvent       `json:"events"`
	Receipts     []ExpenseReceipt     `json:"receipts"`
	Categories   []ExpenseCategory    `json:"categories"`
	Transactions []ExpenseTransaction `json:"transactions"`
	TotalAmount  int64                `json:"totalAmount"`
	// CalculatedAmounts holds the settled amount of each transaction, in the
	// same order as Transactions.
	CalculatedAmounts []int64 `json:"calculatedAmounts"`
}

type RenderedCategory struct {
	Info     Category `json:"info"`
	Replaces []int64  `json:"replaces"`
}

type RenderedBalance = Balance

// RenderBalance redirects the balance to the viewer's side of a
// synchronization link and sign-corrects the stored amount.
func RenderBalance(b Balance, p AccountPerspective) RenderedBalance {
	accountID, sign := p.Resolve()
	b.AccountID = accountID
	b.Amount *= sign
	return b
}

// RenderCategory pairs a category with the reverse replacement view: which of
// the viewer's original categories now render as this one.
func RenderCategory(c Category, replacements []CategoryReplacement) RenderedCategory {
	return RenderedCategory{
		Info:     c,
		Replaces: Replaces(c.ID, replacements),
	}
}

// resolveTransaction applies the account perspective to a single transaction,
// returning a corrected copy. Pointer fields are reallocated so the caller's
// input rows stay untouched.
func resolveTransaction(tv TransactionView) TransactionView {
	accountID, sign := tv.Perspective.Resolve()
	t := tv.Transaction
	t.AccountID = accountID
	if t.Amount != nil {
		v := *t.Amount * sign
		t.Amount = &v
	}
	if t.Fraction != nil {
		v := *t.Fraction * float64(sign)
		t.Fraction = &v
	}
	tv.Transaction = t
	return tv
}

// RenderExpense assembles one expense from exactly its own child records.
func RenderExpense(uid int64, info Expense, transactions []TransactionView, categories []CategoryView, receipts []ExpenseReceipt, events []ExpenseEvent) RenderedExpense {
	resolved := make([]TransactionView, len(transactions))
	for i, tv := range transactions {
		resolved[i] = resolveTransaction(tv)
	}

	totalAmount, calculated := ReconcileAmounts(uid, info, resolved)

	cats := make([]ExpenseCategory, len(categories))
	for i, cv := range categories {
		cats[i] = ReplaceCategory(cv.Category, cv.Replacement)
	}

	ts := make([]ExpenseTransaction, len(resolved))
	for i, tv := range resolved {
		ts[i] = tv.Transaction
	}

	return RenderedExpense{
		Info:              info,
		Events:            append([]ExpenseEvent{}, events...),
		Receipts:          append([]ExpenseReceipt{}, receipts...),
		Categories:        cats,
		Transactions:      ts,
		TotalAmount:       totalAmount,
		CalculatedAmounts: calculated,
	}
}

// FilterAndRender renders one expense out of shared child collections sorted
// ascending by expense id, locating the expense's contiguous run in each. It
// rescans its inputs from the front on every call; RenderExpenses is the
// linear batch form and must produce identical output.
func FilterAndRender(uid int64, info Expense, transactions []TransactionView, categories []CategoryView, receipts []ExpenseReceipt, events []ExpenseEvent) RenderedExpense {
	return RenderExpense(uid, info,
		sliceRun(transactions, func(tv TransactionView) int64 { return tv.Transaction.ExpenseID }, info.ID),
		sliceRun(categories, func(cv CategoryView) int64 { return cv.Category.ExpenseID }, info.ID),
		sliceRun(receipts, func(r ExpenseReceipt) int64 { return r.ExpenseID }, info.ID),
		sliceRun(events, func(e ExpenseEvent) int64 { return e.ExpenseID }, info.ID),
	)
}

// sliceRun returns the first contiguous run of elements owned by id.
func sliceRun[T any](items []T, owner func(T) int64, id int64) []T {
	start := 0
	for start < len(items) && owner(items[start]) != id {
		start++
	}
	end := start
	for end < len(items) && owner(items[end]) == id {
		end++
	}
	return items[start:end]
}

// RenderExpenses renders a page of expenses against the four secondary
// collections in a single merge scan. Preconditions, supplied by the query
// layer and not rechecked here: expenses are sorted ascending by id, every
// secondary collection is sorted ascending by owning expense id, and all five
// collections are restricted to the same viewer and result window.
func RenderExpenses(uid int64, expenses []Expense, transactions []TransactionView, categories []CategoryView, receipts []ExpenseReceipt, events []ExpenseEvent) []RenderedExpense {
	tc := newCursor(transactions, func(tv TransactionView) int64 { return tv.Transaction.ExpenseID })
	cc := newCursor(categories, func(cv CategoryView) int64 { return cv.Category.ExpenseID })
	rc := newCursor(receipts, func(r ExpenseReceipt) int64 { return r.ExpenseID })
	ec := newCursor(events, func(e ExpenseEvent) int64 { return e.ExpenseID })

	rendered := make([]RenderedExpense, 0, len(expenses))
	for _, e := range expenses {
		tc.skipBelow(e.ID)
		cc.skipBelow(e.ID)
		rc.skipBelow(e.ID)
		ec.skipBelow(e.ID)

		rendered = append(rendered, RenderExpense(uid, e,
			tc.run(e.ID), cc.run(e.ID), rc.run(e.ID), ec.run(e.ID)))
	}
	return rendered
}
