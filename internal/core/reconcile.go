package core

import "log/slog"

// TransactionView is one expense transaction together with the account it
// was recorded on and the viewer's perspective on that account.
type TransactionView struct {
	Transaction ExpenseTransaction
	Account     Account
	Perspective AccountPerspective
}

// CategoryView is one expense category tag together with the viewer's
// replacement for it, when one exists.
type CategoryView struct {
	Category    ExpenseCategory
	Replacement *CategoryReplacement
}

// ReconcileAmounts computes the expense total attributable to the viewer and
// the settled amount of every transaction. The transactions must already be
// perspective-resolved (accounts redirected, amounts and fractions
// sign-corrected).
//
// The basis for fractional transactions is the sum of all fixed amounts.
// Data-integrity anomalies never abort the render: an expense without any
// fixed amount settles everything to 0, and the unsupported mix of several
// fixed amounts with fractional transactions is summed best-effort. Both are
// logged and otherwise tolerated.
func ReconcileAmounts(uid int64, expense Expense, transactions []TransactionView) (totalAmount int64, settled []int64) {
	settled = make([]int64, 0, len(transactions))

	var basis int64
	fixed := 0
	for _, tv := range transactions {
		if tv.Transaction.Amount != nil {
			basis += *tv.Transaction.Amount
			fixed++
		}
	}

	if fixed == 0 {
		slog.Warn("expense has no transaction with a fixed amount, treating the basis as 0",
			"expense_id", expense.ID)
	} else if fixed > 1 && fixed < len(transactions) {
		slog.Warn("expense mixes multiple fixed-amount transactions with fractional ones, totals are best-effort",
			"expense_id", expense.ID)
	}

	for _, tv := range transactions {
		t := tv.Transaction
		var amount int64
		switch {
		case t.Amount != nil:
			amount = *t.Amount
		case t.Fraction != nil:
			amount = SettleFraction(*t.Fraction, basis)
		}
		settled = append(settled, amount)

		// Synced transactions land on a viewer-owned account by construction,
		// everything else counts only if the raw account is the viewer's.
		if tv.Perspective.Synced() || tv.Account.UserID == uid {
			totalAmount += amount
		}
	}

	return totalAmount, settled
}
