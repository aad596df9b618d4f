package core

import (
	"reflect"
	"testing"
)

func i64p(v int64) *int64     { return &v }
func f64p(v float64) *float64 { return &v }

func ownedTx(expenseID, accountID, ownerID int64, amount *int64, fraction *float64) TransactionView {
	return TransactionView{
		Transaction: ExpenseTransaction{ExpenseID: expenseID, AccountID: accountID, Amount: amount, Fraction: fraction},
		Account:     Account{ID: accountID, UserID: ownerID},
		Perspective: OwnedDirectly(accountID),
	}
}

func TestReconcileFractionAgainstFixedBasis(t *testing.T) {
	exp := Expense{ID: 1}
	txs := []TransactionView{
		ownedTx(1, 10, 1, i64p(1000), nil),
		ownedTx(1, 11, 2, nil, f64p(-1.0)),
	}

	total, settled := ReconcileAmounts(1, exp, txs)

	if !reflect.DeepEqual(settled, []int64{1000, -1000}) {
		t.Fatalf("settled = %v, want [1000 -1000]", settled)
	}
	// Only the fixed transaction sits on a viewer-owned account.
	if total != 1000 {
		t.Fatalf("total = %d, want 1000", total)
	}
}

func TestReconcileNoFixedAmountSettlesToZero(t *testing.T) {
	exp := Expense{ID: 2}
	txs := []TransactionView{
		ownedTx(2, 10, 1, nil, f64p(0.5)),
		ownedTx(2, 11, 1, nil, f64p(-0.5)),
	}

	total, settled := ReconcileAmounts(1, exp, txs)

	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
	if !reflect.DeepEqual(settled, []int64{0, 0}) {
		t.Fatalf("settled = %v, want [0 0]", settled)
	}
}

func TestReconcileNoTransactionsSettlesToEmpty(t *testing.T) {
	total, settled := ReconcileAmounts(1, Expense{ID: 3}, nil)

	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
	// Empty, not nil, so the rendered expense carries [] rather than null.
	if settled == nil || len(settled) != 0 {
		t.Fatalf("settled = %#v, want empty non-nil slice", settled)
	}
}

func TestReconcileMixedFixedAndFractionalIsBestEffort(t *testing.T) {
	// Two fixed amounts plus a fraction is unsupported by design; the render
	// still completes with the fraction settled against the summed basis.
	exp := Expense{ID: 3}
	txs := []TransactionView{
		ownedTx(3, 10, 1, i64p(600), nil),
		ownedTx(3, 11, 1, i64p(400), nil),
		ownedTx(3, 12, 1, nil, f64p(-0.5)),
	}

	total, settled := ReconcileAmounts(1, exp, txs)

	if !reflect.DeepEqual(settled, []int64{600, 400, -500}) {
		t.Fatalf("settled = %v, want [600 400 -500]", settled)
	}
	if total != 500 {
		t.Fatalf("total = %d, want 500", total)
	}
}

func TestReconcileTruncatesTowardZero(t *testing.T) {
	exp := Expense{ID: 4}
	txs := []TransactionView{
		ownedTx(4, 10, 1, i64p(999), nil),
		ownedTx(4, 11, 1, nil, f64p(-0.333)),
	}

	_, settled := ReconcileAmounts(1, exp, txs)

	// -0.333 * 999 = -332.667, truncated to -332 (not rounded to -333).
	if settled[1] != -332 {
		t.Fatalf("settled fraction = %d, want -332", settled[1])
	}
}

func TestReconcileAttributionFollowsOwnershipAndSync(t *testing.T) {
	sync := AccountSynchronization{Account1: 11, Account2: 20, User1: 2, User2: 1}
	exp := Expense{ID: 5}
	txs := []TransactionView{
		// Viewer-owned account: counts.
		ownedTx(5, 10, 1, i64p(1000), nil),
		// Partner's account behind a sync link: counts, redirected.
		{
			Transaction: ExpenseTransaction{ExpenseID: 5, AccountID: 11, Fraction: f64p(-0.5)},
			Account:     Account{ID: 11, UserID: 2},
			Perspective: Redirected(11, sync),
		},
		// Someone else's account, no link: settled but not attributed.
		ownedTx(5, 12, 3, nil, f64p(-0.25)),
	}

	total, settled := ReconcileAmounts(1, exp, txs)

	if !reflect.DeepEqual(settled, []int64{1000, -500, -250}) {
		t.Fatalf("settled = %v, want [1000 -500 -250]", settled)
	}
	if total != 500 {
		t.Fatalf("total = %d, want 500", total)
	}
}

func TestSettleFraction(t *testing.T) {
	cases := []struct {
		fraction float64
		basis    int64
		want     int64
	}{
		{-1.0, 1000, -1000},
		{0.5, 1001, 500},
		{-0.5, 1001, -500},
		{0, 1000, 0},
		{1.0, 0, 0},
	}
	for i, tc := range cases {
		if got := SettleFraction(tc.fraction, tc.basis); got != tc.want {
			t.Fatalf("case %d: SettleFraction(%v, %d) = %d, want %d", i, tc.fraction, tc.basis, got, tc.want)
		}
	}
}
