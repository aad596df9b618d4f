package core

import (
	"reflect"
	"testing"
)

func TestReplaceCategorySingleHop(t *testing.T) {
	tag := ExpenseCategory{ExpenseID: 1, CategoryID: 10, Weight: 1}

	ab := CategoryReplacement{UserID: 1, Original: 10, Replacement: 20}
	got := ReplaceCategory(tag, &ab)
	if got.CategoryID != 20 {
		t.Fatalf("got category %d, want 20", got.CategoryID)
	}

	// A second replacement 20 -> 30 exists for the same user, but the query
	// layer only ever joins the replacement for the original tag; a chain must
	// not be followed. Rendering the already-replaced tag with the B -> C rule
	// would be the bug this guards against.
	bc := CategoryReplacement{UserID: 1, Original: 20, Replacement: 30}
	if again := ReplaceCategory(tag, &ab); again.CategoryID != 20 {
		t.Fatalf("got %d, want 20", again.CategoryID)
	}
	_ = bc
}

func TestReplaceCategoryNoMatch(t *testing.T) {
	tag := ExpenseCategory{ExpenseID: 1, CategoryID: 10, Weight: 1}
	other := CategoryReplacement{UserID: 1, Original: 11, Replacement: 20}

	if got := ReplaceCategory(tag, nil); got.CategoryID != 10 {
		t.Fatalf("nil replacement: got %d, want 10", got.CategoryID)
	}
	if got := ReplaceCategory(tag, &other); got.CategoryID != 10 {
		t.Fatalf("non-matching replacement: got %d, want 10", got.CategoryID)
	}
}

func TestReplacesReverseMapping(t *testing.T) {
	repls := []CategoryReplacement{
		{UserID: 1, Original: 10, Replacement: 20},
		{UserID: 1, Original: 11, Replacement: 20},
		{UserID: 1, Original: 12, Replacement: 30},
	}

	if got := Replaces(20, repls); !reflect.DeepEqual(got, []int64{10, 11}) {
		t.Fatalf("got %v, want [10 11]", got)
	}
	if got := Replaces(40, repls); len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}
