package core

import "testing"

func TestCursorAssignsRunsAndNeverMovesBack(t *testing.T) {
	owning := []int64{5, 5, 9, 12, 12, 12}
	c := newCursor(owning, func(id int64) int64 { return id })

	wantCounts := map[int64]int{5: 2, 9: 1, 12: 3}
	prevPos := 0
	for _, id := range []int64{5, 9, 12} {
		c.skipBelow(id)
		if c.pos < prevPos {
			t.Fatalf("cursor moved backward: %d < %d", c.pos, prevPos)
		}
		prevPos = c.pos

		run := c.run(id)
		if len(run) != wantCounts[id] {
			t.Fatalf("expense %d: got %d children, want %d", id, len(run), wantCounts[id])
		}
		for _, got := range run {
			if got != id {
				t.Fatalf("expense %d: run contains %d", id, got)
			}
		}
	}
}

func TestCursorSkipsOrphanedPrefix(t *testing.T) {
	owning := []int64{1, 1, 3}
	c := newCursor(owning, func(id int64) int64 { return id })

	c.skipBelow(2)
	if got := c.run(2); len(got) != 0 {
		t.Fatalf("got %v, want empty run", got)
	}
	c.skipBelow(3)
	if got := c.run(3); len(got) != 1 {
		t.Fatalf("got %v, want one element", got)
	}
}

func TestCursorRunDoesNotConsume(t *testing.T) {
	owning := []int64{4, 4}
	c := newCursor(owning, func(id int64) int64 { return id })

	c.skipBelow(4)
	first := c.run(4)
	second := c.run(4)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("runs = %d and %d elements, want 2 and 2", len(first), len(second))
	}
}
