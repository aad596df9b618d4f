package core

// cursor walks a slice sorted ascending by an owning expense id. It only ever
// moves forward, which is what makes the batch render linear: each secondary
// collection is traversed once no matter how many expenses consume from it.
type cursor[T any] struct {
	items []T
	owner func(T) int64
	pos   int
}

func newCursor[T any](items []T, owner func(T) int64) *cursor[T] {
	return &cursor[T]{items: items, owner: owner}
}

// skipBelow advances past every element owned by an id smaller than id.
func (c *cursor[T]) skipBelow(id int64) {
	for c.pos < len(c.items) && c.owner(c.items[c.pos]) < id {
		c.pos++
	}
}

// run returns the contiguous elements at the current position owned exactly
// by id, without consuming them; a later skipBelow moves past the run.
func (c *cursor[T]) run(id int64) []T {
	end := c.pos
	for end < len(c.items) && c.owner(c.items[end]) == id {
		end++
	}
	return c.items[c.pos:end]
}
