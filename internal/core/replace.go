package core

// ReplaceCategory rewrites the category reference to the viewer's preferred
// replacement, if one applies. Replacement is a single hop: a chain A -> B,
// B -> C still renders A as B.
func ReplaceCategory(c ExpenseCategory, repl *CategoryReplacement) ExpenseCategory {
	if repl != nil && repl.Original == c.CategoryID {
		c.CategoryID = repl.Replacement
	}
	return c
}

// Replaces lists the original category ids that render as categoryID for the
// replacement set of one user.
func Replaces(categoryID int64, replacements []CategoryReplacement) []int64 {
	ids := []int64{}
	for _, r := range replacements {
		if r.Replacement == categoryID {
			ids = append(ids, r.Original)
		}
	}
	return ids
}
