package http

import (
	"fmt"
	"net/http"

	"moneta/internal/core"
)

// viewerReplacements narrows the full replacement table down to one user.
func viewerReplacements(all []core.CategoryReplacement, uid int64) []core.CategoryReplacement {
	own := make([]core.CategoryReplacement, 0, len(all))
	for _, cr := range all {
		if cr.UserID == uid {
			own = append(own, cr)
		}
	}
	return own
}

func (s *Server) handleCategoryList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	offset, count := pageWindow(r)
	cacheKey := fmt.Sprintf("categories:%d:%d:%d", uid, offset, count)

	if rendered, ok := s.categoriesCache.Get(cacheKey); ok {
		s.writeJSON(w, r, rendered)
		return
	}

	categories, err := s.repo.Categories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	replacements, err := s.repo.CategoryReplacements(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	replacements = viewerReplacements(replacements, uid)

	rendered := make([]core.RenderedCategory, 0, len(categories))
	for _, c := range categories {
		rendered = append(rendered, core.RenderCategory(c, replacements))
	}
	rendered = window(rendered, offset, count)

	s.categoriesCache.Set(cacheKey, rendered)
	s.writeJSON(w, r, rendered)
}

func (s *Server) handleCategoryGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.repo.CategoryByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	replacements, err := s.repo.CategoryReplacements(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, core.RenderCategory(c, viewerReplacements(replacements, userID(r))))
}
