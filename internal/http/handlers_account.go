package http

import (
	"fmt"
	"net/http"

	"moneta/internal/core"
)

func (s *Server) handleAccountList(w http.ResponseWriter, r *http.Request) {
	offset, count := pageWindow(r)
	cacheKey := fmt.Sprintf("accounts:%d:%d", offset, count)

	if rendered, ok := s.accountsCache.Get(cacheKey); ok {
		s.writeJSON(w, r, rendered)
		return
	}

	accounts, err := s.repo.Accounts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rendered := make([]core.RenderedAccount, 0, len(accounts))
	for _, a := range accounts {
		rendered = append(rendered, core.RenderedAccount{
			Info:            a.Account,
			Synchronization: a.Synchronization,
		})
	}
	rendered = window(rendered, offset, count)

	s.accountsCache.Set(cacheKey, rendered)
	s.writeJSON(w, r, rendered)
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.repo.AccountByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, core.RenderedAccount{
		Info:            a.Account,
		Synchronization: a.Synchronization,
	})
}

// window applies optional offset/count paging to an in-memory listing.
func window[T any](items []T, offset, count int64) []T {
	if offset >= int64(len(items)) {
		return []T{}
	}
	items = items[offset:]
	if count > 0 && count < int64(len(items)) {
		items = items[:count]
	}
	return items
}
