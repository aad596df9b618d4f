package http

import (
	"net/http"

	"moneta/internal/core"
	"moneta/internal/storage"
)

func (s *Server) handleBalanceList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	offset, count := pageWindow(r)

	views, err := s.repo.RelevantBalances(r.Context(), uid, count, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, renderBalances(views))
}

func (s *Server) handleBalanceGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := s.repo.RelevantBalanceByID(r.Context(), userID(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, core.RenderBalance(v.Balance, v.Perspective))
}

func (s *Server) handleBalanceQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := readBody[QueryRequest](w, r)
	if !ok {
		return
	}
	p, err := req.toParams(int64(s.cfg.MaxRowsPerPage))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	views, filtered, err := s.repo.QueryBalances(r.Context(), userID(r), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, QueryResponse[core.RenderedBalance]{
		Records:             renderBalances(views),
		FilteredRecordCount: filtered,
		TotalRecordCount:    totalFor(p, filtered),
	})
}

func (s *Server) handleBalanceInfo(w http.ResponseWriter, r *http.Request) {
	total, err := s.repo.BalanceCount(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, InfoResponse{
		TotalRecordCount: total,
		FilterHints:      map[string][]string{},
	})
}

func (s *Server) handleBalanceCreate(w http.ResponseWriter, r *http.Request) {
	b, ok := readBody[core.Balance](w, r)
	if !ok {
		return
	}
	uid := userID(r)

	// The viewer may only record balances against accounts they can see:
	// their own, or one synchronized to them.
	a, err := s.repo.AccountByID(r.Context(), b.AccountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !accountReachable(a, uid) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	id, err := s.repo.CreateBalance(r.Context(), b)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.repo.RelevantBalanceByID(r.Context(), uid, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, core.RenderBalance(v.Balance, v.Perspective))
}

func accountReachable(a storage.AccountWithSync, uid int64) bool {
	if a.Account.UserID == uid {
		return true
	}
	sync := a.Synchronization
	return sync != nil && (sync.User1 == uid || sync.User2 == uid)
}

func renderBalances(views []storage.BalanceView) []core.RenderedBalance {
	rendered := make([]core.RenderedBalance, 0, len(views))
	for _, v := range views {
		rendered = append(rendered, core.RenderBalance(v.Balance, v.Perspective))
	}
	return rendered
}
