package http

import (
	"net/http"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/log"
	"moneta/internal/storage"
)

const toolWeb = "web"

func (s *Server) handleExpenseList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	offset, count := pageWindow(r)

	expenses, err := s.repo.RelevantExpenses(r.Context(), uid, count, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	children, err := s.repo.ChildrenByExpenseIDs(r.Context(), uid, expenseIDs(expenses))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, core.RenderExpenses(uid, expenses,
		children.Transactions, children.Categories, children.Receipts, children.Events))
}

func (s *Server) handleExpenseGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.renderExpense(w, r, userID(r), id)
}

func (s *Server) handleExpenseQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := readBody[QueryRequest](w, r)
	if !ok {
		return
	}
	p, err := req.toParams(int64(s.cfg.MaxRowsPerPage))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	uid := userID(r)

	expenses, filtered, err := s.repo.QueryExpenses(r.Context(), uid, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	children, err := s.repo.ChildrenByExpenseIDs(r.Context(), uid, expenseIDs(expenses))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Query results follow the requested sort order, not id order, so the
	// children are picked out per expense instead of merge-joined.
	records := make([]core.RenderedExpense, 0, len(expenses))
	for _, e := range expenses {
		records = append(records, core.FilterAndRender(uid, e,
			children.Transactions, children.Categories, children.Receipts, children.Events))
	}
	s.writeJSON(w, r, QueryResponse[core.RenderedExpense]{
		Records:             records,
		FilteredRecordCount: filtered,
		TotalRecordCount:    totalFor(p, filtered),
	})
}

func (s *Server) handleExpenseInfo(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	total, err := s.repo.ExpenseCount(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stores, err := s.repo.StoreHints(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, InfoResponse{
		TotalRecordCount: total,
		FilterHints:      map[string][]string{"store": stores},
	})
}

func (s *Server) handleExpenseCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := readBody[ExpenseUpsertRequest](w, r)
	if !ok {
		return
	}
	uid := userID(r)

	in := req.toInput()
	if err := in.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.repo.CreateExpense(r.Context(), webActor(uid), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.publishExpenseEvent(r, id, uid, core.EventCreate)
	s.renderExpense(w, r, uid, id)
}

func (s *Server) handleExpenseUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := readBody[ExpenseUpsertRequest](w, r)
	if !ok {
		return
	}
	uid := userID(r)

	// Reachability gate: the update only goes through when the viewer can
	// see the expense in the first place.
	if _, err := s.repo.RelevantExpenseByID(r.Context(), uid, id); err != nil {
		s.fail(w, r, err)
		return
	}

	in := req.toInput()
	if err := in.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.repo.UpdateExpense(r.Context(), webActor(uid), id, in); err != nil {
		s.fail(w, r, err)
		return
	}
	s.publishExpenseEvent(r, id, uid, core.EventModify)
	s.renderExpense(w, r, uid, id)
}

func (s *Server) handleExpenseDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	uid := userID(r)

	if _, err := s.repo.RelevantExpenseByID(r.Context(), uid, id); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.repo.DeleteExpense(r.Context(), webActor(uid), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.publishExpenseEvent(r, id, uid, core.EventDelete)
	w.WriteHeader(http.StatusOK)
}

// renderExpense loads an expense with its children through the viewer's
// perspective and writes the rendered form.
func (s *Server) renderExpense(w http.ResponseWriter, r *http.Request, uid, id int64) {
	e, err := s.repo.RelevantExpenseByID(r.Context(), uid, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	children, err := s.repo.ChildrenByExpenseIDs(r.Context(), uid, []int64{id})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, core.RenderExpense(uid, e,
		children.Transactions, children.Categories, children.Receipts, children.Events))
}

// publishExpenseEvent fans a mutation out to the event queue. Publishing is
// best effort: the mutation is already committed, so a broker hiccup is
// logged and the request still succeeds.
func (s *Server) publishExpenseEvent(r *http.Request, expenseID, uid int64, typ core.ExpenseEventType) {
	if s.publisher == nil {
		return
	}
	msg := amqp.NewExpenseEventMessage(expenseID, &uid, toolWeb, typ)
	if err := s.publisher.PublishExpenseEvent(r.Context(), s.cfg.AMQPEventQueue, msg); err != nil {
		s.logger.WarnContext(r.Context(), "publish expense event failed",
			log.FieldError, err, log.FieldExpenseID, expenseID)
	}
}

func webActor(uid int64) storage.EventActor {
	return storage.EventActor{UserID: &uid, Tool: toolWeb}
}

func expenseIDs(expenses []core.Expense) []int64 {
	ids := make([]int64, 0, len(expenses))
	for _, e := range expenses {
		ids = append(ids, e.ID)
	}
	return ids
}
