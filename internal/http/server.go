// Package http serves the JSON API: session auth, account and category
// listings, balance and expense queries, and expense mutations.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"moneta/internal/amqp"
	"moneta/internal/cache"
	"moneta/internal/config"
	"moneta/internal/core"
	"moneta/internal/log"
	"moneta/internal/storage"
)

const listingCacheTTL = 5 * time.Minute

// EventPublisher fans expense mutations out to interested consumers. A nil
// publisher disables fan-out.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, queue string, msg *amqp.ExpenseEventMessage) error
}

type Server struct {
	http.Server

	repo        *storage.Repository
	cfg         config.Config
	logger      *log.Logger
	sessions    *sessionStore
	rateLimiter *rateLimiter
	publisher   EventPublisher

	// Accounts and categories have no mutating endpoints, so short TTLs are
	// the only invalidation these caches need.
	accountsCache   *cache.LRU[[]core.RenderedAccount]
	categoriesCache *cache.LRU[[]core.RenderedCategory]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and returns a ready-to-run server. publisher
// may be nil.
func NewServer(cfg config.Config, repo *storage.Repository, publisher EventPublisher, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		repo:             repo,
		cfg:              cfg,
		logger:           logger.WithComponent(log.ComponentHTTP),
		sessions:         newSessionStore(cfg.SessionTTL),
		rateLimiter:      newRateLimiter(60),
		publisher:        publisher,
		accountsCache:    cache.NewLRU[[]core.RenderedAccount](64, listingCacheTTL),
		categoriesCache:  cache.NewLRU[[]core.RenderedCategory](64, listingCacheTTL),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/user/login", s.withMiddleware(s.handleLogin))
	mux.HandleFunc("GET /api/user/logout", s.withMiddleware(s.handleLogout))
	mux.HandleFunc("GET /api/user", s.requireUser(s.handleUserInfo))
	mux.HandleFunc("GET /api/user/list", s.requireUser(s.handleUserList))

	mux.HandleFunc("GET /api/accounts", s.requireUser(s.handleAccountList))
	mux.HandleFunc("GET /api/accounts/{id}", s.requireUser(s.handleAccountGet))

	mux.HandleFunc("GET /api/categories", s.requireUser(s.handleCategoryList))
	mux.HandleFunc("GET /api/categories/{id}", s.requireUser(s.handleCategoryGet))

	mux.HandleFunc("GET /api/balances", s.requireUser(s.handleBalanceList))
	mux.HandleFunc("GET /api/balances/info", s.requireUser(s.handleBalanceInfo))
	mux.HandleFunc("GET /api/balances/{id}", s.requireUser(s.handleBalanceGet))
	mux.HandleFunc("POST /api/balances/query", s.requireUser(s.handleBalanceQuery))
	mux.HandleFunc("POST /api/balances", s.requireUser(s.handleBalanceCreate))

	mux.HandleFunc("GET /api/expenses", s.requireUser(s.handleExpenseList))
	mux.HandleFunc("GET /api/expenses/info", s.requireUser(s.handleExpenseInfo))
	mux.HandleFunc("GET /api/expenses/{id}", s.requireUser(s.handleExpenseGet))
	mux.HandleFunc("POST /api/expenses/query", s.requireUser(s.handleExpenseQuery))
	mux.HandleFunc("POST /api/expenses", s.requireUser(s.handleExpenseCreate))
	mux.HandleFunc("PUT /api/expenses/{id}", s.requireUser(s.handleExpenseUpdate))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.requireUser(s.handleExpenseDelete))

	return s
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := s.accountsCache.CleanExpired() + s.categoriesCache.CleanExpired()
			if cleaned > 0 {
				s.logger.Debug("cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the background janitors and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.repo.Users(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// writeJSON sends v with status 200.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "encode response failed", log.FieldError, err)
	}
}

// fail maps storage errors onto status codes and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrBadQuery):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.ErrorContext(r.Context(), "request failed", log.FieldError, err, log.FieldPath, r.URL.Path)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func readBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return v, false
	}
	return v, true
}

// pathID parses the {id} path segment.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// pageWindow reads the optional offset/count query parameters of the plain
// list endpoints.
func pageWindow(r *http.Request) (offset, count int64) {
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			count = n
		}
	}
	return offset, count
}
