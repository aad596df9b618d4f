package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"moneta/internal/cache"
)

const sessionCookie = "moneta_session"

// sessionStore keeps login tokens in memory. Tokens expire after the
// configured TTL or when the server restarts; clients just log in again.
type sessionStore struct {
	tokens *cache.LRU[int64]
	ttl    time.Duration
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		tokens: cache.NewLRU[int64](4096, ttl),
		ttl:    ttl,
	}
}

// Create mints a token for the user and returns it.
func (s *sessionStore) Create(uid int64) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)
	s.tokens.Set(token, uid)
	return token, nil
}

func (s *sessionStore) Lookup(token string) (int64, bool) {
	return s.tokens.Get(token)
}

func (s *sessionStore) Destroy(token string) {
	s.tokens.Delete(token)
}

func (s *sessionStore) cookie(token string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
