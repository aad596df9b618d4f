package http

import (
	"errors"
	"net/http"

	"moneta/internal/auth"
	"moneta/internal/log"
	"moneta/internal/storage"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	login, ok := readBody[LoginData](w, r)
	if !ok {
		return
	}

	u, err := s.repo.UserByName(r.Context(), login.UserName)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.WarnContext(r.Context(), "login attempt with unknown username", "username", login.UserName)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if !auth.VerifyPassword(login.Password, u.Hash) {
		s.logger.WarnContext(r.Context(), "login attempt with wrong password", "username", login.UserName)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := s.sessions.Create(u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "successful login", "username", u.Name, log.FieldUserID, u.ID)
	http.SetCookie(w, s.sessions.cookie(token, int(s.cfg.SessionTTL.Seconds())))
	s.writeJSON(w, r, newUserInfo(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.Destroy(cookie.Value)
	}
	http.SetCookie(w, s.sessions.cookie("", -1))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	u, err := s.repo.UserByID(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, newUserInfo(u))
}

func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := s.repo.Users(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	infos := make([]UserInfo, len(users))
	for i, u := range users {
		infos[i] = newUserInfo(u)
	}
	s.writeJSON(w, r, infos)
}
