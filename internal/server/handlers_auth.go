package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/thinkscotty/newsroom/internal/auth"
)

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	token, err := s.deps.Gate.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrNoPassword):
		jsonError(w, "Admin access is disabled", http.StatusForbidden)
		return
	case errors.Is(err, auth.ErrInvalidPassword):
		slog.Debug("Login failed: wrong password", "remote", r.RemoteAddr)
		jsonError(w, "Invalid password", http.StatusUnauthorized)
		return
	case err != nil:
		slog.Error("Failed to create session", "error", err)
		jsonError(w, "Internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("Admin logged in", "remote", r.RemoteAddr)
	jsonResponse(w, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		s.deps.Gate.Logout(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}
