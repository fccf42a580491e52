package server

import (
	"log/slog"
	"net/http"

	"github.com/thinkscotty/newsroom/internal/auth"
	"github.com/thinkscotty/newsroom/internal/models"
)

func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	dates, err := s.deps.Digests.ListDates(r.Context())
	if err != nil {
		storeError(w, "list digests", err)
		return
	}
	jsonResponse(w, map[string]any{"dates": dates})
}

func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if date == "latest" {
		dates, err := s.deps.Digests.ListDates(r.Context())
		if err != nil {
			storeError(w, "list digests", err)
			return
		}
		if len(dates) == 0 {
			jsonError(w, "No digests yet", http.StatusNotFound)
			return
		}
		date = dates[0]
	}
	if !models.ValidDate(date) {
		jsonError(w, "Date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	digest, ok, err := s.deps.Digests.GetDigest(r.Context(), date)
	if err != nil {
		storeError(w, "get digest", err)
		return
	}
	if !ok {
		jsonError(w, "No digest for "+date, http.StatusNotFound)
		return
	}
	jsonResponse(w, digest)
}

type visitRequest struct {
	SessionKey string `json:"session_key"`
}

// handleRecordVisit counts today's visit. Clients without their own key get
// one in a long-lived cookie.
func (s *Server) handleRecordVisit(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := req.SessionKey
	if key == "" {
		if c, err := r.Cookie(visitorCookie); err == nil {
			key = c.Value
		}
	}
	if key == "" {
		token, err := auth.GenerateToken()
		if err != nil {
			slog.Error("Failed to generate visitor key", "error", err)
			jsonError(w, "Internal error", http.StatusInternalServerError)
			return
		}
		key = token
		http.SetCookie(w, &http.Cookie{
			Name:     visitorCookie,
			Value:    key,
			Path:     "/",
			HttpOnly: true,
			Secure:   isHTTPS(r),
			SameSite: http.SameSiteLaxMode,
			MaxAge:   365 * 24 * 60 * 60,
		})
	}

	date := s.deps.Visits.Today()
	counted, err := s.deps.Visits.RecordVisit(r.Context(), date, key)
	if err != nil {
		storeError(w, "record visit", err)
		return
	}
	jsonResponse(w, map[string]any{"date": date, "counted": counted})
}
