package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thinkscotty/newsroom/internal/collector"
	"github.com/thinkscotty/newsroom/internal/feeds"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/pipeline"
)

type runRequest struct {
	Date string `json:"date"`
}

// handleRunIngestion runs synchronously and answers with the finished report.
// The run keeps going if the client disconnects.
func (s *Server) handleRunIngestion(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := s.deps.Runs.Trigger(context.WithoutCancel(r.Context()), req.Date)
	switch {
	case errors.Is(err, pipeline.ErrInvalidDate):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, pipeline.ErrRunInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		storeError(w, "run ingestion", err)
		return
	}

	slog.Info("Manual ingestion finished", "run", report.RunID, "status", report.Status)
	jsonResponse(w, report)
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Runs.LastReport()
	if report == nil {
		jsonError(w, "No run yet", http.StatusNotFound)
		return
	}
	jsonResponse(w, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Visits.Get(r.Context())
	if err != nil {
		storeError(w, "get stats", err)
		return
	}
	stats.Sessions = nil
	jsonResponse(w, stats)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Feeds.List(r.Context())
	if err != nil {
		storeError(w, "list feeds", err)
		return
	}
	jsonResponse(w, map[string]any{"feeds": list})
}

func (s *Server) handleUpsertFeed(w http.ResponseWriter, r *http.Request) {
	var f models.FeedSource
	if err := decodeBody(r, &f); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	saved, err := s.deps.Feeds.Upsert(r.Context(), f)
	if errors.Is(err, feeds.ErrInvalidFeed) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		storeError(w, "save feed", err)
		return
	}
	slog.Info("Feed saved", "feed", saved.Name, "url", saved.URL, "enabled", saved.Enabled)
	jsonResponse(w, saved)
}

func (s *Server) handleRemoveFeed(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.deps.Feeds.Remove(r.Context(), name)
	if errors.Is(err, feeds.ErrFeedNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		storeError(w, "remove feed", err)
		return
	}
	slog.Info("Feed removed", "feed", name)
	w.WriteHeader(http.StatusNoContent)
}

type validateRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleValidateFeed(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	url := strings.TrimSpace(req.URL)
	if err := collector.ValidateURL(url); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, s.deps.Validator.Validate(r.Context(), url))
}

func (s *Server) handleSuggestFeeds(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{"feeds": feeds.Suggest(r.URL.Query().Get("q"))})
}
