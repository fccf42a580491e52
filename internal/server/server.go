// Package server exposes digests, visit counting and the admin API over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thinkscotty/newsroom/internal/auth"
	"github.com/thinkscotty/newsroom/internal/collector"
	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/models"
)

const (
	sessionCookie = "newsroom_session"
	visitorCookie = "newsroom_visitor"
)

// Digests reads published digests.
type Digests interface {
	GetDigest(ctx context.Context, date string) (models.DailyDigest, bool, error)
	ListDates(ctx context.Context) ([]string, error)
}

// Visits counts unique visitors.
type Visits interface {
	RecordVisit(ctx context.Context, date, sessionKey string) (bool, error)
	Get(ctx context.Context) (models.VisitorStats, error)
	Today() string
}

// Runs starts ingestion runs on demand.
type Runs interface {
	Trigger(ctx context.Context, date string) (*models.RunReport, error)
	LastReport() *models.RunReport
}

// Feeds edits the feed registry.
type Feeds interface {
	List(ctx context.Context) ([]models.FeedSource, error)
	Upsert(ctx context.Context, f models.FeedSource) (models.FeedSource, error)
	Remove(ctx context.Context, name string) error
}

// FeedValidator checks a feed URL without saving it.
type FeedValidator interface {
	Validate(ctx context.Context, rawURL string) collector.ValidationResult
}

// Deps are the components the handlers call into.
type Deps struct {
	Digests   Digests
	Visits    Visits
	Runs      Runs
	Feeds     Feeds
	Validator FeedValidator
	Gate      *auth.Gate
}

type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	version string
	httpSrv *http.Server
}

func New(cfg config.ServerConfig, deps Deps, version string) *Server {
	return &Server{cfg: cfg, deps: deps, version: version}
}

// Handler returns the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return recoveryMiddleware(loggingMiddleware(mux))
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
	}

	slog.Info("Starting server", "addr", addr)
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Public
	mux.HandleFunc("GET /api/digests", s.handleListDigests)
	mux.HandleFunc("GET /api/digests/{date}", s.handleGetDigest)
	mux.HandleFunc("POST /api/visits", s.handleRecordVisit)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	// Admin
	mux.Handle("POST /api/runs", s.requireAdmin(http.HandlerFunc(s.handleRunIngestion)))
	mux.Handle("GET /api/runs/last", s.requireAdmin(http.HandlerFunc(s.handleLastRun)))
	mux.Handle("GET /api/stats", s.requireAdmin(http.HandlerFunc(s.handleStats)))
	mux.Handle("GET /api/feeds", s.requireAdmin(http.HandlerFunc(s.handleListFeeds)))
	mux.Handle("POST /api/feeds", s.requireAdmin(http.HandlerFunc(s.handleUpsertFeed)))
	mux.Handle("DELETE /api/feeds/{name}", s.requireAdmin(http.HandlerFunc(s.handleRemoveFeed)))
	mux.Handle("POST /api/feeds/validate", s.requireAdmin(http.HandlerFunc(s.handleValidateFeed)))
	mux.Handle("GET /api/feeds/suggest", s.requireAdmin(http.HandlerFunc(s.handleSuggestFeeds)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok", "version": s.version})
}
