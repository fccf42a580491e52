package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thinkscotty/newsroom/internal/ai"
	"github.com/thinkscotty/newsroom/internal/auth"
	"github.com/thinkscotty/newsroom/internal/collector"
	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/database"
	"github.com/thinkscotty/newsroom/internal/dedup"
	"github.com/thinkscotty/newsroom/internal/docstore"
	"github.com/thinkscotty/newsroom/internal/feeds"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/pipeline"
	"github.com/thinkscotty/newsroom/internal/retry"
	"github.com/thinkscotty/newsroom/internal/scheduler"
	"github.com/thinkscotty/newsroom/internal/server"
	"github.com/thinkscotty/newsroom/internal/stats"
	"github.com/thinkscotty/newsroom/internal/summarizer"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	once := flag.Bool("once", false, "Run one ingestion, print the report and exit")
	date := flag.String("date", "", "Date (YYYY-MM-DD) for -once; defaults to today")
	hashPassword := flag.String("hash-password", "", "Print the bcrypt hash of a password for admin.password and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("newsroom %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	slog.Info("Starting newsroom", "version", version, "store", cfg.Store.Type, "ai", cfg.AI.Provider)

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("Failed to open document store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	provider, err := ai.New(ai.Config{
		Provider:     cfg.AI.Provider,
		GeminiAPIKey: cfg.AI.GeminiAPIKey,
		GeminiModel:  cfg.AI.GeminiModel,
		GeminiURL:    cfg.AI.GeminiURL,
		OllamaURL:    cfg.AI.OllamaURL,
		OllamaModel:  cfg.AI.OllamaModel,
		Timeout:      config.Seconds(cfg.AI.TimeoutSeconds),
	})
	if err != nil {
		slog.Error("Failed to set up AI provider", "error", err)
		os.Exit(1)
	}
	if pinger, ok := provider.(interface{ Ping(context.Context) error }); ok {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := pinger.Ping(pingCtx); err != nil {
			slog.Warn("AI provider not reachable yet", "provider", provider.Name(), "error", err)
		}
		cancel()
	}

	loc := cfg.Location()
	coll := collector.New(collector.Options{
		Concurrency:    cfg.Collector.Concurrency,
		RequestTimeout: config.Seconds(cfg.Collector.TimeoutSeconds),
		Retry: retry.Policy{
			MaxAttempts: cfg.Collector.MaxAttempts,
			BaseDelay:   2 * time.Second,
			MaxDelay:    20 * time.Second,
			Multiplier:  2,
			Jitter:      0.2,
		},
		HostInterval: time.Duration(cfg.Collector.HostIntervalMillis) * time.Millisecond,
		UserAgent:    cfg.Collector.UserAgent,
		MaxExcerpt:   cfg.Collector.MaxExcerpt,
	})
	sum := summarizer.New(provider, summarizer.Options{
		ChunkSize:      cfg.Summarizer.ChunkSize,
		CallTimeout:    config.Seconds(cfg.Summarizer.CallTimeoutSeconds),
		MaxRetries:     cfg.Summarizer.MaxRetries,
		Concurrency:    cfg.Summarizer.Concurrency,
		NarrativeItems: cfg.Summarizer.NarrativeItems,
		Language:       cfg.Summarizer.Language,
	})

	publish := docstore.DefaultConflictPolicy()
	publish.MaxAttempts = cfg.Pipeline.PublishAttempts
	pipe := pipeline.New(store, coll, dedup.New(cfg.Dedup.TitleThreshold), sum, pipeline.Options{
		Window:        time.Duration(cfg.Collector.WindowHours) * time.Hour,
		RetentionDays: cfg.Archive.RetentionDays,
		Location:      loc,
		ArchiveKey:    cfg.Store.ArchiveKey,
		Publish:       publish,
	})

	registry := feeds.New(store, feeds.Options{
		Key:       cfg.Store.FeedsKey,
		Defaults:  cfg.DefaultFeeds(),
		Validator: coll,
	})
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), time.Minute)
	if err := registry.EnsureDefaults(bootCtx); err != nil {
		slog.Error("Failed to initialize feed list", "error", err)
		os.Exit(1)
	}
	cancelBoot()

	sched := scheduler.New(pipe, registry, scheduler.Options{
		Schedule:   cfg.Scheduler.Schedule,
		RunOnStart: cfg.Scheduler.RunOnStart,
		Location:   loc,
		RunTimeout: time.Duration(cfg.Scheduler.RunTimeoutMinutes) * time.Minute,
	})

	if *once {
		code := runOnce(sched, *date)
		closeStore()
		os.Exit(code)
	}

	visits := stats.New(store, stats.Options{
		Key:              cfg.Store.StatsKey,
		SessionRetention: cfg.Stats.SessionRetentionDays,
		SeenCacheSize:    cfg.Stats.SeenCacheSize,
		Location:         loc,
	})
	gate := auth.NewGate(cfg.Admin.Password, time.Duration(cfg.Admin.SessionTTLHours)*time.Hour, cfg.Admin.MaxSessions)
	if !gate.Enabled() {
		slog.Warn("No admin password configured, admin API disabled")
	}

	srv := server.New(cfg.Server, server.Deps{
		Digests:   pipe,
		Visits:    visits,
		Runs:      sched,
		Feeds:     registry,
		Validator: coll,
		Gate:      gate,
	}, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Scheduler.Enabled {
		go func() {
			if err := sched.Run(ctx); err != nil {
				slog.Error("Scheduler error", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("Shutting down...", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

// openStore builds the configured backend behind the read cache. The returned
// func releases the backend.
func openStore(cfg config.StoreConfig) (docstore.Store, func(), error) {
	var backend docstore.Store
	closeFn := func() {}

	switch cfg.Type {
	case "github":
		gh := cfg.GitHub
		backend = docstore.NewGitHubStore(docstore.GitHubConfig{
			BaseURL:      gh.BaseURL,
			Owner:        gh.Owner,
			Repo:         gh.Repo,
			Branch:       gh.Branch,
			Token:        gh.Token,
			Dir:          gh.Dir,
			CommitPrefix: gh.CommitPrefix,
			Timeout:      config.Seconds(gh.TimeoutSeconds),
			Retry: retry.Policy{
				MaxAttempts: gh.MaxAttempts,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
				Multiplier:  2,
				Jitter:      0.2,
			},
		})
		slog.Info("Using GitHub document store", "repo", gh.Owner+"/"+gh.Repo, "branch", gh.Branch)
	case "sqlite":
		db, err := database.New(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		backend = db
		closeFn = func() { db.Close() }
		slog.Info("Using SQLite document store", "path", cfg.SQLite.Path)
	case "memory":
		backend = docstore.NewMemoryStore()
		slog.Warn("Using in-memory document store, nothing survives a restart")
	default:
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}

	if cfg.CacheSize <= 0 {
		return backend, closeFn, nil
	}
	return docstore.NewCached(backend, cfg.CacheSize, config.Seconds(cfg.CacheTTLSeconds)), closeFn, nil
}

func runOnce(sched *scheduler.Scheduler, date string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := sched.Trigger(ctx, date)
	if err != nil {
		slog.Error("Ingestion did not run", "error", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(report)
	if report.Status == models.RunFailed {
		return 1
	}
	return 0
}
