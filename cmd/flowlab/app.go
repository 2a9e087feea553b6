package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/flowlab/internal/engine"
	"github.com/rendis/flowlab/internal/logging"
	"github.com/rendis/flowlab/internal/service"
	"github.com/rendis/flowlab/internal/store"
	"github.com/rendis/flowlab/internal/streaming"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg    Config
	logger *slog.Logger
	store  store.Store
	hub    *streaming.MemoryHub
	pool   *engine.WorkerPool
	svc    *service.Service
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(logging.NewCorrelationHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

// openApp wires store, hub, worker pool and service. storeKind overrides the
// configured backend when non-empty.
func openApp(ctx context.Context, cfg Config, storeKind string, logw io.Writer) (*app, error) {
	logger := newLogger(cfg.LogLevel, logw)
	if storeKind == "" {
		storeKind = cfg.Store
	}

	var st store.Store
	switch storeKind {
	case storeMemory:
		st = store.NewMemoryStore()
	case storeLibSQL:
		if err := os.MkdirAll(dataDirOf(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		ls, err := store.NewLibSQLStore(cfg.libsqlDSN())
		if err != nil {
			return nil, err
		}
		st = ls
	default:
		return nil, fmt.Errorf("unknown store %q", storeKind)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	quota, err := cfg.shapeQuota()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	hub := streaming.NewMemoryHub()
	pool := engine.NewWorkerPool(cfg.PoolSize)
	svc, err := service.New(service.Deps{
		Store:  st,
		Hub:    hub,
		Pool:   pool,
		Quota:  quota,
		Logger: logger,
	})
	if err != nil {
		pool.Shutdown()
		_ = st.Close()
		return nil, err
	}

	logger.Debug("flowlab wired", slog.String("store", storeKind), slog.Int("pool_size", cfg.PoolSize))
	return &app{cfg: cfg, logger: logger, store: st, hub: hub, pool: pool, svc: svc}, nil
}

func (a *app) Close() error {
	a.pool.Shutdown()
	return a.store.Close()
}

// dataDirOf returns the directory holding a database path.
func dataDirOf(dbPath string) string {
	return filepath.Dir(strings.TrimPrefix(dbPath, "file:"))
}
