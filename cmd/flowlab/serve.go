package main

import (
	"context"
	"flag"
	"io"
	"log/slog"

	"github.com/rendis/flowlab/internal/scheduler"
	"github.com/rendis/flowlab/internal/store"
	"github.com/rendis/flowlab/internal/streaming"
	flowmcp "github.com/rendis/flowlab/pkg/mcp"
)

// cmdServe runs the MCP server over stdio with the snapshot janitor and the
// event recorder attached.
func cmdServe(ctx context.Context, cfg Config, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	storeKind := fs.String("store", "", "store backend: libsql or memory (default: configured)")
	record := fs.Bool("record", true, "persist trace events to the store")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	ttl, err := cfg.snapshotTTL()
	if err != nil {
		return fail(stderr, "%v", err)
	}

	if *storeKind == "" {
		*storeKind = cfg.Store
	}
	a, err := openApp(ctx, cfg, *storeKind, stderr)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if *record {
		events := store.NewEventLog(a.store, a.logger)
		go func() {
			if err := events.Record(ctx, a.hub, streaming.EventFilter{}); err != nil {
				a.logger.Error("event recorder stopped", slog.String("error", err.Error()))
			}
		}()
	}

	janitor, err := scheduler.NewJanitor(a.store, cfg.JanitorSchedule, ttl,
		scheduler.WithHub(a.hub),
		scheduler.WithLogger(a.logger),
	)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if err := janitor.Start(ctx); err != nil {
		return fail(stderr, "%v", err)
	}
	defer janitor.Stop()

	srv := flowmcp.NewServer(flowmcp.ServerDeps{
		Service: a.svc,
		Hub:     a.hub,
		Logger:  a.logger,
	})
	a.logger.Info("flowlab serving on stdio",
		slog.String("store", *storeKind),
		slog.String("janitor_schedule", cfg.JanitorSchedule),
		slog.Duration("snapshot_ttl", ttl),
	)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fail(stderr, "%v", err)
	}
	return exitOK
}
