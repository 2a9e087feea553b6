package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// cmdInit writes ~/.flowlab/settings.json from flags.
func cmdInit(args []string, stdout, stderr io.Writer) int {
	def := defaultConfig()
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db-path", "", "database path (default: ~/.flowlab/flowlab.db)")
	logLevel := fs.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	poolSize := fs.Int("pool-size", def.PoolSize, "grading worker pool size")
	storeKind := fs.String("store", def.Store, "store backend: libsql or memory")
	ttl := fs.String("snapshot-ttl", def.SnapshotTTL, "age after which execution snapshots are purged")
	schedule := fs.String("janitor-schedule", def.JanitorSchedule, "cron schedule of the snapshot janitor")
	quota := fs.String("quota", "", "shape quota, e.g. if=3,output=5")
	force := fs.Bool("force", false, "overwrite an existing settings file")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	dir := flowlabDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fail(stderr, "cannot create %s: %v", dir, err)
	}
	path := settingsPath()
	if _, err := os.Stat(path); err == nil && !*force {
		return fail(stderr, "%s already exists (use -force to overwrite)", path)
	}

	cfg := Config{
		DBPath:          *dbPath,
		LogLevel:        *logLevel,
		PoolSize:        *poolSize,
		Store:           *storeKind,
		SnapshotTTL:     *ttl,
		JanitorSchedule: *schedule,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(dir, "flowlab.db")
	}
	if *quota != "" {
		q, err := parseQuotaList(*quota)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		cfg.Quota = q
	}
	if err := cfg.validate(); err != nil {
		return fail(stderr, "%v", err)
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fail(stderr, "cannot write %s: %v", path, err)
	}
	fmt.Fprintf(stdout, "Config written to %s\n", path)
	return exitOK
}
