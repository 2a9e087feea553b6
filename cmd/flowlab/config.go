package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/internal/scheduler"
)

// Store backends.
const (
	storeLibSQL = "libsql"
	storeMemory = "memory"
)

// Config holds all flowlab configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string         `json:"db_path"`
	LogLevel        string         `json:"log_level"`
	PoolSize        int            `json:"pool_size"`
	Store           string         `json:"store"`
	SnapshotTTL     string         `json:"snapshot_ttl"`
	JanitorSchedule string         `json:"janitor_schedule"`
	Quota           map[string]any `json:"quota,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(flowlabDir(), "flowlab.db"),
		LogLevel:        "info",
		PoolSize:        8,
		Store:           storeLibSQL,
		SnapshotTTL:     scheduler.DefaultTTL.String(),
		JanitorSchedule: scheduler.DefaultSchedule,
	}
}

func flowlabDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowlab"
	}
	return filepath.Join(home, ".flowlab")
}

func settingsPath() string {
	return filepath.Join(flowlabDir(), "settings.json")
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWLAB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWLAB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWLAB_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("FLOWLAB_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("FLOWLAB_SNAPSHOT_TTL"); v != "" {
		cfg.SnapshotTTL = v
	}
	if v := os.Getenv("FLOWLAB_JANITOR_SCHEDULE"); v != "" {
		cfg.JanitorSchedule = v
	}
	if v := os.Getenv("FLOWLAB_QUOTA"); v != "" {
		q, err := parseQuotaList(v)
		if err != nil {
			return cfg, err
		}
		cfg.Quota = q
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store {
	case storeLibSQL, storeMemory:
	default:
		return fmt.Errorf("store must be %q or %q, got %q", storeLibSQL, storeMemory, c.Store)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if _, err := c.snapshotTTL(); err != nil {
		return err
	}
	if _, err := c.shapeQuota(); err != nil {
		return err
	}
	return nil
}

func (c Config) snapshotTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.SnapshotTTL)
	if err != nil {
		return 0, fmt.Errorf("snapshot_ttl: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("snapshot_ttl must be positive, got %s", c.SnapshotTTL)
	}
	return d, nil
}

func (c Config) shapeQuota() (graph.ShapeQuota, error) {
	if len(c.Quota) == 0 {
		return nil, nil
	}
	return graph.ParseShapeQuota(c.Quota)
}

// libsqlDSN turns a plain path into the file URI the driver expects.
func (c Config) libsqlDSN() string {
	if strings.Contains(c.DBPath, ":") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

// parseQuotaList parses "if=3,output=5".
func parseQuotaList(s string) (map[string]any, error) {
	out := make(map[string]any)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, limit, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("quota entry %q: want kind=limit", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(limit))
		if err != nil {
			return nil, fmt.Errorf("quota entry %q: %w", part, err)
		}
		out[strings.TrimSpace(kind)] = n
	}
	return out, nil
}
