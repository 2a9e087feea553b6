// Package scheduler runs the snapshot janitor on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

// DefaultSchedule purges every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

// DefaultTTL is how long an idle interactive snapshot is kept.
const DefaultTTL = 24 * time.Hour

// janitorSessionID tags janitor events on the hub.
const janitorSessionID = "janitor"

// SnapshotPurger is the part of store.Store the janitor needs.
type SnapshotPurger interface {
	PurgeSnapshots(ctx context.Context, olderThan time.Time) (int64, error)
}

// Janitor periodically deletes interactive execution snapshots that have not
// been touched for longer than the TTL.
type Janitor struct {
	store    SnapshotPurger
	hub      streaming.EventHub
	logger   *slog.Logger
	schedule cron.Schedule
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithHub publishes snapshots_purged events on hub.
func WithHub(hub streaming.EventHub) Option {
	return func(j *Janitor) { j.hub = hub }
}

// WithLogger sets the janitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// Parser accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 5m".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewJanitor creates a Janitor. An empty spec uses DefaultSchedule and a
// non-positive ttl uses DefaultTTL.
func NewJanitor(s SnapshotPurger, spec string, ttl time.Duration, opts ...Option) (*Janitor, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := Parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse cron expression %q", spec).WithCause(err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	j := &Janitor{
		store:    s,
		hub:      streaming.Nop{},
		logger:   slog.Default(),
		schedule: schedule,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

// Start launches the background loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.done != nil {
		j.mu.Unlock()
		return fmt.Errorf("janitor already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.mu.Unlock()

	go j.loop(loopCtx)
	j.logger.Info("janitor started", slog.Duration("ttl", j.ttl))
	return nil
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)
	for {
		now := j.now()
		wait := j.NextRun(now).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("snapshot purge failed", slog.String("error", err.Error()))
			}
		}
	}
}

// NextRun returns the first scheduled run after from.
func (j *Janitor) NextRun(from time.Time) time.Time {
	return j.schedule.Next(from)
}

// RunOnce purges stale snapshots now. Overlapping runs are skipped and
// report zero.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	if !j.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer j.running.Store(false)

	cutoff := j.now().Add(-j.ttl)
	n, err := j.store.PurgeSnapshots(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info("purged stale snapshots", slog.Int64("count", n), slog.Time("cutoff", cutoff))
		_ = j.hub.Publish(ctx, streaming.StreamEvent{
			SessionID: janitorSessionID,
			EventType: schema.EventSnapshotsPurged,
			Payload:   map[string]any{"count": n, "cutoff": cutoff.Format(time.RFC3339)},
		})
	}
	return n, nil
}

// Stop shuts the loop down and waits for it to exit.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel == nil {
		return nil
	}
	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil

	j.logger.Info("janitor stopped")
	return nil
}
