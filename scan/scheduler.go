package scan

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TriggerPoller is one poll of the external command feed. Implemented by
// commands.Poller.
type TriggerPoller interface {
	Poll(ctx context.Context) (bool, error)
}

// Config configures the scheduler.
type Config struct {
	// Interval is the periodic scan cadence. Default: 5 minutes.
	Interval time.Duration
	// PollInterval is how often the command feed is polled. Default: 15s.
	PollInterval time.Duration
	// RetryDelay is the fixed backoff after a failed feed poll. Default: 30s.
	RetryDelay time.Duration
	// MaxPages caps catalog pagination per scan. Default: 10.
	MaxPages int
	// ImageDir is the scratch root for gallery downloads.
	// Default: <tmp>/finca-images.
	ImageDir string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
	if c.ImageDir == "" {
		c.ImageDir = defaultImageDir()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler owns the scan gate and its two trigger sources: a periodic
// ticker and an optional command-feed poller. At most one scan occupies
// Paging/Extracting/Finalizing at any instant; a trigger arriving while a
// scan is active is dropped, not queued; the next tick or command
// re-triggers naturally.
type Scheduler struct {
	cfg    Config
	run    *runner
	poller TriggerPoller
	log    *slog.Logger

	gate  atomic.Bool
	state atomic.Int32

	mu      sync.Mutex
	baseCtx context.Context
	last    *Summary

	wg sync.WaitGroup
}

// New creates a Scheduler. poller may be nil when no command feed is
// configured; the periodic trigger still runs.
func New(deps Deps, poller TriggerPoller, cfg Config) (*Scheduler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.defaults()
	return &Scheduler{
		cfg: cfg,
		run: &runner{
			deps:     deps,
			maxPages: cfg.MaxPages,
			imageDir: cfg.ImageDir,
			log:      cfg.Logger,
		},
		poller: poller,
		log:    cfg.Logger,
	}, nil
}

// Run starts both triggers and blocks until ctx is cancelled, then waits
// for any in-flight scan to drain. A scan is attempted immediately on
// start.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.poller != nil {
		s.wg.Add(1)
		go s.pollLoop(ctx)
	}

	s.Trigger("startup")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Closing baseCtx under the mutex fences out late triggers,
			// so no wg.Add can race the Wait below.
			s.mu.Lock()
			s.baseCtx = nil
			s.mu.Unlock()
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Trigger("interval")
		}
	}
}

// pollLoop polls the command feed on a fixed cadence, backing off for
// RetryDelay after an error instead of terminating.
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		delay := s.cfg.PollInterval
		triggered, err := s.poller.Poll(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("scan: command poll failed", "error", err)
			delay = s.cfg.RetryDelay
		case triggered:
			s.Trigger("command")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Trigger attempts to start a scan, returning whether it was admitted.
// A false return means a scan was already active (or the scheduler is
// not running) and this trigger was dropped.
func (s *Scheduler) Trigger(reason string) bool {
	s.mu.Lock()
	ctx := s.baseCtx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}

	if !s.gate.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.log.Debug("scan: trigger dropped, scan active", "trigger", reason)
		return false
	}

	// Add happens under the mutex so Run's shutdown Wait cannot start
	// between the admission check and the worker registration.
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer s.gate.Store(false)
		sum := s.run.run(ctx, reason, s.setState)
		s.mu.Lock()
		s.last = sum
		s.mu.Unlock()
	}()
	return true
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// State reports the current scan phase; StateIdle when no scan is active.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Active reports whether a scan currently holds the gate.
func (s *Scheduler) Active() bool { return s.gate.Load() }

// LastSummary returns the most recent completed run, or nil before the
// first one finishes.
func (s *Scheduler) LastSummary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
