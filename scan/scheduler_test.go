package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/finca/catalog"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testScheduler(t *testing.T, pager Pager, poller TriggerPoller, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = t.TempDir()
	}
	s, err := New(Deps{
		Pager: pager, Enricher: &fakeEnricher{},
		Ledger: &fakeLedger{}, Saver: &fakeSaver{},
	}, poller, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSchedulerGateDropsConcurrentTrigger(t *testing.T) {
	// WHAT: With a scan active, a second trigger is dropped, not queued;
	// once the scan finishes the gate admits triggers again.
	block := make(chan struct{})
	pager := &fakePager{block: block}
	s := testScheduler(t, pager, nil, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// The startup scan is now parked inside the pager.
	waitFor(t, "startup scan to hold the gate", s.Active)

	if s.Trigger("manual") {
		t.Error("trigger during an active scan must be dropped")
	}

	close(block)
	waitFor(t, "scan to release the gate", func() bool { return !s.Active() })
	if s.LastSummary() == nil {
		t.Fatal("no summary recorded")
	}
	if got := s.LastSummary().Trigger; got != "startup" {
		t.Errorf("trigger = %q, want startup", got)
	}

	// Gate is free again: a fresh trigger is admitted.
	if !s.Trigger("manual") {
		t.Error("trigger after scan completion must be admitted")
	}
	waitFor(t, "manual scan to finish", func() bool {
		return !s.Active() && s.LastSummary().Trigger == "manual"
	})

	cancel()
	<-done
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestSchedulerTriggerBeforeRun(t *testing.T) {
	s := testScheduler(t, &fakePager{}, nil, Config{})
	if s.Trigger("manual") {
		t.Error("trigger before Run must be dropped")
	}
}

func TestSchedulerTriggerAfterShutdown(t *testing.T) {
	// WHAT: Once Run has drained, a late trigger is dropped and no scan
	// goroutine is registered against the finished scheduler.
	pager := &fakePager{}
	s := testScheduler(t, pager, nil, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	waitFor(t, "startup scan to finish", func() bool {
		return !s.Active() && s.LastSummary() != nil
	})

	cancel()
	<-done

	pager.mu.Lock()
	before := pager.calls
	pager.mu.Unlock()
	if s.Trigger("manual") {
		t.Error("trigger after shutdown must be dropped")
	}
	pager.mu.Lock()
	after := pager.calls
	pager.mu.Unlock()
	if after != before {
		t.Errorf("pager called %d times after shutdown, want %d", after, before)
	}
}

type fakePoller struct {
	mu      sync.Mutex
	results []error // errTriggered means "triggered"
	polls   int
}

var errTriggered = errors.New("triggered")

func (p *fakePoller) Poll(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if len(p.results) == 0 {
		return false, nil
	}
	r := p.results[0]
	p.results = p.results[1:]
	switch r {
	case nil:
		return false, nil
	case errTriggered:
		return true, nil
	default:
		return false, r
	}
}

func (p *fakePoller) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func TestSchedulerCommandFeedTriggersScan(t *testing.T) {
	// WHAT: A poll error backs off and the loop keeps going; a later
	// trigger from the feed starts a command scan.
	poller := &fakePoller{results: []error{errors.New("feed down"), errTriggered}}
	s := testScheduler(t, &fakePager{}, poller, Config{
		Interval:     time.Hour,
		PollInterval: 5 * time.Millisecond,
		RetryDelay:   5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	waitFor(t, "command scan to complete", func() bool {
		sum := s.LastSummary()
		return sum != nil && sum.Trigger == "command"
	})
	if poller.pollCount() < 2 {
		t.Errorf("polls = %d, want the loop to survive the error", poller.pollCount())
	}

	cancel()
	<-done
}

func TestSchedulerPeriodicTrigger(t *testing.T) {
	pager := &fakePager{pages: map[int][]*catalog.ListingCard{}}
	s := testScheduler(t, pager, nil, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// Startup plus at least one ticker-driven run.
	waitFor(t, "repeated scans", func() bool {
		pager.mu.Lock()
		defer pager.mu.Unlock()
		return pager.calls >= 2
	})

	cancel()
	<-done
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "idle",
		StatePaging:     "paging",
		StateExtracting: "extracting",
		StateFinalizing: "finalizing",
		State(99):       "unknown",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), want)
		}
	}
}
