package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/finca/catalog"
	"github.com/hazyhaar/finca/detail"
	"github.com/hazyhaar/finca/geo"
)

type fakePager struct {
	pages map[int][]*catalog.ListingCard
	err   error
	block chan struct{} // when non-nil, Page waits for close

	mu    sync.Mutex
	calls int
}

func (p *fakePager) Page(ctx context.Context, page int, seen func(string) bool) ([]*catalog.ListingCard, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var out []*catalog.ListingCard
	for _, c := range p.pages[page] {
		if seen == nil || !seen(c.Link) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeEnricher struct {
	results map[string]*detail.Result
	errs    map[string]error
}

func (e *fakeEnricher) Enrich(ctx context.Context, link string) (*detail.Result, error) {
	if err := e.errs[link]; err != nil {
		return nil, err
	}
	if r, ok := e.results[link]; ok {
		return r, nil
	}
	return &detail.Result{}, nil
}

type fakeLedger struct {
	loadErr error

	mu     sync.Mutex
	seen   map[string]bool
	marked []string
}

func (l *fakeLedger) Load(ctx context.Context) error { return l.loadErr }

func (l *fakeLedger) Seen(link string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[link]
}

func (l *fakeLedger) MarkSeen(ctx context.Context, link string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	l.seen[link] = true
	l.marked = append(l.marked, link)
	return nil
}

type fakeSaver struct {
	errFor map[string]error

	mu    sync.Mutex
	saved []*Listing
}

func (s *fakeSaver) Save(ctx context.Context, l *Listing) error {
	if err := s.errFor[l.Link]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, l)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	listings  []string
	summaries int
}

func (n *fakeNotifier) NotifyListing(ctx context.Context, l *Listing) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listings = append(n.listings, l.Link)
	return nil
}

func (n *fakeNotifier) NotifySummary(ctx context.Context, s *Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries++
	return nil
}

type fakeImages struct {
	mu      sync.Mutex
	fetched [][]string
	purged  []string
}

func (f *fakeImages) FetchAll(ctx context.Context, urls []string, dir string) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, urls)
	paths := make([]string, len(urls))
	for i := range urls {
		paths[i] = dir + "/img.jpg"
	}
	return paths, nil, nil
}

func (f *fakeImages) Purge(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, dir)
}

type fakeDescriber struct {
	calls int
	text  string
	err   error
}

func (d *fakeDescriber) Describe(ctx context.Context, paths []string) (string, error) {
	d.calls++
	return d.text, d.err
}

func card(link string) *catalog.ListingCard {
	return &catalog.ListingCard{Link: link, Price: "$ 1.000.000", DiscoveredAt: time.Now()}
}

func testRunner(deps Deps, dir string) *runner {
	return &runner{
		deps:     deps,
		maxPages: 10,
		imageDir: dir,
		log:      slog.New(slog.DiscardHandler),
	}
}

func TestRunPipeline(t *testing.T) {
	// WHAT: A full run pages, extracts, saves, marks seen, and notifies;
	// one listing's extraction failure never aborts the scan.
	coord := &geo.Coordinate{Lat: 4.65, Lng: -74.05}
	pager := &fakePager{pages: map[int][]*catalog.ListingCard{
		1: {card("https://x.test/a"), card("https://x.test/b")},
	}}
	enricher := &fakeEnricher{
		results: map[string]*detail.Result{"https://x.test/a": {Coordinate: coord}},
		errs:    map[string]error{"https://x.test/b": errors.New("map container timeout")},
	}
	ledger := &fakeLedger{}
	saver := &fakeSaver{}
	notifier := &fakeNotifier{}

	r := testRunner(Deps{
		Pager: pager, Enricher: enricher, Ledger: ledger,
		Saver: saver, Notifier: notifier,
	}, t.TempDir())
	sum := r.run(context.Background(), "test", func(State) {})

	if sum.Err != "" {
		t.Fatalf("run error: %s", sum.Err)
	}
	if sum.NewListings != 2 || sum.Saved != 1 || sum.Failed != 1 {
		t.Errorf("summary: new=%d saved=%d failed=%d", sum.NewListings, sum.Saved, sum.Failed)
	}
	if len(saver.saved) != 1 || saver.saved[0].Link != "https://x.test/a" {
		t.Errorf("saved = %+v", saver.saved)
	}
	if saver.saved[0].Geohash == "" {
		t.Error("geohash not derived from coordinate")
	}
	if len(ledger.marked) != 1 || ledger.marked[0] != "https://x.test/a" {
		t.Errorf("marked = %v (failed listings must stay retryable)", ledger.marked)
	}
	if len(notifier.listings) != 1 || notifier.summaries != 1 {
		t.Errorf("notifier: listings=%v summaries=%d", notifier.listings, notifier.summaries)
	}

	var skipped *Outcome
	for i := range sum.Outcomes {
		if sum.Outcomes[i].Status == OutcomeSkipped {
			skipped = &sum.Outcomes[i]
		}
	}
	if skipped == nil || skipped.Link != "https://x.test/b" || skipped.Reason == "" {
		t.Errorf("expected skipped outcome with reason, got %+v", sum.Outcomes)
	}
}

func TestRunPersistsWithoutCoordinates(t *testing.T) {
	// WHAT: A listing with no resolvable location is still persisted,
	// with a partial outcome.
	pager := &fakePager{pages: map[int][]*catalog.ListingCard{1: {card("https://x.test/a")}}}
	enricher := &fakeEnricher{results: map[string]*detail.Result{"https://x.test/a": {}}}
	saver := &fakeSaver{}

	r := testRunner(Deps{Pager: pager, Enricher: enricher, Ledger: &fakeLedger{}, Saver: saver}, t.TempDir())
	sum := r.run(context.Background(), "test", func(State) {})

	if sum.Saved != 1 || len(saver.saved) != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if saver.saved[0].Coordinate != nil || saver.saved[0].Geohash != "" {
		t.Errorf("listing should have no coordinate: %+v", saver.saved[0])
	}
	if len(sum.Outcomes) != 1 || sum.Outcomes[0].Status != OutcomePartial {
		t.Errorf("outcomes = %+v, want one partial", sum.Outcomes)
	}
}

func TestRunLedgerLoadFailureAborts(t *testing.T) {
	// WHY: An unreadable ledger would reprocess every listing ever seen.
	pager := &fakePager{}
	r := testRunner(Deps{
		Pager: pager, Enricher: &fakeEnricher{},
		Ledger: &fakeLedger{loadErr: errors.New("db broken")},
		Saver:  &fakeSaver{},
	}, t.TempDir())
	sum := r.run(context.Background(), "test", func(State) {})

	if sum.Err == "" {
		t.Error("expected summary error")
	}
	if pager.calls != 0 {
		t.Errorf("paging should not run, got %d calls", pager.calls)
	}
}

func TestRunSeenLinksFiltered(t *testing.T) {
	pager := &fakePager{pages: map[int][]*catalog.ListingCard{
		1: {card("https://x.test/old"), card("https://x.test/new")},
	}}
	ledger := &fakeLedger{seen: map[string]bool{"https://x.test/old": true}}
	saver := &fakeSaver{}

	r := testRunner(Deps{Pager: pager, Enricher: &fakeEnricher{}, Ledger: ledger, Saver: saver}, t.TempDir())
	sum := r.run(context.Background(), "test", func(State) {})

	if sum.NewListings != 1 || len(saver.saved) != 1 || saver.saved[0].Link != "https://x.test/new" {
		t.Errorf("seen link leaked through: %+v", saver.saved)
	}
}

func TestRunDescribesWhenPageHasNoDescription(t *testing.T) {
	// WHAT: The vision describer fills in a missing description from
	// fetched images; the scratch dir is purged afterwards.
	pager := &fakePager{pages: map[int][]*catalog.ListingCard{1: {card("https://x.test/a")}}}
	enricher := &fakeEnricher{results: map[string]*detail.Result{
		"https://x.test/a": {ImageURLs: []string{"https://cdn.x.test/1.jpg"}},
	}}
	imgs := &fakeImages{}
	desc := &fakeDescriber{text: "bright two-bedroom with balcony"}
	saver := &fakeSaver{}

	r := testRunner(Deps{
		Pager: pager, Enricher: enricher, Ledger: &fakeLedger{},
		Saver: saver, Images: imgs, Describer: desc,
	}, t.TempDir())
	r.run(context.Background(), "test", func(State) {})

	if desc.calls != 1 {
		t.Fatalf("describer calls = %d, want 1", desc.calls)
	}
	if saver.saved[0].Description == nil || *saver.saved[0].Description != desc.text {
		t.Errorf("description = %v", saver.saved[0].Description)
	}
	if len(imgs.purged) != 1 {
		t.Errorf("purged = %v, want one scratch dir", imgs.purged)
	}
}

func TestRunKeepsPageDescription(t *testing.T) {
	own := "from the page itself"
	pager := &fakePager{pages: map[int][]*catalog.ListingCard{1: {card("https://x.test/a")}}}
	enricher := &fakeEnricher{results: map[string]*detail.Result{
		"https://x.test/a": {Description: &own, ImageURLs: []string{"https://cdn.x.test/1.jpg"}},
	}}
	desc := &fakeDescriber{text: "generated"}
	saver := &fakeSaver{}

	r := testRunner(Deps{
		Pager: pager, Enricher: enricher, Ledger: &fakeLedger{},
		Saver: saver, Images: &fakeImages{}, Describer: desc,
	}, t.TempDir())
	r.run(context.Background(), "test", func(State) {})

	if desc.calls != 0 {
		t.Errorf("describer should not run when the page had a description")
	}
	if *saver.saved[0].Description != own {
		t.Errorf("description overwritten: %q", *saver.saved[0].Description)
	}
}

func TestRunSaveFailureRecordedPerListing(t *testing.T) {
	pager := &fakePager{pages: map[int][]*catalog.ListingCard{
		1: {card("https://x.test/a"), card("https://x.test/b")},
	}}
	saver := &fakeSaver{errFor: map[string]error{"https://x.test/a": errors.New("disk full")}}
	ledger := &fakeLedger{}

	r := testRunner(Deps{Pager: pager, Enricher: &fakeEnricher{}, Ledger: ledger, Saver: saver}, t.TempDir())
	sum := r.run(context.Background(), "test", func(State) {})

	if sum.Saved != 1 || sum.Failed != 1 {
		t.Errorf("saved=%d failed=%d", sum.Saved, sum.Failed)
	}
	// The failed listing stays unmarked so a later scan retries it.
	if ledger.Seen("https://x.test/a") {
		t.Error("failed save must not mark the link seen")
	}
	if !ledger.Seen("https://x.test/b") {
		t.Error("successful save must mark the link seen")
	}
}

func TestDepsValidate(t *testing.T) {
	if err := (Deps{}).validate(); err == nil {
		t.Error("empty deps should not validate")
	}
	full := Deps{Pager: &fakePager{}, Enricher: &fakeEnricher{}, Ledger: &fakeLedger{}, Saver: &fakeSaver{}}
	if err := full.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}
