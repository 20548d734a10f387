// CLAUDE:SUMMARY Scan pipeline: paging, per-listing extraction with independent outcomes, finalize hand-off.
// Package scan runs the incremental crawl: it pages the catalog, enriches
// listings that survive the dedup ledger, and hands results to the
// persistence and notification collaborators. A scheduler in this package
// gates scans so at most one runs at a time.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/finca/catalog"
	"github.com/hazyhaar/finca/detail"
)

// Pager fetches and parses one 1-based catalog page. seen pre-filters
// already-known links so they never become cards.
type Pager interface {
	Page(ctx context.Context, page int, seen func(link string) bool) ([]*catalog.ListingCard, error)
}

// Enricher renders a listing's detail page and extracts its enrichment.
type Enricher interface {
	Enrich(ctx context.Context, link string) (*detail.Result, error)
}

// ImageStore downloads gallery images into a scratch dir and purges them.
type ImageStore interface {
	FetchAll(ctx context.Context, urls []string, dir string) (paths []string, failed []string, err error)
	Purge(dir string)
}

// Ledger is the durable seen-link set.
type Ledger interface {
	Load(ctx context.Context) error
	Seen(link string) bool
	MarkSeen(ctx context.Context, link string) error
}

// Saver persists one enriched listing. Append semantics: called once per
// listing, no transaction spans listings.
type Saver interface {
	Save(ctx context.Context, l *Listing) error
}

// Notifier delivers per-listing and batch-completion summaries.
// Both are best-effort from the scan's point of view.
type Notifier interface {
	NotifyListing(ctx context.Context, l *Listing) error
	NotifySummary(ctx context.Context, s *Summary) error
}

// Describer turns locally fetched gallery images into a free-text
// description. Best-effort: on failure the listing keeps an absent
// description.
type Describer interface {
	Describe(ctx context.Context, imagePaths []string) (string, error)
}

// Deps are the pipeline's collaborators. Pager, Enricher, Ledger and
// Saver are required; the rest degrade gracefully when nil.
type Deps struct {
	Pager     Pager
	Enricher  Enricher
	Images    ImageStore
	Ledger    Ledger
	Saver     Saver
	Notifier  Notifier
	Describer Describer
}

func (d Deps) validate() error {
	switch {
	case d.Pager == nil:
		return fmt.Errorf("scan: pager required")
	case d.Enricher == nil:
		return fmt.Errorf("scan: enricher required")
	case d.Ledger == nil:
		return fmt.Errorf("scan: ledger required")
	case d.Saver == nil:
		return fmt.Errorf("scan: saver required")
	}
	return nil
}

// runner executes one scan end to end. It is stateless between runs;
// the scheduler owns the gate and run bookkeeping.
type runner struct {
	deps     Deps
	maxPages int
	imageDir string
	log      *slog.Logger
}

// run executes one full scan. setState publishes phase transitions for
// observers; it is never nil.
func (r *runner) run(ctx context.Context, trigger string, setState func(State)) *Summary {
	sum := &Summary{
		RunID:   uuid.NewString(),
		Trigger: trigger,
		Started: time.Now().UTC(),
	}
	log := r.log.With("run_id", sum.RunID, "trigger", trigger)
	log.Info("scan: starting")

	defer func() {
		sum.Finished = time.Now().UTC()
		setState(StateIdle)
		log.Info("scan: finished",
			"pages", sum.PagesScanned, "new", sum.NewListings,
			"saved", sum.Saved, "failed", sum.Failed,
			"elapsed", sum.Finished.Sub(sum.Started).Round(time.Millisecond))
	}()

	// The ledger is authoritative for skip decisions; a scan that cannot
	// read it would reprocess everything, so it aborts instead.
	if err := r.deps.Ledger.Load(ctx); err != nil {
		sum.Err = err.Error()
		log.Error("scan: ledger load failed", "error", err)
		return sum
	}

	setState(StatePaging)
	cards := r.pagingPhase(ctx, sum, log)
	sum.NewListings = len(cards)
	if len(cards) == 0 {
		return sum
	}

	setState(StateExtracting)
	listings := r.extractingPhase(ctx, sum, cards, log)

	setState(StateFinalizing)
	r.finalizingPhase(ctx, sum, listings, log)

	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.NotifySummary(ctx, sum); err != nil {
			log.Warn("scan: summary notification failed", "error", err)
		}
	}
	return sum
}

// pagingPhase walks catalog pages in order until one yields nothing, a
// page fails, or the page cap is reached. Cards returned already survived
// the ledger pre-filter.
func (r *runner) pagingPhase(ctx context.Context, sum *Summary, log *slog.Logger) []*catalog.ListingCard {
	var cards []*catalog.ListingCard
	for page := 1; page <= r.maxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		pageCards, err := r.deps.Pager.Page(ctx, page, r.deps.Ledger.Seen)
		if err != nil {
			// Scan what we have rather than losing the whole run.
			log.Warn("scan: page failed, stopping pagination", "page", page, "error", err)
			break
		}
		sum.PagesScanned++
		sum.CardsSeen += len(pageCards)
		if len(pageCards) == 0 {
			break
		}
		cards = append(cards, pageCards...)
	}
	return cards
}

// extractingPhase visits each surviving card's detail page. Outcomes are
// independent: one listing's failure never aborts the page or the scan.
func (r *runner) extractingPhase(ctx context.Context, sum *Summary, cards []*catalog.ListingCard, log *slog.Logger) []*Listing {
	listings := make([]*Listing, 0, len(cards))
	for i, card := range cards {
		if ctx.Err() != nil {
			break
		}
		l, outcome := r.extractOne(ctx, sum.RunID, i, card, log)
		if l != nil {
			listings = append(listings, l)
		} else {
			sum.Outcomes = append(sum.Outcomes, outcome)
			sum.Failed++
		}
	}
	return listings
}

// extractOne enriches a single card. A nil Listing means the card was
// skipped, with the reason in the returned Outcome; no partial listing is
// ever emitted for a failed extraction.
func (r *runner) extractOne(ctx context.Context, runID string, idx int, card *catalog.ListingCard, log *slog.Logger) (*Listing, Outcome) {
	res, err := r.deps.Enricher.Enrich(ctx, card.Link)
	if err != nil {
		log.Warn("scan: extraction failed", "link", card.Link, "error", err)
		return nil, Outcome{Link: card.Link, Status: OutcomeSkipped, Reason: err.Error()}
	}

	l := &Listing{
		ListingCard:    *card,
		Coordinate:     res.Coordinate,
		AdminFee:       res.AdminFee,
		Facilities:     res.Facilities,
		UploadDate:     res.UploadDate,
		TechnicalSheet: res.TechnicalSheet,
		Description:    res.Description,
		ImageURLs:      res.ImageURLs,
	}
	if l.Coordinate != nil {
		l.Geohash = l.Coordinate.Geohash()
	}

	if r.deps.Images != nil && len(res.ImageURLs) > 0 {
		r.describeFromImages(ctx, runID, idx, l, log)
	}
	return l, Outcome{}
}

// describeFromImages fetches the gallery into a scratch dir, runs the
// vision describer when the page itself had no description, and purges
// the dir on every path out.
func (r *runner) describeFromImages(ctx context.Context, runID string, idx int, l *Listing, log *slog.Logger) {
	dir := filepath.Join(r.imageDir, runID, fmt.Sprintf("listing-%04d", idx))
	defer r.deps.Images.Purge(dir)

	paths, failed, err := r.deps.Images.FetchAll(ctx, l.ImageURLs, dir)
	if err != nil {
		log.Warn("scan: image dir unusable", "link", l.Link, "error", err)
		return
	}
	if len(failed) > 0 {
		log.Warn("scan: some images failed", "link", l.Link, "failed", len(failed))
	}
	if r.deps.Describer == nil || l.Description != nil || len(paths) == 0 {
		return
	}

	desc, err := r.deps.Describer.Describe(ctx, paths)
	if err != nil {
		log.Warn("scan: description failed", "link", l.Link, "error", err)
		return
	}
	if desc != "" {
		l.Description = &desc
	}
}

// finalizingPhase persists each listing, marks it seen, and notifies.
// Listings without coordinates are persisted all the same; absence of a
// location is recorded, not a reason to drop data.
func (r *runner) finalizingPhase(ctx context.Context, sum *Summary, listings []*Listing, log *slog.Logger) {
	for _, l := range listings {
		if err := r.deps.Saver.Save(ctx, l); err != nil {
			log.Error("scan: save failed", "link", l.Link, "error", err)
			sum.Outcomes = append(sum.Outcomes, Outcome{Link: l.Link, Status: OutcomeSkipped, Reason: "save: " + err.Error()})
			sum.Failed++
			continue
		}
		if err := r.deps.Ledger.MarkSeen(ctx, l.Link); err != nil {
			log.Warn("scan: mark seen failed", "link", l.Link, "error", err)
		}

		status := OutcomeSaved
		if l.Coordinate == nil {
			status = OutcomePartial
		}
		sum.Outcomes = append(sum.Outcomes, Outcome{Link: l.Link, Status: status})
		sum.Saved++

		if r.deps.Notifier != nil {
			if err := r.deps.Notifier.NotifyListing(ctx, l); err != nil {
				log.Warn("scan: listing notification failed", "link", l.Link, "error", err)
			}
		}
	}
}

func defaultImageDir() string {
	return filepath.Join(os.TempDir(), "finca-images")
}
