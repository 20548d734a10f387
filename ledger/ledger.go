// Package ledger is the crawl deduplication ledger: the set of listing
// links that have already been processed. It is the sole authority for
// skip-vs-process decisions within a scan.
//
// The backing store is SQLite. Load pulls the full link set into memory at
// scan start; MarkSeen extends both the in-memory set and the store, so a
// link marked seen stays seen across process restarts until the backing
// store is explicitly reset.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/finca/dbopen"
)

// Schema is the ledger schema, applied via dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS seen_links (
    link       TEXT PRIMARY KEY,
    first_seen INTEGER NOT NULL
);
`

// Ledger is the in-memory view of the seen-link set plus its backing store.
// Safe for concurrent reads; mutation happens only inside the gated scan.
type Ledger struct {
	db *sql.DB

	mu   sync.RWMutex
	seen map[string]struct{}
}

// New creates a Ledger over an opened ledger database. Call Load before
// consulting it.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, seen: make(map[string]struct{})}
}

// Load replaces the in-memory set with the persisted link history. A load
// failure is fatal to the scan invocation that requested it, not to the
// process.
func (l *Ledger) Load(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `SELECT link FROM seen_links`)
	if err != nil {
		return fmt.Errorf("ledger: load: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return fmt.Errorf("ledger: scan row: %w", err)
		}
		seen[link] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: iterate: %w", err)
	}

	l.mu.Lock()
	l.seen = seen
	l.mu.Unlock()
	return nil
}

// Seen reports whether link has already been processed.
func (l *Ledger) Seen(link string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[link]
	return ok
}

// MarkSeen records link as processed, in memory and in the backing store.
// The in-memory set is updated even if the write fails, so the current
// scan never reprocesses the link; the error still surfaces so the caller
// can log the durability gap.
func (l *Ledger) MarkSeen(ctx context.Context, link string) error {
	l.mu.Lock()
	l.seen[link] = struct{}{}
	l.mu.Unlock()

	_, err := dbopen.Exec(ctx, l.db,
		`INSERT OR IGNORE INTO seen_links (link, first_seen) VALUES (?, ?)`,
		link, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("ledger: mark seen: %w", err)
	}
	return nil
}

// Len returns the size of the in-memory set.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}
