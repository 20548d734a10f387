package ledger

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/finca/dbopen"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestMarkSeenThenSeen(t *testing.T) {
	// WHAT: Once marked, a link stays seen for the process lifetime.
	// WHY: The ledger is the sole dedup authority within a scan.
	l := newTestLedger(t)
	ctx := context.Background()

	link := "https://x.test/inmueble/1"
	if l.Seen(link) {
		t.Fatal("fresh ledger should not contain link")
	}
	if err := l.MarkSeen(ctx, link); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if !l.Seen(link) {
		t.Fatal("link should be seen after MarkSeen")
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestLoadRestoresPersistedLinks(t *testing.T) {
	// WHAT: Load pulls previously persisted links into a fresh in-memory set.
	// WHY: Dedup must survive restarts without reprocessing listings.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx := context.Background()

	first := New(db)
	for _, link := range []string{"https://x.test/a", "https://x.test/b"} {
		if err := first.MarkSeen(ctx, link); err != nil {
			t.Fatalf("MarkSeen: %v", err)
		}
	}

	second := New(db)
	if second.Seen("https://x.test/a") {
		t.Fatal("unloaded ledger should be empty")
	}
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !second.Seen("https://x.test/a") || !second.Seen("https://x.test/b") {
		t.Fatal("persisted links missing after Load")
	}
	if second.Len() != 2 {
		t.Fatalf("Len = %d, want 2", second.Len())
	}
}

func TestMarkSeenIdempotent(t *testing.T) {
	// WHAT: Marking the same link twice neither errors nor duplicates.
	l := newTestLedger(t)
	ctx := context.Background()

	link := "https://x.test/dup"
	if err := l.MarkSeen(ctx, link); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if err := l.MarkSeen(ctx, link); err != nil {
		t.Fatalf("MarkSeen second: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestLoadFailsOnMissingTable(t *testing.T) {
	// WHAT: A ledger without its schema fails Load with an error.
	// WHY: Ledger load failure aborts the scan invocation, never silently
	// runs with an empty dedup set.
	l := New(dbopen.OpenMemory(t))
	if err := l.Load(context.Background()); err == nil {
		t.Fatal("expected error loading from database without schema")
	}
}
