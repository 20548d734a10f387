package scan

import (
	"time"

	"github.com/hazyhaar/finca/catalog"
	"github.com/hazyhaar/finca/geo"
)

// Listing is a fully enriched property: the catalog card plus everything
// the detail page yielded. This is the unit handed to collaborators.
type Listing struct {
	catalog.ListingCard

	Coordinate     *geo.Coordinate
	Geohash        string
	AdminFee       *int
	Facilities     []string
	UploadDate     *time.Time
	TechnicalSheet map[string]string
	Description    *string
	ImageURLs      []string
}

// OutcomeStatus classifies how one listing fared during a scan.
type OutcomeStatus string

const (
	OutcomeSaved   OutcomeStatus = "saved"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome records one listing's fate, independent of its neighbours.
type Outcome struct {
	Link   string        `json:"link"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// Summary describes one completed (or failed) scan run.
type Summary struct {
	RunID    string    `json:"run_id"`
	Trigger  string    `json:"trigger"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	PagesScanned int       `json:"pages_scanned"`
	CardsSeen    int       `json:"cards_seen"`
	NewListings  int       `json:"new_listings"`
	Saved        int       `json:"saved"`
	Failed       int       `json:"failed"`
	Outcomes     []Outcome `json:"outcomes,omitempty"`

	Err string `json:"error,omitempty"`
}

// State is the scan lifecycle phase. Exactly one scan occupies the
// non-idle states at a time.
type State int32

const (
	StateIdle State = iota
	StatePaging
	StateExtracting
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePaging:
		return "paging"
	case StateExtracting:
		return "extracting"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}
