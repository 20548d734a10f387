// Package store persists enriched listings to SQLite. It implements the
// scan pipeline's Saver with append semantics: one row per listing, one
// statement per call, no transaction spanning listings.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/finca/geo"
	"github.com/hazyhaar/finca/scan"
)

// Store wraps an already-opened listings database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Save inserts one listing. A link already present is left untouched:
// the ledger should prevent re-extraction, and when it does not, the
// first row wins.
func (s *Store) Save(ctx context.Context, l *scan.Listing) error {
	facilities, err := json.Marshal(emptyAsList(l.Facilities))
	if err != nil {
		return fmt.Errorf("store: marshal facilities: %w", err)
	}
	sheet, err := json.Marshal(emptyAsMap(l.TechnicalSheet))
	if err != nil {
		return fmt.Errorf("store: marshal sheet: %w", err)
	}
	imageURLs, err := json.Marshal(emptyAsList(l.ImageURLs))
	if err != nil {
		return fmt.Errorf("store: marshal image urls: %w", err)
	}

	var lat, lng *float64
	if l.Coordinate != nil {
		lat, lng = &l.Coordinate.Lat, &l.Coordinate.Lng
	}
	var uploadDate *int64
	if l.UploadDate != nil {
		ms := l.UploadDate.UnixMilli()
		uploadDate = &ms
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO listings (id, link, price, bedrooms, bathrooms, area,
		agency, location, lat, lng, geohash, admin_fee, facilities_json,
		upload_date, sheet_json, description, image_urls_json, discovered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), l.Link, l.Price, l.Bedrooms, l.Bathrooms, l.Area,
		l.Agency, l.Location, lat, lng, l.Geohash, l.AdminFee, string(facilities),
		uploadDate, string(sheet), l.Description, string(imageURLs),
		l.DiscoveredAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert listing: %w", err)
	}
	return nil
}

// GetByLink retrieves one listing, or nil when absent.
func (s *Store) GetByLink(ctx context.Context, link string) (*scan.Listing, error) {
	row := s.DB.QueryRowContext(ctx, selectColumns+` FROM listings WHERE link = ?`, link)
	l, err := scanListing(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// ListRecent returns up to limit listings, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*scan.Listing, error) {
	rows, err := s.DB.QueryContext(ctx,
		selectColumns+` FROM listings ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent: %w", err)
	}
	defer rows.Close()

	var listings []*scan.Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Near returns listings within radiusKm of the given point, nearest
// first. Rows without coordinates never match.
func (s *Store) Near(ctx context.Context, lat, lng, radiusKm float64) ([]*scan.Listing, error) {
	rows, err := s.DB.QueryContext(ctx,
		selectColumns+` FROM listings WHERE lat IS NOT NULL AND lng IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: near: %w", err)
	}
	defer rows.Close()

	type scored struct {
		l *scan.Listing
		d float64
	}
	var hits []scored
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		d := geo.Haversine(lat, lng, l.Coordinate.Lat, l.Coordinate.Lng)
		if d <= radiusKm {
			hits = append(hits, scored{l, d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].d < hits[j-1].d; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]*scan.Listing, len(hits))
	for i, h := range hits {
		out[i] = h.l
	}
	return out, nil
}

// Count returns the number of stored listings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n)
	return n, err
}

const selectColumns = `SELECT link, price, bedrooms, bathrooms, area, agency,
	location, lat, lng, geohash, admin_fee, facilities_json, upload_date,
	sheet_json, description, image_urls_json, discovered_at`

// scanListing reads one row via the given Scan func, shared between
// QueryRow and Rows iteration.
func scanListing(scanRow func(...any) error) (*scan.Listing, error) {
	var l scan.Listing
	var lat, lng *float64
	var facilities, sheet, imageURLs string
	var uploadDate *int64
	var discoveredAt int64

	err := scanRow(
		&l.Link, &l.Price, &l.Bedrooms, &l.Bathrooms, &l.Area, &l.Agency,
		&l.Location, &lat, &lng, &l.Geohash, &l.AdminFee, &facilities,
		&uploadDate, &sheet, &l.Description, &imageURLs, &discoveredAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan listing: %w", err)
	}

	if lat != nil && lng != nil {
		l.Coordinate = &geo.Coordinate{Lat: *lat, Lng: *lng}
	}
	if uploadDate != nil {
		t := time.UnixMilli(*uploadDate).UTC()
		l.UploadDate = &t
	}
	l.DiscoveredAt = time.UnixMilli(discoveredAt).UTC()

	if err := json.Unmarshal([]byte(facilities), &l.Facilities); err != nil {
		return nil, fmt.Errorf("store: facilities json: %w", err)
	}
	if err := json.Unmarshal([]byte(sheet), &l.TechnicalSheet); err != nil {
		return nil, fmt.Errorf("store: sheet json: %w", err)
	}
	if err := json.Unmarshal([]byte(imageURLs), &l.ImageURLs); err != nil {
		return nil, fmt.Errorf("store: image urls json: %w", err)
	}
	return &l, nil
}

func emptyAsList(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func emptyAsMap(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return in
}
