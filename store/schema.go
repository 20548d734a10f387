// CLAUDE:SUMMARY Applies the listings SQL schema: one row per enriched listing, geohash-indexed.
package store

import "database/sql"

// Schema is the listings schema. JSON columns hold the open-ended parts
// (facilities, technical sheet, gallery URLs) so new site fields never
// need a migration.
const Schema = `
CREATE TABLE IF NOT EXISTS listings (
    id              TEXT PRIMARY KEY,
    link            TEXT NOT NULL UNIQUE,
    price           TEXT NOT NULL DEFAULT '',
    bedrooms        INTEGER,
    bathrooms       INTEGER,
    area            INTEGER,
    agency          TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    lat             REAL,
    lng             REAL,
    geohash         TEXT NOT NULL DEFAULT '',
    admin_fee       INTEGER,
    facilities_json TEXT NOT NULL DEFAULT '[]',
    upload_date     INTEGER,
    sheet_json      TEXT NOT NULL DEFAULT '{}',
    description     TEXT,
    image_urls_json TEXT NOT NULL DEFAULT '[]',
    discovered_at   INTEGER NOT NULL,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listings_geohash ON listings(geohash);
CREATE INDEX IF NOT EXISTS idx_listings_time ON listings(created_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
