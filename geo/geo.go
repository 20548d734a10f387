// Package geo reconstructs geographic coordinates from a rendered slippy-map
// view. Listing pages embed a Leaflet map but expose no coordinate API; the
// only observable state is which 256×256 tiles are loaded, where the tile
// layer is translated to, and (sometimes) a point marker's pixel offset.
// From those this package recovers the latitude/longitude the map is showing.
//
// All functions are pure. Callers in the detail extractor decide which
// resolution path applies; see ResolveMarker and ResolveArea.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"
)

// TileSize is the edge length in pixels of one map tile.
const TileSize = 256

// ErrNoTransform is returned when a style string carries no translate3d offset.
var ErrNoTransform = errors.New("geo: no translate3d offset in style")

// ErrNoTiles is returned when area resolution has no usable tile samples.
var ErrNoTiles = errors.New("geo: no usable tiles")

// Coordinate is a geographic point. The zero value is a valid ocean
// coordinate, so "unknown" is always expressed as a nil *Coordinate,
// never as (0,0).
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both components are finite and inside the
// geographic range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Geohash returns the 12-character geohash of the coordinate, used as a
// proximity-sortable index key by the listings store.
func (c Coordinate) Geohash() string {
	return geohash.Encode(c.Lat, c.Lng)
}

// MapsURL returns a Google Maps link for the coordinate. Logged alongside
// resolved coordinates so operators can eyeball the reconstruction.
func (c Coordinate) MapsURL() string {
	return fmt.Sprintf("https://www.google.com/maps?q=%v,%v", c.Lat, c.Lng)
}

// Offset is a 2D pixel translation.
type Offset struct {
	DX float64
	DY float64
}

// MarkerOffset is the pixel offset of a point marker relative to its
// containing tile layer.
type MarkerOffset = Offset

// TileSample is one rendered tile: its grid position and zoom recovered
// from the tile source URL, and the pixel translation of its element.
type TileSample struct {
	Zoom   int
	X      int
	Y      int
	Offset Offset
}

// TileToLatLng applies the inverse Web Mercator projection to a global
// pixel position at the given zoom level.
func TileToLatLng(pixelX, pixelY float64, zoom int) Coordinate {
	scale := float64(TileSize) * math.Pow(2, float64(zoom))
	lng := pixelX/scale*360.0 - 180.0
	n := math.Pi - (2*math.Pi*pixelY)/scale
	lat := math.Atan(math.Sinh(n)) * 180.0 / math.Pi
	return Coordinate{Lat: lat, Lng: lng}
}

// ResolveMarker computes the coordinate of a point marker. The tile sample
// anchors the tile layer in global pixel space: the layer origin is the
// tile's global position minus its render translation. The marker offset is
// relative to that origin.
func ResolveMarker(tile TileSample, marker MarkerOffset) Coordinate {
	originX := float64(tile.X*TileSize) - tile.Offset.DX
	originY := float64(tile.Y*TileSize) - tile.Offset.DY
	return TileToLatLng(originX+marker.DX, originY+marker.DY, tile.Zoom)
}

// ResolveArea approximates the map's focal coordinate by averaging the
// global pixel centers of all loaded tiles. calibrationX is an empirical
// horizontal correction (in pixels) for the viewport asymmetry of the
// source site's map layout; it is added to the averaged X before
// projection. Returns ErrNoTiles when the sample list is empty.
func ResolveArea(tiles []TileSample, calibrationX float64) (Coordinate, error) {
	if len(tiles) == 0 {
		return Coordinate{}, ErrNoTiles
	}

	var sumX, sumY float64
	zoom := tiles[0].Zoom
	for _, t := range tiles {
		sumX += float64(t.X*TileSize) - t.Offset.DX + TileSize/2
		sumY += float64(t.Y*TileSize) - t.Offset.DY + TileSize/2
	}

	n := float64(len(tiles))
	return TileToLatLng(sumX/n+calibrationX, sumY/n, zoom), nil
}

// Haversine returns the great-circle distance in kilometres between two
// points, using a spherical Earth of radius 6371 km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	dlat := radians(lat2 - lat1)
	dlon := radians(lon2 - lon1)
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }
