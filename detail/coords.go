package detail

import (
	"log/slog"

	"github.com/hazyhaar/finca/geo"
)

// mapDOM is the raw map state read from the rendered page in one eval.
type mapDOM struct {
	Marker *markerDOM `json:"marker"`
	Tiles  []tileDOM  `json:"tiles"`
}

type markerDOM struct {
	Style string `json:"style"`
}

type tileDOM struct {
	Src       string `json:"src"`
	Transform string `json:"transform"`
}

// ResolveCoordinate applies the coordinate resolution policy to raw map
// DOM state:
//
//   - A marker on the page selects the precise path: marker offset plus
//     one anchoring tile. If the marker is present but its computation
//     fails (unparseable style, no usable tile), resolution fails: the
//     area fallback is only for pages without a marker, because averaging
//     tiles around a page that *has* a precise marker would report a
//     plausible-looking wrong location.
//   - No marker selects the area-average fallback over all loaded tiles.
//
// A nil return means no coordinate could be reconstructed.
func ResolveCoordinate(dom mapDOM, calibrationX float64, log *slog.Logger) *geo.Coordinate {
	if dom.Marker != nil {
		return resolveMarkerPath(dom, log)
	}

	log.Debug("detail: no marker, using tile area fallback")
	tiles := parseTiles(dom.Tiles, log)
	coord, err := geo.ResolveArea(tiles, calibrationX)
	if err != nil {
		log.Warn("detail: area coordinate resolution failed", "error", err)
		return nil
	}
	if !coord.Valid() {
		log.Warn("detail: area coordinate out of range", "lat", coord.Lat, "lng", coord.Lng)
		return nil
	}
	return &coord
}

func resolveMarkerPath(dom mapDOM, log *slog.Logger) *geo.Coordinate {
	offset, err := geo.ParseTransformOffset(dom.Marker.Style)
	if err != nil {
		log.Warn("detail: marker offset unparseable", "error", err)
		return nil
	}
	if len(dom.Tiles) == 0 {
		log.Warn("detail: marker present but no loaded tiles")
		return nil
	}

	// Any loaded tile anchors the layer; take the first parseable one.
	for _, t := range dom.Tiles {
		sample, err := geo.ParseTileSample(t.Src, t.Transform)
		if err != nil {
			log.Debug("detail: skipping tile", "src", t.Src, "error", err)
			continue
		}
		coord := geo.ResolveMarker(sample, offset)
		if !coord.Valid() {
			log.Warn("detail: marker coordinate out of range", "lat", coord.Lat, "lng", coord.Lng)
			return nil
		}
		return &coord
	}

	log.Warn("detail: marker present but no parseable tile")
	return nil
}

func parseTiles(tiles []tileDOM, log *slog.Logger) []geo.TileSample {
	samples := make([]geo.TileSample, 0, len(tiles))
	for _, t := range tiles {
		sample, err := geo.ParseTileSample(t.Src, t.Transform)
		if err != nil {
			log.Debug("detail: skipping tile", "src", t.Src, "error", err)
			continue
		}
		samples = append(samples, sample)
	}
	return samples
}
