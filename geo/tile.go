package geo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var translate3dRe = regexp.MustCompile(`translate3d\((-?[\d.]+)px,\s*(-?[\d.]+)px`)

// ParseTransformOffset extracts the 2D pixel translation from a CSS-style
// transform string such as "translate3d(-47px, 112px, 0px)". Returns
// ErrNoTransform when the pattern is absent.
func ParseTransformOffset(style string) (Offset, error) {
	m := translate3dRe.FindStringSubmatch(style)
	if m == nil {
		return Offset{}, fmt.Errorf("%w: %q", ErrNoTransform, style)
	}
	dx, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Offset{}, fmt.Errorf("geo: parse dx: %w", err)
	}
	dy, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Offset{}, fmt.Errorf("geo: parse dy: %w", err)
	}
	return Offset{DX: dx, DY: dy}, nil
}

// ParseTileURL recovers zoom, x and y from a slippy-map tile source URL,
// e.g. "https://tiles.example.com/17/37579/65058.png" or the retina
// variant "…/65058@2x.png". The y segment is everything before the first
// "." and any "@2x" scale suffix.
func ParseTileURL(src string) (zoom, x, y int, err error) {
	parts := strings.Split(src, "/")
	if len(parts) < 3 {
		return 0, 0, 0, fmt.Errorf("geo: tile url %q: too few path segments", src)
	}

	zoom, err = strconv.Atoi(parts[len(parts)-3])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("geo: tile url %q: zoom: %w", src, err)
	}
	x, err = strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("geo: tile url %q: x: %w", src, err)
	}

	last := parts[len(parts)-1]
	last = strings.SplitN(last, ".", 2)[0]
	last = strings.SplitN(last, "@", 2)[0]
	y, err = strconv.Atoi(last)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("geo: tile url %q: y: %w", src, err)
	}

	if zoom < 0 {
		return 0, 0, 0, fmt.Errorf("geo: tile url %q: negative zoom", src)
	}
	return zoom, x, y, nil
}

// ParseTileSample combines ParseTileURL and ParseTransformOffset into one
// TileSample, the unit consumed by the coordinate resolvers.
func ParseTileSample(src, style string) (TileSample, error) {
	zoom, x, y, err := ParseTileURL(src)
	if err != nil {
		return TileSample{}, err
	}
	off, err := ParseTransformOffset(style)
	if err != nil {
		return TileSample{}, err
	}
	return TileSample{Zoom: zoom, X: x, Y: y, Offset: off}, nil
}
