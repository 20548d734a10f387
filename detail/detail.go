// CLAUDE:SUMMARY Rod-driven detail page extraction: fee, facilities, dates, technical sheet, description, map coordinates.
// Package detail drives a headless browser session against one listing's
// detail page and extracts its semi-structured content: administration
// fee, facility tags, publish date, technical sheet, free-text description,
// gallery image URLs, and (via the geo package) the coordinates encoded
// in the rendered map view.
//
// Every field extractor is independently fault-tolerant: a missing DOM
// node or a per-field timeout degrades to "field absent" and never aborts
// the remaining fields. Only the initial navigation (page load + map
// container render) is a hard failure for the listing.
package detail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/finca/browser"
	"github.com/hazyhaar/finca/geo"
)

// Selectors locate detail-page elements. Defaults match the source site.
type Selectors struct {
	MapContainer string `yaml:"map_container"`
	Tile         string `yaml:"tile"`
	Marker       string `yaml:"marker"`
	AdminFee     string `yaml:"admin_fee"`
	Facilities   string `yaml:"facilities"`
	TechSheet    string `yaml:"tech_sheet"`
	Description  string `yaml:"description"`
	UploadDate   string `yaml:"upload_date"`
	GalleryCover string `yaml:"gallery_cover"`
	GalleryImage string `yaml:"gallery_image"`
}

// DefaultSelectors returns the selector set for the source site.
func DefaultSelectors() Selectors {
	return Selectors{
		MapContainer: ".leaflet-container",
		Tile:         ".leaflet-tile-loaded",
		Marker:       `img[src="/icons/fr-symbol.svg"]`,
		AdminFee:     "div.property-price-tag span.commonExpenses",
		Facilities:   "div.property-facilities",
		TechSheet:    "div.technical-sheet",
		Description:  "div.ant-typography.property-description span",
		UploadDate:   `span.ant-typography[style="font-size:13px"]`,
		GalleryCover: ".cover-gradient",
		GalleryImage: ".pmp-image img",
	}
}

// Config configures the extractor.
type Config struct {
	// NavigateTimeout bounds page load plus the map container render.
	// Exceeding it is a hard failure for the listing. Default: 45s.
	NavigateTimeout time.Duration
	// ElementTimeout bounds each per-field wait. Exceeding it makes that
	// field absent. Default: 8s.
	ElementTimeout time.Duration
	// AreaCalibrationX is the horizontal pixel correction applied by the
	// area-average coordinate fallback.
	AreaCalibrationX float64

	Selectors Selectors
	// Months maps lowercase locale month names to month numbers for
	// publish-date parsing.
	Months map[string]time.Month

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 45 * time.Second
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 8 * time.Second
	}
	if c.AreaCalibrationX == 0 {
		c.AreaCalibrationX = 335
	}
	if c.Selectors == (Selectors{}) {
		c.Selectors = DefaultSelectors()
	}
	if c.Months == nil {
		c.Months = SpanishMonths()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result holds everything extracted from one detail page. Pointer fields
// are nil when the page did not yield that field.
type Result struct {
	Coordinate     *geo.Coordinate   `json:"coordinate,omitempty"`
	AdminFee       *int              `json:"admin_fee,omitempty"`
	Facilities     []string          `json:"facilities"`
	UploadDate     *time.Time        `json:"upload_date,omitempty"`
	TechnicalSheet map[string]string `json:"technical_sheet"`
	Description    *string           `json:"description,omitempty"`
	ImageURLs      []string          `json:"image_urls"`
}

// Extractor runs detail-page sessions against a shared browser manager.
type Extractor struct {
	mgr *browser.Manager
	cfg Config
}

// New creates an Extractor.
func New(mgr *browser.Manager, cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{mgr: mgr, cfg: cfg}
}

// Extract opens url in a fresh page, waits for the map container, then
// runs all field extractors. The page is closed on every exit path. A nil
// error with a sparse Result is normal; an error means the listing should
// be skipped entirely.
func (e *Extractor) Extract(ctx context.Context, url string) (*Result, error) {
	page, err := e.mgr.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("detail: open page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return nil, fmt.Errorf("detail: navigate %s: %w", url, err)
	}
	// The map container is the readiness signal for the whole page: it is
	// rendered last, after the technical sheet and price block.
	if _, err := page.Context(navCtx).Element(e.cfg.Selectors.MapContainer); err != nil {
		return nil, fmt.Errorf("detail: map container not rendered on %s: %w", url, err)
	}

	log := e.cfg.Logger.With("url", url)
	res := &Result{}

	res.AdminFee = e.extractAdminFee(ctx, page, log)
	res.Facilities = e.extractFacilities(ctx, page, log)
	res.UploadDate = e.extractUploadDate(ctx, page, log)
	res.TechnicalSheet = e.extractTechnicalSheet(ctx, page, log)
	res.Description = e.extractDescription(ctx, page, log)
	res.ImageURLs = e.extractImageURLs(ctx, page, log)
	res.Coordinate = e.extractCoordinate(ctx, page, log)

	return res, nil
}

// evalJSON evaluates js on the page within the element timeout and
// unmarshals its JSON.stringify'd return value into out.
func (e *Extractor) evalJSON(ctx context.Context, page *rod.Page, js string, out any) error {
	fieldCtx, cancel := context.WithTimeout(ctx, e.cfg.ElementTimeout)
	defer cancel()

	res, err := page.Context(fieldCtx).Eval(js)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	raw := res.Value.Str()
	if raw == "" || raw == "null" {
		return errAbsent
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

var errAbsent = fmt.Errorf("detail: element absent")

func (e *Extractor) extractAdminFee(ctx context.Context, page *rod.Page, log *slog.Logger) *int {
	js := fmt.Sprintf(`() => {
		const el = document.querySelector(%q);
		return el ? JSON.stringify(el.innerText.trim()) : "null";
	}`, e.cfg.Selectors.AdminFee)

	var text string
	if err := e.evalJSON(ctx, page, js, &text); err != nil {
		if err != errAbsent {
			log.Warn("detail: admin fee", "error", err)
		}
		return nil
	}
	return ParseAdminFee(text)
}

func (e *Extractor) extractFacilities(ctx context.Context, page *rod.Page, log *slog.Logger) []string {
	js := fmt.Sprintf(`() => {
		const container = document.querySelector(%q);
		if (!container) return "null";
		const labels = [];
		container.querySelectorAll('div.ant-row').forEach(row => {
			const el = row.querySelector('span.ant-typography:not([class*=" "])');
			const label = el ? el.innerText.trim() : '';
			if (label) labels.push(label);
		});
		return JSON.stringify(labels);
	}`, e.cfg.Selectors.Facilities)

	var labels []string
	if err := e.evalJSON(ctx, page, js, &labels); err != nil {
		if err != errAbsent {
			log.Warn("detail: facilities", "error", err)
		}
		return nil
	}
	return dedupe(labels)
}

func (e *Extractor) extractUploadDate(ctx context.Context, page *rod.Page, log *slog.Logger) *time.Time {
	js := fmt.Sprintf(`() => {
		const el = document.querySelector(%q);
		return el ? JSON.stringify(el.innerText.trim()) : "null";
	}`, e.cfg.Selectors.UploadDate)

	var text string
	if err := e.evalJSON(ctx, page, js, &text); err != nil {
		if err != errAbsent {
			log.Warn("detail: upload date", "error", err)
		}
		return nil
	}

	dateText := ExtractDateText(text)
	if dateText == "" {
		return nil
	}
	d, err := ParsePublishDate(dateText, e.cfg.Months)
	if err != nil {
		log.Debug("detail: publish date unparseable", "text", dateText, "error", err)
		return nil
	}
	return &d
}

func (e *Extractor) extractTechnicalSheet(ctx context.Context, page *rod.Page, log *slog.Logger) map[string]string {
	js := fmt.Sprintf(`() => {
		const sheet = document.querySelector(%q);
		if (!sheet) return "null";
		const result = {};
		sheet.querySelectorAll('.ant-row').forEach(row => {
			const labelEl = row.querySelector('span.ant-typography:not([class*=" "])');
			const valueEl = row.querySelector('.ant-typography-ellipsis strong');
			const label = labelEl ? labelEl.innerText.trim() : '';
			const value = valueEl ? valueEl.innerText.trim() : '';
			if (label && value) result[label] = value;
		});
		return JSON.stringify(result);
	}`, e.cfg.Selectors.TechSheet)

	var sheet map[string]string
	if err := e.evalJSON(ctx, page, js, &sheet); err != nil {
		if err != errAbsent {
			log.Warn("detail: technical sheet", "error", err)
		}
		return nil
	}
	if len(sheet) == 0 {
		return nil
	}
	return sheet
}

func (e *Extractor) extractDescription(ctx context.Context, page *rod.Page, log *slog.Logger) *string {
	js := fmt.Sprintf(`() => {
		const el = document.querySelector(%q);
		return el ? JSON.stringify(el.innerHTML) : "null";
	}`, e.cfg.Selectors.Description)

	var raw string
	if err := e.evalJSON(ctx, page, js, &raw); err != nil {
		if err != errAbsent {
			log.Warn("detail: description", "error", err)
		}
		return nil
	}
	text := CleanDescription(raw)
	if text == "" {
		return nil
	}
	return &text
}

// extractImageURLs clicks the gallery cover to reveal the full image list,
// then harvests the src of every gallery image. A listing without a cover
// simply has no downloadable gallery.
func (e *Extractor) extractImageURLs(ctx context.Context, page *rod.Page, log *slog.Logger) []string {
	fieldCtx, cancel := context.WithTimeout(ctx, e.cfg.ElementTimeout)
	defer cancel()

	cover, err := page.Context(fieldCtx).Element(e.cfg.Selectors.GalleryCover)
	if err != nil {
		log.Debug("detail: gallery cover not found")
		return nil
	}
	if err := cover.Click(proto.InputMouseButtonLeft, 1); err != nil {
		log.Warn("detail: gallery cover click", "error", err)
		return nil
	}
	// The gallery renders after the click; wait for the first image.
	if _, err := page.Context(fieldCtx).Element(e.cfg.Selectors.GalleryImage); err != nil {
		log.Warn("detail: gallery images not rendered", "error", err)
		return nil
	}

	js := fmt.Sprintf(`() => {
		const urls = [];
		document.querySelectorAll(%q).forEach(img => {
			if (img.src) urls.push(img.src);
		});
		return JSON.stringify(urls);
	}`, e.cfg.Selectors.GalleryImage)

	var urls []string
	if err := e.evalJSON(ctx, page, js, &urls); err != nil {
		if err != errAbsent {
			log.Warn("detail: gallery srcs", "error", err)
		}
		return nil
	}
	return dedupe(urls)
}

// extractCoordinate reads the marker and tile DOM state and resolves a
// coordinate. A nil return means the listing is emitted without
// coordinates; geolocation failure never blocks the other fields.
func (e *Extractor) extractCoordinate(ctx context.Context, page *rod.Page, log *slog.Logger) *geo.Coordinate {
	js := fmt.Sprintf(`() => {
		const out = { marker: null, tiles: [] };
		const marker = document.querySelector(%q);
		if (marker) out.marker = { style: marker.getAttribute('style') || '' };
		document.querySelectorAll(%q).forEach(tile => {
			out.tiles.push({ src: tile.src || '', transform: tile.style.transform || '' });
		});
		return JSON.stringify(out);
	}`, e.cfg.Selectors.Marker, e.cfg.Selectors.Tile)

	var dom mapDOM
	if err := e.evalJSON(ctx, page, js, &dom); err != nil {
		log.Warn("detail: map dom read", "error", err)
		return nil
	}

	coord := ResolveCoordinate(dom, e.cfg.AreaCalibrationX, log)
	if coord != nil {
		log.Info("detail: coordinates resolved", "lat", coord.Lat, "lng", coord.Lng, "maps", coord.MapsURL())
	}
	return coord
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
