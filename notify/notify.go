// Package notify delivers scan results to an outbound webhook. Both the
// per-listing and the batch-completion notifications are best-effort from
// the scan's point of view; a failed delivery is logged and the scan
// moves on.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/finca/scan"
)

// Config configures the webhook notifier.
type Config struct {
	// URL is the endpoint notifications are POSTed to.
	URL string
	// Secret, when set, signs each request body with HMAC-SHA256 in an
	// X-Signature-256 header (GitHub-style "sha256=" hex prefix).
	Secret string
	// Timeout bounds one delivery. Default: 10s.
	Timeout time.Duration

	Logger *slog.Logger
}

// Webhook implements the scan pipeline's Notifier over HTTP POST.
type Webhook struct {
	cfg    Config
	client *http.Client
}

// New creates a Webhook notifier. URL must be set.
func New(cfg Config) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type payload struct {
	Event   string        `json:"event"`
	Text    string        `json:"text"`
	Listing *scan.Listing `json:"listing,omitempty"`
	Summary *scan.Summary `json:"summary,omitempty"`
}

// NotifyListing announces one newly found listing.
func (w *Webhook) NotifyListing(ctx context.Context, l *scan.Listing) error {
	return w.post(ctx, payload{
		Event:   "listing.new",
		Text:    FormatListing(l),
		Listing: l,
	})
}

// NotifySummary announces a completed scan run.
func (w *Webhook) NotifySummary(ctx context.Context, s *scan.Summary) error {
	return w.post(ctx, payload{
		Event:   "scan.finished",
		Text:    FormatSummary(s),
		Summary: s,
	})
}

func (w *Webhook) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+sign(body, w.cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: http %d", resp.StatusCode)
	}
	return nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatListing renders the human-readable per-listing summary line by
// line, omitting fields the listing does not have.
func FormatListing(l *scan.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Nuevo inmueble: %s\n", l.Link)
	if l.Price != "" {
		fmt.Fprintf(&b, "Precio: %s\n", l.Price)
	}
	if l.AdminFee != nil {
		fmt.Fprintf(&b, "Administración: $%d\n", *l.AdminFee)
	}
	if l.Bedrooms != nil && l.Bathrooms != nil && l.Area != nil {
		fmt.Fprintf(&b, "%d hab / %d baños / %d m²\n", *l.Bedrooms, *l.Bathrooms, *l.Area)
	}
	if l.Location != "" {
		fmt.Fprintf(&b, "Ubicación: %s\n", l.Location)
	}
	if l.Coordinate != nil {
		fmt.Fprintf(&b, "Mapa: %s\n", l.Coordinate.MapsURL())
	}
	if l.Agency != "" {
		fmt.Fprintf(&b, "Inmobiliaria: %s\n", l.Agency)
	}
	if l.UploadDate != nil {
		fmt.Fprintf(&b, "Publicado: %s\n", l.UploadDate.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSummary renders the batch-completion summary.
func FormatSummary(s *scan.Summary) string {
	elapsed := s.Finished.Sub(s.Started).Round(time.Second)
	if s.Err != "" {
		return fmt.Sprintf("Scan %s (%s) failed after %s: %s", s.RunID, s.Trigger, elapsed, s.Err)
	}
	return fmt.Sprintf("Scan %s (%s): %d pages, %d new listings, %d saved, %d failed in %s",
		s.RunID, s.Trigger, s.PagesScanned, s.NewListings, s.Saved, s.Failed, elapsed)
}
