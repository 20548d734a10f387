package catalog

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// FetchConfig configures the catalog page fetcher.
type FetchConfig struct {
	Timeout  time.Duration // HTTP timeout. Default: 20s.
	MaxBytes int64         // Max response body size. Default: 10MB.
	// UserAgents is the rotation pool; one is picked per request.
	UserAgents []string
	// AcceptLanguage and Accept are sent verbatim when non-empty.
	AcceptLanguage string
	Accept         string
	// ProxyURL routes requests through an HTTP proxy when set, credentials
	// included in the URL userinfo.
	ProxyURL string
}

func (c *FetchConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = []string{"finca-crawler/1.0"}
	}
}

// Fetcher performs bounded HTTP GETs against the catalog source.
type Fetcher struct {
	client *http.Client
	config FetchConfig
}

// NewFetcher creates a Fetcher with a redirect cap and optional proxy.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	cfg.defaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("catalog: proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
	}, nil
}

// Fetch retrieves one catalog page body, capped at MaxBytes.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent())
	if f.config.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", f.config.AcceptLanguage)
	}
	if f.config.Accept != "" {
		req.Header.Set("Accept", f.config.Accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("catalog: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("catalog: read body: %w", err)
	}
	return body, nil
}

func (f *Fetcher) userAgent() string {
	return f.config.UserAgents[rand.Intn(len(f.config.UserAgents))]
}
