// CLAUDE:SUMMARY JSON command-feed client and cursor-tracking poller for remote scan triggers.
// Package commands polls a JSON command feed for remote crawl triggers.
//
// The feed returns sequence-numbered text updates. The poller keeps a
// monotonic cursor and reacts only to updates it has not seen before, so
// a restarted or duplicated feed read never replays an old trigger.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Update is one entry in the command feed.
type Update struct {
	Seq  int64  `json:"sequence_number"`
	Text string `json:"text"`
}

// Config describes the command-feed endpoint.
type Config struct {
	// FeedURL is the GET endpoint returning {"updates": [...]}.
	FeedURL string

	// Token, when set, is sent as a bearer Authorization header.
	Token string

	// Command is the update text that triggers a scan. Default "scan".
	Command string

	// Timeout bounds each poll request. Default 25s.
	Timeout time.Duration

	// MaxBytes caps the response body read. Default 1 MiB.
	MaxBytes int64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Command == "" {
		c.Command = "scan"
	}
	if c.Timeout <= 0 {
		c.Timeout = 25 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client fetches raw updates from the feed.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient builds a feed client. FeedURL must be set.
func NewClient(cfg Config) (*Client, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("commands: feed url required")
	}
	cfg.defaults()
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type feedResponse struct {
	Updates []Update `json:"updates"`
}

// Fetch performs one GET against the feed and returns all updates it
// reports, unfiltered. Callers apply their own cursor.
func (c *Client) Fetch(ctx context.Context) ([]Update, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("commands: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("commands: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("commands: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("commands: read body: %w", err)
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("commands: json decode: %w", err)
	}
	return feed.Updates, nil
}

// Poller wraps a Client with a monotonic sequence cursor. It is not safe
// for concurrent use; the scan scheduler owns one poller per feed.
type Poller struct {
	client  *Client
	command string
	cursor  int64
	log     *slog.Logger
}

// NewPoller builds a poller. cursor is the last-acknowledged sequence
// number; pass zero to react to everything currently in the feed.
func NewPoller(client *Client, cursor int64) *Poller {
	return &Poller{
		client:  client,
		command: client.cfg.Command,
		cursor:  cursor,
		log:     client.cfg.Logger,
	}
}

// Cursor returns the highest sequence number seen so far.
func (p *Poller) Cursor() int64 { return p.cursor }

// Poll fetches the feed once and reports whether a not-yet-seen update
// carried the trigger command. The cursor advances past every update in
// the response, matching or not, so a trigger fires at most once even
// when the feed redelivers.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	updates, err := p.client.Fetch(ctx)
	if err != nil {
		return false, err
	}

	triggered := false
	for _, u := range updates {
		if u.Seq <= p.cursor {
			continue
		}
		if u.Text == p.command {
			triggered = true
			p.log.Info("commands: trigger received", "seq", u.Seq)
		}
		p.cursor = u.Seq
	}
	return triggered, nil
}
