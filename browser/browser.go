// CLAUDE:SUMMARY Manages headless Chrome lifecycle for detail extraction: launch, proxy, stealth pages, recycling.
// Package browser manages the Chrome lifecycle behind the detail
// extractor: launch via Rod, create stealth pages, recycle the process on
// an interval, and tear everything down on close. Detail pages are
// script-rendered; a plain HTTP client never sees the map or the
// technical sheet.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the browser manager.
type Config struct {
	// Headful launches Chrome with a display, for local debugging of
	// selector changes. The zero value is headless, the production mode.
	Headful bool

	// ProxyURL routes browser traffic through an HTTP proxy
	// ("http://host:port"). Credentials go in ProxyUser/ProxyPass, not in
	// the URL, because Chrome takes them via an auth handler.
	ProxyURL  string
	ProxyUser string
	ProxyPass string

	// UserAgent overrides the browser's default UA on every page.
	UserAgent string

	// RecycleInterval is the maximum lifetime of a Chrome process.
	// Default: 4h.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process and hands out pages.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome and starts the age-based recycle monitor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}

	b, err := m.launch()
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)
	return nil
}

// NewPage opens a stealth page with the configured user agent applied.
// The caller owns the page and must Close it on every exit path.
func (m *Manager) NewPage(ctx context.Context) (*rod.Page, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, fmt.Errorf("browser: not started")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if m.cfg.UserAgent != "" {
		override := &proto.NetworkSetUserAgentOverride{UserAgent: m.cfg.UserAgent}
		if err := page.Context(ctx).SetUserAgent(override); err != nil {
			page.Close()
			return nil, fmt.Errorf("browser: set user agent: %w", err)
		}
	}
	return page, nil
}

// Recycle kills Chrome and restarts it. Pages created before the recycle
// are dead; the scan loop opens a fresh page per listing so this is only
// visible as one failed listing at worst.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}

	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
	m.cleanup()

	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	return nil
}

// Close shuts down Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	l := launcher.New().
		Headless(!m.cfg.Headful).
		Set("disable-blink-features", "AutomationControlled")
	if m.cfg.ProxyURL != "" {
		l = l.Proxy(m.cfg.ProxyURL)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}
	m.lnch = l

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	if m.cfg.ProxyUser != "" {
		go b.MustHandleAuth(m.cfg.ProxyUser, m.cfg.ProxyPass)()
	}

	m.cfg.Logger.Info("browser: launched", "headless", !m.cfg.Headful, "proxy", m.cfg.ProxyURL != "")
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			closed, startAt := m.closed, m.startAt
			m.mu.RUnlock()
			if closed {
				return
			}
			if time.Since(startAt) > m.cfg.RecycleInterval {
				if err := m.Recycle(); err != nil {
					m.cfg.Logger.Error("browser: recycle failed", "error", err)
				}
			}
		}
	}
}
