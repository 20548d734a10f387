// CLAUDE:SUMMARY YAML service configuration with defaults and validation; secrets come from the environment.
// Package config loads the crawler's YAML configuration. Everything
// tunable lives here and is resolved once at startup; secrets (tokens,
// proxy credentials) come from the environment, optionally via a .env
// file, never from the YAML.
package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/finca/catalog"
	"github.com/hazyhaar/finca/detail"
)

// DefaultTypologyPattern matches the source site's "3 Habs. 2 Baños 80 m²"
// card typology. Groups: bedrooms, bathrooms, area.
const DefaultTypologyPattern = `(\d+)\s*Habs\.\s*(\d+)\s*Baños\s*(\d+)\s*m²`

// Config is the top-level service configuration.
type Config struct {
	Catalog  CatalogConfig  `yaml:"catalog"`
	Detail   DetailConfig   `yaml:"detail"`
	Browser  BrowserConfig  `yaml:"browser"`
	Scan     ScanConfig     `yaml:"scan"`
	Commands CommandsConfig `yaml:"commands"`
	Images   ImagesConfig   `yaml:"images"`
	Vision   VisionConfig   `yaml:"vision"`
	Notify   NotifyConfig   `yaml:"notify"`
	Admin    AdminConfig    `yaml:"admin"`
	Log      LogConfig      `yaml:"log"`

	// DataDir holds the SQLite databases.
	DataDir string `yaml:"data_dir"`
}

// CatalogConfig controls catalog-page fetching and parsing.
type CatalogConfig struct {
	// URL is the first catalog page; pagination derives from it.
	URL             string            `yaml:"url"`
	TypologyPattern string            `yaml:"typology_pattern"`
	Selectors       catalog.Selectors `yaml:"selectors"`
	Timeout         time.Duration     `yaml:"timeout"`
	MaxBytes        int64             `yaml:"max_bytes"`
	// UserAgentsFile lists one User-Agent per line for rotation.
	UserAgentsFile string `yaml:"user_agents_file"`
}

// DetailConfig controls detail-page extraction.
type DetailConfig struct {
	Selectors        detail.Selectors `yaml:"selectors"`
	NavigateTimeout  time.Duration    `yaml:"navigate_timeout"`
	ElementTimeout   time.Duration    `yaml:"element_timeout"`
	AreaCalibrationX float64          `yaml:"area_calibration_x"`
	// Months overrides the locale month-name table (name -> 1..12).
	Months map[string]int `yaml:"months"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	// Headful runs Chrome with a display for debugging; production runs
	// headless by default.
	Headful         bool          `yaml:"headful"`
	ProxyURL        string        `yaml:"proxy_url"`
	UserAgent       string        `yaml:"user_agent"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
}

// ScanConfig controls the scheduler.
type ScanConfig struct {
	Interval     time.Duration `yaml:"interval"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	MaxPages     int           `yaml:"max_pages"`
	ImageDir     string        `yaml:"image_dir"`
}

// CommandsConfig controls the external command feed. Empty FeedURL
// disables the poller; the periodic trigger still runs.
type CommandsConfig struct {
	FeedURL string `yaml:"feed_url"`
	Command string `yaml:"command"`
}

// ImagesConfig controls gallery downloads.
type ImagesConfig struct {
	Workers         int           `yaml:"workers"`
	PerImageTimeout time.Duration `yaml:"per_image_timeout"`
	MaxBytes        int64         `yaml:"max_bytes"`
}

// VisionConfig controls the image-description collaborator. Disabled by
// default; enabling it requires an API key in the environment.
type VisionConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	Prompt      string `yaml:"prompt"`
	ImageDetail string `yaml:"image_detail"`
	MaxTokens   int    `yaml:"max_tokens"`
	MaxImages   int    `yaml:"max_images"`
}

// NotifyConfig controls the outbound webhook. Empty URL disables it.
type NotifyConfig struct {
	URL string `yaml:"url"`
}

// AdminConfig controls the admin HTTP surface. Empty addr disables it.
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// LoadFile reads a YAML configuration file, applies defaults, and
// validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Catalog.TypologyPattern == "" {
		c.Catalog.TypologyPattern = DefaultTypologyPattern
	}
	if c.Catalog.Timeout <= 0 {
		c.Catalog.Timeout = 20 * time.Second
	}
	if c.Catalog.MaxBytes <= 0 {
		c.Catalog.MaxBytes = 10 * 1024 * 1024
	}
	if c.Detail.NavigateTimeout <= 0 {
		c.Detail.NavigateTimeout = 45 * time.Second
	}
	if c.Detail.ElementTimeout <= 0 {
		c.Detail.ElementTimeout = 8 * time.Second
	}
	if c.Detail.AreaCalibrationX == 0 {
		c.Detail.AreaCalibrationX = 335
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Scan.Interval <= 0 {
		c.Scan.Interval = 5 * time.Minute
	}
	if c.Scan.PollInterval <= 0 {
		c.Scan.PollInterval = 15 * time.Second
	}
	if c.Scan.RetryDelay <= 0 {
		c.Scan.RetryDelay = 30 * time.Second
	}
	if c.Scan.MaxPages <= 0 {
		c.Scan.MaxPages = 10
	}
	if c.Commands.Command == "" {
		c.Commands.Command = "scan"
	}
	if c.Images.Workers <= 0 {
		c.Images.Workers = 4
	}
	if c.Images.PerImageTimeout <= 0 {
		c.Images.PerImageTimeout = 15 * time.Second
	}
	if c.Images.MaxBytes <= 0 {
		c.Images.MaxBytes = 8 * 1024 * 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Catalog.URL == "" {
		return fmt.Errorf("config: catalog.url is required")
	}
	re, err := regexp.Compile(c.Catalog.TypologyPattern)
	if err != nil {
		return fmt.Errorf("config: catalog.typology_pattern: %w", err)
	}
	if re.NumSubexp() < 3 {
		return fmt.Errorf("config: catalog.typology_pattern needs 3 capture groups")
	}
	for name, n := range c.Detail.Months {
		if n < 1 || n > 12 {
			return fmt.Errorf("config: detail.months[%s]=%d out of range", name, n)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q unknown", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q unknown", c.Log.Format)
	}
	return nil
}

// MonthTable converts the configured month names to the detail package's
// representation, lowercased. Nil when the config does not override the
// locale default.
func (c *Config) MonthTable() map[string]time.Month {
	if len(c.Detail.Months) == 0 {
		return nil
	}
	out := make(map[string]time.Month, len(c.Detail.Months))
	for name, n := range c.Detail.Months {
		out[strings.ToLower(name)] = time.Month(n)
	}
	return out
}

// Secrets are credentials read from the environment; a .env file is
// honored when present.
type Secrets struct {
	ProxyUser     string // FINCA_PROXY_USER
	ProxyPass     string // FINCA_PROXY_PASS
	FeedToken     string // FINCA_FEED_TOKEN
	VisionAPIKey  string // OPENAI_API_KEY
	WebhookSecret string // FINCA_WEBHOOK_SECRET
}

// LoadSecrets reads credentials from the environment. envFile, when
// non-empty, is loaded first without overriding variables already set.
func LoadSecrets(envFile string) (*Secrets, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: env file %s: %w", envFile, err)
		}
	} else {
		// Best-effort default .env in the working directory.
		_ = godotenv.Load()
	}
	return &Secrets{
		ProxyUser:     os.Getenv("FINCA_PROXY_USER"),
		ProxyPass:     os.Getenv("FINCA_PROXY_PASS"),
		FeedToken:     os.Getenv("FINCA_FEED_TOKEN"),
		VisionAPIKey:  os.Getenv("OPENAI_API_KEY"),
		WebhookSecret: os.Getenv("FINCA_WEBHOOK_SECRET"),
	}, nil
}

// LoadUserAgents reads one User-Agent per line, skipping blanks and
// "#" comments. An empty path returns nil, which callers treat as
// "use the built-in pool".
func LoadUserAgents(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: user agents %s: %w", path, err)
	}
	defer f.Close()

	var agents []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		agents = append(agents, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: user agents %s: %w", path, err)
	}
	return agents, nil
}
