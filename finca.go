// CLAUDE:SUMMARY Main Service orchestrator: wires browser, catalog, detail, ledger, store, scheduler and collaborators.
// Package finca assembles the incremental property-listing crawler: a
// catalog pager, a browser-driven detail extractor, a dedup ledger, a
// listings store, and the scan scheduler that drives them.
package finca

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/finca/browser"
	"github.com/hazyhaar/finca/catalog"
	"github.com/hazyhaar/finca/commands"
	"github.com/hazyhaar/finca/config"
	"github.com/hazyhaar/finca/dbopen"
	"github.com/hazyhaar/finca/detail"
	"github.com/hazyhaar/finca/images"
	"github.com/hazyhaar/finca/ledger"
	"github.com/hazyhaar/finca/notify"
	"github.com/hazyhaar/finca/scan"
	"github.com/hazyhaar/finca/store"
	"github.com/hazyhaar/finca/vision"
)

// Service is the assembled crawler.
type Service struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *sql.DB
	browser *browser.Manager
	store   *store.Store
	sched   *scan.Scheduler
}

// New wires a Service from validated configuration. Secrets may be nil
// when nothing in the config needs credentials.
func New(cfg *config.Config, sec *config.Secrets, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sec == nil {
		sec = &config.Secrets{}
	}

	db, err := dbopen.Open(filepath.Join(cfg.DataDir, "finca.db"),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(ledger.Schema),
		dbopen.WithSchema(store.Schema))
	if err != nil {
		return nil, fmt.Errorf("finca: open db: %w", err)
	}

	agents, err := config.LoadUserAgents(cfg.Catalog.UserAgentsFile)
	if err != nil {
		db.Close()
		return nil, err
	}
	fetcher, err := catalog.NewFetcher(catalog.FetchConfig{
		Timeout:    cfg.Catalog.Timeout,
		MaxBytes:   cfg.Catalog.MaxBytes,
		UserAgents: agents,
		ProxyURL:   cfg.Browser.ProxyURL,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	parser, err := catalog.NewParser(cfg.Catalog.URL, cfg.Catalog.Selectors, cfg.Catalog.TypologyPattern)
	if err != nil {
		db.Close()
		return nil, err
	}

	mgr := browser.NewManager(browser.Config{
		Headful:         cfg.Browser.Headful,
		ProxyURL:        cfg.Browser.ProxyURL,
		ProxyUser:       sec.ProxyUser,
		ProxyPass:       sec.ProxyPass,
		UserAgent:       cfg.Browser.UserAgent,
		RecycleInterval: cfg.Browser.RecycleInterval,
		Logger:          logger,
	})
	extractor := detail.New(mgr, detail.Config{
		NavigateTimeout:  cfg.Detail.NavigateTimeout,
		ElementTimeout:   cfg.Detail.ElementTimeout,
		AreaCalibrationX: cfg.Detail.AreaCalibrationX,
		Selectors:        cfg.Detail.Selectors,
		Months:           cfg.MonthTable(),
		Logger:           logger,
	})

	st := store.NewStore(db)
	deps := scan.Deps{
		Pager: &catalogPager{
			fetcher: fetcher,
			parser:  parser,
			baseURL: cfg.Catalog.URL,
		},
		Enricher: detailEnricher{extractor},
		Images: images.New(images.Config{
			Workers:         cfg.Images.Workers,
			PerImageTimeout: cfg.Images.PerImageTimeout,
			MaxBytes:        cfg.Images.MaxBytes,
			Logger:          logger,
		}),
		Ledger: ledger.New(db),
		Saver:  st,
	}

	if cfg.Notify.URL != "" {
		n, err := notify.New(notify.Config{
			URL:    cfg.Notify.URL,
			Secret: sec.WebhookSecret,
			Logger: logger,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		deps.Notifier = n
	}

	if cfg.Vision.Enabled {
		d, err := vision.New(vision.Config{
			BaseURL:     cfg.Vision.BaseURL,
			APIKey:      sec.VisionAPIKey,
			Model:       cfg.Vision.Model,
			Prompt:      cfg.Vision.Prompt,
			ImageDetail: cfg.Vision.ImageDetail,
			MaxTokens:   cfg.Vision.MaxTokens,
			MaxImages:   cfg.Vision.MaxImages,
			Logger:      logger,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		deps.Describer = d
	}

	var poller scan.TriggerPoller
	if cfg.Commands.FeedURL != "" {
		client, err := commands.NewClient(commands.Config{
			FeedURL: cfg.Commands.FeedURL,
			Token:   sec.FeedToken,
			Command: cfg.Commands.Command,
			Logger:  logger,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		poller = commands.NewPoller(client, 0)
	}

	sched, err := scan.New(deps, poller, scan.Config{
		Interval:     cfg.Scan.Interval,
		PollInterval: cfg.Scan.PollInterval,
		RetryDelay:   cfg.Scan.RetryDelay,
		MaxPages:     cfg.Scan.MaxPages,
		ImageDir:     cfg.Scan.ImageDir,
		Logger:       logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Service{
		cfg:     cfg,
		log:     logger,
		db:      db,
		browser: mgr,
		store:   st,
		sched:   sched,
	}, nil
}

// Run starts the browser, the admin server when configured, and the scan
// scheduler. It blocks until ctx is cancelled, then tears everything down.
func (s *Service) Run(ctx context.Context) error {
	if err := s.browser.Start(ctx); err != nil {
		return fmt.Errorf("finca: start browser: %w", err)
	}
	defer s.browser.Close()
	defer s.db.Close()

	if s.cfg.Admin.ListenAddr != "" {
		srv := &http.Server{
			Addr:              s.cfg.Admin.ListenAddr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			s.log.Info("finca: admin listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("finca: admin server", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	s.sched.Run(ctx)
	return nil
}

// TriggerScan requests a manual scan, reporting whether it was admitted.
func (s *Service) TriggerScan() bool {
	return s.sched.Trigger("manual")
}

// catalogPager adapts the HTTP fetcher plus parser to the scan pipeline.
type catalogPager struct {
	fetcher *catalog.Fetcher
	parser  *catalog.Parser
	baseURL string
}

func (p *catalogPager) Page(ctx context.Context, page int, seen func(string) bool) ([]*catalog.ListingCard, error) {
	pageURL, err := catalog.PageURL(p.baseURL, page)
	if err != nil {
		return nil, err
	}
	body, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return p.parser.ParsePage(bytes.NewReader(body), seen)
}

// detailEnricher adapts the browser extractor to the scan pipeline.
type detailEnricher struct {
	ex *detail.Extractor
}

func (d detailEnricher) Enrich(ctx context.Context, link string) (*detail.Result, error) {
	return d.ex.Extract(ctx, link)
}
