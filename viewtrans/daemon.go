package viewtrans

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-rod/rod"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/viewtrans/connectivity"
	"github.com/hazyhaar/viewtrans/dbopen"
	"github.com/hazyhaar/viewtrans/settings"
	"github.com/hazyhaar/viewtrans/shield"
	"github.com/hazyhaar/viewtrans/translator"
	"github.com/hazyhaar/viewtrans/watch"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/browser"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
)

// Version is reported by the MCP server and the health endpoint.
const Version = "0.1.0"

// tabOpener is the browser side of the daemon.
type tabOpener interface {
	Start(ctx context.Context) error
	OpenTab(ctx context.Context, id, url string) (tabHandle, error)
	SetRecycleHooks(before, after func())
	Close() error
}

type tabHandle interface {
	Surface() page.Surface
	Close() error
}

type rodBrowser struct{ mgr *browser.Manager }

func (b rodBrowser) Start(ctx context.Context) error {
	_, err := b.mgr.Start(ctx)
	return err
}

func (b rodBrowser) OpenTab(ctx context.Context, id, url string) (tabHandle, error) {
	t, err := browser.OpenTab(ctx, b.mgr, id, url)
	if err != nil {
		return nil, err
	}
	return rodTab{t}, nil
}

func (b rodBrowser) SetRecycleHooks(before, after func()) {
	b.mgr.SetRecycleHooks(browser.RecycleHooks{
		Before: before,
		After:  func(*rod.Browser) { after() },
	})
}

func (b rodBrowser) Close() error { return b.mgr.Close() }

type rodTab struct{ *browser.Tab }

func (t rodTab) Surface() page.Surface { return t.Tab.Surface() }

// Daemon runs one Session per configured page on a shared browser, and
// exposes them over HTTP, MCP and the connectivity router.
type Daemon struct {
	cfg    *Config
	logger *slog.Logger

	browser  tabOpener
	registry *Registry
	router   *connectivity.Router
	mcp      *mcp.Server
	settings settings.Reader

	mu     sync.Mutex
	ctx    context.Context
	tabs   map[string]tabHandle
	pages  map[string]PageConfig
	resume map[string]bool
	dbs    map[string]*sql.DB
}

// NewDaemon builds a daemon from cfg. Nothing is launched until Start.
func NewDaemon(cfg *Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	level, err := browser.ParseStealth(cfg.Browser.Stealth)
	if err != nil {
		return nil, err
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval.D(),
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          level,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	return newDaemon(cfg, logger, rodBrowser{mgr}), nil
}

func newDaemon(cfg *Config, logger *slog.Logger, b tabOpener) *Daemon {
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		browser:  b,
		registry: NewRegistry(logger),
		settings: settings.Static(settings.Default()),
		ctx:      context.Background(),
		tabs:     make(map[string]tabHandle),
		pages:    make(map[string]PageConfig),
		dbs:      make(map[string]*sql.DB),
	}

	d.router = connectivity.New(
		connectivity.WithLogger(logger),
		connectivity.WithMiddleware(
			connectivity.Recovery(logger),
			connectivity.Logging(logger),
			connectivity.WithRetry(cfg.Routes.Retries, 200*time.Millisecond, logger),
			connectivity.WithCircuitBreaker(),
		),
	)
	d.router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory())
	d.router.RegisterLocal(ServiceCommand, d.registry.HandleCommand)

	d.mcp = mcp.NewServer(&mcp.Implementation{Name: "viewtrans", Version: Version}, nil)
	d.registry.RegisterMCP(d.mcp)
	return d
}

// Registry returns the per-tab session registry.
func (d *Daemon) Registry() *Registry { return d.registry }

// Router returns the connectivity router carrying translate_batch and
// viewtrans_command.
func (d *Daemon) Router() *connectivity.Router { return d.router }

// Start opens the stores, launches the browser and opens every configured
// page. A page that fails to open is logged and skipped.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	if err := d.openStores(ctx); err != nil {
		return err
	}
	if err := d.browser.Start(ctx); err != nil {
		return fmt.Errorf("viewtrans: start browser: %w", err)
	}
	d.browser.SetRecycleHooks(d.beforeRecycle, d.afterRecycle)

	for _, p := range d.cfg.Pages {
		if err := d.OpenPage(ctx, p); err != nil {
			d.logger.Error("viewtrans: open page failed", "page", p.ID, "url", p.URL, "error", err)
		}
	}
	return nil
}

func (d *Daemon) openStores(ctx context.Context) error {
	sc := d.cfg.Settings
	switch {
	case sc.DB != "":
		db, err := d.openDB(sc.DB)
		if err != nil {
			return err
		}
		store, err := settings.NewStore(db)
		if err != nil {
			return err
		}
		d.settings = store
		w := watch.New(db, watch.Options{
			Name:     "settings",
			Interval: d.cfg.Routes.PollInterval.D(),
			Debounce: 250 * time.Millisecond,
			Detector: watch.MaxColumn("settings", "updated_at"),
			Logger:   d.logger,
		})
		go w.Run(ctx, func(ctx context.Context) error {
			s, err := store.Load(ctx)
			if err != nil {
				return err
			}
			d.logger.Info("viewtrans: settings changed, applied on next start",
				"preset", s.StylePreset, "batch_size", s.BatchSize)
			return nil
		})
	case sc.File != "":
		f := &settings.File{Path: sc.File, Logger: d.logger}
		err := f.Watch(ctx, func(s settings.Settings) {
			d.logger.Info("viewtrans: settings changed, applied on next start",
				"preset", s.StylePreset, "batch_size", s.BatchSize)
		})
		if err != nil {
			d.logger.Warn("viewtrans: settings watch disabled", "path", sc.File, "error", err)
		}
		d.settings = f
	}

	tc := d.cfg.Translator
	if tc.Endpoint != "" {
		httpOpts := []translator.HTTPOption{
			translator.WithHTTPTimeout(tc.Timeout.D()),
			translator.WithHTTPLogger(d.logger),
		}
		keys := make([]string, 0, len(tc.Headers))
		for k := range tc.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			httpOpts = append(httpOpts, translator.WithHeader(k, tc.Headers[k]))
		}

		svcOpts := []translator.ServiceOption{
			translator.WithTargetLang(tc.TargetLang),
			translator.WithRequestDelay(tc.RequestDelay.D()),
			translator.WithLogger(d.logger),
		}
		if tc.Cache {
			db, err := d.openDB(tc.CacheDB)
			if err != nil {
				return err
			}
			cache, err := translator.NewCache(db)
			if err != nil {
				return err
			}
			svcOpts = append(svcOpts, translator.WithCache(cache))
		}
		svc := translator.NewService(translator.NewHTTPProvider(tc.Endpoint, httpOpts...), svcOpts...)
		d.router.RegisterLocal(translator.ActionTranslateBatch, svc.Handle)
	} else {
		d.logger.Warn("viewtrans: no translator endpoint, translate_batch needs a route")
	}

	if rc := d.cfg.Routes; rc.DB != "" {
		db, err := d.openDB(rc.DB)
		if err != nil {
			return err
		}
		if err := connectivity.Init(db); err != nil {
			return err
		}
		go d.router.Watch(ctx, db, rc.PollInterval.D())
	}
	return nil
}

// openDB opens path once; settings and cache may share a file.
func (d *Daemon) openDB(path string) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if db, ok := d.dbs[path]; ok {
		return db, nil
	}
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("viewtrans: open %s: %w", path, err)
	}
	d.dbs[path] = db
	return db, nil
}

// OpenPage opens a tab on p.URL, registers its session and starts it when
// p.AutoStart is set.
func (d *Daemon) OpenPage(ctx context.Context, p PageConfig) error {
	if p.ID == "" || p.URL == "" {
		return errors.New("viewtrans: page id and url are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openPageLocked(ctx, p, p.AutoStart)
}

func (d *Daemon) openPageLocked(ctx context.Context, p PageConfig, start bool) error {
	if _, ok := d.tabs[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, p.ID)
	}
	tab, err := d.browser.OpenTab(ctx, p.ID, p.URL)
	if err != nil {
		return fmt.Errorf("viewtrans: open tab %s: %w", p.ID, err)
	}

	s := NewSession(SessionConfig{
		TabID:    p.ID,
		URL:      p.URL,
		Surface:  tab.Surface(),
		Settings: d.settings,
		Translator: translator.NewClient(d.router,
			translator.WithClientLogger(d.logger.With("tab", p.ID))),
		RootMargin:     d.cfg.Tracker.RootMargin,
		Threshold:      d.cfg.Tracker.Threshold,
		FlushDelay:     d.cfg.Batch.FlushDelay.D(),
		RequestTimeout: d.cfg.Batch.RequestTimeout.D(),
		Logger:         d.logger,
	})
	if err := d.registry.Add(s); err != nil {
		tab.Close()
		return err
	}
	d.tabs[p.ID] = tab
	d.pages[p.ID] = p

	if start {
		if err := s.Start(ctx); err != nil {
			d.logger.Error("viewtrans: auto start failed", "tab", p.ID, "error", err)
		}
	}
	d.logger.Info("viewtrans: page opened", "tab", p.ID, "url", p.URL, "active", s.State() == Active)
	return nil
}

// ClosePage stops the tab's session, unregisters it and closes the tab.
func (d *Daemon) ClosePage(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tab, ok := d.tabs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	delete(d.tabs, id)
	delete(d.pages, id)

	err := d.registry.Remove(ctx, id)
	if cerr := tab.Close(); cerr != nil {
		d.logger.Warn("viewtrans: close tab", "tab", id, "error", cerr)
	}
	d.logger.Info("viewtrans: page closed", "tab", id)
	return err
}

// Pages returns the open pages sorted by ID.
func (d *Daemon) Pages() []PageConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PageConfig, 0, len(d.pages))
	for _, p := range d.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// beforeRecycle stops every session and drops the tabs of the browser
// about to be killed, remembering which ones were translating.
func (d *Daemon) beforeRecycle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resume = make(map[string]bool, len(d.tabs))
	for id, tab := range d.tabs {
		d.resume[id] = d.registry.Active(id)
		if err := d.registry.Remove(d.ctx, id); err != nil {
			d.logger.Warn("viewtrans: stop before recycle", "tab", id, "error", err)
		}
		tab.Close()
	}
	d.tabs = make(map[string]tabHandle)
}

// afterRecycle reopens every page on the new browser and restarts the
// sessions that were active.
func (d *Daemon) afterRecycle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, p := range d.pages {
		if err := d.openPageLocked(d.ctx, p, d.resume[id]); err != nil {
			d.logger.Error("viewtrans: reopen after recycle failed", "tab", id, "error", err)
		}
	}
	d.resume = nil
}

// Handler returns the HTTP surface: the control API, page management,
// the connectivity router under /rpc/ and MCP under /mcp.
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(shield.Stack(d.logger)...)
	d.registry.RegisterHTTP(r)

	r.Get("/api/pages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Pages())
	})
	r.Post("/api/pages", func(w http.ResponseWriter, req *http.Request) {
		var p PageConfig
		if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := d.OpenPage(req.Context(), p); err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, ErrSessionExists):
				status = http.StatusConflict
			case p.ID == "" || p.URL == "":
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		s, ok := d.registry.Get(p.ID)
		if !ok {
			writeError(w, http.StatusNotFound, ErrNoSession)
			return
		}
		writeJSON(w, http.StatusCreated, s.Stats())
	})
	r.Delete("/api/pages/{pageID}", func(w http.ResponseWriter, req *http.Request) {
		if err := d.ClosePage(req.Context(), chi.URLParam(req, "pageID")); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrNoSession) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Handle("/rpc/*", d.router)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return d.mcp }, nil))
	return r
}

// Serve listens on the configured address until ctx is done.
func (d *Daemon) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.cfg.HTTP.Addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	d.logger.Info("viewtrans: http listening", "addr", d.cfg.HTTP.Addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("viewtrans: http: %w", err)
	}
}

// Run starts the daemon, serves until ctx is done and shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		d.Close(context.Background())
		return err
	}
	err := d.Serve(ctx)
	if cerr := d.Close(context.Background()); err == nil {
		err = cerr
	}
	return err
}

// Close stops every session, closes the tabs, the browser, the router and
// the databases.
func (d *Daemon) Close(ctx context.Context) error {
	err := d.registry.Close(ctx)

	d.mu.Lock()
	for id, tab := range d.tabs {
		if cerr := tab.Close(); cerr != nil {
			d.logger.Debug("viewtrans: close tab", "tab", id, "error", cerr)
		}
	}
	d.tabs = make(map[string]tabHandle)
	dbs := d.dbs
	d.dbs = make(map[string]*sql.DB)
	d.mu.Unlock()

	if berr := d.browser.Close(); berr != nil && err == nil {
		err = berr
	}
	if rerr := d.router.Close(); rerr != nil && err == nil {
		err = rerr
	}
	for path, db := range dbs {
		if derr := db.Close(); derr != nil {
			d.logger.Warn("viewtrans: close db", "path", path, "error", derr)
		}
	}
	d.logger.Info("viewtrans: daemon stopped")
	return err
}
