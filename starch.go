// Package starch is a content site engine built with Go, Echo, and templ.
// It maps request URLs to controllers through configured rewrite routes or
// the built-in URL scheme, and presents stored records as lazily resolved
// typed entities.
//
// Sites declare content types and routes in a configuration file, register
// models and controllers in code, and starch handles storage, dispatch,
// admin editing, uploads, RSS, and sitemaps.
package starch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/eringen/starch/dispatch"
	"github.com/eringen/starch/dynamo"
	"github.com/eringen/starch/entity"
	"github.com/eringen/starch/markdown"
	"github.com/eringen/starch/route"
)

// ContentStore is a storage backend the application can read and edit.
// Store (SQLite) and dynamo.Store implement it.
type ContentStore interface {
	entity.Store
	entity.Options
	Save(ctx context.Context, rec entity.Record) (entity.Record, error)
	Delete(ctx context.Context, id int64) error
	SetMeta(ctx context.Context, id int64, key, value string) error
	Close() error
}

// App is the central starch application. It wires together the store,
// type registry, route table, dispatcher, middleware, and templates.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Views  Views
	Logger *slog.Logger

	Store      ContentStore
	Cache      *QueryCache
	Registry   *entity.Registry
	Routes     *route.Table
	Rules      *route.RuleSet
	Handlers   *dispatch.Handlers
	Entities   *entity.Materializer
	Dispatcher *dispatch.Dispatcher
	Metrics    *prometheus.Registry

	content      ContentStore
	models       []namedModel
	controllers  map[string]dispatch.Factory
	loginLimiter *LoginLimiter
	customRoutes []func(*App)
	staticDir    string
	errorLog     io.Closer
	initialized  bool
}

type namedModel struct {
	name    string
	factory entity.Factory
}

// New creates a new starch App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:      cfg,
		Echo:        echo.New(),
		Views:       DefaultViews(),
		controllers: make(map[string]dispatch.Factory),
		staticDir:   "public",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Logger == nil {
		a.Logger = slog.New(slog.DiscardHandler)
	}
	a.Views.withDefaults()
	a.Echo.HideBanner = true
	return a
}

// Init opens the store and runs the startup sequence: types are registered
// and synced, routes are built (regenerating the persisted rules when either
// changed), every table is frozen, and the dispatcher is assembled. It is
// called by Start and may be called alone to inspect the configuration.
func (a *App) Init(ctx context.Context) error {
	if a.initialized {
		return nil
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	a.Cache = NewQueryCache(a.Store, time.Duration(a.Config.CacheTTL))

	a.Registry = entity.NewRegistry()
	for _, m := range a.models {
		if err := a.Registry.RegisterModel(m.name, m.factory); err != nil {
			return fmt.Errorf("starch: register model %s: %w", m.name, err)
		}
	}
	if err := a.Registry.Load(a.Config.PostTypes); err != nil {
		return fmt.Errorf("starch: load post types: %w", err)
	}
	typesChanged, err := a.Registry.Sync(ctx, a.Store)
	if err != nil {
		return fmt.Errorf("starch: sync post types: %w", err)
	}
	a.Registry.Freeze()

	a.Routes = route.NewTable()
	if err := a.Routes.Load(a.Config.Routes); err != nil {
		return fmt.Errorf("starch: load routes: %w", err)
	}
	if typesChanged {
		a.Routes.RequestFlush()
	}
	if a.Rules, err = a.Routes.Build(ctx, a.Store); err != nil {
		return fmt.Errorf("starch: build routes: %w", err)
	}
	a.Routes.Freeze()
	if a.Rules.Flush {
		a.Logger.Info("rewrite rules regenerated", "rules", len(a.Rules.Rules), "fingerprint", a.Rules.Fingerprint)
	}

	if err := a.storeFrontPage(ctx); err != nil {
		return err
	}

	a.Entities = entity.NewMaterializer(a.Cache, a.Registry, markdown.Filter)
	a.Entities.UploadsURL = "/uploads"

	if err := a.registerControllers(); err != nil {
		return err
	}

	a.Metrics = prometheus.NewRegistry()
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	errorLog, err := a.openErrorLog()
	if err != nil {
		return err
	}
	a.Dispatcher = dispatch.New(a.Handlers, a.Entities,
		dispatch.WithRoutes(a.Routes, a.Rules),
		dispatch.WithClassifier(siteClassifier{app: a}),
		dispatch.WithOptions(a.Store),
		dispatch.WithStrict(a.Config.Strict()),
		dispatch.WithLogger(a.Logger),
		dispatch.WithErrorLog(errorLog),
		dispatch.WithRegisterer(a.Metrics),
		dispatch.WithEditor(editor),
	)
	for _, b := range a.Registry.Types() {
		a.Dispatcher.BindType(b.Type, b.Model)
	}

	a.loginLimiter = NewLoginLimiter(5, time.Minute)
	a.setupMiddleware()
	a.setupRoutes()
	a.initialized = true
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.content != nil {
		a.Store = a.content
		return nil
	}
	switch a.Config.Store {
	case StoreSQLite:
		s, err := NewStore(a.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("starch: init store: %w", err)
		}
		a.Store = s
	case StoreDynamoDB:
		d := a.Config.DynamoDB
		s, err := dynamo.Open(ctx, dynamo.Config{
			RecordsTable: d.RecordsTable,
			MetaTable:    d.MetaTable,
			OptionsTable: d.OptionsTable,
		}, d.Region, d.Endpoint)
		if err != nil {
			return fmt.Errorf("starch: init store: %w", err)
		}
		a.Store = s
	default:
		return fmt.Errorf("starch: unknown store %q", a.Config.Store)
	}
	return nil
}

// storeFrontPage writes configured front page settings to the option store,
// where the dispatcher reads them.
func (a *App) storeFrontPage(ctx context.Context) error {
	if a.Config.ShowOnFront != "" {
		if err := a.Store.SetOption(ctx, dispatch.OptionShowOnFront, a.Config.ShowOnFront); err != nil {
			return fmt.Errorf("starch: store %s: %w", dispatch.OptionShowOnFront, err)
		}
	}
	if a.Config.PageOnFront != 0 {
		if err := a.Store.SetOption(ctx, dispatch.OptionPageOnFront, strconv.FormatInt(a.Config.PageOnFront, 10)); err != nil {
			return fmt.Errorf("starch: store %s: %w", dispatch.OptionPageOnFront, err)
		}
	}
	return nil
}

// registerControllers installs Main, Post and Page, a content controller
// for every custom type without its own, and finally the user controllers.
func (a *App) registerControllers() error {
	a.Handlers = dispatch.NewHandlers()
	defaults := map[string]dispatch.Factory{
		dispatch.MainHandler: a.newMainController,
		dispatch.PostHandler: a.newContentController,
		dispatch.PageHandler: a.newPageController,
	}
	for _, b := range a.Registry.Types() {
		if !b.BuiltIn {
			defaults[b.Model] = a.newContentController
		}
	}
	for name, f := range a.controllers {
		defaults[name] = f
	}
	for name, f := range defaults {
		if err := a.Handlers.Register(name, f); err != nil {
			return fmt.Errorf("starch: register controller %s: %w", name, err)
		}
	}
	a.Handlers.Freeze()
	return nil
}

// openErrorLog returns the sink for failures hidden from visitors. In
// production it appends JSON records to ErrorLogPath; in development the
// operational logger is used since errors are shown on the page.
func (a *App) openErrorLog() (*slog.Logger, error) {
	if a.Config.Strict() {
		return a.Logger, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.Config.ErrorLogPath), 0o755); err != nil {
		return nil, fmt.Errorf("starch: create error log dir: %w", err)
	}
	f, err := os.OpenFile(a.Config.ErrorLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("starch: open error log: %w", err)
	}
	a.errorLog = f
	return slog.New(slog.NewJSONHandler(f, nil)), nil
}

// Start initializes the application and starts the server.
func (a *App) Start() error {
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("starch: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("starch: SessionSecret is required")
	}
	if err := a.Init(context.Background()); err != nil {
		return err
	}
	a.Logger.Info("starting", "addr", a.Config.Addr, "environment", a.Config.Environment, "store", a.Config.Store)
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	var errs []error
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.errorLog != nil {
		errs = append(errs, a.errorLog.Close())
	}
	return errors.Join(errs...)
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// MustEnv returns the value of the environment variable key, or fatally exits if empty.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("starch: required environment variable %s is not set", key)
	}
	return v
}
