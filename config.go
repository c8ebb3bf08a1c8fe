package starch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/eringen/starch/dispatch"
	"github.com/eringen/starch/entity"
	"github.com/eringen/starch/route"
)

// Environments. Development makes dispatch strict: configuration errors
// are rendered with diagnostics instead of a generic 500.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
)

// SiteConfig holds all configuration for a starch site.
type SiteConfig struct {
	Name        string `yaml:"name" json:"name"`               // Site name (default "Blog")
	URL         string `yaml:"url" json:"url"`                 // Canonical URL (default "http://localhost:3000")
	Description string `yaml:"description" json:"description"` // Site description for RSS and meta tags
	Author      string `yaml:"author" json:"author"`

	Addr        string `yaml:"addr" json:"addr"`               // Listen address (default ":3000")
	Environment string `yaml:"environment" json:"environment"` // development or production (default)

	Store        string       `yaml:"store" json:"store"`                 // sqlite (default) or dynamodb
	DatabasePath string       `yaml:"database_path" json:"database_path"` // SQLite path (default "data/starch.db")
	DynamoDB     DynamoConfig `yaml:"dynamodb" json:"dynamodb"`

	UploadsDir   string `yaml:"uploads_dir" json:"uploads_dir"`       // Attachment files (default "public/uploads")
	ErrorLogPath string `yaml:"error_log_path" json:"error_log_path"` // Production failures (default "data/error.log")

	AdminPassword string `yaml:"admin_password" json:"admin_password"` // Required: admin login password
	SessionSecret string `yaml:"session_secret" json:"session_secret"` // Required: session encryption secret
	CookieSecure  bool   `yaml:"cookie_secure" json:"cookie_secure"`   // Set true for HTTPS

	CacheTTL Duration `yaml:"cache_ttl" json:"cache_ttl"` // Query cache TTL (default 5m)

	// ShowOnFront is "posts" (default) or "page"; PageOnFront names the id
	// of the static front page. Both are written to the option store at
	// startup when set.
	ShowOnFront string `yaml:"show_on_front" json:"show_on_front"`
	PageOnFront int64  `yaml:"page_on_front" json:"page_on_front"`

	// Routes binds URL patterns to handler actions in declaration order.
	Routes route.Decls `yaml:"routes" json:"routes"`

	// PostTypes lists custom content types in addition to the built-ins.
	PostTypes []entity.TypeDef `yaml:"post_types" json:"post_types"`

	// Thumbnails are the image sizes generated for uploads.
	Thumbnails []ThumbnailSize `yaml:"thumbnails" json:"thumbnails"`
}

// DynamoConfig selects the DynamoDB tables when Store is "dynamodb".
type DynamoConfig struct {
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	RecordsTable string `yaml:"records_table" json:"records_table"`
	MetaTable    string `yaml:"meta_table" json:"meta_table"`
	OptionsTable string `yaml:"options_table" json:"options_table"`
}

// ThumbnailSize is one generated image size. A zero Height keeps the
// aspect ratio; Crop fills the exact box.
type ThumbnailSize struct {
	Name   string `yaml:"name" json:"name"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	Crop   bool   `yaml:"crop" json:"crop"`
}

// Duration is a time.Duration written as "5m" in configuration files.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Blog"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.Environment == "" {
		c.Environment = EnvProduction
	}
	if c.Store == "" {
		c.Store = StoreSQLite
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/starch.db"
	}
	if c.UploadsDir == "" {
		c.UploadsDir = "public/uploads"
	}
	if c.ErrorLogPath == "" {
		c.ErrorLogPath = "data/error.log"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = Duration(5 * time.Minute)
	}
	if c.Thumbnails == nil {
		c.Thumbnails = []ThumbnailSize{
			{Name: "thumbnail", Width: 150, Height: 150, Crop: true},
			{Name: "medium", Width: 800},
		}
	}
}

// Strict reports whether dispatch configuration errors are fatal.
func (c SiteConfig) Strict() bool {
	return c.Environment == EnvDevelopment
}

// LoadConfig reads a site configuration from a YAML (.yaml, .yml) or JSON
// with comments (.json, .jsonc) file. Empty secrets are taken from
// STARCH_ADMIN_PASSWORD and STARCH_SESSION_SECRET.
func LoadConfig(path string) (SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SiteConfig{}, fmt.Errorf("starch: read config: %w", err)
	}
	var cfg SiteConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	default:
		return SiteConfig{}, fmt.Errorf("starch: unsupported config format %q", ext)
	}
	if err != nil {
		return SiteConfig{}, fmt.Errorf("starch: parse %s: %w", path, err)
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = os.Getenv("STARCH_ADMIN_PASSWORD")
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = os.Getenv("STARCH_SESSION_SECRET")
	}
	return cfg, nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs before the catch-all dispatch route is added.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticDir sets the directory for user-owned static assets (default "public").
func WithStaticDir(dir string) Option {
	return func(a *App) {
		a.staticDir = dir
	}
}

// WithViews replaces the default page components.
func WithViews(v Views) Option {
	return func(a *App) {
		a.Views = v
	}
}

// WithModel registers a content model so post_types entries can name it.
func WithModel(name string, f entity.Factory) Option {
	return func(a *App) {
		a.models = append(a.models, namedModel{name, f})
	}
}

// WithController registers a controller under name, replacing a default
// controller of the same name.
func WithController(name string, f dispatch.Factory) Option {
	return func(a *App) {
		a.controllers[name] = f
	}
}

// WithStore uses s instead of opening the configured backend.
func WithStore(s ContentStore) Option {
	return func(a *App) {
		a.content = s
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.Logger = l
	}
}
