package starch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eringen/starch/dispatch"
	"github.com/eringen/starch/entity"
	"github.com/eringen/starch/route"
)

type book struct{ *entity.Entity }

// yearController answers the archive/:year route with plain text.
type yearController struct{ dispatch.Base }

func (h *yearController) Actions() dispatch.Actions {
	return dispatch.Actions{
		"show": func(c *dispatch.Context, args ...string) error {
			h.Content.WriteString("year " + args[0])
			return nil
		},
	}
}

func newTestApp(t *testing.T, cfg SiteConfig, seed func(s *Store), opts ...Option) *App {
	t.Helper()
	s := setupTestStore(t)
	if seed != nil {
		seed(s)
	}
	cfg.Name = "Test Site"
	cfg.URL = "https://example.com"
	cfg.AdminPassword = "secret"
	cfg.SessionSecret = "test-session-secret"
	cfg.UploadsDir = filepath.Join(t.TempDir(), "uploads")
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
	if cfg.ErrorLogPath == "" {
		cfg.ErrorLogPath = filepath.Join(t.TempDir(), "error.log")
	}
	a := New(cfg, append(opts, WithStore(s))...)
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		a.loginLimiter.Stop()
		if a.errorLog != nil {
			a.errorLog.Close()
		}
	})
	return a
}

func seedSite(t *testing.T) func(s *Store) {
	return func(s *Store) {
		mustSave(t, s, entity.Record{Type: entity.TypePost, Title: "Hello", Slug: "hello", Excerpt: "First post", Body: "Some **bold** words", Date: day(1)})
		mustSave(t, s, entity.Record{Type: entity.TypePost, Title: "Second", Slug: "second", Body: "more", Date: day(2)})
		mustSave(t, s, entity.Record{Type: entity.TypePost, Title: "Unfinished", Slug: "unfinished", Status: "draft", Date: day(3)})
		mustSave(t, s, entity.Record{Type: entity.TypePage, Title: "About", Slug: "about", Body: "About *us*", Date: day(1)})
		mustSave(t, s, entity.Record{Type: "book", Title: "Dune", Slug: "dune", Body: "Sand", Date: day(1)})
	}
}

func get(a *App, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

func TestDispatchBuiltInScheme(t *testing.T) {
	cfg := SiteConfig{PostTypes: []entity.TypeDef{{Name: "Book"}}}
	a := newTestApp(t, cfg, seedSite(t),
		WithModel("Book", func(e *entity.Entity) entity.Model { return &book{e} }))

	tests := []struct {
		name    string
		path    string
		status  int
		want    []string
		notWant []string
	}{
		{"front page", "/", http.StatusOK, []string{"Hello", "Second"}, []string{"Unfinished", "About"}},
		{"post archive", "/blog/", http.StatusOK, []string{"<h1>Posts</h1>", `href="/blog/hello/"`}, []string{"Dune"}},
		{"single post", "/blog/hello/", http.StatusOK, []string{"<h1>Hello</h1>", "<strong>bold</strong>", `rel="next" href="/blog/second/"`}, nil},
		{"page", "/about/", http.StatusOK, []string{"<h1>About</h1>", "<em>us</em>"}, []string{"adjacent"}},
		{"custom type archive", "/book/", http.StatusOK, []string{"<h1>Books</h1>", `href="/book/dune/"`}, nil},
		{"custom type single", "/book/dune/", http.StatusOK, []string{"<h1>Dune</h1>", "Sand"}, nil},
		{"draft is hidden", "/blog/unfinished/", http.StatusNotFound, []string{"Page not found"}, nil},
		{"unknown path", "/nowhere/", http.StatusNotFound, []string{"Page not found"}, nil},
		{"too deep", "/a/b/c/", http.StatusNotFound, []string{"Page not found"}, nil},
		{"search", "/?s=hello", http.StatusOK, []string{"Results for", `href="/blog/hello/"`}, []string{"Second"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(a, tt.path)
			if rec.Code != tt.status {
				t.Fatalf("GET %s status = %d, want %d", tt.path, rec.Code, tt.status)
			}
			body := rec.Body.String()
			for _, w := range tt.want {
				if !strings.Contains(body, w) {
					t.Errorf("GET %s body missing %q", tt.path, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(body, w) {
					t.Errorf("GET %s body should not contain %q", tt.path, w)
				}
			}
		})
	}
}

func TestEmptyArchiveIsNothingFound(t *testing.T) {
	a := newTestApp(t, SiteConfig{}, nil)

	rec := get(a, "/blog/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Nothing found") {
		t.Errorf("body = %q, want the nothing found page", rec.Body.String())
	}
}

func TestMissingTrailingSlashRedirects(t *testing.T) {
	a := newTestApp(t, SiteConfig{}, seedSite(t))

	rec := get(a, "/blog/hello")
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/blog/hello/" {
		t.Errorf("Location = %q", loc)
	}
}

func TestConfiguredRouteReachesController(t *testing.T) {
	cfg := SiteConfig{Routes: route.Decls{{Pattern: "archive/:year", Handler: "Year", Action: "show", Args: 1}}}
	a := newTestApp(t, cfg, seedSite(t),
		WithController("Year", func(entity.Model) dispatch.Controller { return &yearController{} }))

	rec := get(a, "/archive/2024/")
	if rec.Code != http.StatusOK || rec.Body.String() != "year 2024" {
		t.Fatalf("GET /archive/2024/ = %d %q", rec.Code, rec.Body.String())
	}
	// unrouted paths still use the built-in scheme
	if rec := get(a, "/blog/hello/"); rec.Code != http.StatusOK {
		t.Errorf("GET /blog/hello/ status = %d", rec.Code)
	}
}

func TestMissingControllerStrict(t *testing.T) {
	cfg := SiteConfig{Routes: route.Decls{{Pattern: "shop", Handler: "Shop", Action: "index"}}}
	a := newTestApp(t, cfg, nil)

	rec := get(a, "/shop/")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Shop::index does not exist") {
		t.Errorf("body = %q, want the diagnostic message", rec.Body.String())
	}
}

func TestMissingControllerProduction(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "error.log")
	cfg := SiteConfig{
		Environment:  EnvProduction,
		ErrorLogPath: logPath,
		Routes:       route.Decls{{Pattern: "shop", Handler: "Shop", Action: "index"}},
	}
	a := newTestApp(t, cfg, nil)

	rec := get(a, "/shop/")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Something went wrong") || strings.Contains(body, "Shop::index") {
		t.Errorf("body = %q, want the generic error page", body)
	}
	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading error log: %v", err)
	}
	if !strings.Contains(string(logged), "Shop::index does not exist") {
		t.Errorf("error log = %q", logged)
	}
}

func TestStaticFrontPageFromConfig(t *testing.T) {
	s := setupTestStore(t)
	welcome := mustSave(t, s, entity.Record{Type: entity.TypePage, Title: "Welcome", Slug: "welcome", Date: day(1)})
	a := New(SiteConfig{
		SessionSecret: "test-session-secret",
		Environment:   EnvDevelopment,
		UploadsDir:    t.TempDir(),
		ShowOnFront:   "page",
		PageOnFront:   welcome.ID,
	}, WithStore(s))
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer a.loginLimiter.Stop()

	rec := get(a, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<h1>Welcome</h1>") {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}
	if v, _ := s.Option(context.Background(), dispatch.OptionShowOnFront); v != "page" {
		t.Errorf("show_on_front = %q", v)
	}
}

func TestInitPersistsRulesOnce(t *testing.T) {
	s := setupTestStore(t)
	cfg := SiteConfig{
		SessionSecret: "test-session-secret",
		Environment:   EnvDevelopment,
		UploadsDir:    t.TempDir(),
		Routes:        route.Decls{{Pattern: "archive/:year", Handler: "Post", Action: "archive", Args: 1}},
	}
	first := New(cfg, WithStore(s))
	if err := first.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	first.loginLimiter.Stop()
	if !first.Rules.Flush {
		t.Errorf("first Init should regenerate the rules")
	}

	second := New(cfg, WithStore(s))
	if err := second.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	second.loginLimiter.Stop()
	if second.Rules.Flush {
		t.Errorf("unchanged configuration should reuse the persisted rules")
	}
	if second.Rules.Fingerprint != first.Rules.Fingerprint {
		t.Errorf("fingerprint changed: %s != %s", second.Rules.Fingerprint, first.Rules.Fingerprint)
	}
}

func TestFeedAndSitemap(t *testing.T) {
	a := newTestApp(t, SiteConfig{}, seedSite(t))

	rec := get(a, "/feed.xml")
	if rec.Code != http.StatusOK {
		t.Fatalf("feed status = %d", rec.Code)
	}
	feed := rec.Body.String()
	for _, want := range []string{"<title>Hello</title>", "<link>https://example.com/blog/hello/</link>", `isPermaLink="false"`} {
		if !strings.Contains(feed, want) {
			t.Errorf("feed missing %q", want)
		}
	}
	if strings.Contains(feed, "Unfinished") || strings.Contains(feed, "About") {
		t.Errorf("feed should only list published posts")
	}

	rec = get(a, "/sitemap.xml")
	if rec.Code != http.StatusOK {
		t.Fatalf("sitemap status = %d", rec.Code)
	}
	sitemap := rec.Body.String()
	for _, want := range []string{
		"<loc>https://example.com/</loc>",
		"<loc>https://example.com/blog/</loc>",
		"<loc>https://example.com/blog/hello/</loc>",
		"<loc>https://example.com/about/</loc>",
	} {
		if !strings.Contains(sitemap, want) {
			t.Errorf("sitemap missing %q", want)
		}
	}
}

func TestMetricsCountDispatches(t *testing.T) {
	a := newTestApp(t, SiteConfig{}, seedSite(t))
	get(a, "/blog/hello/")

	rec := get(a, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "starch_dispatch") {
		t.Errorf("metrics missing dispatch series")
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestAdminRequiresLogin(t *testing.T) {
	a := newTestApp(t, SiteConfig{}, nil)

	rec := get(a, "/admin/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `name="password"`) {
		t.Fatalf("GET /admin/ = %d %q, want the login form", rec.Code, rec.Body.String())
	}
	rec = get(a, "/admin/edit/1/")
	if rec.Code != http.StatusSeeOther {
		t.Errorf("GET /admin/edit/1/ status = %d, want redirect", rec.Code)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "site.yaml")
	os.WriteFile(yamlPath, []byte(`
name: Notes
environment: development
cache_ttl: 30s
routes:
  blog/:id: [Post, view, 1]
  archive: [Post, archive]
post_types:
  - News
  - name: Book
    slug: books
    archive: false
`), 0o644)
	jsoncPath := filepath.Join(dir, "site.jsonc")
	os.WriteFile(jsoncPath, []byte(`{
  // comments are allowed
  "name": "Notes",
  "environment": "development",
  "cache_ttl": "30s",
  "routes": {
    "blog/:id": ["Post", "view", 1],
    "archive": ["Post", "archive"],
  },
  "post_types": ["News", {"name": "Book", "slug": "books", "archive": false}],
}`), 0o644)

	for _, path := range []string{yamlPath, jsoncPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			t.Setenv("STARCH_SESSION_SECRET", "from-env")
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if cfg.Name != "Notes" || !cfg.Strict() {
				t.Errorf("cfg = %+v", cfg)
			}
			if time.Duration(cfg.CacheTTL) != 30*time.Second {
				t.Errorf("CacheTTL = %v", cfg.CacheTTL)
			}
			if cfg.SessionSecret != "from-env" {
				t.Errorf("SessionSecret = %q, want the environment value", cfg.SessionSecret)
			}
			if len(cfg.Routes) != 2 || cfg.Routes[0].Pattern != "blog/:id" || cfg.Routes[0].Args != 1 || cfg.Routes[1].Action != "archive" {
				t.Errorf("Routes = %+v", cfg.Routes)
			}
			if len(cfg.PostTypes) != 2 || cfg.PostTypes[0].Name != "News" || cfg.PostTypes[1].Slug != "books" || cfg.PostTypes[1].HasArchive() {
				t.Errorf("PostTypes = %+v", cfg.PostTypes)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(dir, "site.toml")); err == nil {
		t.Errorf("LoadConfig should reject unknown formats")
	}
}

func TestProcessImageSizes(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for x := 0; x < 400; x++ {
		for y := 0; y < 300; y++ {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	img, err := processImage(&buf, "My Photo.png", []ThumbnailSize{
		{Name: "thumbnail", Width: 150, Height: 150, Crop: true},
		{Name: "small", Width: 200},
		{Name: "large", Width: 1200},
	})
	if err != nil {
		t.Fatalf("processImage failed: %v", err)
	}
	if img.Base != "my-photo" || img.Width != 400 || img.Height != 300 {
		t.Errorf("image = %s %dx%d", img.Base, img.Width, img.Height)
	}
	tests := []struct {
		name          string
		width, height int
	}{
		{"thumbnail", 150, 150},
		{"small", 200, 150},
	}
	for _, tt := range tests {
		s, ok := img.Sizes[tt.name]
		if !ok {
			t.Errorf("size %s missing", tt.name)
			continue
		}
		if s.Width != tt.width || s.Height != tt.height {
			t.Errorf("size %s = %dx%d, want %dx%d", tt.name, s.Width, s.Height, tt.width, tt.height)
		}
	}
	if _, ok := img.Sizes["large"]; ok {
		t.Errorf("sizes larger than the original should be skipped")
	}

	if _, err := processImage(strings.NewReader("not an image"), "x.png", nil); err == nil {
		t.Errorf("processImage should reject undecodable input")
	}
}
