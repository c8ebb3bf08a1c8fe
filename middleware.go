package starch

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/eringen/starch/entity"
)

const (
	adminSession = "starch_admin"
	sessionTTL   = 12 * time.Hour
)

// Paths served as files rather than through the dispatcher.
var (
	assetPrefixes = []string{"/public/", "/uploads/"}
	plainFiles    = map[string]bool{
		"/favicon.svg": true,
		"/robots.txt":  true,
		"/sitemap.xml": true,
		"/feed.xml":    true,
		"/metrics":     true,
	}
)

func isAsset(p string) bool {
	for _, prefix := range assetPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)
	e.HTTPErrorHandler = a.httpErrorHandler

	e.Pre(middleware.NonWWWRedirect())
	e.Use(
		middleware.RequestID(),
		a.requestLogger(),
		middleware.Recover(),
		middleware.BodyLimit("12M"),
		middleware.GzipWithConfig(middleware.GzipConfig{
			Level: 5,
			Skipper: func(c echo.Context) bool {
				p := c.Request().URL.Path
				return isAsset(p) || p == "/metrics"
			},
		}),
		a.secureHeaders(),
		session.Middleware(a.newSessionStore()),
		a.csrf(),
		middleware.AddTrailingSlashWithConfig(middleware.TrailingSlashConfig{
			RedirectCode: http.StatusMovedPermanently,
			Skipper: func(c echo.Context) bool {
				p := c.Request().URL.Path
				return isAsset(p) || plainFiles[p]
			},
		}),
		cacheControl,
	)
}

// requestLogger writes one slog record per request, at warn level for
// client errors and error level for server errors.
func (a *App) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			switch {
			case v.Status >= 500:
				level = slog.LevelError
			case v.Status >= 400:
				level = slog.LevelWarn
			}
			a.Logger.LogAttrs(c.Request().Context(), level, "request",
				slog.String("id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	})
}

func (a *App) secureHeaders() echo.MiddlewareFunc {
	cfg := middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' https: data:; font-src 'self'",
	}
	// HSTS only makes sense behind TLS
	if a.Config.CookieSecure {
		cfg.HSTSMaxAge = 31536000
	}
	return middleware.SecureWithConfig(cfg)
}

func (a *App) csrf() echo.MiddlewareFunc {
	return middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "header:X-CSRF-Token,form:_csrf",
		CookieName:     "_csrf",
		CookiePath:     "/",
		CookieSameSite: http.SameSiteLaxMode,
		CookieSecure:   a.Config.CookieSecure,
		ErrorHandler: func(err error, c echo.Context) error {
			return c.String(http.StatusForbidden, "Forbidden")
		},
	})
}

func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(sessionTTL / time.Second),
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.CookieSecure,
	}
	return store
}

// cacheControl lets proxies cache public pages. Admin sessions bypass
// shared caches since their pages carry edit links.
func cacheControl(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := c.Request().URL.Path
		value := "public, max-age=3600"
		switch {
		case isAsset(p):
			value = "public, max-age=31536000, immutable"
		case strings.HasPrefix(p, "/admin"), p == "/metrics":
			value = "no-store"
		case plainFiles[p]:
			value = "public, max-age=86400"
		case IsAdmin(c):
			value = "private, no-cache"
		}
		c.Response().Header().Set("Cache-Control", value)
		return next(c)
	}
}

// IsAdmin reports whether the request carries a logged-in admin session.
func IsAdmin(c echo.Context) bool {
	sess, err := session.Get(adminSession, c)
	if err != nil {
		return false
	}
	auth, ok := sess.Values["authenticated"].(bool)
	return ok && auth
}

// editor grants admins edit rights on every record, which makes
// materialized entities carry edit links for them.
func editor(c echo.Context) func(entity.Record) bool {
	if !IsAdmin(c) {
		return nil
	}
	return func(entity.Record) bool { return true }
}

func startAdminSession(c echo.Context) error {
	sess, err := session.Get(adminSession, c)
	if err != nil {
		return err
	}
	sess.Values["authenticated"] = true
	sess.Values["since"] = time.Now().Unix()
	return sess.Save(c.Request(), c.Response())
}

func endAdminSession(c echo.Context) error {
	sess, err := session.Get(adminSession, c)
	if err != nil {
		return err
	}
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// CSRFToken returns the token forms must send back in the _csrf field.
func CSRFToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}
