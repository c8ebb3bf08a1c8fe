package starch

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eringen/starch/dispatch"
)

func (a *App) setupRoutes() {
	e := a.Echo

	e.Static("/public", a.staticDir)
	e.Static("/uploads", a.Config.UploadsDir)
	e.GET("/favicon.svg", a.handleFavicon)
	e.GET("/robots.txt", a.handleRobots)
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/feed.xml", a.handleFeed)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{})))

	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)
	e.GET("/admin/new/", a.handleAdminNew)
	e.GET("/admin/edit/:id/", a.handleAdminEdit)
	e.POST("/admin/save/", a.handleAdminSave)
	e.POST("/admin/delete/:id/", a.handleAdminDelete)
	e.GET("/admin/media/", a.handleMediaList)
	e.POST("/admin/media/upload/", a.handleMediaUpload)
	e.POST("/admin/media/delete/:id/", a.handleMediaDelete)

	for _, fn := range a.customRoutes {
		fn(a)
	}

	// everything else goes through the rewrite rules and the dispatcher
	e.GET("/*", a.handleDispatch)
	e.HEAD("/*", a.handleDispatch)
	e.POST("/*", a.handleDispatch)
}

func (a *App) handleDispatch(c echo.Context) error {
	out, err := a.Dispatcher.Route(c)
	if err != nil {
		return err
	}
	a.Logger.Debug("dispatched", "path", c.Request().URL.Path, "handler", out.Handler,
		"action", out.Action, "outcome", out.Kind, "status", out.Status)
	return nil
}

func (a *App) handleFavicon(c echo.Context) error {
	return c.File(filepath.Join(a.staticDir, "favicon.svg"))
}

func (a *App) handleRobots(c echo.Context) error {
	return c.File(filepath.Join(a.staticDir, "robots.txt"))
}

// httpErrorHandler renders configuration errors as a diagnostic page in
// development and sends 404s and server errors through the Main handler.
func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var ce *dispatch.ConfigError
	if errors.As(err, &ce) {
		a.Logger.Error("configuration error", "err", ce.Message)
		if a.Config.Strict() {
			_ = renderStatus(c, http.StatusInternalServerError, a.Views.Diagnostic(ce))
			return
		}
		_ = a.Dispatcher.Error(c, http.StatusInternalServerError)
		return
	}

	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}
	switch {
	case code == http.StatusNotFound:
		_ = a.Dispatcher.Error(c, code)
	case code >= 500:
		a.Logger.Error("server error", "path", c.Request().URL.Path, "err", err)
		_ = a.Dispatcher.Error(c, code)
	default:
		a.Echo.DefaultHTTPErrorHandler(err, c)
	}
}

// renderStatus writes a templ component with a specific HTTP status code.
func renderStatus(c echo.Context, code int, cmp templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return cmp.Render(c.Request().Context(), c.Response().Writer)
}
