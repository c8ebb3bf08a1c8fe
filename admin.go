package starch

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/starch/entity"
)

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return renderStatus(c, http.StatusOK, a.Views.AdminLogin(false, CSRFToken(c)))
	}
	return a.renderAdminDashboard(c, c.QueryParam("msg"))
}

func (a *App) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		a.loginLimiter.Reset(ip)
		if err := startAdminSession(c); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	a.loginLimiter.Record(ip)
	a.Logger.Warn("failed admin login", "ip", ip)
	return renderStatus(c, http.StatusOK, a.Views.AdminLogin(true, CSRFToken(c)))
}

func handleAdminLogout(c echo.Context) error {
	if err := endAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

// handleAdminEdit shows the form for an existing record. It is the target
// of entity edit links.
func (a *App) handleAdminEdit(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	rec, err := a.Store.Get(c.Request().Context(), id)
	if errors.Is(err, entity.ErrNotFound) {
		return c.NoContent(http.StatusNotFound)
	}
	if err != nil {
		return err
	}
	return renderStatus(c, http.StatusOK, a.Views.AdminForm(rec, a.Registry.Types(), CSRFToken(c)))
}

func (a *App) handleAdminNew(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	typ := c.QueryParam("type")
	if _, ok := a.Registry.Lookup(typ); !ok {
		typ = entity.TypePost
	}
	return renderStatus(c, http.StatusOK, a.Views.AdminForm(entity.Record{Type: typ}, a.Registry.Types(), CSRFToken(c)))
}

func (a *App) handleAdminSave(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	if err := c.Request().ParseForm(); err != nil {
		return err
	}
	typ := c.FormValue("type")
	if _, ok := a.Registry.Lookup(typ); !ok || typ == entity.TypeAttachment {
		return a.adminMessage(c, "Unknown content type.")
	}
	title := strings.TrimSpace(c.FormValue("title"))
	slug := Slugify(c.FormValue("slug"))
	if slug == "" {
		slug = Slugify(title)
	}
	if slug == "" {
		return a.adminMessage(c, "Slug is required. Add a title or slug.")
	}
	date := time.Now().UTC()
	if raw := strings.TrimSpace(c.FormValue("date")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return a.adminMessage(c, "Invalid date format. Use YYYY-MM-DD.")
		}
		date = d
	}
	status := "draft"
	if c.FormValue("published") != "" {
		status = entity.StatusPublish
	}
	id, _ := strconv.ParseInt(c.FormValue("id"), 10, 64)

	ctx := c.Request().Context()
	rec := entity.Record{
		ID:      id,
		Type:    typ,
		Status:  status,
		Title:   title,
		Slug:    slug,
		Excerpt: strings.TrimSpace(c.FormValue("excerpt")),
		Body:    c.FormValue("body"),
		Date:    date,
	}
	if id != 0 {
		old, err := a.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		rec.GUID, rec.ParentID, rec.MimeType, rec.File = old.GUID, old.ParentID, old.MimeType, old.File
	}
	if _, err := a.Store.Save(ctx, rec); err != nil {
		return err
	}
	a.Cache.Invalidate()
	return a.renderAdminDashboard(c, "saved")
}

func (a *App) handleAdminDelete(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	if err := a.Store.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	a.Cache.Invalidate()
	return a.renderAdminDashboard(c, "deleted")
}

func (a *App) adminMessage(c echo.Context, msg string) error {
	return c.Redirect(http.StatusSeeOther, "/admin/?msg="+url.QueryEscape(msg))
}

func (a *App) renderAdminDashboard(c echo.Context, msg string) error {
	var types []string
	for _, b := range a.Registry.Types() {
		if b.Type != entity.TypeAttachment {
			types = append(types, b.Type)
		}
	}
	// the admin reads the store directly so drafts show up immediately
	recs, err := a.Store.Query(c.Request().Context(), entity.Query{Types: types})
	if err != nil {
		return err
	}
	return renderStatus(c, http.StatusOK, a.Views.AdminDashboard(AdminData{
		Site:      a.Config,
		Records:   recs,
		Types:     a.Registry.Types(),
		Message:   msg,
		CSRFToken: CSRFToken(c),
	}))
}
