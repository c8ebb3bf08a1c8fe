package starch

import (
	"net/http"
	"strconv"

	"github.com/eringen/starch/dispatch"
	"github.com/eringen/starch/entity"
)

// mainController renders the pages that belong to no content type: errors,
// search results and empty archives.
type mainController struct {
	dispatch.Base
	app *App
}

func (a *App) newMainController(m entity.Model) dispatch.Controller {
	return &mainController{Base: dispatch.Base{Model: m}, app: a}
}

func (h *mainController) Actions() dispatch.Actions {
	return dispatch.Actions{
		dispatch.ActionNotFound:     h.notFound,
		dispatch.ActionError:        h.error,
		dispatch.ActionSearch:       h.search,
		dispatch.ActionNothingFound: h.nothingFound,
	}
}

func (h *mainController) notFound(c *dispatch.Context, _ ...string) error {
	c.SetStatus(http.StatusNotFound)
	h.View = h.app.Views.NotFound(h.app.pageData(c, "Page not found"))
	return nil
}

func (h *mainController) error(c *dispatch.Context, args ...string) error {
	code := http.StatusInternalServerError
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			code = n
		}
	}
	c.SetStatus(code)
	d := h.app.pageData(c, http.StatusText(code))
	d.Status = code
	h.View = h.app.Views.Error(d)
	return nil
}

func (h *mainController) search(c *dispatch.Context, _ ...string) error {
	d := h.app.pageData(c, "Search")
	d.Search = c.Classification.Search
	if err := c.Loop(func(m entity.Model) error {
		d.Posts = append(d.Posts, m)
		return nil
	}); err != nil {
		return err
	}
	h.View = h.app.Views.Search(d)
	return nil
}

func (h *mainController) nothingFound(c *dispatch.Context, _ ...string) error {
	c.SetStatus(http.StatusNotFound)
	d := h.app.pageData(c, "Nothing found")
	d.Search = c.Classification.Search
	d.Type = c.Classification.Type
	h.View = h.app.Views.NothingFound(d)
	return nil
}

// contentController serves posts and every custom content type: an
// archive of the type and single records.
type contentController struct {
	dispatch.Base
	app *App
}

func (a *App) newContentController(m entity.Model) dispatch.Controller {
	return &contentController{Base: dispatch.Base{Model: m}, app: a}
}

func (h *contentController) Actions() dispatch.Actions {
	return dispatch.Actions{
		dispatch.ActionArchive: h.archive,
		dispatch.ActionSingle:  h.single,
	}
}

func (h *contentController) archive(c *dispatch.Context, _ ...string) error {
	title := h.app.Config.Name
	if b, ok := h.app.Registry.Lookup(c.Classification.Type); ok && c.Classification.Kind != dispatch.FrontPage {
		title = b.Def.Plural
	}
	d := h.app.pageData(c, title)
	d.Type = c.Classification.Type
	if err := c.Loop(func(m entity.Model) error {
		d.Posts = append(d.Posts, m)
		return nil
	}); err != nil {
		return err
	}
	h.View = h.app.Views.Archive(d)
	return nil
}

func (h *contentController) single(c *dispatch.Context, _ ...string) error {
	if h.Model == nil {
		return c.Fail(http.StatusNotFound)
	}
	d := h.app.pageData(c, h.Model.Base().Title())
	d.Current = h.Model
	h.View = h.app.Views.Single(d)
	return nil
}

// pageController serves static pages, including the one shown on the
// front page.
type pageController struct {
	dispatch.Base
	app *App
}

func (a *App) newPageController(m entity.Model) dispatch.Controller {
	return &pageController{Base: dispatch.Base{Model: m}, app: a}
}

func (h *pageController) Actions() dispatch.Actions {
	return dispatch.Actions{
		dispatch.ActionIndex:  h.single,
		dispatch.ActionSingle: h.single,
	}
}

func (h *pageController) single(c *dispatch.Context, _ ...string) error {
	if h.Model == nil {
		return c.Fail(http.StatusNotFound)
	}
	d := h.app.pageData(c, h.Model.Base().Title())
	d.Current = h.Model
	h.View = h.app.Views.Single(d)
	return nil
}

func (a *App) pageData(c *dispatch.Context, title string) PageData {
	return PageData{
		Site:    a.Config,
		Title:   title,
		Status:  c.Status(),
		CanEdit: IsAdmin(c),
	}
}
