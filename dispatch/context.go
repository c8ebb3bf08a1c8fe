package dispatch

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eringen/starch/entity"
)

var _ echo.Context = (*Context)(nil)

// Context is the per-dispatch state handed to controller hooks. It embeds
// the echo context for request and response access.
type Context struct {
	echo.Context

	// Entities materializes records for this request.
	Entities *entity.Materializer

	// Model is the current record, nil on archives and routed requests.
	Model entity.Model

	// Classification describes the request as the classifier saw it.
	Classification Classification

	// HandlerName and ActionName identify the running controller action.
	HandlerName string
	ActionName  string
	Args        []string

	d       *Dispatcher
	status  int
	errored bool
}

// Ctx returns the request context for store calls.
func (c *Context) Ctx() context.Context {
	return c.Request().Context()
}

// Status is the response status Display should write.
func (c *Context) Status() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

// SetStatus changes the response status Display will write.
func (c *Context) SetStatus(code int) { c.status = code }

// Fail flags the current dispatch as errored and renders the error page for
// code. The current controller's Display is skipped afterwards.
func (c *Context) Fail(code int) error {
	c.errored = true
	return c.d.Error(c.Context, code)
}

// Ready reports whether the controller may display, that is Fail was not
// called during this dispatch.
func (c *Context) Ready() bool { return !c.errored }

// Posts returns the records the classifier found for this request.
func (c *Context) Posts() []entity.Record { return c.Classification.Posts }

// Loop materializes each found record as its own type and calls fn.
func (c *Context) Loop(fn func(entity.Model) error) error {
	return Loop(c.Entities, c.Classification.Posts, fn)
}

// PageNumber returns the 1-based page from the "page" query parameter.
func (c *Context) PageNumber() int {
	n, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Loop materializes recs through m, each by its own registered type, and
// calls fn for every model in order. It stops at the first error.
func Loop(m *entity.Materializer, recs []entity.Record, fn func(entity.Model) error) error {
	for _, rec := range recs {
		model, err := m.Create(rec)
		if err != nil {
			return err
		}
		if err := fn(model); err != nil {
			return err
		}
	}
	return nil
}
