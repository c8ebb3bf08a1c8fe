package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/starch/entity"
)

// ErrUnknownHandler is returned when a handler name was never registered.
var ErrUnknownHandler = errors.New("starch: unknown handler")

// Handler and action names the dispatcher falls back to.
const (
	MainHandler = "Main"
	PageHandler = "Page"
	PostHandler = "Post"

	ActionNotFound     = "404"
	ActionError        = "error"
	ActionSearch       = "search"
	ActionNothingFound = "nothing_found"
	ActionIndex        = "index"
	ActionSingle       = "single"
	ActionArchive      = "archive"
)

// Action is one named entry point of a controller. Args are the positional
// values extracted from the URL by a route.
type Action func(c *Context, args ...string) error

// Actions maps action names to the controller's bound methods.
type Actions map[string]Action

// Controller is a request handler with lifecycle hooks. A new instance is
// built for every request.
type Controller interface {
	Before(c *Context) error
	Actions() Actions
	After(c *Context) error
	Display(c *Context) error
}

// Factory builds a controller, passing the current record's model when the
// request has one and nil otherwise.
type Factory func(model entity.Model) Controller

// Base supplies no-op hooks and a display step that renders View when set
// and the Content buffer otherwise. Controllers embed it.
type Base struct {
	Model   entity.Model
	Content strings.Builder
	View    templ.Component
}

func (b *Base) Before(*Context) error { return nil }
func (b *Base) After(*Context) error  { return nil }

// Display writes the response with the status held by c.
func (b *Base) Display(c *Context) error {
	if b.View != nil {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
		c.Response().WriteHeader(c.Status())
		return b.View.Render(c.Ctx(), c.Response().Writer)
	}
	return c.HTMLBlob(c.Status(), []byte(b.Content.String()))
}

// BlankCanvas drops any view so only the Content buffer is written.
func (b *Base) BlankCanvas() { b.View = nil }

// JSON is a base for API controllers: Display encodes Response.
type JSON struct {
	Base
	Response any
}

func (j *JSON) Display(c *Context) error {
	return c.JSON(c.Status(), j.Response)
}

// Handlers is the registration table of controllers by name. It is filled
// at startup; after Freeze it is safe for concurrent reads.
type Handlers struct {
	mu        sync.RWMutex
	factories map[string]Factory
	actions   map[string]map[string]struct{}
	frozen    bool
}

// NewHandlers returns an empty table.
func NewHandlers() *Handlers {
	return &Handlers{
		factories: make(map[string]Factory),
		actions:   make(map[string]map[string]struct{}),
	}
}

// Register binds name to f. The controller's action set is captured once
// here by building a probe instance without a model.
func (h *Handlers) Register(name string, f Factory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frozen {
		return fmt.Errorf("starch: handlers frozen, cannot register %s", name)
	}
	if name == "" || f == nil {
		return fmt.Errorf("%w: handler needs a name and a factory", ErrUnknownHandler)
	}
	set := make(map[string]struct{})
	for action := range f(nil).Actions() {
		set[action] = struct{}{}
	}
	h.factories[name] = f
	h.actions[name] = set
	return nil
}

// Freeze ends the registration phase.
func (h *Handlers) Freeze() {
	h.mu.Lock()
	h.frozen = true
	h.mu.Unlock()
}

// Has reports whether name is registered and has action.
func (h *Handlers) Has(name, action string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.actions[name][action]
	return ok
}

// New builds the controller registered under name.
func (h *Handlers) New(name string, model entity.Model) (Controller, error) {
	h.mu.RLock()
	f, ok := h.factories[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}
	return f(model), nil
}

// Names returns the registered handler names with their actions, sorted.
func (h *Handlers) Names() map[string][]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]string, len(h.actions))
	for name, set := range h.actions {
		list := make([]string, 0, len(set))
		for a := range set {
			list = append(list, a)
		}
		sort.Strings(list)
		out[name] = list
	}
	return out
}

// fallback renders a bare status page when no Main handler exists.
func fallback(c echo.Context, code int) error {
	return c.String(code, http.StatusText(code))
}
