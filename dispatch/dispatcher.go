// Package dispatch resolves a request to a controller action and runs it
// through the Before, Action, After and Display hooks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eringen/starch/entity"
	"github.com/eringen/starch/route"
)

// Option keys read to decide what the front page shows.
const (
	OptionShowOnFront = "show_on_front"
	OptionPageOnFront = "page_on_front"
)

// Kind is the platform classification of a request that matched no route.
type Kind int

const (
	NotFound Kind = iota
	FrontPage
	Search
	Page
	Content
)

func (k Kind) String() string {
	switch k {
	case FrontPage:
		return "front_page"
	case Search:
		return "search"
	case Page:
		return "page"
	case Content:
		return "content"
	}
	return "not_found"
}

// Classification is what a Classifier learned about a request.
type Classification struct {
	Kind Kind

	// Current is the singular record the request addresses, if any.
	Current *entity.Record

	// Type is the discriminator of the content being listed or shown.
	Type string

	// Archive is set when the request lists a collection.
	Archive bool

	// Posts are the records the request's query returned.
	Posts []entity.Record

	// Search is the search phrase on search requests.
	Search string
}

// Classifier inspects a request that matched no route.
type Classifier interface {
	Classify(c echo.Context) (Classification, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(c echo.Context) (Classification, error)

func (f ClassifierFunc) Classify(c echo.Context) (Classification, error) { return f(c) }

// OutcomeKind is how a dispatch ended.
type OutcomeKind int

const (
	Displayed OutcomeKind = iota
	Suppressed
	Redirected
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Suppressed:
		return "suppressed"
	case Redirected:
		return "redirected"
	case Failed:
		return "failed"
	}
	return "displayed"
}

// Outcome describes a finished dispatch.
type Outcome struct {
	Kind     OutcomeKind
	Handler  string
	Action   string
	Args     []string
	Status   int
	Location string
}

// Dispatcher routes requests to controllers. Configure it at startup; it is
// read-only while serving.
type Dispatcher struct {
	handlers   *Handlers
	entities   *entity.Materializer
	routes     *route.Table
	rules      *route.RuleSet
	classifier Classifier
	options    entity.Options
	types      map[string]string
	editor     func(echo.Context) func(entity.Record) bool
	strict     bool
	logger     *slog.Logger
	errorLog   *slog.Logger
	metrics    *metrics
	tracer     trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRoutes enables explicit routing through table using compiled rules.
func WithRoutes(table *route.Table, rules *route.RuleSet) Option {
	return func(d *Dispatcher) {
		d.routes = table
		d.rules = rules
	}
}

// WithClassifier sets the classifier used when no route matches.
func WithClassifier(c Classifier) Option {
	return func(d *Dispatcher) { d.classifier = c }
}

// WithOptions sets the option store holding the front page settings.
func WithOptions(o entity.Options) Option {
	return func(d *Dispatcher) { d.options = o }
}

// WithStrict makes missing handlers and actions fatal instead of a 500.
func WithStrict(strict bool) Option {
	return func(d *Dispatcher) { d.strict = strict }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithErrorLog sets the sink for failures hidden from visitors in
// production. It defaults to the operational logger.
func WithErrorLog(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.errorLog = l }
}

// WithRegisterer registers the dispatch metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.metrics = newMetrics(reg) }
}

// WithTracer overrides the tracer from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithEditor decides per request who may edit which records, which controls
// the edit_link field of materialized entities.
func WithEditor(f func(echo.Context) func(entity.Record) bool) Option {
	return func(d *Dispatcher) { d.editor = f }
}

// New creates a dispatcher over the handler table and materializer.
func New(handlers *Handlers, entities *entity.Materializer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: handlers,
		entities: entities,
		types:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.errorLog == nil {
		d.errorLog = d.logger
	}
	if d.metrics == nil {
		d.metrics = newMetrics(nil)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("github.com/eringen/starch/dispatch")
	}
	return d
}

// BindType routes content of discriminator typ to the handler name.
func (d *Dispatcher) BindType(typ, handler string) {
	d.types[typ] = handler
}

// Strict reports whether configuration errors are fatal.
func (d *Dispatcher) Strict() bool { return d.strict }

// Route dispatches one request. The returned error is non-nil only for
// failures that must reach the top-level error handler: configuration
// errors in strict mode and errors writing the response.
func (d *Dispatcher) Route(c echo.Context) (Outcome, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(c.Request().Context(), "starch.dispatch")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	out, err := d.route(c)

	span.SetAttributes(
		attribute.String("starch.handler", out.Handler),
		attribute.String("starch.action", out.Action),
		attribute.String("starch.outcome", out.Kind.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.metrics.total.WithLabelValues(out.Handler, out.Action, out.Kind.String()).Inc()
	d.metrics.duration.WithLabelValues(out.Handler).Observe(time.Since(start).Seconds())
	return out, err
}

func (d *Dispatcher) route(c echo.Context) (Outcome, error) {
	entities := d.materializer(c)
	var (
		handler, action string
		args            []string
		cl              Classification
	)

	key, values, routed := "", map[string]string(nil), false
	if d.rules != nil && d.routes != nil {
		key, values, routed = d.rules.Match(c.Request().URL.Path)
	}
	if b, ok := d.resolveRoute(key, values, routed); ok {
		handler, action, args = b.Handler, b.Action, b.Args
	} else {
		var err error
		if d.classifier != nil {
			cl, err = d.classifier.Classify(c)
		}
		if err != nil {
			return d.fail(c, Outcome{}, err)
		}
		handler, action, err = d.classify(c.Request().Context(), &cl)
		if err != nil {
			return d.fail(c, Outcome{Handler: handler, Action: action}, err)
		}
	}

	out := Outcome{Handler: handler, Action: action, Args: args, Status: http.StatusOK}
	if !d.handlers.Has(handler, action) {
		return d.fail(c, out, configError("%s::%s does not exist", handler, action))
	}

	var model entity.Model
	if cl.Current != nil {
		m, err := entities.Create(*cl.Current)
		if err != nil {
			return d.fail(c, out, configError("%v", err))
		}
		model = m
	}
	ctrl, err := d.handlers.New(handler, model)
	if err != nil {
		return d.fail(c, out, configError("%v", err))
	}

	dc := &Context{
		Context:        c,
		Entities:       entities,
		Model:          model,
		Classification: cl,
		HandlerName:    handler,
		ActionName:     action,
		Args:           args,
		d:              d,
	}
	d.logger.Debug("dispatch", "handler", handler, "action", action, "args", args)

	// Before, the action and After all run even when an earlier one
	// failed; only a redirect cuts the sequence short. The first error wins.
	var hookErr error
	for _, hook := range []func() error{
		func() error { return ctrl.Before(dc) },
		func() error { return ctrl.Actions()[action](dc, args...) },
		func() error { return ctrl.After(dc) },
	} {
		err := hook()
		if o, ok := d.redirect(c, out, err); ok {
			return o, nil
		}
		if hookErr == nil {
			hookErr = err
		}
	}
	if hookErr != nil {
		return d.fail(c, out, hookErr)
	}

	if !dc.Ready() {
		out.Kind = Suppressed
		out.Status = c.Response().Status
		return out, nil
	}
	out.Status = dc.Status()
	if err := ctrl.Display(dc); err != nil {
		if o, ok := d.redirect(c, out, err); ok {
			return o, nil
		}
		return d.fail(c, out, err)
	}
	out.Kind = Displayed
	return out, nil
}

func (d *Dispatcher) resolveRoute(key string, values map[string]string, routed bool) (route.Binding, bool) {
	if !routed {
		return route.Binding{}, false
	}
	return d.routes.Resolve(key, values)
}

// classify turns a classification into a handler and action with the fixed
// priority not found, front page, search, page, content type.
func (d *Dispatcher) classify(ctx context.Context, cl *Classification) (handler, action string, err error) {
	switch cl.Kind {
	case NotFound:
		return MainHandler, ActionNotFound, nil
	case FrontPage:
		return d.frontPage(ctx, cl)
	case Search:
		return MainHandler, ActionSearch, nil
	case Page:
		return PageHandler, ActionSingle, nil
	}

	typ := cl.Type
	if typ == "" && cl.Current != nil {
		typ = cl.Current.Type
	}
	handler, ok := d.types[typ]
	if !ok {
		if d.strict {
			return "", "", configError("no handler bound to content type %q", typ)
		}
		handler = typ
	}
	if len(cl.Posts) > 0 || cl.Current != nil {
		if cl.Archive {
			return handler, ActionArchive, nil
		}
		return handler, ActionSingle, nil
	}
	if d.handlers.Has(handler, ActionNothingFound) {
		return handler, ActionNothingFound, nil
	}
	return MainHandler, ActionNothingFound, nil
}

func (d *Dispatcher) frontPage(ctx context.Context, cl *Classification) (string, string, error) {
	if d.options == nil {
		return PostHandler, ActionArchive, nil
	}
	show, err := d.options.Option(ctx, OptionShowOnFront)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", OptionShowOnFront, err)
	}
	if show != "page" {
		return PostHandler, ActionArchive, nil
	}

	raw, err := d.options.Option(ctx, OptionPageOnFront)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", OptionPageOnFront, err)
	}
	cl.Current = nil
	if id, _ := strconv.ParseInt(raw, 10, 64); id > 0 {
		rec, err := d.entities.Store.Get(ctx, id)
		switch {
		case err == nil:
			cl.Current = &rec
		case !errors.Is(err, entity.ErrNotFound):
			return "", "", fmt.Errorf("loading front page %d: %w", id, err)
		}
	}
	return PageHandler, ActionIndex, nil
}

// redirect writes the response for an Abort escape.
func (d *Dispatcher) redirect(c echo.Context, out Outcome, err error) (Outcome, bool) {
	var abort *Abort
	if !errors.As(err, &abort) {
		return out, false
	}
	out.Kind = Redirected
	out.Status = abort.Code
	out.Location = abort.Location
	if werr := c.Redirect(abort.Code, abort.Location); werr != nil {
		d.logger.Error("writing redirect", "location", abort.Location, "err", werr)
	}
	return out, true
}

// fail handles an error raised during dispatch. In strict mode it is
// returned to the caller for a diagnostic page. Otherwise it is written to
// the error log and the visitor gets the 500 page.
func (d *Dispatcher) fail(c echo.Context, out Outcome, err error) (Outcome, error) {
	out.Kind = Failed
	out.Status = http.StatusInternalServerError
	if d.strict {
		return out, err
	}

	attrs := []any{"handler", out.Handler, "action", out.Action, "path", c.Request().URL.Path, "err", err}
	var ce *ConfigError
	if errors.As(err, &ce) {
		attrs = append(attrs, "stack", ce.Stack)
	}
	d.errorLog.Error("dispatch failed", attrs...)

	if rerr := d.Error(c, http.StatusInternalServerError); rerr != nil {
		return out, rerr
	}
	return out, nil
}

// Error renders the Main handler's error page for code: the "404" action
// for 404 and the "error" action with the code as argument otherwise.
func (d *Dispatcher) Error(c echo.Context, code int) error {
	if c.Response().Committed {
		return nil
	}
	action, args := ActionError, []string{strconv.Itoa(code)}
	if code == http.StatusNotFound {
		action, args = ActionNotFound, nil
	}
	if !d.handlers.Has(MainHandler, action) {
		return fallback(c, code)
	}
	ctrl, err := d.handlers.New(MainHandler, nil)
	if err != nil {
		return fallback(c, code)
	}

	dc := &Context{
		Context:     c,
		Entities:    d.materializer(c),
		HandlerName: MainHandler,
		ActionName:  action,
		Args:        args,
		d:           d,
		status:      code,
	}
	if err := ctrl.Before(dc); err != nil {
		return err
	}
	if err := ctrl.Actions()[action](dc, args...); err != nil {
		return err
	}
	if err := ctrl.After(dc); err != nil {
		return err
	}
	if c.Response().Committed {
		return nil
	}
	return ctrl.Display(dc)
}

func (d *Dispatcher) materializer(c echo.Context) *entity.Materializer {
	if d.editor == nil {
		return d.entities
	}
	return d.entities.WithEditor(d.editor(c))
}
