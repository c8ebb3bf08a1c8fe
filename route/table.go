// Package route holds the URL pattern table: patterns bound to a handler and
// action, compiled into ordered rewrite rules whose change is detected by
// fingerprint.
package route

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrInvalidRoute = errors.New("starch: invalid route")
	ErrFrozen       = errors.New("starch: route table is frozen")
)

// Entry binds one URL pattern to a handler action taking Args positional
// arguments. Segments written as ":name" mark where arguments appear in the
// URL; any arguments not named in the pattern follow it as extra segments.
type Entry struct {
	Pattern string `cbor:"pattern"`
	Handler string `cbor:"handler"`
	Action  string `cbor:"action"`
	Args    int    `cbor:"args"`

	seq int
}

// Binding is a resolved route: what to call and with which arguments.
type Binding struct {
	Handler string
	Action  string
	Args    []string
}

// Table is the process-wide route set. It is written during startup only;
// after Freeze it is safe for concurrent reads.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	seq     int
	maxArgs int
	flush   bool
	frozen  bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Placeholder returns the global name of positional slot i (1-based).
func Placeholder(i int) string {
	return "argument_" + strconv.Itoa(i)
}

// Add inserts or overwrites the binding for pattern.
func (t *Table) Add(pattern, handler, action string, args int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return ErrFrozen
	}

	pattern = strings.Trim(pattern, "/")
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidRoute)
	}
	if handler == "" || action == "" {
		return fmt.Errorf("%w: %q needs a handler and an action", ErrInvalidRoute, pattern)
	}
	if args < 0 {
		return fmt.Errorf("%w: %q has a negative argument count", ErrInvalidRoute, pattern)
	}
	if named := len(params(pattern)); named > args {
		return fmt.Errorf("%w: %q names %d parameters but takes %d arguments", ErrInvalidRoute, pattern, named, args)
	}

	t.seq++
	t.entries[pattern] = &Entry{
		Pattern: pattern,
		Handler: handler,
		Action:  action,
		Args:    args,
		seq:     t.seq,
	}
	return nil
}

// Load adds every declaration in order.
func (t *Table) Load(decls Decls) error {
	for _, d := range decls {
		if err := t.Add(d.Pattern, d.Handler, d.Action, d.Args); err != nil {
			return err
		}
	}
	return nil
}

// RequestFlush marks the rewrite rules as stale regardless of the route
// fingerprint. The type registry calls it when content types changed.
func (t *Table) RequestFlush() {
	t.mu.Lock()
	t.flush = true
	t.mu.Unlock()
}

// Freeze ends the registration phase.
func (t *Table) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Entries returns the routes in match order: reverse lexicographic by
// pattern, insertion order among equals.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sorted()
}

func (t *Table) sorted() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pattern > out[j].Pattern })
	return out
}

// Resolve returns the binding for a matched pattern key, taking positional
// arguments from values in slot order.
func (t *Table) Resolve(key string, values map[string]string) (Binding, bool) {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return Binding{}, false
	}
	b := Binding{Handler: e.Handler, Action: e.Action, Args: make([]string, 0, e.Args)}
	for i := 1; i <= e.Args; i++ {
		b.Args = append(b.Args, values[Placeholder(i)])
	}
	return b, true
}

// params returns the ":name" segments of pattern in order.
func params(pattern string) []string {
	var out []string
	for _, seg := range strings.Split(pattern, "/") {
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			out = append(out, seg[1:])
		}
	}
	return out
}
