package entity

import (
	"context"
	"fmt"
	"path"
	"strconv"
)

// Filter transforms unfiltered body content into display content.
type Filter func(string) (string, error)

// Materializer turns store records into typed models. It carries the
// collaborators every entity needs for lazy resolution.
type Materializer struct {
	Store    Store
	Registry *Registry

	// Filters is the content pipeline applied, in order, the first time an
	// entity's content field is read.
	Filters []Filter

	// UploadsURL is the URL prefix of attachment files (default "/uploads").
	UploadsURL string

	// CanEdit reports whether the current visitor may edit a record. Nil
	// means nobody can, so edit_link is always empty.
	CanEdit func(Record) bool
}

// NewMaterializer creates a Materializer over store and registry.
func NewMaterializer(store Store, registry *Registry, filters ...Filter) *Materializer {
	return &Materializer{
		Store:      store,
		Registry:   registry,
		Filters:    filters,
		UploadsURL: "/uploads",
	}
}

// WithEditor returns a shallow copy of m whose edit links are decided by
// canEdit. Use one per request when edit rights depend on the session.
func (m *Materializer) WithEditor(canEdit func(Record) bool) *Materializer {
	c := *m
	c.CanEdit = canEdit
	return &c
}

// Empty returns an unpopulated entity: every field resolves to nothing.
func (m *Materializer) Empty() *Entity {
	return &Entity{m: m}
}

// Populate returns an entity filled from rec. It does not consult the
// registry; use Create for a typed model.
func (m *Materializer) Populate(rec Record) *Entity {
	e := &Entity{m: m}
	e.populate(rec)
	return e
}

// Create materializes rec as the model bound to its type.
func (m *Materializer) Create(rec Record) (Model, error) {
	b, ok := m.Registry.Lookup(rec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q (record %d)", ErrUnboundType, rec.Type, rec.ID)
	}
	return b.factory(m.Populate(rec)), nil
}

// CreateAll materializes each record as its own type, so one result set may
// mix posts, pages and custom types.
func (m *Materializer) CreateAll(recs []Record) ([]Model, error) {
	out := make([]Model, 0, len(recs))
	for _, rec := range recs {
		model, err := m.Create(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, model)
	}
	return out, nil
}

// Get returns the model for id, or ErrNotFound.
func (m *Materializer) Get(ctx context.Context, id int64) (Model, error) {
	rec, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Create(rec)
}

// All returns every published record of typ.
func (m *Materializer) All(ctx context.Context, typ string) ([]Model, error) {
	return m.Find(ctx, Query{Type: typ, Status: StatusPublish})
}

// Named returns the record of typ with slug in any status, or ErrNotFound.
func (m *Materializer) Named(ctx context.Context, typ, slug string) (Model, error) {
	return m.FindOne(ctx, Query{Type: typ, Slug: slug})
}

// Find returns the models matching q.
func (m *Materializer) Find(ctx context.Context, q Query) ([]Model, error) {
	recs, err := m.Store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return m.CreateAll(recs)
}

// FindOne returns the first model matching q, or ErrNotFound.
func (m *Materializer) FindOne(ctx context.Context, q Query) (Model, error) {
	q.Limit = 1
	recs, err := m.Store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return m.Create(recs[0])
}

func (m *Materializer) filter(body string) (string, error) {
	var err error
	for _, f := range m.Filters {
		if body, err = f(body); err != nil {
			return "", err
		}
	}
	return body, nil
}

// attachment builds an Attachment directly, populated when rec is non-nil.
func (m *Materializer) attachment(rec *Record) *Attachment {
	if rec == nil {
		return &Attachment{Entity: m.Empty()}
	}
	return &Attachment{Entity: m.Populate(*rec)}
}

// link returns the canonical path of rec: pages live at the root, files
// under the uploads URL and everything else under its type's slug.
func (m *Materializer) link(rec Record) string {
	switch rec.Type {
	case TypePage:
		return "/" + rec.Slug + "/"
	case TypeAttachment:
		return m.uploadURL(rec.File)
	}
	slug := rec.Type
	if b, ok := m.Registry.Lookup(rec.Type); ok {
		slug = b.Def.Slug
	}
	return "/" + path.Join(slug, rec.Slug) + "/"
}

func (m *Materializer) editLink(rec Record) string {
	if m.CanEdit == nil || !m.CanEdit(rec) {
		return ""
	}
	return "/admin/edit/" + strconv.FormatInt(rec.ID, 10) + "/"
}

func (m *Materializer) uploadURL(file string) string {
	base := m.UploadsURL
	if base == "" {
		base = "/uploads"
	}
	return base + "/" + file
}
