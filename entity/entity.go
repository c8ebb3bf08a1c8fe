package entity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Field names computed by the entity layer. Custom metadata can never use
// one of these; see ValidateFieldName.
const (
	FieldID                = "id"
	FieldTitle             = "title"
	FieldLink              = "link"
	FieldType              = "type"
	FieldDate              = "date"
	FieldModified          = "modified"
	FieldSlug              = "slug"
	FieldEditLink          = "edit_link"
	FieldExcerpt           = "excerpt"
	FieldUnfilteredContent = "unfiltered_content"
	FieldContent           = "content"
	FieldAttachments       = "attachments"
	FieldFeaturedImage     = "featured_image"
	FieldNext              = "next"
	FieldPrevious          = "previous"
	FieldIsLast            = "is_last"
	FieldIsFirst           = "is_first"
)

// Meta key holding the attachment id of a record's featured image.
const MetaThumbnailID = "_thumbnail_id"

// loader fills one or more relational fields into the cache.
type loader func(e *Entity, ctx context.Context) error

// relational maps each lazily loaded relational field (and its paired flag)
// to the loader that computes it.
var relational = map[string]loader{
	FieldFeaturedImage: (*Entity).loadFeaturedImage,
	FieldAttachments:   (*Entity).loadAttachments,
	FieldNext:          func(e *Entity, ctx context.Context) error { return e.loadAdjacent(ctx, Next) },
	FieldIsLast:        func(e *Entity, ctx context.Context) error { return e.loadAdjacent(ctx, Next) },
	FieldPrevious:      func(e *Entity, ctx context.Context) error { return e.loadAdjacent(ctx, Previous) },
	FieldIsFirst:       func(e *Entity, ctx context.Context) error { return e.loadAdjacent(ctx, Previous) },
}

// Entity is one content record with lazily resolved fields. An Entity is
// owned by whoever created it and is not safe for concurrent use.
type Entity struct {
	m         *Materializer
	record    Record
	populated bool
	fields    map[string]any
	missing   map[string]struct{}
}

// Base returns e itself. Models embed *Entity and inherit this method, which
// is what makes them satisfy Model.
func (e *Entity) Base() *Entity { return e }

// Populated reports whether the entity was filled from a record.
func (e *Entity) Populated() bool { return e.populated }

// Record returns a copy of the underlying raw record.
func (e *Entity) Record() Record { return e.record }

func (e *Entity) populate(rec Record) {
	e.record = rec
	e.fields = map[string]any{
		FieldID:                rec.ID,
		FieldTitle:             rec.Title,
		FieldLink:              e.m.link(rec),
		FieldType:              rec.Type,
		FieldDate:              rec.Date,
		FieldModified:          rec.Modified,
		FieldSlug:              rec.Slug,
		FieldEditLink:          e.m.editLink(rec),
		FieldExcerpt:           rec.Excerpt,
		FieldUnfilteredContent: rec.Body,
	}
	e.missing = make(map[string]struct{})
	e.populated = true
}

// Resolve returns the value of field name. The boolean is false when the
// field has no value, which is never an error: unpopulated entities, absent
// metadata and a missing neighbour all resolve to (nil, false, nil). Only
// store failures produce an error. Each field is computed at most once.
func (e *Entity) Resolve(ctx context.Context, name string) (any, bool, error) {
	if !e.populated {
		return nil, false, nil
	}

	if load, ok := relational[name]; ok {
		if _, cached := e.fields[name]; !cached {
			if err := load(e, ctx); err != nil {
				return nil, false, err
			}
		}
	}

	if v, ok := e.fields[name]; ok {
		return v, v != nil, nil
	}

	if name == FieldContent {
		content, err := e.m.filter(e.record.Body)
		if err != nil {
			return nil, false, fmt.Errorf("filtering content of %d: %w", e.record.ID, err)
		}
		e.fields[FieldContent] = content
		return content, true, nil
	}

	if _, ok := e.missing[name]; ok {
		return nil, false, nil
	}
	value, err := e.m.Store.Meta(ctx, e.record.ID, name)
	if errors.Is(err, ErrNotFound) || (err == nil && value == "") {
		e.missing[name] = struct{}{}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %q of %d: %w", name, e.record.ID, err)
	}
	e.fields[name] = value
	return value, true, nil
}

func (e *Entity) ID() int64           { return e.record.ID }
func (e *Entity) Type() string        { return e.record.Type }
func (e *Entity) Title() string       { return e.record.Title }
func (e *Entity) Slug() string        { return e.record.Slug }
func (e *Entity) Excerpt() string     { return e.record.Excerpt }
func (e *Entity) Date() time.Time     { return e.record.Date }
func (e *Entity) Modified() time.Time { return e.record.Modified }

// Link returns the canonical URL path of the record.
func (e *Entity) Link() string { return e.str(FieldLink) }

// EditLink returns the admin edit URL, or "" when the current visitor
// cannot edit the record.
func (e *Entity) EditLink() string { return e.str(FieldEditLink) }

func (e *Entity) str(name string) string {
	if s, ok := e.fields[name].(string); ok {
		return s
	}
	return ""
}

// FormatDate formats the creation date with a Go time layout.
func (e *Entity) FormatDate(layout string) string {
	if !e.populated {
		return ""
	}
	return e.record.Date.Format(layout)
}

// FormatModified formats the modification date with a Go time layout.
func (e *Entity) FormatModified(layout string) string {
	if !e.populated {
		return ""
	}
	return e.record.Modified.Format(layout)
}

// Content returns the body after the content filter pipeline.
func (e *Entity) Content(ctx context.Context) (string, error) {
	v, _, err := e.Resolve(ctx, FieldContent)
	s, _ := v.(string)
	return s, err
}

// Meta returns a custom field as a string, "" when absent.
func (e *Entity) Meta(ctx context.Context, name string) (string, error) {
	if err := ValidateFieldName(name); err != nil {
		return "", err
	}
	v, _, err := e.Resolve(ctx, name)
	s, _ := v.(string)
	return s, err
}

// Next returns the following record of the same type, wrapping to the first
// one at the end. It is nil when the type holds a single record.
func (e *Entity) Next(ctx context.Context) (Model, error) {
	return e.model(ctx, FieldNext)
}

// Previous returns the preceding record of the same type, wrapping to the
// last one at the start. It is nil when the type holds a single record.
func (e *Entity) Previous(ctx context.Context) (Model, error) {
	return e.model(ctx, FieldPrevious)
}

// IsLast reports whether Next had to wrap around.
func (e *Entity) IsLast(ctx context.Context) (bool, error) {
	return e.flag(ctx, FieldIsLast)
}

// IsFirst reports whether Previous had to wrap around.
func (e *Entity) IsFirst(ctx context.Context) (bool, error) {
	return e.flag(ctx, FieldIsFirst)
}

// FeaturedImage returns the featured image. It is never nil for a populated
// entity: without an image it is an unpopulated Attachment.
func (e *Entity) FeaturedImage(ctx context.Context) (*Attachment, error) {
	v, _, err := e.Resolve(ctx, FieldFeaturedImage)
	img, _ := v.(*Attachment)
	return img, err
}

// Attachments returns the attachments whose parent is this record.
func (e *Entity) Attachments(ctx context.Context) ([]*Attachment, error) {
	v, _, err := e.Resolve(ctx, FieldAttachments)
	list, _ := v.([]*Attachment)
	return list, err
}

func (e *Entity) model(ctx context.Context, name string) (Model, error) {
	v, _, err := e.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	m, _ := v.(Model)
	return m, nil
}

func (e *Entity) flag(ctx context.Context, name string) (bool, error) {
	v, _, err := e.Resolve(ctx, name)
	b, _ := v.(bool)
	return b, err
}
