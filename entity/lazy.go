package entity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// loadAttachments caches every attachment whose parent is e.
func (e *Entity) loadAttachments(ctx context.Context) error {
	recs, err := e.m.Store.Query(ctx, Query{
		Type:     TypeAttachment,
		ParentID: e.record.ID,
		Order:    Asc,
	})
	if err != nil {
		return fmt.Errorf("loading attachments of %d: %w", e.record.ID, err)
	}
	list := make([]*Attachment, 0, len(recs))
	for _, rec := range recs {
		list = append(list, e.m.attachment(&rec))
	}
	e.fields[FieldAttachments] = list
	return nil
}

// loadFeaturedImage caches the featured image, or an empty attachment when
// the record has none or points at itself.
func (e *Entity) loadFeaturedImage(ctx context.Context) error {
	var rec *Record
	raw, err := e.m.Store.Meta(ctx, e.record.ID, MetaThumbnailID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading featured image of %d: %w", e.record.ID, err)
	default:
		id, _ := strconv.ParseInt(raw, 10, 64)
		if id != 0 && id != e.record.ID {
			found, err := e.m.Store.Get(ctx, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("loading featured image %d: %w", id, err)
			}
			if err == nil {
				rec = &found
			}
		}
	}
	e.fields[FieldFeaturedImage] = e.m.attachment(rec)
	return nil
}

// loadAdjacent caches the neighbour in dir together with its boundary flag.
// When the store has no neighbour the lookup wraps to the first (Next) or
// last (Previous) record of the type and the flag is set. A neighbour equal
// to e itself means the type holds one record, which resolves to nil.
// At most two store calls are made.
func (e *Entity) loadAdjacent(ctx context.Context, dir Direction) error {
	key, flag := FieldNext, FieldIsLast
	order := Asc
	if dir == Previous {
		key, flag = FieldPrevious, FieldIsFirst
		order = Desc
	}

	looped := false
	found := true
	rec, err := e.m.Store.Adjacent(ctx, e.record, dir)
	if errors.Is(err, ErrNotFound) {
		looped = true
		recs, err := e.m.Store.Query(ctx, Query{
			Type:   e.record.Type,
			Status: e.record.Status,
			Order:  order,
			Limit:  1,
		})
		if err != nil {
			return fmt.Errorf("wrapping %s of %d: %w", dir, e.record.ID, err)
		}
		if len(recs) == 0 {
			found = false
		} else {
			rec = recs[0]
		}
	} else if err != nil {
		return fmt.Errorf("loading %s of %d: %w", dir, e.record.ID, err)
	}

	var adjacent Model
	if found && rec.ID != e.record.ID {
		adjacent, err = e.m.Create(rec)
		if err != nil {
			return err
		}
	}

	e.fields[key] = adjacent
	e.fields[flag] = looped
	return nil
}
