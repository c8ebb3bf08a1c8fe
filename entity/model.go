package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
)

// Model is a typed view over an Entity. Custom content types are structs
// embedding *Entity:
//
//	type News struct{ *entity.Entity }
//
//	reg.RegisterModel("News", func(e *entity.Entity) entity.Model { return &News{e} })
type Model interface {
	Base() *Entity
}

// Factory builds a model around a populated (or empty) entity.
type Factory func(*Entity) Model

// Post is the built-in blog post model.
type Post struct{ *Entity }

// Page is the built-in static page model.
type Page struct{ *Entity }

// MetaAttachment is the meta key holding an attachment's JSON metadata.
const MetaAttachment = "_attachment_metadata"

// ImageSize describes one stored rendition of an image attachment.
type ImageSize struct {
	File   string `json:"file"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// AttachmentMeta is the metadata recorded for an uploaded file.
type AttachmentMeta struct {
	File   string               `json:"file"`
	Width  int                  `json:"width"`
	Height int                  `json:"height"`
	Sizes  map[string]ImageSize `json:"sizes,omitempty"`
}

// Attachment is the built-in model for uploaded files.
type Attachment struct {
	*Entity
	meta *AttachmentMeta
}

// URL returns the public URL of the file, "" for an empty attachment.
func (a *Attachment) URL() string {
	if !a.populated {
		return ""
	}
	return a.m.uploadURL(a.record.File)
}

// Metadata returns the decoded attachment metadata, loading it once.
func (a *Attachment) Metadata(ctx context.Context) (*AttachmentMeta, error) {
	if !a.populated {
		return nil, nil
	}
	if a.meta != nil {
		return a.meta, nil
	}
	raw, err := a.m.Store.Meta(ctx, a.record.ID, MetaAttachment)
	if errors.Is(err, ErrNotFound) {
		a.meta = &AttachmentMeta{File: a.record.File}
		return a.meta, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading attachment metadata of %d: %w", a.record.ID, err)
	}
	var meta AttachmentMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decoding attachment metadata of %d: %w", a.record.ID, err)
	}
	a.meta = &meta
	return a.meta, nil
}

// Filename returns the base name of the stored file.
func (a *Attachment) Filename() string {
	if !a.populated || a.record.File == "" {
		return ""
	}
	return path.Base(a.record.File)
}

// Thumbnail returns the URL of the named image size, falling back to the
// original file when that size was never generated.
func (a *Attachment) Thumbnail(ctx context.Context, size string) (string, error) {
	if !a.populated {
		return "", nil
	}
	meta, err := a.Metadata(ctx)
	if err != nil {
		return "", err
	}
	if s, ok := meta.Sizes[size]; ok && s.File != "" {
		return a.m.uploadURL(path.Join(path.Dir(a.record.File), s.File)), nil
	}
	return a.URL(), nil
}

func newPost(e *Entity) Model       { return &Post{e} }
func newPage(e *Entity) Model       { return &Page{e} }
func newAttachment(e *Entity) Model { return &Attachment{Entity: e} }
