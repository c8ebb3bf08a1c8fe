package entity

import (
	"context"
	"time"
)

// Built-in type discriminators.
const (
	TypePost       = "post"
	TypePage       = "page"
	TypeAttachment = "attachment"
)

// StatusPublish marks a record as publicly visible.
const StatusPublish = "publish"

// Record is a raw content row as returned by the store.
type Record struct {
	ID       int64
	GUID     string
	Type     string
	Status   string
	Title    string
	Slug     string
	Excerpt  string
	Body     string // unfiltered content
	ParentID int64
	MimeType string
	File     string // attachments only, relative to the uploads directory
	Date     time.Time
	Modified time.Time
}

// Order is the sort direction of a query by (Date, ID).
type Order string

const (
	Asc  Order = "ASC"
	Desc Order = "DESC"
)

// Query selects records. Zero-valued fields do not filter.
type Query struct {
	Type     string
	Types    []string
	Slug     string
	ParentID int64
	Status   string
	Search   string
	Order    Order // default Desc
	Limit    int   // 0 = no limit
}

// Direction selects which neighbour Adjacent returns.
type Direction int

const (
	Next Direction = iota
	Previous
)

func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// Store is the content storage adapter the entity layer reads through.
// Implementations must be safe for sequential use within a request; the
// entity layer never calls a Store concurrently for the same entity.
type Store interface {
	// Get returns the record with id, or ErrNotFound.
	Get(ctx context.Context, id int64) (Record, error)

	// Query returns the records matching q ordered by (Date, ID).
	Query(ctx context.Context, q Query) ([]Record, error)

	// Adjacent returns the record immediately after (Next) or before
	// (Previous) current, ordered by (Date, ID) and restricted to the same
	// type and status. It returns ErrNotFound at the boundary.
	Adjacent(ctx context.Context, current Record, dir Direction) (Record, error)

	// Meta returns the metadata value stored under key for record id, or
	// ErrNotFound.
	Meta(ctx context.Context, id int64, key string) (string, error)
}

// Options is the persistent key/value option store used for fingerprints.
// A missing key reads as the empty string.
type Options interface {
	Option(ctx context.Context, key string) (string, error)
	SetOption(ctx context.Context, key, value string) error
}
