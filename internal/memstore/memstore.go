// Package memstore is an in-memory content store for tests and demos. It
// counts every call so callers can assert how often the store was hit.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/eringen/starch/entity"
)

// Store holds records, metadata and options in memory.
type Store struct {
	mu      sync.Mutex
	records []entity.Record
	meta    map[int64]map[string]string
	options map[string]string
	calls   map[string]int
}

// New returns a store seeded with recs.
func New(recs ...entity.Record) *Store {
	s := &Store{
		meta:    make(map[int64]map[string]string),
		options: make(map[string]string),
		calls:   make(map[string]int),
	}
	s.records = append(s.records, recs...)
	return s
}

// Add appends a record.
func (s *Store) Add(rec entity.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(id int64, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta[id] == nil {
		s.meta[id] = make(map[string]string)
	}
	s.meta[id][key] = value
}

// Calls returns how many times method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Store) Get(_ context.Context, id int64) (entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Get"]++
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return entity.Record{}, entity.ErrNotFound
}

func (s *Store) Query(_ context.Context, q entity.Query) ([]entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Query"]++

	var out []entity.Record
	for _, r := range s.records {
		if matches(r, q) {
			out = append(out, r)
		}
	}
	sortRecords(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Adjacent(_ context.Context, current entity.Record, dir entity.Direction) (entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Adjacent"]++

	var same []entity.Record
	for _, r := range s.records {
		if r.Type == current.Type && r.Status == current.Status {
			same = append(same, r)
		}
	}
	sortRecords(same, entity.Asc)
	for i, r := range same {
		if r.ID != current.ID {
			continue
		}
		if dir == entity.Next && i+1 < len(same) {
			return same[i+1], nil
		}
		if dir == entity.Previous && i > 0 {
			return same[i-1], nil
		}
		break
	}
	return entity.Record{}, entity.ErrNotFound
}

func (s *Store) Meta(_ context.Context, id int64, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Meta"]++
	v, ok := s.meta[id][key]
	if !ok {
		return "", entity.ErrNotFound
	}
	return v, nil
}

func (s *Store) Option(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Option"]++
	return s.options[key], nil
}

func (s *Store) SetOption(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["SetOption"]++
	s.options[key] = value
	return nil
}

func matches(r entity.Record, q entity.Query) bool {
	if q.Type != "" && r.Type != q.Type {
		return false
	}
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if r.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Slug != "" && r.Slug != q.Slug {
		return false
	}
	if q.ParentID != 0 && r.ParentID != q.ParentID {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(r.Title), needle) &&
			!strings.Contains(strings.ToLower(r.Body), needle) {
			return false
		}
	}
	return true
}

func sortRecords(recs []entity.Record, order entity.Order) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if order == entity.Asc {
			a, b = b, a
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID > b.ID
	})
}
