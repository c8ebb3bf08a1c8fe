package starch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/eringen/starch/entity"
)

// dateLayout is fixed width so stored dates sort lexicographically.
const dateLayout = "2006-01-02T15:04:05.000000000Z"

const recordColumns = `id, guid, type, status, title, slug, excerpt, body, parent_id, mime_type, file, date, modified`

// Store wraps a SQLite database holding content records, their metadata
// and site options. It implements entity.Store and entity.Options.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets readers proceed during a write; the busy timeout makes
	// writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    guid TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'publish',
    title TEXT NOT NULL DEFAULT '',
    slug TEXT NOT NULL DEFAULT '',
    excerpt TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    parent_id INTEGER NOT NULL DEFAULT 0,
    mime_type TEXT NOT NULL DEFAULT '',
    file TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL,
    modified TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_type_date ON posts (type, status, date, id);
CREATE INDEX IF NOT EXISTS posts_slug ON posts (type, slug);
CREATE INDEX IF NOT EXISTS posts_parent ON posts (parent_id);

CREATE TABLE IF NOT EXISTS postmeta (
    post_id INTEGER NOT NULL,
    meta_key TEXT NOT NULL,
    meta_value TEXT NOT NULL,
    PRIMARY KEY (post_id, meta_key)
);

CREATE TABLE IF NOT EXISTS options (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (entity.Record, error) {
	var rec entity.Record
	var date, modified string
	if err := row.Scan(&rec.ID, &rec.GUID, &rec.Type, &rec.Status, &rec.Title, &rec.Slug,
		&rec.Excerpt, &rec.Body, &rec.ParentID, &rec.MimeType, &rec.File, &date, &modified); err != nil {
		return entity.Record{}, err
	}
	var err error
	if rec.Date, err = time.Parse(dateLayout, date); err != nil {
		return entity.Record{}, fmt.Errorf("record %d: bad date %q: %w", rec.ID, date, err)
	}
	if rec.Modified, err = time.Parse(dateLayout, modified); err != nil {
		return entity.Record{}, fmt.Errorf("record %d: bad modified date %q: %w", rec.ID, modified, err)
	}
	return rec, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// Get returns the record with id, or entity.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (entity.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM posts WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Record{}, fmt.Errorf("%w: id %d", entity.ErrNotFound, id)
	}
	return rec, err
}

// Query returns the records matching q ordered by (date, id).
func (s *Store) Query(ctx context.Context, q entity.Query) ([]entity.Record, error) {
	var where []string
	var args []any
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if len(q.Types) > 0 {
		where = append(where, "type IN (?"+strings.Repeat(", ?", len(q.Types)-1)+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	if q.Slug != "" {
		where = append(where, "slug = ?")
		args = append(args, q.Slug)
	}
	if q.ParentID != 0 {
		where = append(where, "parent_id = ?")
		args = append(args, q.ParentID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	if q.Search != "" {
		needle := "%" + strings.ToLower(q.Search) + "%"
		where = append(where, "(lower(title) LIKE ? OR lower(body) LIKE ?)")
		args = append(args, needle, needle)
	}

	stmt := `SELECT ` + recordColumns + ` FROM posts`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	order := "DESC"
	if q.Order == entity.Asc {
		order = "ASC"
	}
	stmt += " ORDER BY date " + order + ", id " + order
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []entity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Adjacent returns the neighbour of current in (date, id) order among
// records of the same type and status, or entity.ErrNotFound.
func (s *Store) Adjacent(ctx context.Context, current entity.Record, dir entity.Direction) (entity.Record, error) {
	cmp, order := ">", "ASC"
	if dir == entity.Previous {
		cmp, order = "<", "DESC"
	}
	date := formatDate(current.Date)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM posts
WHERE type = ? AND status = ? AND (date `+cmp+` ? OR (date = ? AND id `+cmp+` ?))
ORDER BY date `+order+`, id `+order+` LIMIT 1`,
		current.Type, current.Status, date, date, current.ID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Record{}, fmt.Errorf("%w: no %s record of %d", entity.ErrNotFound, dir, current.ID)
	}
	return rec, err
}

// Save inserts rec when its ID is zero and updates it otherwise. A GUID is
// assigned on insert and the modified date is refreshed.
func (s *Store) Save(ctx context.Context, rec entity.Record) (entity.Record, error) {
	now := time.Now().UTC()
	if rec.Date.IsZero() {
		rec.Date = now
	}
	rec.Modified = now
	if rec.Status == "" {
		rec.Status = entity.StatusPublish
	}
	if rec.ID == 0 {
		if rec.GUID == "" {
			rec.GUID = uuid.NewString()
		}
		res, err := s.db.ExecContext(ctx, `INSERT INTO posts (guid, type, status, title, slug, excerpt, body, parent_id, mime_type, file, date, modified)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.GUID, rec.Type, rec.Status, rec.Title, rec.Slug, rec.Excerpt, rec.Body,
			rec.ParentID, rec.MimeType, rec.File, formatDate(rec.Date), formatDate(rec.Modified))
		if err != nil {
			return entity.Record{}, fmt.Errorf("insert %s %q: %w", rec.Type, rec.Slug, err)
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return entity.Record{}, err
		}
		return rec, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET type = ?, status = ?, title = ?, slug = ?, excerpt = ?, body = ?,
parent_id = ?, mime_type = ?, file = ?, date = ?, modified = ? WHERE id = ?`,
		rec.Type, rec.Status, rec.Title, rec.Slug, rec.Excerpt, rec.Body,
		rec.ParentID, rec.MimeType, rec.File, formatDate(rec.Date), formatDate(rec.Modified), rec.ID)
	if err != nil {
		return entity.Record{}, fmt.Errorf("update record %d: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.Record{}, fmt.Errorf("%w: id %d", entity.ErrNotFound, rec.ID)
	}
	return s.Get(ctx, rec.ID)
}

// Delete removes the record with id and its metadata.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM postmeta WHERE post_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Meta returns the metadata value under key for record id, or
// entity.ErrNotFound.
func (s *Store) Meta(ctx context.Context, id int64, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT meta_value FROM postmeta WHERE post_id = ? AND meta_key = ?`, id, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: meta %q of %d", entity.ErrNotFound, key, id)
	}
	return value, err
}

// SetMeta upserts a metadata value.
func (s *Store) SetMeta(ctx context.Context, id int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO postmeta (post_id, meta_key, meta_value) VALUES (?, ?, ?)
ON CONFLICT (post_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`, id, key, value)
	return err
}

// Option returns the option value under key; a missing option reads as "".
func (s *Store) Option(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM options WHERE name = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetOption upserts an option value.
func (s *Store) SetOption(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO options (name, value) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
