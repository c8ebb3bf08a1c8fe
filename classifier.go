package starch

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/starch/dispatch"
	"github.com/eringen/starch/entity"
)

// siteClassifier is the built-in URL scheme for requests no rewrite rule
// matched:
//
//	/?s=term              search across public types
//	/                     front page
//	/{page}/              a page
//	/{typeSlug}/          the archive of a content type
//	/{typeSlug}/{slug}/   a single record
type siteClassifier struct {
	app *App
}

func (sc siteClassifier) Classify(c echo.Context) (dispatch.Classification, error) {
	ctx := c.Request().Context()
	store := sc.app.Entities.Store

	if term := strings.TrimSpace(c.QueryParam("s")); term != "" {
		recs, err := store.Query(ctx, entity.Query{
			Types:  sc.searchable(),
			Status: entity.StatusPublish,
			Search: term,
		})
		if err != nil {
			return dispatch.Classification{}, err
		}
		return dispatch.Classification{Kind: dispatch.Search, Search: term, Posts: recs}, nil
	}

	segments := splitPath(c.Request().URL.Path)
	switch len(segments) {
	case 0:
		recs, err := store.Query(ctx, entity.Query{Type: entity.TypePost, Status: entity.StatusPublish})
		if err != nil {
			return dispatch.Classification{}, err
		}
		return dispatch.Classification{Kind: dispatch.FrontPage, Type: entity.TypePost, Archive: true, Posts: recs}, nil

	case 1:
		recs, err := store.Query(ctx, entity.Query{Type: entity.TypePage, Slug: segments[0], Status: entity.StatusPublish, Limit: 1})
		if err != nil {
			return dispatch.Classification{}, err
		}
		if len(recs) == 1 {
			return dispatch.Classification{Kind: dispatch.Page, Type: entity.TypePage, Current: &recs[0], Posts: recs}, nil
		}
		b, ok := sc.app.Registry.BySlug(segments[0])
		if !ok || !b.Def.HasArchive() || !b.Def.IsPublic() {
			break
		}
		recs, err = store.Query(ctx, entity.Query{Type: b.Type, Status: entity.StatusPublish})
		if err != nil {
			return dispatch.Classification{}, err
		}
		return dispatch.Classification{Kind: dispatch.Content, Type: b.Type, Archive: true, Posts: recs}, nil

	case 2:
		b, ok := sc.app.Registry.BySlug(segments[0])
		if !ok || !b.Def.IsPublic() {
			break
		}
		recs, err := store.Query(ctx, entity.Query{Type: b.Type, Slug: segments[1], Status: entity.StatusPublish, Limit: 1})
		if err != nil {
			return dispatch.Classification{}, err
		}
		if len(recs) == 1 {
			return dispatch.Classification{Kind: dispatch.Content, Type: b.Type, Current: &recs[0], Posts: recs}, nil
		}
	}
	return dispatch.Classification{Kind: dispatch.NotFound}, nil
}

// searchable lists the public types other than attachments.
func (sc siteClassifier) searchable() []string {
	var out []string
	for _, b := range sc.app.Registry.Types() {
		if b.Type == entity.TypeAttachment || !b.Def.IsPublic() {
			continue
		}
		out = append(out, b.Type)
	}
	return out
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
