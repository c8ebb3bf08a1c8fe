package starch

import (
	"encoding/xml"

	"github.com/labstack/echo/v4"

	"github.com/eringen/starch/entity"
)

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// buildSitemap lists the front page, the archive of every public type that
// has one, and each published record of those types.
func (a *App) buildSitemap(models []entity.Model) sitemapURLSet {
	base := a.Config.URL
	urls := []sitemapURL{{Loc: BuildURL(base, "")}}
	for _, b := range a.Registry.Types() {
		if b.Type == entity.TypeAttachment || !b.Def.IsPublic() || !b.Def.HasArchive() {
			continue
		}
		urls = append(urls, sitemapURL{Loc: BuildURL(base, "/"+b.Def.Slug+"/")})
	}
	for _, m := range models {
		e := m.Base()
		urls = append(urls, sitemapURL{
			Loc:     BuildURL(base, e.Link()),
			LastMod: e.FormatModified("2006-01-02"),
		})
	}
	return sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	}
}

func (a *App) handleSitemap(c echo.Context) error {
	sc := siteClassifier{app: a}
	models, err := a.Entities.Find(c.Request().Context(), entity.Query{
		Types:  sc.searchable(),
		Status: entity.StatusPublish,
	})
	if err != nil {
		return err
	}
	return writeXML(c, "application/xml; charset=utf-8", a.buildSitemap(models))
}
