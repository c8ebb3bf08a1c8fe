package starch

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"github.com/eringen/starch/entity"
)

// Slugify converts a title to a URL-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// BuildURL resolves a site path such as an entity link against the base
// URL. An empty path yields the site root with a trailing slash.
func BuildURL(base, sitePath string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = path.Join("/", u.Path, sitePath)
	if (sitePath == "" || strings.HasSuffix(sitePath, "/")) && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// WebsiteJsonLD returns a JSON-LD string for a WebSite schema using SiteConfig.
func WebsiteJsonLD(cfg SiteConfig) string {
	data := map[string]any{
		"@context": "https://schema.org",
		"@type":    "WebSite",
		"name":     cfg.Name,
		"url":      BuildURL(cfg.URL, ""),
	}
	if cfg.Description != "" {
		data["description"] = cfg.Description
	}
	if cfg.Author != "" {
		data["author"] = map[string]string{"@type": "Person", "name": cfg.Author}
	}
	return marshalJsonLD(data)
}

// ArticleJsonLD returns a JSON-LD string describing one content entity:
// BlogPosting for posts, WebPage for pages and Article otherwise.
func ArticleJsonLD(e *entity.Entity, cfg SiteConfig) string {
	kind := "Article"
	switch e.Type() {
	case entity.TypePost:
		kind = "BlogPosting"
	case entity.TypePage:
		kind = "WebPage"
	}
	u := BuildURL(cfg.URL, e.Link())
	data := map[string]any{
		"@context":      "https://schema.org",
		"@type":         kind,
		"headline":      e.Title(),
		"datePublished": e.FormatDate("2006-01-02"),
		"dateModified":  e.FormatModified("2006-01-02"),
		"url":           u,
		"mainEntityOfPage": map[string]string{
			"@type": "WebPage",
			"@id":   u,
		},
	}
	if ex := e.Excerpt(); ex != "" {
		data["description"] = ex
	}
	if cfg.Author != "" {
		data["author"] = map[string]string{"@type": "Person", "name": cfg.Author}
	}
	if cfg.Name != "" {
		data["publisher"] = map[string]string{"@type": "Organization", "name": cfg.Name}
	}
	return marshalJsonLD(data)
}

func marshalJsonLD(data map[string]any) string {
	b, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(b)
}
