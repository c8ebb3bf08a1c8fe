package starch

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/starch/entity"
)

const feedSize = 20

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	Description string  `xml:"description"`
	PubDate     string  `xml:"pubDate"`
	GUID        rssGUID `xml:"guid"`
}

type rssGUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// buildFeed lists the latest published posts. Item GUIDs are the record
// GUIDs, so a renamed post keeps its feed identity.
func (a *App) buildFeed(models []entity.Model) rssXML {
	base := a.Config.URL
	items := make([]rssItem, 0, len(models))
	var latest time.Time
	for _, m := range models {
		e := m.Base()
		if e.Modified().After(latest) {
			latest = e.Modified()
		}
		guid := rssGUID{Value: e.Record().GUID}
		if guid.Value == "" {
			guid = rssGUID{Value: BuildURL(base, e.Link()), IsPermaLink: true}
		}
		items = append(items, rssItem{
			Title:       e.Title(),
			Link:        BuildURL(base, e.Link()),
			Description: e.Excerpt(),
			PubDate:     e.Date().Format(time.RFC1123Z),
			GUID:        guid,
		})
	}
	feed := rssXML{
		Version: "2.0",
		Channel: rssChannel{
			Title:       a.Config.Name,
			Link:        BuildURL(base, ""),
			Description: a.Config.Description,
			Items:       items,
		},
	}
	if !latest.IsZero() {
		feed.Channel.LastBuildDate = latest.Format(time.RFC1123Z)
	}
	return feed
}

func (a *App) handleFeed(c echo.Context) error {
	models, err := a.Entities.Find(c.Request().Context(), entity.Query{
		Type:   entity.TypePost,
		Status: entity.StatusPublish,
		Limit:  feedSize,
	})
	if err != nil {
		return err
	}
	return writeXML(c, "application/rss+xml; charset=utf-8", a.buildFeed(models))
}

func writeXML(c echo.Context, contentType string, v any) error {
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(c.Response()).Encode(v)
}
