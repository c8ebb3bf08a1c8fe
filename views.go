package starch

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/eringen/starch/dispatch"
	"github.com/eringen/starch/entity"
)

// PageData is what the public page components receive. Entity fields are
// resolved lazily while the component renders.
type PageData struct {
	Site    SiteConfig
	Title   string
	Current entity.Model   // single views
	Posts   []entity.Model // archives and search results
	Type    string         // content type of an archive
	Search  string
	Status  int
	CanEdit bool
}

// AdminData is passed to the admin dashboard.
type AdminData struct {
	Site      SiteConfig
	Records   []entity.Record
	Types     []entity.Binding
	Message   string
	CSRFToken string
}

// Views holds the templ components the default controllers and admin
// handlers render. Users override any of them with WithViews; nil fields
// fall back to the built-in components.
type Views struct {
	Archive      func(d PageData) templ.Component
	Single       func(d PageData) templ.Component
	Search       func(d PageData) templ.Component
	NothingFound func(d PageData) templ.Component
	NotFound     func(d PageData) templ.Component
	Error        func(d PageData) templ.Component
	Diagnostic   func(err *dispatch.ConfigError) templ.Component

	AdminLogin     func(showError bool, csrfToken string) templ.Component
	AdminDashboard func(d AdminData) templ.Component
	AdminForm      func(rec entity.Record, types []entity.Binding, csrfToken string) templ.Component
	AdminMedia     func(items []*entity.Attachment, csrfToken string) templ.Component
}

// DefaultViews returns the built-in components.
func DefaultViews() Views {
	return Views{
		Archive:        archiveView,
		Single:         singleView,
		Search:         archiveView,
		NothingFound:   messageView("Nothing found", "There is nothing here yet."),
		NotFound:       messageView("Page not found", "The page you requested does not exist."),
		Error:          errorView,
		Diagnostic:     diagnosticView,
		AdminLogin:     adminLoginView,
		AdminDashboard: adminDashboardView,
		AdminForm:      adminFormView,
		AdminMedia:     adminMediaView,
	}
}

func (v *Views) withDefaults() {
	d := DefaultViews()
	if v.Archive == nil {
		v.Archive = d.Archive
	}
	if v.Single == nil {
		v.Single = d.Single
	}
	if v.Search == nil {
		v.Search = d.Search
	}
	if v.NothingFound == nil {
		v.NothingFound = d.NothingFound
	}
	if v.NotFound == nil {
		v.NotFound = d.NotFound
	}
	if v.Error == nil {
		v.Error = d.Error
	}
	if v.Diagnostic == nil {
		v.Diagnostic = d.Diagnostic
	}
	if v.AdminLogin == nil {
		v.AdminLogin = d.AdminLogin
	}
	if v.AdminDashboard == nil {
		v.AdminDashboard = d.AdminDashboard
	}
	if v.AdminForm == nil {
		v.AdminForm = d.AdminForm
	}
	if v.AdminMedia == nil {
		v.AdminMedia = d.AdminMedia
	}
}

// page wraps body in the shared document layout.
func page(title, siteName string, body func(ctx context.Context, w io.Writer) error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if title != siteName && siteName != "" {
			title = title + " | " + siteName
		}
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>%s</title><link rel="alternate" type="application/rss+xml" href="/feed.xml"></head><body><main>`,
			templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

func archiveView(d PageData) templ.Component {
	return page(d.Title, d.Site.Name, func(ctx context.Context, w io.Writer) error {
		fmt.Fprintf(w, `<h1>%s</h1>`, templ.EscapeString(d.Title))
		if d.Search != "" {
			fmt.Fprintf(w, `<p class="search">Results for &ldquo;%s&rdquo;</p>`, templ.EscapeString(d.Search))
		}
		io.WriteString(w, `<ul class="posts">`)
		for _, m := range d.Posts {
			e := m.Base()
			fmt.Fprintf(w, `<li><a href="%s">%s</a> <time datetime="%s">%s</time>`,
				templ.EscapeString(e.Link()), templ.EscapeString(e.Title()),
				e.FormatDate("2006-01-02"), e.FormatDate("January 2, 2006"))
			if ex := e.Excerpt(); ex != "" {
				fmt.Fprintf(w, `<p>%s</p>`, templ.EscapeString(ex))
			}
			io.WriteString(w, `</li>`)
		}
		_, err := io.WriteString(w, `</ul>`)
		return err
	})
}

func singleView(d PageData) templ.Component {
	return page(d.Title, d.Site.Name, func(ctx context.Context, w io.Writer) error {
		e := d.Current.Base()
		fmt.Fprintf(w, `<article><h1>%s</h1>`, templ.EscapeString(e.Title()))
		if e.Type() != entity.TypePage {
			fmt.Fprintf(w, `<time datetime="%s">%s</time>`, e.FormatDate("2006-01-02"), e.FormatDate("January 2, 2006"))
		}
		if edit := e.EditLink(); edit != "" {
			fmt.Fprintf(w, ` <a class="edit" href="%s">Edit</a>`, templ.EscapeString(edit))
		}

		img, err := e.FeaturedImage(ctx)
		if err != nil {
			return err
		}
		if img.Populated() {
			src, err := img.Thumbnail(ctx, "medium")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, `<img src="%s" alt="%s">`, templ.EscapeString(src), templ.EscapeString(img.Title()))
		}

		content, err := e.Content(ctx)
		if err != nil {
			return err
		}
		// content is HTML produced by the filter pipeline
		fmt.Fprintf(w, `<div class="content">%s</div></article>`, content)

		if e.Type() == entity.TypePage {
			return nil
		}
		prev, err := e.Previous(ctx)
		if err != nil {
			return err
		}
		next, err := e.Next(ctx)
		if err != nil {
			return err
		}
		io.WriteString(w, `<nav class="adjacent">`)
		if prev != nil {
			fmt.Fprintf(w, `<a rel="prev" href="%s">%s</a>`, templ.EscapeString(prev.Base().Link()), templ.EscapeString(prev.Base().Title()))
		}
		if next != nil {
			fmt.Fprintf(w, `<a rel="next" href="%s">%s</a>`, templ.EscapeString(next.Base().Link()), templ.EscapeString(next.Base().Title()))
		}
		_, err = io.WriteString(w, `</nav>`)
		return err
	})
}

func messageView(title, text string) func(PageData) templ.Component {
	return func(d PageData) templ.Component {
		return page(title, d.Site.Name, func(ctx context.Context, w io.Writer) error {
			_, err := fmt.Fprintf(w, `<h1>%s</h1><p>%s</p><p><a href="/">Home</a></p>`,
				templ.EscapeString(title), templ.EscapeString(text))
			return err
		})
	}
}

func errorView(d PageData) templ.Component {
	title := "Something went wrong"
	return page(title, d.Site.Name, func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<h1>%s</h1><p>Error %s.</p><p><a href="/">Home</a></p>`,
			templ.EscapeString(title), strconv.Itoa(d.Status))
		return err
	})
}

func diagnosticView(ce *dispatch.ConfigError) templ.Component {
	return page("Configuration error", "", func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<h1>Configuration error</h1><p class="message">%s</p><pre class="stack">%s</pre>`,
			templ.EscapeString(ce.Message), templ.EscapeString(ce.Stack))
		return err
	})
}

func adminLoginView(showError bool, csrfToken string) templ.Component {
	return page("Admin login", "", func(ctx context.Context, w io.Writer) error {
		io.WriteString(w, `<h1>Admin</h1>`)
		if showError {
			io.WriteString(w, `<p class="error">Wrong password.</p>`)
		}
		_, err := fmt.Fprintf(w, `<form method="post" action="/admin/login/"><input type="hidden" name="_csrf" value="%s"><input type="password" name="password" autofocus><button>Log in</button></form>`,
			templ.EscapeString(csrfToken))
		return err
	})
}

func adminDashboardView(d AdminData) templ.Component {
	return page("Dashboard", d.Site.Name, func(ctx context.Context, w io.Writer) error {
		io.WriteString(w, `<h1>Dashboard</h1>`)
		if d.Message != "" {
			fmt.Fprintf(w, `<p class="message">%s</p>`, templ.EscapeString(d.Message))
		}
		io.WriteString(w, `<p>`)
		for _, b := range d.Types {
			if b.Type == entity.TypeAttachment {
				continue
			}
			fmt.Fprintf(w, `<a href="/admin/new/?type=%s">New %s</a> `, templ.EscapeString(b.Type), templ.EscapeString(b.Def.Singular))
		}
		io.WriteString(w, `<a href="/admin/media/">Media</a></p><table><tr><th>Title</th><th>Type</th><th>Status</th><th>Date</th><th></th></tr>`)
		for _, rec := range d.Records {
			fmt.Fprintf(w, `<tr><td><a href="/admin/edit/%d/">%s</a></td><td>%s</td><td>%s</td><td>%s</td><td><form method="post" action="/admin/delete/%d/"><input type="hidden" name="_csrf" value="%s"><button>Delete</button></form></td></tr>`,
				rec.ID, templ.EscapeString(rec.Title), templ.EscapeString(rec.Type), templ.EscapeString(rec.Status),
				rec.Date.Format("2006-01-02"), rec.ID, templ.EscapeString(d.CSRFToken))
		}
		_, err := fmt.Fprintf(w, `</table><form method="post" action="/admin/logout/"><input type="hidden" name="_csrf" value="%s"><button>Log out</button></form>`,
			templ.EscapeString(d.CSRFToken))
		return err
	})
}

func adminFormView(rec entity.Record, types []entity.Binding, csrfToken string) templ.Component {
	return page("Edit", "", func(ctx context.Context, w io.Writer) error {
		date := ""
		if !rec.Date.IsZero() {
			date = rec.Date.Format("2006-01-02")
		}
		fmt.Fprintf(w, `<form method="post" action="/admin/save/"><input type="hidden" name="_csrf" value="%s"><input type="hidden" name="id" value="%d"><select name="type">`,
			templ.EscapeString(csrfToken), rec.ID)
		for _, b := range types {
			if b.Type == entity.TypeAttachment {
				continue
			}
			selected := ""
			if b.Type == rec.Type {
				selected = " selected"
			}
			fmt.Fprintf(w, `<option value="%s"%s>%s</option>`, templ.EscapeString(b.Type), selected, templ.EscapeString(b.Def.Singular))
		}
		published := ""
		if rec.Status == "" || rec.Status == entity.StatusPublish {
			published = " checked"
		}
		_, err := fmt.Fprintf(w, `</select><input name="title" value="%s" placeholder="Title"><input name="slug" value="%s" placeholder="slug"><input name="date" value="%s" placeholder="YYYY-MM-DD"><label><input type="checkbox" name="published"%s> Published</label><textarea name="excerpt">%s</textarea><textarea name="body" rows="20">%s</textarea><button>Save</button></form>`,
			templ.EscapeString(rec.Title), templ.EscapeString(rec.Slug), date, published,
			templ.EscapeString(rec.Excerpt), templ.EscapeString(rec.Body))
		return err
	})
}

func adminMediaView(items []*entity.Attachment, csrfToken string) templ.Component {
	return page("Media", "", func(ctx context.Context, w io.Writer) error {
		fmt.Fprintf(w, `<h1>Media</h1><form method="post" action="/admin/media/upload/" enctype="multipart/form-data"><input type="hidden" name="_csrf" value="%s"><input type="file" name="image" accept="image/*"><button>Upload</button></form><ul class="media">`,
			templ.EscapeString(csrfToken))
		for _, a := range items {
			thumb, err := a.Thumbnail(ctx, "thumbnail")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, `<li><img src="%s" alt="%s"> <code>%s</code><form method="post" action="/admin/media/delete/%d/"><input type="hidden" name="_csrf" value="%s"><button>Delete</button></form></li>`,
				templ.EscapeString(thumb), templ.EscapeString(a.Title()), templ.EscapeString(a.URL()), a.ID(), templ.EscapeString(csrfToken))
		}
		_, err := io.WriteString(w, `</ul>`)
		return err
	})
}
