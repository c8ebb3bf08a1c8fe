// Package markdown renders post bodies to HTML. It is the default content
// filter of the entity layer and also exposes the result as a templ
// component.
package markdown

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/a-h/templ"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	converter     goldmark.Markdown
	converterOnce sync.Once
)

func md() goldmark.Markdown {
	converterOnce.Do(func() {
		converter = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
				extension.Footnote,
			),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
	})
	return converter
}

// RenderMarkdown writes the HTML representation of src to buf. Raw HTML in
// the source is omitted.
func RenderMarkdown(buf *bytes.Buffer, src string) error {
	return md().Convert([]byte(src), buf)
}

// Filter converts a markdown body to HTML. Its signature matches
// entity.Filter.
func Filter(body string) (string, error) {
	if body == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, body); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Markdown returns a templ.Component that renders content as HTML.
func Markdown(content string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		if err := RenderMarkdown(&buf, content); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	})
}
