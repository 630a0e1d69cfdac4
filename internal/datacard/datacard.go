// Package datacard renders a human-readable HTML card for a dataset record.
package datacard

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/dnswlt/geocr/internal/croissant"
	"github.com/yuin/goldmark"
)

//go:embed templates/*.html
var files embed.FS

var cardTemplate = template.Must(template.New("root").Funcs(map[string]any{
	"markdown": markdown,
	"join":     strings.Join,
	"quantity": quantity,
}).ParseFS(files, "templates/*.html"))

func markdown(input string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to process markdown: %v", err)
	}
	return template.HTML(buf.String()), nil
}

func quantity(q *croissant.QuantitativeValue) string {
	if q == nil {
		return ""
	}
	v := strconv.FormatFloat(q.Value, 'f', -1, 64)
	if q.UnitText == "" {
		return v
	}
	return v + " " + q.UnitText
}

// Render writes the card for r to w.
func Render(w io.Writer, r *croissant.Record) error {
	var buf bytes.Buffer
	if err := cardTemplate.ExecuteTemplate(&buf, "card.html", r); err != nil {
		return fmt.Errorf("failed to render data card: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
