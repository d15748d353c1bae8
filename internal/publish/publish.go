// Package publish uploads portfolio snapshots to a public location and
// allocates the slug they are served under.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/folio/internal/portfolio"
)

// Link is the public location of a published portfolio.
type Link struct {
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

// Uploader stores one object under key.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Publisher writes the snapshot and a landing page for each portfolio.
type Publisher struct {
	up      Uploader
	baseURL string
}

// New creates a Publisher serving published portfolios under baseURL.
func New(up Uploader, baseURL string) *Publisher {
	return &Publisher{up: up, baseURL: strings.TrimRight(baseURL, "/")}
}

// URL returns the public address of slug.
func (p *Publisher) URL(slug string) string {
	return p.baseURL + "/" + slug
}

// Publish uploads rec's document. A record that already has a slug keeps it.
func (p *Publisher) Publish(ctx context.Context, rec portfolio.Record) (Link, error) {
	slug := rec.Slug
	if slug == "" {
		slug = NewSlug(rec.Document.OwnerName())
	}

	snapshot, err := json.MarshalIndent(rec.Document, "", "  ")
	if err != nil {
		return Link{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	page, err := renderIndex(rec, snapshot)
	if err != nil {
		return Link{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.up.Upload(gctx, slug+"/portfolio.json", snapshot, "application/json")
	})
	g.Go(func() error {
		return p.up.Upload(gctx, slug+"/index.html", page, "text/html; charset=utf-8")
	})
	if err := g.Wait(); err != nil {
		return Link{}, fmt.Errorf("uploading %s: %w", slug, err)
	}
	return Link{Slug: slug, URL: p.URL(slug)}, nil
}

// NewSlug derives a slug from a display name plus a short random suffix.
func NewSlug(name string) string {
	base := Slugify(name)
	if base == "" {
		base = "portfolio"
	}
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// Slugify lowercases name and collapses every run of other characters into a
// single hyphen.
func Slugify(name string) string {
	var sb strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && sb.Len() > 0 {
			sb.WriteByte('-')
			hyphen = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>{{.Style}}</style>
</head>
<body data-theme="{{.Theme}}" style="font-family: {{.Font}}">
<script id="portfolio" type="application/json">{{.Snapshot}}</script>
</body>
</html>
`))

func renderIndex(rec portfolio.Record, snapshot []byte) ([]byte, error) {
	title := rec.Document.OwnerName()
	if title == "" {
		title = "Portfolio"
	}
	var buf bytes.Buffer
	err := indexTmpl.Execute(&buf, map[string]any{
		"Title":    title,
		"Style":    template.CSS(rec.Document.Metadata.CustomStyle),
		"Theme":    rec.Document.Metadata.Theme,
		"Font":     rec.Document.Metadata.Font,
		"Snapshot": template.JS(snapshot),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering index: %w", err)
	}
	return buf.Bytes(), nil
}
