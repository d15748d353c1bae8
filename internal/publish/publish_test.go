package publish

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/folio/internal/portfolio"
)

type mockUploader struct {
	mu    sync.Mutex
	err   error
	files map[string]string
}

func (m *mockUploader) Upload(_ context.Context, key string, body []byte, contentType string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string]string)
	}
	m.files[key] = contentType
	return nil
}

func testRecord(name string) portfolio.Record {
	return portfolio.Record{
		ID:      "p1",
		OwnerID: "u1",
		Document: portfolio.Document{
			Sections: []portfolio.Section{
				{Type: "hero"},
				{Type: "userInfo", Data: json.RawMessage(`{"name":"` + name + `"}`)},
				{Type: "themes"},
			},
			Metadata: portfolio.Metadata{Theme: "ocean", Font: "Inter", CustomStyle: "h1 { color: red; }"},
		},
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Ada Lovelace", "ada-lovelace"},
		{"  Grace  Hopper!! ", "grace-hopper"},
		{"Zoë Müller", "zo-m-ller"},
		{"---", ""},
		{"R2D2", "r2d2"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewSlug(t *testing.T) {
	a := NewSlug("Ada Lovelace")
	b := NewSlug("Ada Lovelace")
	if !strings.HasPrefix(a, "ada-lovelace-") || len(a) != len("ada-lovelace-")+6 {
		t.Errorf("unexpected slug %q", a)
	}
	if a == b {
		t.Error("slugs should carry a random suffix")
	}
	if !strings.HasPrefix(NewSlug(""), "portfolio-") {
		t.Error("empty name should fall back to portfolio")
	}
}

func TestPublish_NewSlug(t *testing.T) {
	up := &mockUploader{}
	p := New(up, "https://folio.example.app/p/")

	link, err := p.Publish(context.Background(), testRecord("Ada Lovelace"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(link.Slug, "ada-lovelace-") {
		t.Errorf("slug = %q", link.Slug)
	}
	if link.URL != "https://folio.example.app/p/"+link.Slug {
		t.Errorf("url = %q", link.URL)
	}
	if up.files[link.Slug+"/portfolio.json"] != "application/json" {
		t.Errorf("snapshot not uploaded: %v", up.files)
	}
	if _, ok := up.files[link.Slug+"/index.html"]; !ok {
		t.Errorf("index not uploaded: %v", up.files)
	}
}

func TestPublish_KeepsExistingSlug(t *testing.T) {
	rec := testRecord("Ada")
	rec.Slug = "ada-123456"
	link, err := New(&mockUploader{}, "https://x").Publish(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if link.Slug != "ada-123456" {
		t.Errorf("slug = %q, want existing", link.Slug)
	}
}

func TestPublish_UploadError(t *testing.T) {
	_, err := New(&mockUploader{err: errors.New("bucket gone")}, "https://x").
		Publish(context.Background(), testRecord("Ada"))
	if err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Fatalf("expected upload error, got %v", err)
	}
}

func TestDirUploader(t *testing.T) {
	dir := t.TempDir()
	p := New(NewDirUploader(dir), "http://localhost:4100/p")

	link, err := p.Publish(context.Background(), testRecord("Ada"))
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, link.Slug, "portfolio.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc portfolio.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("snapshot is not a document: %v", err)
	}
	if doc.Metadata.Theme != "ocean" {
		t.Errorf("theme = %q", doc.Metadata.Theme)
	}

	page, err := os.ReadFile(filepath.Join(dir, link.Slug, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(page), "<title>Ada</title>") {
		t.Errorf("index should carry the owner name:\n%s", page)
	}
	if _, err := os.Stat(filepath.Join(dir, link.Slug, "portfolio.json.tmp")); !os.IsNotExist(err) {
		t.Error("temporary file should be renamed away")
	}
}
