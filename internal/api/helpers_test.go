package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/folio/internal/editor"
	"github.com/kalambet/folio/internal/portfolio"
	"github.com/kalambet/folio/internal/publish"
	"github.com/kalambet/folio/internal/resolver"
	"github.com/kalambet/folio/internal/storage"
)

const (
	testToken = "test-token"
	testOwner = "owner-1"
)

// flakyStore fails field saves when failFields is set.
type flakyStore struct {
	*storage.Store
	failFields bool
}

func (f *flakyStore) SaveField(ctx context.Context, id string, field portfolio.Field, value string) error {
	if f.failFields {
		return errors.New("backend rejected the write")
	}
	return f.Store.SaveField(ctx, id, field, value)
}

type testEnv struct {
	store    *flakyStore
	registry *editor.Registry
	resolve  func(resolver.Request) (resolver.Response, error)
	id       string
}

func testDocument() portfolio.Document {
	return portfolio.Document{
		Sections: []portfolio.Section{
			{Type: "hero", Data: json.RawMessage(`{"title":"Hi"}`)},
			{Type: "userInfo", Data: json.RawMessage(`{"name":"Ada Lovelace"}`)},
			{Type: "themes"},
			{Type: "projects", Data: json.RawMessage(`[]`)},
			{Type: "skills", Data: json.RawMessage(`[]`)},
			{Type: "contact", Data: json.RawMessage(`{}`)},
		},
		Metadata: portfolio.Metadata{Theme: "light", Font: "Inter"},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{store: &flakyStore{Store: store}}
	env.resolve = func(req resolver.Request) (resolver.Response, error) {
		doc := req.Document.Clone()
		doc.Sections[0].Data = json.RawMessage(`{"title":"Hello"}`)
		return resolver.Response{UpdatedDocument: doc, UserReply: "Changed the title."}, nil
	}
	r := resolver.Func(func(_ context.Context, req resolver.Request) (resolver.Response, error) {
		return env.resolve(req)
	})
	pub := publish.New(publish.NewDirUploader(t.TempDir()), "https://folio.test/p")
	env.registry = editor.NewRegistry(env.store, r, pub)

	rec, err := env.registry.Create(context.Background(), testOwner, "minimal", testDocument())
	if err != nil {
		t.Fatalf("creating portfolio: %v", err)
	}
	env.id = rec.ID
	return env
}

func (e *testEnv) handler() http.Handler {
	return NewAppHandler(AppDeps{Registry: e.registry, Token: testToken})
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	e.handler().ServeHTTP(rec, req)
	return rec
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Type
}
