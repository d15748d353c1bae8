package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/folio/internal/docstore"
	"github.com/kalambet/folio/internal/portfolio"
)

// --- mocks ---

type mockPersister struct {
	mu        sync.Mutex
	err       error
	block     chan struct{}
	docs      []portfolio.Document
	docFields [][]portfolio.Field
	fields    map[portfolio.Field]string
	sections  []portfolio.Section
}

func newMockPersister() *mockPersister {
	return &mockPersister{fields: make(map[portfolio.Field]string)}
}

func (m *mockPersister) wait(ctx context.Context) error {
	if m.block == nil {
		return nil
	}
	select {
	case <-m.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockPersister) SaveDocument(ctx context.Context, _ string, doc portfolio.Document, fields []portfolio.Field) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.docs = append(m.docs, doc.Clone())
	m.docFields = append(m.docFields, fields)
	return nil
}

func (m *mockPersister) SaveField(ctx context.Context, _ string, f portfolio.Field, v string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.fields[f] = v
	return nil
}

func (m *mockPersister) SaveSection(ctx context.Context, _ string, s portfolio.Section) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sections = append(m.sections, s)
	return nil
}

type recordedOutcome struct {
	origin, outcome string
}

type mockRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (m *mockRecorder) ObserveSync(origin, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, recordedOutcome{origin, outcome})
}

// --- helpers ---

func sampleDoc() portfolio.Document {
	d := portfolio.Document{Metadata: portfolio.Metadata{Theme: "light", Font: "Inter", CustomStyle: "body{}"}}
	for _, t := range []string{"hero", "userInfo", "themes", "projects", "skills", "contact"} {
		d.Sections = append(d.Sections, portfolio.Section{Type: t, Data: json.RawMessage(`{"title":"` + t + `"}`)})
	}
	return d
}

func newController(t *testing.T, p Persister, opts ...Option) (*Controller, *docstore.Store) {
	t.Helper()
	store := docstore.New(sampleDoc())
	return New("p-1", store, p, opts...), store
}

func setTheme(v string) MutateFunc {
	return func(prev portfolio.Document) (portfolio.Document, error) {
		prev.Metadata.Theme = v
		return prev, nil
	}
}

// --- tests ---

func TestApply_CommitField(t *testing.T) {
	p := newMockPersister()
	var settled []PendingMutation
	c, store := newController(t, p, WithObserver(func(pm PendingMutation) { settled = append(settled, pm) }))

	if err := c.Apply(context.Background(), OriginTheme, setTheme("ocean")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := store.Document().Metadata.Theme; got != "ocean" {
		t.Errorf("theme = %q, want ocean", got)
	}
	if p.fields[portfolio.FieldTheme] != "ocean" {
		t.Errorf("persisted theme = %q", p.fields[portfolio.FieldTheme])
	}
	if len(p.docs) != 0 {
		t.Error("field origin should not save the full document")
	}
	if len(settled) != 1 || settled[0].State != Committed || settled[0].Previous.Metadata.Theme != "light" {
		t.Errorf("unexpected settled mutations: %+v", settled)
	}
}

func TestApply_RollbackRestoresExactly(t *testing.T) {
	origins := []struct {
		origin Origin
		mutate MutateFunc
	}{
		{OriginTheme, setTheme("ocean")},
		{OriginFont, func(d portfolio.Document) (portfolio.Document, error) { d.Metadata.Font = "Lora"; return d, nil }},
		{OriginStyle, func(d portfolio.Document) (portfolio.Document, error) { d.Metadata.CustomStyle = "h1{color:red}"; return d, nil }},
		{OriginReorder, func(d portfolio.Document) (portfolio.Document, error) {
			return portfolio.Reconcile(d, []string{"skills", "contact", "projects"})
		}},
		{OriginAI, func(d portfolio.Document) (portfolio.Document, error) {
			d.Sections = d.Sections[:4]
			d.Metadata.Theme = "dark"
			return d, nil
		}},
		{OriginSection, func(d portfolio.Document) (portfolio.Document, error) {
			d.Sections[3].Data = json.RawMessage(`{"title":"edited"}`)
			return d, nil
		}},
	}
	for _, tt := range origins {
		t.Run(string(tt.origin), func(t *testing.T) {
			p := newMockPersister()
			p.err = errors.New("backend unavailable")
			c, store := newController(t, p)
			before, _ := json.Marshal(store.Document())

			err := c.Apply(context.Background(), tt.origin, tt.mutate)
			var se *SyncError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SyncError, got %v", err)
			}
			if se.Origin != tt.origin {
				t.Errorf("SyncError.Origin = %q, want %q", se.Origin, tt.origin)
			}
			after, _ := json.Marshal(store.Document())
			if string(before) != string(after) {
				t.Errorf("document not restored:\nbefore %s\nafter  %s", before, after)
			}
		})
	}
}

func TestApply_ValidationLeavesStoreUntouched(t *testing.T) {
	p := newMockPersister()
	c, store := newController(t, p)
	rev := store.Revision()

	err := c.Apply(context.Background(), OriginReorder, func(d portfolio.Document) (portfolio.Document, error) {
		return portfolio.Reconcile(d, []string{"skills"})
	})
	if !errors.Is(err, portfolio.ErrReorderMismatch) {
		t.Fatalf("expected ErrReorderMismatch, got %v", err)
	}

	err = c.Apply(context.Background(), OriginAI, func(d portfolio.Document) (portfolio.Document, error) {
		d.Sections = d.Sections[2:]
		return d, nil
	})
	if !errors.Is(err, portfolio.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}

	if store.Revision() != rev {
		t.Errorf("store was written: revision %d -> %d", rev, store.Revision())
	}
	if len(p.docs) != 0 {
		t.Error("rejected mutation reached the persister")
	}
}

func TestApply_OptimisticBeforePersist(t *testing.T) {
	p := newMockPersister()
	p.block = make(chan struct{})
	c, store := newController(t, p)

	done := make(chan error, 1)
	go func() { done <- c.Apply(context.Background(), OriginTheme, setTheme("ocean")) }()

	deadline := time.After(2 * time.Second)
	for store.Document().Metadata.Theme != "ocean" {
		select {
		case <-deadline:
			t.Fatal("store did not reflect the change before the save settled")
		case <-time.After(time.Millisecond):
		}
	}
	if !c.InFlight(OriginTheme) {
		t.Error("theme slot should be in flight")
	}
	close(p.block)
	if err := <-done; err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if c.InFlight(OriginTheme) {
		t.Error("theme slot should be released")
	}
}

func TestApply_Timeout(t *testing.T) {
	p := newMockPersister()
	p.block = make(chan struct{})
	c, store := newController(t, p, WithTimeout(20*time.Millisecond))

	err := c.Apply(context.Background(), OriginFont, func(d portfolio.Document) (portfolio.Document, error) {
		d.Metadata.Font = "Lora"
		return d, nil
	})
	var se *SyncError
	if !errors.As(err, &se) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout SyncError, got %v", err)
	}
	if store.Document().Metadata.Font != "Inter" {
		t.Error("timed-out mutation was not rolled back")
	}
}

func TestApply_CallerCancelDoesNotAbortSave(t *testing.T) {
	p := newMockPersister()
	p.block = make(chan struct{})
	c, store := newController(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Apply(ctx, OriginTheme, setTheme("ocean")) }()

	for !c.InFlight(OriginTheme) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(p.block)

	if err := <-done; err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if store.Document().Metadata.Theme != "ocean" {
		t.Error("save should have committed after the caller went away")
	}
}

func TestReserve_DocumentSlotIsExclusive(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newController(t, newMockPersister(), WithRecorder(rec))

	r, err := c.Reserve(context.Background(), OriginAI)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := c.Reserve(context.Background(), OriginAI); !errors.Is(err, ErrBusy) {
		t.Errorf("second AI reserve: expected ErrBusy, got %v", err)
	}
	if _, err := c.Reserve(context.Background(), OriginReorder); !errors.Is(err, ErrBusy) {
		t.Errorf("reorder during AI: expected ErrBusy, got %v", err)
	}

	// Direct-channel slots are independent of the document slot.
	if err := c.Apply(context.Background(), OriginTheme, setTheme("ocean")); err != nil {
		t.Errorf("theme during AI: %v", err)
	}

	r.Release()
	r.Release()
	if c.InFlight(OriginAI) {
		t.Error("slot still held after Release")
	}
	if _, err := c.Reserve(context.Background(), OriginAI); err != nil {
		t.Errorf("reserve after release: %v", err)
	}

	busy := 0
	for _, o := range rec.outcomes {
		if o.outcome == "busy" {
			busy++
		}
	}
	if busy != 2 {
		t.Errorf("recorded %d busy outcomes, want 2", busy)
	}
}

func TestReserve_LastDispatchedWins(t *testing.T) {
	p := newMockPersister()
	c, store := newController(t, p)
	ctx := context.Background()

	first, err := c.Reserve(ctx, OriginTheme)
	if err != nil {
		t.Fatal(err)
	}

	// A second theme pick queues behind the first.
	second := make(chan *Reservation, 1)
	go func() {
		r, err := c.Reserve(ctx, OriginTheme)
		if err != nil {
			t.Error(err)
		}
		second <- r
	}()

	first.Release()
	r2 := <-second
	if err := r2.Apply(ctx, setTheme("forest")); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	r2.Release()

	// The first, dispatched earlier, now finds itself superseded.
	if err := first.Apply(ctx, setTheme("ocean")); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if store.Document().Metadata.Theme != "forest" {
		t.Errorf("theme = %q, want forest", store.Document().Metadata.Theme)
	}
}

func TestReserve_FieldWaitHonoursContext(t *testing.T) {
	c, _ := newController(t, newMockPersister())
	r, err := c.Reserve(context.Background(), OriginFont)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Reserve(ctx, OriginFont); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestApply_ConcurrentFieldRollbackKeepsOtherField(t *testing.T) {
	p := &splitPersister{mockPersister: newMockPersister(), failFont: true, release: make(chan struct{})}
	c, store := newController(t, p)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- c.Apply(ctx, OriginFont, func(d portfolio.Document) (portfolio.Document, error) {
			d.Metadata.Font = "Lora"
			return d, nil
		})
	}()
	for !c.InFlight(OriginFont) {
		time.Sleep(time.Millisecond)
	}

	if err := c.Apply(ctx, OriginTheme, setTheme("ocean")); err != nil {
		t.Fatalf("theme Apply: %v", err)
	}
	close(p.release)

	var se *SyncError
	if err := <-done; !errors.As(err, &se) {
		t.Fatalf("expected font SyncError, got %v", err)
	}
	got := store.Document().Metadata
	if got.Font != "Inter" || got.Theme != "ocean" {
		t.Errorf("metadata = %+v, want font rolled back and theme kept", got)
	}
}

func TestApply_SectionOriginSavesOnlyChanged(t *testing.T) {
	p := newMockPersister()
	c, _ := newController(t, p)

	err := c.Apply(context.Background(), OriginSection, func(d portfolio.Document) (portfolio.Document, error) {
		d.Sections[4].Data = json.RawMessage(`{"title":"Go, SQL"}`)
		return d, nil
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(p.sections) != 1 || p.sections[0].Type != "skills" {
		t.Errorf("saved sections = %+v, want only skills", p.sections)
	}
}

func TestApply_PanicRollsBack(t *testing.T) {
	p := &panicPersister{}
	c, store := newController(t, p)

	err := c.Apply(context.Background(), OriginAI, func(d portfolio.Document) (portfolio.Document, error) {
		d.Sections = d.Sections[:3]
		return d, nil
	})
	var se *SyncError
	if !errors.As(err, &se) {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if !store.Document().Equal(sampleDoc()) {
		t.Error("panic during save left the optimistic document in place")
	}
}

type splitPersister struct {
	*mockPersister
	failFont bool
	release  chan struct{}
}

func (s *splitPersister) SaveField(ctx context.Context, id string, f portfolio.Field, v string) error {
	if f == portfolio.FieldFont && s.failFont {
		<-s.release
		return errors.New("font save rejected")
	}
	return s.mockPersister.SaveField(ctx, id, f, v)
}

type panicPersister struct{ mockPersister }

func (p *panicPersister) SaveDocument(context.Context, string, portfolio.Document, []portfolio.Field) error {
	panic("driver exploded")
}

// remotePersister keeps the saved copy of the portfolio so tests can compare
// it with the canonical document. Document saves can be held open and failed.
type remotePersister struct {
	mu      sync.Mutex
	doc     portfolio.Document
	started chan struct{}
	gate    chan struct{}
	docErr  error
}

func newRemotePersister() *remotePersister {
	return &remotePersister{doc: sampleDoc(), started: make(chan struct{}, 1), gate: make(chan struct{})}
}

func (r *remotePersister) SaveDocument(ctx context.Context, _ string, doc portfolio.Document, fields []portfolio.Field) error {
	r.started <- struct{}{}
	<-r.gate
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.docErr != nil {
		return r.docErr
	}
	r.doc = r.doc.WithSections(doc.Sections)
	for _, f := range fields {
		r.doc.Metadata.Set(f, doc.Metadata.Get(f))
	}
	return nil
}

func (r *remotePersister) SaveField(_ context.Context, _ string, f portfolio.Field, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Metadata.Set(f, v)
	return nil
}

func (r *remotePersister) SaveSection(_ context.Context, _ string, s portfolio.Section) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.doc.Sections {
		if r.doc.Sections[i].Type == s.Type {
			r.doc.Sections[i] = s
		}
	}
	return nil
}

func (r *remotePersister) saved() portfolio.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Clone()
}

func assertPersistedMatches(t *testing.T, store *docstore.Store, r *remotePersister) {
	t.Helper()
	canonical, persisted := store.Document(), r.saved()
	if !canonical.Equal(persisted) {
		cj, _ := json.Marshal(canonical)
		pj, _ := json.Marshal(persisted)
		t.Errorf("canonical and persisted documents differ:\ncanonical %s\npersisted %s", cj, pj)
	}
}

func TestApply_DocumentSaveWritesOnlyOwnedFields(t *testing.T) {
	p := newMockPersister()
	c, _ := newController(t, p)
	ctx := context.Background()

	if err := c.Apply(ctx, OriginReorder, func(d portfolio.Document) (portfolio.Document, error) {
		return portfolio.Reconcile(d, []string{"skills", "contact", "projects"})
	}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := c.Apply(ctx, OriginAI, func(d portfolio.Document) (portfolio.Document, error) {
		d.Metadata.Theme = "dark"
		return d, nil
	}); err != nil {
		t.Fatalf("ai: %v", err)
	}

	if len(p.docFields) != 2 {
		t.Fatalf("expected 2 document saves, got %d", len(p.docFields))
	}
	if len(p.docFields[0]) != 0 {
		t.Errorf("reorder saved metadata fields %v", p.docFields[0])
	}
	if len(p.docFields[1]) != 1 || p.docFields[1][0] != portfolio.FieldTheme {
		t.Errorf("ai edit saved fields %v, want [theme]", p.docFields[1])
	}
}

func TestApply_ThemeCommitDuringReorderSave(t *testing.T) {
	remote := newRemotePersister()
	c, store := newController(t, remote)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- c.Apply(ctx, OriginReorder, func(d portfolio.Document) (portfolio.Document, error) {
			return portfolio.Reconcile(d, []string{"skills", "contact", "projects"})
		})
	}()
	<-remote.started

	if err := c.Apply(ctx, OriginTheme, setTheme("ocean")); err != nil {
		t.Fatalf("theme Apply: %v", err)
	}
	close(remote.gate)
	if err := <-done; err != nil {
		t.Fatalf("reorder Apply: %v", err)
	}

	if got := store.Document().Metadata.Theme; got != "ocean" {
		t.Errorf("theme = %q, want ocean", got)
	}
	assertPersistedMatches(t, store, remote)
}

func TestApply_AIRollbackDoesNotOverwriteLaterTheme(t *testing.T) {
	remote := newRemotePersister()
	remote.docErr = errors.New("backend unavailable")
	c, store := newController(t, remote)
	ctx := context.Background()

	aiDone := make(chan error, 1)
	go func() {
		aiDone <- c.Apply(ctx, OriginAI, func(d portfolio.Document) (portfolio.Document, error) {
			d.Sections[3].Data = json.RawMessage(`{"title":"rewritten"}`)
			d.Metadata.Theme = "dark"
			return d, nil
		})
	}()
	<-remote.started

	// The theme pick waits for the AI edit, which owns the theme field.
	themeDone := make(chan error, 1)
	go func() { themeDone <- c.Apply(ctx, OriginTheme, setTheme("ocean")) }()
	select {
	case err := <-themeDone:
		t.Fatalf("theme settled while the AI edit held the field: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(remote.gate)
	var se *SyncError
	if err := <-aiDone; !errors.As(err, &se) {
		t.Fatalf("expected AI SyncError, got %v", err)
	}
	if err := <-themeDone; err != nil {
		t.Fatalf("theme Apply: %v", err)
	}

	if got := store.Document().Metadata.Theme; got != "ocean" {
		t.Errorf("theme = %q, want ocean", got)
	}
	assertPersistedMatches(t, store, remote)
}
