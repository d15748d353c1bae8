package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/folio/internal/portfolio"
	"github.com/kalambet/folio/internal/publish"
	"github.com/kalambet/folio/internal/resolver"
	"github.com/kalambet/folio/internal/syncer"
	"github.com/kalambet/folio/internal/transcript"
)

// ErrNoPublisher is returned by Publish when no publisher is configured.
var ErrNoPublisher = errors.New("publishing is not configured")

// Repository is the persistence a Registry needs: the per-mutation saves plus
// portfolio bookkeeping.
type Repository interface {
	syncer.Persister
	CreatePortfolio(ctx context.Context, rec portfolio.Record) error
	GetPortfolio(ctx context.Context, id string) (portfolio.Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]portfolio.Record, error)
	SetSlug(ctx context.Context, id, slug string) error
}

// Publisher uploads a portfolio snapshot and names its public location.
type Publisher interface {
	Publish(ctx context.Context, rec portfolio.Record) (publish.Link, error)
	URL(slug string) string
}

// Summary is one row of an owner's overview.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Template  string    `json:"template"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Slug      string    `json:"slug,omitempty"`
	URL       string    `json:"url,omitempty"`
}

// Registry hands out editing sessions, loading each portfolio on first use.
type Registry struct {
	repo      Repository
	resolver  resolver.Resolver
	publisher Publisher
	opts      []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry. publisher may be nil.
func NewRegistry(repo Repository, r resolver.Resolver, publisher Publisher, opts ...Option) *Registry {
	return &Registry{
		repo:      repo,
		resolver:  r,
		publisher: publisher,
		opts:      opts,
		sessions:  make(map[string]*Session),
	}
}

// Session returns the session for id, loading the portfolio if needed.
func (r *Registry) Session(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	rec, err := r.repo.GetPortfolio(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading portfolio %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	s = NewSession(rec, r.repo, r.resolver, r.opts...)
	r.sessions[id] = s
	slog.Debug("session opened", "portfolio_id", id, "owner_id", rec.OwnerID)
	return s, nil
}

// Edit returns the session for id if userID owns it.
func (r *Registry) Edit(ctx context.Context, id, userID string) (*Session, error) {
	s, err := r.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID == "" || userID != s.OwnerID() {
		return nil, ErrNotOwner
	}
	return s, nil
}

// Create stores a new portfolio. The initial document must be valid.
func (r *Registry) Create(ctx context.Context, ownerID, template string, doc portfolio.Document) (portfolio.Record, error) {
	if ownerID == "" {
		return portfolio.Record{}, fmt.Errorf("%w: owner is required", portfolio.ErrInvalidDocument)
	}
	if err := portfolio.Validate(doc); err != nil {
		return portfolio.Record{}, err
	}
	now := time.Now().UTC()
	rec := portfolio.Record{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Template:  template,
		CreatedAt: now,
		UpdatedAt: now,
		Document:  doc.Clone(),
	}
	if err := r.repo.CreatePortfolio(ctx, rec); err != nil {
		return portfolio.Record{}, fmt.Errorf("creating portfolio: %w", err)
	}
	slog.Info("portfolio created", "portfolio_id", rec.ID, "owner_id", ownerID, "template", template)
	return rec, nil
}

// Get returns the stored record, with the canonical document of a loaded
// session in place of the stored one.
func (r *Registry) Get(ctx context.Context, id string) (portfolio.Record, error) {
	rec, err := r.repo.GetPortfolio(ctx, id)
	if err != nil {
		return portfolio.Record{}, err
	}
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		rec.Document = s.Document()
	}
	return rec, nil
}

// List returns ownerID's portfolios, newest first.
func (r *Registry) List(ctx context.Context, ownerID string) ([]Summary, error) {
	recs, err := r.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing portfolios: %w", err)
	}
	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		sum := Summary{
			ID:        rec.ID,
			Name:      rec.Document.OwnerName(),
			Template:  rec.Template,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			Slug:      rec.Slug,
		}
		if rec.Published() && r.publisher != nil {
			sum.URL = r.publisher.URL(rec.Slug)
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Publish uploads the canonical document and records its slug. A portfolio
// that was published before keeps its slug.
func (r *Registry) Publish(ctx context.Context, id, userID string) (publish.Link, error) {
	if r.publisher == nil {
		return publish.Link{}, ErrNoPublisher
	}
	s, err := r.Edit(ctx, id, userID)
	if err != nil {
		return publish.Link{}, err
	}
	rec, err := r.repo.GetPortfolio(ctx, id)
	if err != nil {
		return publish.Link{}, fmt.Errorf("loading portfolio %s: %w", id, err)
	}
	rec.Document = s.Document()

	link, err := r.publisher.Publish(ctx, rec)
	if err != nil {
		s.transcript.Notify(transcript.LevelError, "Failed to publish portfolio")
		return publish.Link{}, fmt.Errorf("publishing %s: %w", id, err)
	}
	if link.Slug != rec.Slug {
		if err := r.repo.SetSlug(ctx, id, link.Slug); err != nil {
			return publish.Link{}, fmt.Errorf("recording slug: %w", err)
		}
	}
	s.transcript.Notify(transcript.LevelSuccess, "Portfolio published!")
	slog.Info("portfolio published", "portfolio_id", id, "slug", link.Slug)
	return link, nil
}

// Sessions lists the loaded sessions ordered by id.
func (r *Registry) Sessions() []State {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	out := make([]State, 0, len(list))
	for _, s := range list {
		out = append(out, s.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
