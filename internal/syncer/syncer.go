// Package syncer applies portfolio mutations optimistically and settles them
// against the outcome of the remote save: commit on success, rollback on
// failure.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kalambet/folio/internal/docstore"
	"github.com/kalambet/folio/internal/portfolio"
)

// DefaultTimeout bounds a single remote save.
const DefaultTimeout = 15 * time.Second

var (
	// ErrBusy is returned when the origin's in-flight slot is already taken.
	ErrBusy = errors.New("another mutation is in flight")

	// ErrSuperseded is returned when a later-dispatched mutation of the same
	// field has already been applied.
	ErrSuperseded = errors.New("superseded by a newer mutation")
)

// SyncError reports a remote save that failed after the optimistic apply.
// The store has been rolled back by the time it is returned.
type SyncError struct {
	Origin Origin
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("saving %s change: %v", e.Origin, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Persister is the remote side of a mutation. Document origins save the
// sections plus the metadata fields they own in one write, direct-channel
// origins save one metadata field, section edits save only the sections they
// touched. A save never writes a field the mutation does not own.
type Persister interface {
	SaveDocument(ctx context.Context, portfolioID string, doc portfolio.Document, fields []portfolio.Field) error
	SaveField(ctx context.Context, portfolioID string, field portfolio.Field, value string) error
	SaveSection(ctx context.Context, portfolioID string, section portfolio.Section) error
}

// Recorder observes mutation outcomes (committed, rolled_back, rejected,
// busy, superseded).
type Recorder interface {
	ObserveSync(origin, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSync(string, string, time.Duration) {}

// MutateFunc derives the candidate document from a private copy of the
// current one. Returning an error rejects the mutation before it is applied.
type MutateFunc func(prev portfolio.Document) (portfolio.Document, error)

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithObserver is called with every mutation that reached the store, once it
// has settled.
func WithObserver(fn func(PendingMutation)) Option {
	return func(c *Controller) { c.observer = fn }
}

// Controller serializes mutations of one portfolio. The shared document slot
// (AI, reorder, section) is exclusive and rejects a second request; each
// metadata field has its own queue where the last dispatched mutation wins.
// A document mutation also holds the queue of every field it changes until it
// settles, so a field is never saved or rolled back by two mutations at once.
type Controller struct {
	portfolioID string
	store       *docstore.Store
	persister   Persister
	timeout     time.Duration
	recorder    Recorder
	observer    func(PendingMutation)

	mu         sync.Mutex
	busy       map[string]bool
	fieldSlots map[string]chan struct{}
	dispatched map[string]uint64
	applied    map[string]uint64
}

// New creates a Controller for the portfolio held in store.
func New(portfolioID string, store *docstore.Store, p Persister, opts ...Option) *Controller {
	c := &Controller{
		portfolioID: portfolioID,
		store:       store,
		persister:   p,
		timeout:     DefaultTimeout,
		recorder:    nopRecorder{},
		busy:        make(map[string]bool),
		fieldSlots:  make(map[string]chan struct{}),
		dispatched:  make(map[string]uint64),
		applied:     make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// InFlight reports whether origin's slot is currently held.
func (c *Controller) InFlight(origin Origin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := origin.Field(); ok {
		ch, ok := c.fieldSlots[origin.slot()]
		return ok && len(ch) > 0
	}
	return c.busy[origin.slot()]
}

// Reservation holds an origin's slot until Release. The AI channel reserves
// before calling the resolver so the guard covers the whole round trip.
type Reservation struct {
	c       *Controller
	origin  Origin
	seq     uint64
	release func()
	once    sync.Once
}

// Reserve takes origin's slot. The document slot fails fast with ErrBusy;
// field slots wait for their turn until ctx is done.
func (c *Controller) Reserve(ctx context.Context, origin Origin) (*Reservation, error) {
	slot := origin.slot()

	if _, ok := origin.Field(); !ok {
		c.mu.Lock()
		if c.busy[slot] {
			c.mu.Unlock()
			c.recorder.ObserveSync(string(origin), "busy", 0)
			return nil, ErrBusy
		}
		c.busy[slot] = true
		c.mu.Unlock()
		return &Reservation{c: c, origin: origin, release: func() {
			c.mu.Lock()
			delete(c.busy, slot)
			c.mu.Unlock()
		}}, nil
	}

	c.mu.Lock()
	c.dispatched[slot]++
	seq := c.dispatched[slot]
	c.mu.Unlock()
	ch := c.fieldSlot(slot)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Reservation{c: c, origin: origin, seq: seq, release: func() { <-ch }}, nil
}

// Release frees the slot. It is safe to call more than once.
func (r *Reservation) Release() {
	r.once.Do(r.release)
}

// Apply is Reserve, Reservation.Apply and Release in one call.
func (c *Controller) Apply(ctx context.Context, origin Origin, mutate MutateFunc) error {
	r, err := c.Reserve(ctx, origin)
	if err != nil {
		return err
	}
	defer r.Release()
	return r.Apply(ctx, mutate)
}

// Apply runs one mutation: snapshot, derive and validate the candidate, apply
// it to the store, save it remotely, then commit or roll back. Validation
// failures leave the store untouched; a failed save returns a *SyncError after
// restoring the snapshot. The save runs detached from ctx cancellation so a
// mutation that reached the store always settles.
func (r *Reservation) Apply(ctx context.Context, mutate MutateFunc) (err error) {
	c := r.c
	start := time.Now()
	outcome := "rejected"
	defer func() {
		c.recorder.ObserveSync(string(r.origin), outcome, time.Since(start))
	}()

	if r.seq > 0 && !c.claimTurn(r.origin.slot(), r.seq) {
		outcome = "superseded"
		return ErrSuperseded
	}

	var held fieldHold
	if _, ok := r.origin.Field(); !ok {
		// Field saves in flight finish within the save timeout.
		h, herr := c.holdFields(context.WithoutCancel(ctx))
		if herr != nil {
			return herr
		}
		held = h
		defer held.release(nil)
	}

	pm := PendingMutation{Origin: r.origin, Previous: c.store.Document()}
	var own ownership
	applied := false
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if applied {
			c.rollback(own, pm.Previous)
			pm.State = RolledBack
			c.settled(pm)
			outcome = "rolled_back"
			err = &SyncError{Origin: r.origin, Err: fmt.Errorf("panic: %v", p)}
			return
		}
		err = fmt.Errorf("%s mutation panicked: %v", r.origin, p)
	}()

	candidate, err := mutate(pm.Previous.Clone())
	if err != nil {
		return err
	}
	if err := portfolio.Validate(candidate); err != nil {
		return err
	}
	pm.Candidate = candidate
	own = ownershipOf(r.origin, pm.Previous, candidate)
	held.release(own.fields)

	var current portfolio.Document
	c.store.Update(func(cur portfolio.Document, _ uint64) portfolio.Document {
		current = own.overlay(cur, candidate)
		return current
	})
	applied = true

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if perr := c.persist(saveCtx, r.origin, own, pm.Previous, current); perr != nil {
		if errors.Is(saveCtx.Err(), context.DeadlineExceeded) {
			perr = fmt.Errorf("timed out after %s: %w", c.timeout, perr)
		}
		c.rollback(own, pm.Previous)
		pm.State = RolledBack
		c.settled(pm)
		outcome = "rolled_back"
		slog.Warn("mutation rolled back", "portfolio_id", c.portfolioID, "origin", r.origin, "error", perr)
		return &SyncError{Origin: r.origin, Err: perr}
	}

	pm.State = Committed
	c.settled(pm)
	outcome = "committed"
	slog.Debug("mutation committed", "portfolio_id", c.portfolioID, "origin", r.origin)
	return nil
}

func (c *Controller) fieldSlot(slot string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.fieldSlots[slot]
	if !ok {
		ch = make(chan struct{}, 1)
		c.fieldSlots[slot] = ch
	}
	return ch
}

// fieldHold is a set of field slots taken by a document mutation.
type fieldHold map[portfolio.Field]chan struct{}

// holdFields takes every field slot, always in Fields order so two holders
// cannot deadlock.
func (c *Controller) holdFields(ctx context.Context) (fieldHold, error) {
	h := make(fieldHold)
	for _, f := range portfolio.Fields() {
		ch := c.fieldSlot(string(f))
		select {
		case ch <- struct{}{}:
			h[f] = ch
		case <-ctx.Done():
			h.release(nil)
			return nil, ctx.Err()
		}
	}
	return h, nil
}

// release frees every held slot except those in keep.
func (h fieldHold) release(keep []portfolio.Field) {
	for f, ch := range h {
		if slices.Contains(keep, f) {
			continue
		}
		<-ch
		delete(h, f)
	}
}

// claimTurn records seq as the latest applied mutation of slot, unless a
// later-dispatched one got there first.
func (c *Controller) claimTurn(slot string, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied[slot] > seq {
		return false
	}
	c.applied[slot] = seq
	return true
}

func (c *Controller) rollback(own ownership, prev portfolio.Document) {
	c.store.Update(func(cur portfolio.Document, _ uint64) portfolio.Document {
		return own.overlay(cur, prev)
	})
}

func (c *Controller) settled(pm PendingMutation) {
	if c.observer != nil {
		c.observer(pm)
	}
}

func (c *Controller) persist(ctx context.Context, origin Origin, own ownership, prev, cur portfolio.Document) error {
	if f, ok := origin.Field(); ok {
		return c.persister.SaveField(ctx, c.portfolioID, f, cur.Metadata.Get(f))
	}
	if origin == OriginSection {
		for _, s := range changedSections(prev, cur) {
			if err := c.persister.SaveSection(ctx, c.portfolioID, s); err != nil {
				return err
			}
		}
		return nil
	}
	return c.persister.SaveDocument(ctx, c.portfolioID, cur, own.fields)
}

func changedSections(prev, cur portfolio.Document) []portfolio.Section {
	var out []portfolio.Section
	for _, s := range cur.Sections {
		old, ok := prev.Section(s.Type)
		if !ok || !portfolio.SectionsEqual([]portfolio.Section{old}, []portfolio.Section{s}) {
			out = append(out, s)
		}
	}
	return out
}
