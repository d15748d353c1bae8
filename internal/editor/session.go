// Package editor runs editing sessions: one per open portfolio, joining the
// AI channel, the direct metadata channel and section reordering over a
// single canonical document.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/folio/internal/docstore"
	"github.com/kalambet/folio/internal/memory"
	"github.com/kalambet/folio/internal/portfolio"
	"github.com/kalambet/folio/internal/resolver"
	"github.com/kalambet/folio/internal/syncer"
	"github.com/kalambet/folio/internal/transcript"
)

// DefaultResolveTimeout bounds one resolver round trip.
const DefaultResolveTimeout = 60 * time.Second

// Assistant and notification texts.
const (
	FailureReply = "Sorry, I encountered an error while processing your request. Please try again."
	DefaultReply = "I've updated your portfolio with the requested changes."

	toastUpdated       = "Portfolio updated successfully!"
	toastUpdateFailed  = "Failed to update portfolio"
	toastFont          = "Font applied successfully!"
	toastStyle         = "Custom CSS applied successfully!"
	toastReordered     = "Sections reordered successfully!"
	toastReorderFailed = "Failed to reorder sections"
	toastSection       = "Section updated successfully"
	toastSectionFailed = "Failed to update section"
)

var (
	// ErrNotOwner is returned when someone other than the owner edits.
	ErrNotOwner = errors.New("only the portfolio owner may edit it")

	// ErrEmptyInstruction is returned for a blank chat message.
	ErrEmptyInstruction = errors.New("instruction is empty")
)

// Panel is one of the editing surface's option panels.
type Panel string

const (
	PanelHelp    Panel = "help"
	PanelTheme   Panel = "theme"
	PanelFont    Panel = "font"
	PanelReorder Panel = "reorder"
	PanelStyle   Panel = "style"
)

// ParsePanel validates a panel name.
func ParsePanel(s string) (Panel, error) {
	switch p := Panel(s); p {
	case PanelHelp, PanelTheme, PanelFont, PanelReorder, PanelStyle:
		return p, nil
	}
	return "", fmt.Errorf("unknown panel %q", s)
}

// Surface holds the transient visibility flags of the editing surface.
type Surface struct {
	Open   bool    `json:"open"`
	Panels []Panel `json:"panels,omitempty"`
}

// State is a point-in-time view of a session.
type State struct {
	ID         string   `json:"id"`
	OwnerID    string   `json:"owner_id"`
	Revision   uint64   `json:"revision"`
	Processing bool     `json:"processing"`
	Surface    Surface  `json:"surface"`
	InFlight   []string `json:"in_flight,omitempty"`
	Memory     int      `json:"memory"`
}

// Option configures a Session.
type Option func(*Session)

// WithResolveTimeout overrides DefaultResolveTimeout.
func WithResolveTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.resolveTimeout = d
		}
	}
}

// WithSyncOptions passes options through to the session's sync controller.
func WithSyncOptions(opts ...syncer.Option) Option {
	return func(s *Session) { s.syncOpts = append(s.syncOpts, opts...) }
}

// WithClocks makes timestamps deterministic in tests.
func WithClocks(mem memory.Clock, tr transcript.Clock) Option {
	return func(s *Session) {
		s.memory = memory.NewWindowWithClock(memory.DefaultCapacity, mem)
		s.transcript = transcript.NewWithClock(tr)
	}
}

// Session is the editing state of one portfolio.
type Session struct {
	id      string
	ownerID string

	store      *docstore.Store
	memory     *memory.Window
	transcript *transcript.Transcript
	sync       *syncer.Controller
	resolver   resolver.Resolver

	resolveTimeout time.Duration
	syncOpts       []syncer.Option

	processing atomic.Bool

	mu     sync.Mutex
	open   bool
	panels map[Panel]bool
}

// NewSession opens rec for editing. Saves go through p; AI edits through r.
func NewSession(rec portfolio.Record, p syncer.Persister, r resolver.Resolver, opts ...Option) *Session {
	s := &Session{
		id:             rec.ID,
		ownerID:        rec.OwnerID,
		store:          docstore.New(rec.Document),
		memory:         memory.NewWindow(memory.DefaultCapacity),
		transcript:     transcript.New(),
		resolver:       r,
		resolveTimeout: DefaultResolveTimeout,
		panels:         make(map[Panel]bool),
	}
	for _, o := range opts {
		o(s)
	}
	s.sync = syncer.New(rec.ID, s.store, p, s.syncOpts...)
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) OwnerID() string { return s.ownerID }

// Document returns a copy of the canonical document.
func (s *Session) Document() portfolio.Document {
	return s.store.Document()
}

// Transcript returns the chat transcript.
func (s *Session) Transcript() []transcript.Message {
	return s.transcript.Messages()
}

// Notifications returns the outcome log.
func (s *Session) Notifications() []transcript.Notification {
	return s.transcript.Notifications()
}

// Memory returns the recent AI-channel instructions, oldest first.
func (s *Session) Memory() []memory.Entry {
	return s.memory.Entries()
}

// Processing reports whether an AI edit is in flight.
func (s *Session) Processing() bool {
	return s.processing.Load()
}

// Send runs an instruction through the AI channel. A blank instruction or one
// sent while another is processing changes nothing. Otherwise the transcript
// gains the user message and exactly one assistant reply, which is returned
// together with the outcome.
func (s *Session) Send(ctx context.Context, instruction string) (transcript.Message, error) {
	if strings.TrimSpace(instruction) == "" {
		return transcript.Message{}, ErrEmptyInstruction
	}

	res, err := s.sync.Reserve(ctx, syncer.OriginAI)
	if err != nil {
		return transcript.Message{}, err
	}
	defer res.Release()

	s.processing.Store(true)
	defer s.processing.Store(false)

	_, pending := s.transcript.BeginTurn(instruction)
	s.memory.Push(instruction)
	s.hidePanels(PanelHelp, PanelTheme, PanelFont)

	base := s.store.Document()
	resp, err := s.resolve(ctx, base, instruction)
	if err == nil {
		err = res.Apply(ctx, func(prev portfolio.Document) (portfolio.Document, error) {
			if verr := portfolio.Validate(resp.UpdatedDocument); verr != nil {
				return portfolio.Document{}, fmt.Errorf("%w: %w", resolver.ErrInvalidDocument, verr)
			}
			return rebase(resp.UpdatedDocument, base, prev), nil
		})
	}

	if err != nil {
		slog.Warn("ai edit failed", "portfolio_id", s.id, "error", err)
		msg, _ := s.transcript.Settle(pending.ID, FailureReply)
		s.transcript.Notify(transcript.LevelError, toastUpdateFailed)
		return msg, err
	}

	reply := resp.UserReply
	if reply == "" {
		reply = DefaultReply
	}
	msg, _ := s.transcript.Settle(pending.ID, reply)
	s.transcript.Notify(transcript.LevelSuccess, toastUpdated)
	return msg, nil
}

// resolve calls the resolver detached from ctx cancellation so a closed
// client still gets its edit settled. Every failure that is not an invalid
// document is a transport error.
func (s *Session) resolve(ctx context.Context, doc portfolio.Document, instruction string) (resolver.Response, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.resolveTimeout)
	defer cancel()

	resp, err := s.resolver.Resolve(rctx, resolver.Request{
		Document:     doc,
		Instruction:  instruction,
		RecentMemory: s.memory.Entries(),
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, resolver.ErrTransport) || errors.Is(err, resolver.ErrInvalidDocument) {
		return resolver.Response{}, err
	}
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return resolver.Response{}, fmt.Errorf("%w: no answer within %s", resolver.ErrTransport, s.resolveTimeout)
	}
	return resolver.Response{}, fmt.Errorf("%w: %v", resolver.ErrTransport, err)
}

// rebase takes the resolver's sections and the metadata fields it changed
// relative to base. Fields it left alone keep their current value, which a
// direct-channel write may have moved while the resolver was working.
func rebase(candidate, base, current portfolio.Document) portfolio.Document {
	out := candidate.Clone()
	for _, f := range portfolio.Fields() {
		if candidate.Metadata.Get(f) == base.Metadata.Get(f) {
			out.Metadata.Set(f, current.Metadata.Get(f))
		}
	}
	return out
}

// Reorder applies a new order of the movable sections.
func (s *Session) Reorder(ctx context.Context, movableOrder []string) error {
	err := s.sync.Apply(ctx, syncer.OriginReorder, func(prev portfolio.Document) (portfolio.Document, error) {
		return portfolio.Reconcile(prev, movableOrder)
	})
	if err != nil {
		slog.Warn("reorder failed", "portfolio_id", s.id, "error", err)
		s.transcript.Notify(transcript.LevelError, toastReorderFailed)
		return err
	}
	s.hidePanels(PanelReorder)
	s.transcript.AddSystem("Sections reordered successfully!")
	s.transcript.Notify(transcript.LevelSuccess, toastReordered)
	return nil
}

// SetTheme sets metadata.theme.
func (s *Session) SetTheme(ctx context.Context, theme string) error {
	return s.setField(ctx, syncer.OriginTheme, theme,
		fmt.Sprintf("Theme changed to %s.", theme),
		fmt.Sprintf("Theme %q applied!", theme),
		"Failed to apply theme")
}

// SetFont sets metadata.font.
func (s *Session) SetFont(ctx context.Context, font string) error {
	return s.setField(ctx, syncer.OriginFont, font,
		fmt.Sprintf("Font changed to %s.", font),
		toastFont,
		"Failed to apply font")
}

// SetCustomStyle sets metadata.customStyle.
func (s *Session) SetCustomStyle(ctx context.Context, css string) error {
	return s.setField(ctx, syncer.OriginStyle, css,
		"Custom CSS has been applied to your portfolio.",
		toastStyle,
		"Failed to apply custom CSS")
}

func (s *Session) setField(ctx context.Context, origin syncer.Origin, value, systemText, okToast, failToast string) error {
	f, _ := origin.Field()
	err := s.sync.Apply(ctx, origin, func(prev portfolio.Document) (portfolio.Document, error) {
		prev.Metadata.Set(f, value)
		return prev, nil
	})
	switch {
	case errors.Is(err, syncer.ErrSuperseded):
		// A newer value for the same field already won.
		return err
	case err != nil:
		slog.Warn("metadata update failed", "portfolio_id", s.id, "field", f, "error", err)
		s.transcript.Notify(transcript.LevelError, failToast)
		return err
	}
	s.transcript.AddSystem(systemText)
	s.transcript.Notify(transcript.LevelSuccess, okToast)
	return nil
}

// UpdateSection replaces the payload of an existing section.
func (s *Session) UpdateSection(ctx context.Context, section portfolio.Section) error {
	err := portfolio.ValidateSection(section)
	if err == nil {
		err = s.sync.Apply(ctx, syncer.OriginSection, func(prev portfolio.Document) (portfolio.Document, error) {
			for i := range prev.Sections {
				if prev.Sections[i].Type == section.Type {
					prev.Sections[i].Data = append([]byte(nil), section.Data...)
					return prev, nil
				}
			}
			return portfolio.Document{}, fmt.Errorf("%w: %q", portfolio.ErrMissingSectionData, section.Type)
		})
	}
	if err != nil {
		slog.Warn("section update failed", "portfolio_id", s.id, "section", section.Type, "error", err)
		s.transcript.Notify(transcript.LevelError, toastSectionFailed)
		return err
	}
	s.transcript.Notify(transcript.LevelSuccess, toastSection)
	return nil
}

// Open shows the editing surface.
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
}

// ShowPanel opens the surface with p visible.
func (s *Session) ShowPanel(p Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.panels[p] = true
}

// Close hides the surface and every panel. In-flight edits are not
// cancelled and still settle into the document.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	clear(s.panels)
}

func (s *Session) hidePanels(ps ...Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		delete(s.panels, p)
	}
}

// Surface returns the current visibility flags.
func (s *Session) Surface() Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Surface{Open: s.open}
	for _, p := range []Panel{PanelHelp, PanelTheme, PanelFont, PanelReorder, PanelStyle} {
		if s.panels[p] {
			out.Panels = append(out.Panels, p)
		}
	}
	return out
}

// State snapshots the session.
func (s *Session) State() State {
	st := State{
		ID:         s.id,
		OwnerID:    s.ownerID,
		Revision:   s.store.Revision(),
		Processing: s.Processing(),
		Surface:    s.Surface(),
		Memory:     s.memory.Len(),
	}
	if s.sync.InFlight(syncer.OriginAI) {
		st.InFlight = append(st.InFlight, "document")
	}
	for _, f := range portfolio.Fields() {
		if o, _ := syncer.OriginForField(f); s.sync.InFlight(o) {
			st.InFlight = append(st.InFlight, string(f))
		}
	}
	return st
}
