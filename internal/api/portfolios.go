package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/folio/internal/editor"
	"github.com/kalambet/folio/internal/metrics"
	"github.com/kalambet/folio/internal/portfolio"
	"github.com/kalambet/folio/internal/syncer"
)

// AppDeps holds what the HTTP API needs.
type AppDeps struct {
	Registry *editor.Registry
	Token    string
	Metrics  *metrics.Collector // optional; nil disables /metrics
}

// NewAppHandler returns the HTTP API. /health and /metrics are public;
// everything under /portfolios needs the bearer token, and editing routes
// need the owner's identity in X-Folio-User.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Get("/health", handleHealth)

	r.Route("/portfolios", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/", handleListPortfolios(deps))
		r.Post("/", handleCreatePortfolio(deps))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handleGetPortfolio(deps))
			r.Get("/transcript", handleTranscript(deps))
			r.Get("/notifications", handleNotifications(deps))
			r.Get("/state", handleState(deps))

			r.Post("/chat", handleChat(deps))
			r.Put("/order", handleReorder(deps))
			r.Put("/theme", handleField(deps, (*editor.Session).SetTheme))
			r.Put("/font", handleField(deps, (*editor.Session).SetFont))
			r.Put("/style", handleField(deps, (*editor.Session).SetCustomStyle))
			r.Put("/sections/{type}", handleSection(deps))
			r.Post("/publish", handlePublish(deps))
			r.Post("/surface", handleSurface(deps))
		})
	})

	return r
}

// editSession resolves the portfolio's session for its owner, writing the
// error response when that fails.
func editSession(deps AppDeps, w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	s, err := deps.Registry.Edit(r.Context(), chi.URLParam(r, "id"), r.Header.Get(UserHeader))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func readSession(deps AppDeps, w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	s, err := deps.Registry.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func handleListPortfolios(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			owner = r.Header.Get(UserHeader)
		}
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner is required")
			return
		}
		list, err := deps.Registry.List(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type createRequest struct {
	Template string             `json:"template"`
	Document portfolio.Document `json:"document"`
}

func handleCreatePortfolio(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(UserHeader)
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", UserHeader)
			return
		}
		var req createRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rec, err := deps.Registry.Create(r.Context(), owner, req.Template, req.Document)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleGetPortfolio(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Registry.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleTranscript(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := readSession(deps, w, r); ok {
			writeJSON(w, http.StatusOK, s.Transcript())
		}
	}
}

func handleNotifications(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := readSession(deps, w, r); ok {
			writeJSON(w, http.StatusOK, s.Notifications())
		}
	}
}

func handleState(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := readSession(deps, w, r); ok {
			writeJSON(w, http.StatusOK, s.State())
		}
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := editSession(deps, w, r)
		if !ok {
			return
		}
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		reply, err := s.Send(r.Context(), req.Message)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"reply":    reply,
			"document": s.Document(),
		})
	}
}

type orderRequest struct {
	Order []string `json:"order"`
}

func handleReorder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := editSession(deps, w, r)
		if !ok {
			return
		}
		var req orderRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.Reorder(r.Context(), req.Order); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "committed", "document": s.Document()})
	}
}

type fieldRequest struct {
	Value string `json:"value"`
}

type fieldSetter func(*editor.Session, context.Context, string) error

func handleField(deps AppDeps, set fieldSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := editSession(deps, w, r)
		if !ok {
			return
		}
		var req fieldRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err := set(s, r.Context(), req.Value)
		if errors.Is(err, syncer.ErrSuperseded) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "superseded", "metadata": s.Document().Metadata})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "committed", "metadata": s.Document().Metadata})
	}
}

func handleSection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := editSession(deps, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}
		section := portfolio.Section{Type: chi.URLParam(r, "type"), Data: json.RawMessage(data)}
		if err := s.UpdateSection(r.Context(), section); err != nil {
			writeError(w, r, err)
			return
		}
		updated, _ := s.Document().Section(section.Type)
		writeJSON(w, http.StatusOK, map[string]any{"status": "committed", "section": updated})
	}
}

func handlePublish(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, err := deps.Registry.Publish(r.Context(), chi.URLParam(r, "id"), r.Header.Get(UserHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, link)
	}
}

type surfaceRequest struct {
	Action string `json:"action"`
	Panel  string `json:"panel,omitempty"`
}

func handleSurface(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := editSession(deps, w, r)
		if !ok {
			return
		}
		var req surfaceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		switch req.Action {
		case "open":
			s.Open()
		case "close":
			s.Close()
		case "panel":
			p, err := editor.ParsePanel(req.Panel)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			s.ShowPanel(p)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action must be open, close or panel")
			return
		}
		writeJSON(w, http.StatusOK, s.Surface())
	}
}
