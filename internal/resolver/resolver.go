// Package resolver turns a natural-language edit request into a complete
// replacement portfolio document by asking a generative model.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/folio/internal/memory"
	"github.com/kalambet/folio/internal/portfolio"
)

var (
	// ErrTransport covers every failure to get an answer from the model.
	ErrTransport = errors.New("resolver transport error")

	// ErrInvalidDocument means the model answered with something that is not
	// a valid portfolio document.
	ErrInvalidDocument = errors.New("resolver returned an invalid document")
)

// Request is everything the model sees for one edit.
type Request struct {
	Document     portfolio.Document
	Instruction  string
	RecentMemory []memory.Entry
}

// Response is the model's replacement document and its reply to the user.
// UserReply may be empty.
type Response struct {
	UpdatedDocument portfolio.Document
	UserReply       string
}

// Resolver is a single request/response call to the model.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Resolve(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Observer records resolver call outcomes.
type Observer interface {
	ObserveResolve(backend, result string, elapsed time.Duration)
}

type instrumented struct {
	next    Resolver
	backend string
	obs     Observer
}

// Instrument reports every call's outcome (ok, invalid, transport) to obs.
func Instrument(next Resolver, backend string, obs Observer) Resolver {
	if obs == nil {
		return next
	}
	return &instrumented{next: next, backend: backend, obs: obs}
}

func (i *instrumented) Resolve(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := i.next.Resolve(ctx, req)
	result := "ok"
	switch {
	case errors.Is(err, ErrInvalidDocument):
		result = "invalid"
	case err != nil:
		result = "transport"
	}
	i.obs.ObserveResolve(i.backend, result, time.Since(start))
	return resp, err
}
