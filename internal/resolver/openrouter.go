package resolver

import (
	"context"
	"fmt"

	"github.com/kalambet/folio/internal/proxy"
)

// Completer is the OpenRouter call the resolver needs.
type Completer interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (string, error)
}

// OpenRouter resolves edits with a hosted model behind OpenRouter.
type OpenRouter struct {
	client Completer
	model  string
}

// NewOpenRouter creates a resolver that asks model through client.
func NewOpenRouter(client Completer, model string) *OpenRouter {
	return &OpenRouter{client: client, model: model}
}

func (o *OpenRouter) Resolve(ctx context.Context, req Request) (Response, error) {
	msgs, err := BuildMessages(req)
	if err != nil {
		return Response{}, err
	}
	wire := make([]proxy.Message, len(msgs))
	for i, m := range msgs {
		wire[i] = proxy.Message{Role: m.Role, Content: m.Content}
	}

	raw, err := o.client.Complete(ctx, proxy.ChatRequest{
		Model:          o.model,
		Messages:       wire,
		ResponseFormat: proxy.JSONObject,
	})
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return decodeReply(raw)
}
