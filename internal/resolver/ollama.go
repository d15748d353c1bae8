package resolver

import (
	"context"
	"fmt"

	"github.com/kalambet/folio/internal/ollama"
)

// Chatter is the Ollama call the resolver needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// Ollama resolves edits with a local model.
type Ollama struct {
	client Chatter
	model  string
}

// NewOllama creates a resolver backed by a local Ollama model.
func NewOllama(client Chatter, model string) *Ollama {
	return &Ollama{client: client, model: model}
}

func (o *Ollama) Resolve(ctx context.Context, req Request) (Response, error) {
	msgs, err := BuildMessages(req)
	if err != nil {
		return Response{}, err
	}
	wire := make([]ollama.Message, len(msgs))
	for i, m := range msgs {
		wire[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	raw, err := o.client.Chat(ctx, o.model, wire, replySchema())
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return decodeReply(raw)
}

// replySchema constrains local model output to the reply shape.
func replySchema() *ollama.Schema {
	section := ollama.SchemaProperty{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"type": {Type: "string"},
			"data": {Type: "object"},
		},
		Required: []string{"type"},
	}
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"updatedData": {
				Type:        "object",
				Description: "The complete updated portfolio document",
				Properties: map[string]ollama.SchemaProperty{
					"sections": {Type: "array", Items: &section},
					"metadata": {Type: "object", Properties: map[string]ollama.SchemaProperty{
						"theme":       {Type: "string"},
						"font":        {Type: "string"},
						"customStyle": {Type: "string"},
					}},
				},
				Required: []string{"sections", "metadata"},
			},
			"userReply": {Type: "string", Description: "Short reply describing the change"},
		},
		Required: []string{"updatedData", "userReply"},
	}
}
