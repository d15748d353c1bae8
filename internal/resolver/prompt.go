package resolver

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You edit a personal portfolio website. The portfolio is a JSON document:
{"sections":[{"type":"...","data":{...}}, ...],"metadata":{"theme":"...","font":"...","customStyle":"..."}}

Apply the user's request to the document and answer with ONLY one JSON object:
{"updatedData": <the complete updated document>, "userReply": "<one or two friendly sentences describing what you changed>"}

Rules:
- Return the whole document, not a diff. Keep every section you were not asked to change exactly as it is.
- The sections "hero", "userInfo" and "themes" must always be present, exactly once each.
- Section types are unique. Do not rename section types.
- Keep the order of sections unless the user asks to move them.
- Do not wrap the JSON in markdown.`

// Message is a role/content chat turn, converted by each backend to its own
// wire type.
type Message struct {
	Role    string
	Content string
}

// BuildMessages assembles the system prompt, the recent requests and the
// current document into the chat sent to the model.
func BuildMessages(req Request) ([]Message, error) {
	doc, err := json.Marshal(req.Document)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if len(req.RecentMemory) > 0 {
		sb.WriteString("\n\n[Recent requests, oldest first]")
		for _, e := range req.RecentMemory {
			fmt.Fprintf(&sb, "\n- %s", e.Text)
		}
	}

	user := fmt.Sprintf("Current portfolio:\n%s\n\nRequest: %s", doc, req.Instruction)
	return []Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: user},
	}, nil
}
