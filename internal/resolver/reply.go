package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/folio/internal/portfolio"
)

// reply is the JSON object the model is asked to produce.
type reply struct {
	UpdatedData *portfolio.Document `json:"updatedData"`
	UserReply   string              `json:"userReply"`
}

// decodeReply parses and validates raw model output. Anything that does not
// yield a valid document is ErrInvalidDocument.
func decodeReply(raw string) (Response, error) {
	var r reply
	if err := json.Unmarshal([]byte(stripFences(raw)), &r); err != nil {
		return Response{}, fmt.Errorf("%w: decoding model output: %v", ErrInvalidDocument, err)
	}
	if r.UpdatedData == nil {
		return Response{}, fmt.Errorf("%w: updatedData is missing", ErrInvalidDocument)
	}
	if err := portfolio.Validate(*r.UpdatedData); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return Response{
		UpdatedDocument: *r.UpdatedData,
		UserReply:       strings.TrimSpace(r.UserReply),
	}, nil
}

// stripFences removes a surrounding markdown code fence, which some models
// add despite being told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
