package portfolio

import (
	"encoding/json"
	"time"
)

// Record is a stored portfolio: the document plus ownership and publish
// bookkeeping that lives outside the document itself.
type Record struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Template  string    `json:"template"`
	Slug      string    `json:"slug,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Document  Document  `json:"document"`
}

// Published reports whether the portfolio has a public slug.
func (r Record) Published() bool {
	return r.Slug != ""
}

// OwnerName returns the display name stored in the userInfo section, if any.
func (d Document) OwnerName() string {
	s, ok := d.Section("userInfo")
	if !ok || len(s.Data) == 0 {
		return ""
	}
	var info UserInfo
	if err := json.Unmarshal(s.Data, &info); err != nil {
		return ""
	}
	return info.Name
}
