package model

import "time"

// Rule is a user-curated categorization rule. A rule matches when its pattern is a
// case-insensitive substring of the transaction description.
type Rule struct {
	CreatedAt time.Time `json:"created_at"`
	Pattern   string    `json:"pattern"`
	Category  string    `json:"category"`
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
}
