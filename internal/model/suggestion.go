package model

import "time"

// SuggestionMode selects how the router produces candidates.
type SuggestionMode string

// Suggestion mode constants. ModeRule only ever appears on persisted events,
// it records that a user rule short-circuited the request.
const (
	ModeHeuristic SuggestionMode = "heuristic"
	ModeModel     SuggestionMode = "model"
	ModeAuto      SuggestionMode = "auto"
	ModeRule      SuggestionMode = "rule"
)

// ParseMode converts a request string to a mode. Empty means auto.
func ParseMode(s string) (SuggestionMode, bool) {
	switch SuggestionMode(s) {
	case "":
		return ModeAuto, true
	case ModeHeuristic, ModeModel, ModeAuto:
		return SuggestionMode(s), true
	}
	return "", false
}

// SuggestionEvent is the append-only record of a suggestion offered to a user.
// Only Accepted is ever mutated after creation.
type SuggestionEvent struct {
	CreatedAt     time.Time       `json:"created_at"`
	Accepted      *bool           `json:"accepted"`
	ID            string          `json:"event_id"`
	TxnID         string          `json:"txn_id"`
	TenantID      string          `json:"tenant_id"`
	Mode          SuggestionMode  `json:"mode"`
	RequestedMode SuggestionMode  `json:"requested_mode"`
	ModelID       string          `json:"model_id,omitempty"`
	FeaturesHash  string          `json:"features_hash,omitempty"`
	Source        CandidateSource `json:"source"`
	Reason        string          `json:"reason,omitempty"`
	DegradedCause string          `json:"degraded_cause,omitempty"`
	Candidates    Candidates      `json:"candidates"`
}

// TopCategory returns the category of the first candidate, or "".
func (e *SuggestionEvent) TopCategory() string {
	if top := e.Candidates.Top(); top != nil {
		return top.Category
	}
	return ""
}

// ShadowPrediction records what a shadow-phase model would have answered for an event.
type ShadowPrediction struct {
	CreatedAt  time.Time `json:"created_at"`
	EventID    string    `json:"event_id"`
	ModelID    string    `json:"model_id"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
}
