package model

import "time"

// FeedbackAction is the user decision recorded against a suggestion event.
type FeedbackAction string

// Feedback action constants.
const (
	ActionAccept FeedbackAction = "accept"
	ActionReject FeedbackAction = "reject"
	ActionUndo   FeedbackAction = "undo"
)

// Valid reports whether a is a known feedback action.
func (a FeedbackAction) Valid() bool {
	switch a {
	case ActionAccept, ActionReject, ActionUndo:
		return true
	}
	return false
}

// Feedback is one row of the append-only feedback ledger.
type Feedback struct {
	CreatedAt      time.Time      `json:"created_at"`
	UserConfidence *float64       `json:"user_confidence,omitempty"`
	ID             string         `json:"feedback_id"`
	EventID        string         `json:"event_id"`
	Action         FeedbackAction `json:"action"`
	Label          string         `json:"label"`
	Reason         string         `json:"reason,omitempty"`
}
