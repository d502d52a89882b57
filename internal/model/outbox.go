package model

import "time"

// Outbox message status constants.
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage is a fact waiting to be relayed to the analytics stream. It is
// written in the same database transaction as the fact it describes.
type OutboxMessage struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Topic      string    `json:"topic"`
	MessageKey string    `json:"message_key"`
	Payload    string    `json:"payload"`
	Status     string    `json:"status"`
	ID         int64     `json:"id"`
	RetryCount int       `json:"retry_count"`
}
