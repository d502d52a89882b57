// Package service defines the persistence contracts consumed by the suggestion engine.
package service

import (
	"context"

	"github.com/Veraticus/spice-suggest/internal/model"
)

// TransactionStore reads transactions owned by the ingestion subsystem.
type TransactionStore interface {
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetUncategorizedTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
}

// RuleStore reads user rules. The engine never writes rules; CreateRule exists for
// the external rules tooling.
type RuleStore interface {
	GetActiveRules(ctx context.Context) ([]model.Rule, error)
	CreateRule(ctx context.Context, rule *model.Rule) error
}

// EventStore persists suggestion events.
type EventStore interface {
	SaveSuggestionEvent(ctx context.Context, event *model.SuggestionEvent) error
	GetSuggestionEvent(ctx context.Context, id string) (*model.SuggestionEvent, error)
	SaveShadowPrediction(ctx context.Context, prediction *model.ShadowPrediction) error
	GetShadowPredictions(ctx context.Context, eventID string) ([]model.ShadowPrediction, error)
}

// MerchantStore reads merchant statistics and manages promoted hints.
type MerchantStore interface {
	GetMerchantStats(ctx context.Context, merchant string) ([]model.MerchantCategoryStat, error)
	GetAllMerchantStats(ctx context.Context) ([]model.MerchantCategoryStat, error)
	GetMerchantHint(ctx context.Context, merchant string) (*model.MerchantCategoryHint, error)
	UpsertMerchantHint(ctx context.Context, hint *model.MerchantCategoryHint) error
}

// StatDelta is a signed adjustment to one merchant category stat. Decrements
// floor at zero.
type StatDelta struct {
	Merchant    string
	Category    string
	AcceptDelta int
	RejectDelta int
}

// FeedbackWrite is everything the ledger changes for one feedback action. It is
// applied atomically.
type FeedbackWrite struct {
	// SetAccepted updates the event's accepted flag when non-nil.
	SetAccepted *bool
	Feedback    model.Feedback
	Delta       StatDelta
}

// LabeledExample pairs a transaction with the label a user accepted for it.
type LabeledExample struct {
	Transaction model.Transaction
	Label       string
}

// FeedbackStore is the append-only feedback ledger.
type FeedbackStore interface {
	// ApplyFeedback appends the feedback row, updates the event flag and applies the
	// stat delta in one transaction. It returns how many counters were actually
	// decremented.
	ApplyFeedback(ctx context.Context, write FeedbackWrite) (int, error)
	GetFeedbackForEvent(ctx context.Context, eventID string) ([]model.Feedback, error)
	GetAcceptedExamples(ctx context.Context, limit int) ([]LabeledExample, error)
}

// RegistryStore persists model registry entries and tenant overrides.
type RegistryStore interface {
	// UpsertRegistryEntry inserts a new entry or updates artifact uri, commit and notes
	// of an existing one, never touching created_at or phase of existing entries.
	UpsertRegistryEntry(ctx context.Context, entry *model.RegistryEntry) (*model.RegistryEntry, error)
	GetRegistryEntry(ctx context.Context, modelID string) (*model.RegistryEntry, error)
	ListRegistryEntries(ctx context.Context) ([]model.RegistryEntry, error)
	// SetModelPhase fails with common.ErrRegistryConflict when promoting to live while
	// another entry is live.
	SetModelPhase(ctx context.Context, modelID string, phase model.ModelPhase) error
	SetTenantCanaryPct(ctx context.Context, tenantID string, pct *int) error
	ListTenantOverrides(ctx context.Context) ([]model.TenantCanaryOverride, error)
}

// OutboxStore exposes pending facts to the relay.
type OutboxStore interface {
	GetPendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, maxRetries int) error
}

// Storage is the complete persistence layer.
type Storage interface {
	TransactionStore
	RuleStore
	EventStore
	MerchantStore
	FeedbackStore
	RegistryStore
	OutboxStore

	Migrate(ctx context.Context) error
	Close() error
}
