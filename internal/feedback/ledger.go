// Package feedback records user decisions on suggestion events and keeps the
// merchant statistics in step with them.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/metrics"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/service"
)

// Store is the persistence the ledger needs.
type Store interface {
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetSuggestionEvent(ctx context.Context, id string) (*model.SuggestionEvent, error)
	service.FeedbackStore
}

// Learner receives accepted labels for model-sourced suggestions.
type Learner interface {
	PartialFit(ctx context.Context, eventID, label string) error
}

// Request is one feedback submission.
type Request struct {
	UserConfidence *float64
	EventID        string
	Action         model.FeedbackAction
	Label          string
	Reason         string
}

// Result is the outcome of a recorded submission.
type Result struct {
	Feedback model.Feedback
	Merchant string
	// Reverted counts counters an undo actually decremented.
	Reverted int
}

// Ledger is the append-only feedback ledger.
type Ledger struct {
	store   Store
	locks   Locker
	learner Learner
	metrics *metrics.Metrics
	now     func() time.Time
	retry   common.RetryOptions
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLearner forwards accepted model suggestions to l.
func WithLearner(l Learner) Option {
	return func(led *Ledger) { led.learner = l }
}

// WithRetry sets the backoff for ledger writes that fail with
// common.ErrStorageUnavailable.
func WithRetry(opts common.RetryOptions) Option {
	return func(led *Ledger) { led.retry = opts }
}

// WithMetrics counts feedback on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(led *Ledger) { led.metrics = m }
}

// NewLedger creates a ledger. A nil locker means in-process locking.
func NewLedger(store Store, locks Locker, opts ...Option) *Ledger {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	l := &Ledger{
		store: store,
		locks: locks,
		now:   func() time.Time { return time.Now().UTC() },
		retry: common.StorageRetryOptions(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends req to the ledger and adjusts the merchant statistics in the
// same transaction. Concurrent submissions for one merchant are serialized.
func (l *Ledger) Record(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	event, err := l.store.GetSuggestionEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	txn, err := l.store.GetTransactionByID(ctx, event.TxnID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction of event %s: %w", event.ID, err)
	}
	// Same key the heuristic path reads, so feedback lands where suggestions look.
	merchant := txn.CanonicalMerchant()
	if merchant == "" {
		return nil, common.InvalidStatef("transaction %s has no merchant", txn.ID)
	}

	unlock, err := l.locks.Lock(ctx, merchant)
	if err != nil {
		return nil, fmt.Errorf("failed to lock merchant %q: %w", merchant, err)
	}
	defer unlock()

	write, err := l.plan(ctx, req, event, merchant)
	if err != nil {
		return nil, err
	}

	var reverted int
	err = common.WithRetry(ctx, func() error {
		n, applyErr := l.store.ApplyFeedback(ctx, write)
		reverted = n
		return applyErr
	}, l.retry)
	if err != nil {
		return nil, err
	}

	l.metrics.Feedback(string(req.Action))
	slog.Debug("Recorded feedback",
		"event_id", event.ID,
		"action", req.Action,
		"label", write.Feedback.Label,
		"merchant", merchant,
		"reverted", reverted)

	if req.Action == model.ActionAccept && event.Source == model.SourceModel && l.learner != nil {
		if fitErr := l.learner.PartialFit(ctx, event.ID, write.Feedback.Label); fitErr != nil {
			common.LogWarn("Partial fit failed, feedback kept", common.Fields{
				"event_id": event.ID,
				"model_id": event.ModelID,
				"error":    fitErr.Error(),
			})
		}
	}

	return &Result{Feedback: write.Feedback, Merchant: merchant, Reverted: reverted}, nil
}

// History lists the feedback recorded for an event, oldest first.
func (l *Ledger) History(ctx context.Context, eventID string) ([]model.Feedback, error) {
	if _, err := l.store.GetSuggestionEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return l.store.GetFeedbackForEvent(ctx, eventID)
}

// plan works out the ledger row, flag update and stat delta for req. It runs
// under the merchant lock because undo reads earlier rows.
func (l *Ledger) plan(ctx context.Context, req Request, event *model.SuggestionEvent, merchant string) (service.FeedbackWrite, error) {
	fb := model.Feedback{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		Action:         req.Action,
		Label:          strings.TrimSpace(req.Label),
		Reason:         req.Reason,
		UserConfidence: req.UserConfidence,
		CreatedAt:      l.now(),
	}
	write := service.FeedbackWrite{Feedback: fb}

	switch req.Action {
	case model.ActionAccept:
		accepted := true
		write.SetAccepted = &accepted
		write.Delta = service.StatDelta{Merchant: merchant, Category: fb.Label, AcceptDelta: 1}

	case model.ActionReject:
		if fb.Label == "" {
			fb.Label = event.TopCategory()
		}
		if fb.Label == "" {
			return write, common.InvalidInputf("event %s has no candidate to reject; a label is required", event.ID)
		}
		accepted := false
		write.SetAccepted = &accepted
		write.Delta = service.StatDelta{Merchant: merchant, Category: fb.Label, RejectDelta: 1}

	case model.ActionUndo:
		label, err := l.lastAccepted(ctx, event.ID)
		if err != nil {
			return write, err
		}
		if fb.Label != "" && fb.Label != label {
			return write, common.InvalidInputf("undo label %q does not match accepted label %q", fb.Label, label)
		}
		fb.Label = label
		write.Delta = service.StatDelta{Merchant: merchant, Category: label, AcceptDelta: -1}
	}

	write.Feedback = fb
	return write, nil
}

func (l *Ledger) lastAccepted(ctx context.Context, eventID string) (string, error) {
	history, err := l.store.GetFeedbackForEvent(ctx, eventID)
	if err != nil {
		return "", err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Action == model.ActionAccept {
			return history[i].Label, nil
		}
	}
	return "", common.InvalidStatef("event %s has no accepted feedback to undo", eventID)
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.EventID) == "" {
		return common.InvalidInputf("event_id is required")
	}
	if !req.Action.Valid() {
		return common.InvalidInputf("unknown feedback action %q", req.Action)
	}
	if req.Action == model.ActionAccept && strings.TrimSpace(req.Label) == "" {
		return common.InvalidInputf("accept requires a label")
	}
	if c := req.UserConfidence; c != nil && (*c < 0 || *c > 1) {
		return common.InvalidInputf("user_confidence must be within [0,1], got %.2f", *c)
	}
	return nil
}
