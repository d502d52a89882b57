// Package storage provides the SQLite persistence layer for the suggestion engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-suggest/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidRule        = errors.New("invalid rule")
	ErrInvalidEvent       = errors.New("invalid suggestion event")
	ErrInvalidFeedback    = errors.New("invalid feedback")
	ErrInvalidRegistry    = errors.New("invalid registry entry")
	ErrInvalidHint        = errors.New("invalid merchant hint")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if txn.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTransaction)
	}
	return nil
}

func validateRule(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if strings.TrimSpace(rule.Pattern) == "" {
		return fmt.Errorf("%w: missing pattern", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.Category) == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidRule)
	}
	return nil
}

func validateEvent(event *model.SuggestionEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if event.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	if event.TxnID == "" {
		return fmt.Errorf("%w: missing transaction id", ErrInvalidEvent)
	}
	switch event.Mode {
	case model.ModeRule, model.ModeHeuristic, model.ModeModel:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidEvent, event.Mode)
	}
	if !event.Source.Valid() {
		return fmt.Errorf("%w: source %q", ErrInvalidEvent, event.Source)
	}
	if err := event.Candidates.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

func validateFeedback(fb *model.Feedback) error {
	if fb.ID == "" || fb.EventID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidFeedback)
	}
	if !fb.Action.Valid() {
		return fmt.Errorf("%w: action %q", ErrInvalidFeedback, fb.Action)
	}
	if strings.TrimSpace(fb.Label) == "" {
		return fmt.Errorf("%w: missing label", ErrInvalidFeedback)
	}
	if fb.UserConfidence != nil && (*fb.UserConfidence < 0 || *fb.UserConfidence > 1) {
		return fmt.Errorf("%w: user confidence must be between 0 and 1", ErrInvalidFeedback)
	}
	return nil
}

func validateRegistryEntry(entry *model.RegistryEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: registry entry", ErrNilParameter)
	}
	if strings.TrimSpace(entry.ModelID) == "" {
		return fmt.Errorf("%w: missing model id", ErrInvalidRegistry)
	}
	if strings.TrimSpace(entry.ArtifactURI) == "" {
		return fmt.Errorf("%w: missing artifact uri", ErrInvalidRegistry)
	}
	if entry.Phase != "" && !entry.Phase.Valid() {
		return fmt.Errorf("%w: phase %q", ErrInvalidRegistry, entry.Phase)
	}
	return nil
}

func validateHint(hint *model.MerchantCategoryHint) error {
	if hint == nil {
		return fmt.Errorf("%w: hint", ErrNilParameter)
	}
	if strings.TrimSpace(hint.Merchant) == "" || strings.TrimSpace(hint.Category) == "" {
		return fmt.Errorf("%w: merchant and category are required", ErrInvalidHint)
	}
	if hint.Confidence < 0 || hint.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidHint)
	}
	return nil
}
