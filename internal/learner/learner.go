// Package learner folds accepted feedback back into models and promotes merchant
// statistics into hints.
package learner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/metrics"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/scoring"
	"github.com/Veraticus/spice-suggest/internal/service"
)

// Store is the persistence the learner reads and writes.
type Store interface {
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetSuggestionEvent(ctx context.Context, id string) (*model.SuggestionEvent, error)
	GetAcceptedExamples(ctx context.Context, limit int) ([]service.LabeledExample, error)
	GetAllMerchantStats(ctx context.Context) ([]model.MerchantCategoryStat, error)
	UpsertMerchantHint(ctx context.Context, hint *model.MerchantCategoryHint) error
}

// Models updates and stores model snapshots.
type Models interface {
	Update(ctx context.Context, entry model.RegistryEntry, fn func(*scoring.Snapshot) (*scoring.Snapshot, error)) (*scoring.Snapshot, error)
	Put(ctx context.Context, snap *scoring.Snapshot) (string, error)
}

// Registry resolves and records registry entries.
type Registry interface {
	Get(ctx context.Context, modelID string) (*model.RegistryEntry, error)
	Register(ctx context.Context, entry model.RegistryEntry) (*model.RegistryEntry, error)
}

// Config tunes learning and promotion.
type Config struct {
	LearningRate    float64
	Dimensions      int
	BootstrapEpochs int
	MinSupport      int
	MinShare        float64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		LearningRate:    0.1,
		Dimensions:      scoring.DefaultDimensions,
		BootstrapEpochs: 5,
		MinSupport:      3,
		MinShare:        0.6,
	}
}

// Learner applies feedback to models and hints.
type Learner struct {
	store    Store
	models   Models
	registry Registry
	metrics  *metrics.Metrics
	now      func() time.Time
	cfg      Config
}

// New creates a learner.
func New(store Store, models Models, registry Registry, m *metrics.Metrics, cfg Config) *Learner {
	defaults := DefaultConfig()
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = defaults.LearningRate
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaults.Dimensions
	}
	if cfg.BootstrapEpochs <= 0 {
		cfg.BootstrapEpochs = defaults.BootstrapEpochs
	}
	if cfg.MinSupport <= 0 {
		cfg.MinSupport = defaults.MinSupport
	}
	if cfg.MinShare <= 0 {
		cfg.MinShare = defaults.MinShare
	}
	return &Learner{
		store:    store,
		models:   models,
		registry: registry,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		cfg:      cfg,
	}
}

// PartialFit nudges the model that produced an accepted suggestion towards
// label. The new weights are published as a fresh snapshot; requests already
// scoring keep the snapshot they started with.
func (l *Learner) PartialFit(ctx context.Context, eventID, label string) (err error) {
	defer func() {
		if err != nil {
			l.metrics.PartialFit("error")
		} else {
			l.metrics.PartialFit("ok")
		}
	}()

	if label == "" {
		return common.InvalidInputf("partial fit needs a label")
	}

	event, err := l.store.GetSuggestionEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Source != model.SourceModel || event.ModelID == "" {
		return common.InvalidStatef("event %s was not served by a model", eventID)
	}
	if event.Accepted == nil || !*event.Accepted {
		return common.InvalidStatef("event %s has not been accepted", eventID)
	}

	entry, err := l.registry.Get(ctx, event.ModelID)
	if err != nil {
		return fmt.Errorf("failed to resolve model %s: %w", event.ModelID, err)
	}
	txn, err := l.store.GetTransactionByID(ctx, event.TxnID)
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", event.TxnID, err)
	}

	snap, err := l.models.Update(ctx, *entry, func(current *scoring.Snapshot) (*scoring.Snapshot, error) {
		vec := scoring.Extract(*txn, current.Dimensions)
		if hash := scoring.FeatureHash(vec); event.FeaturesHash != "" && hash != event.FeaturesHash {
			slog.Warn("Feature hash drifted since the suggestion was served",
				"event_id", eventID,
				"model_id", entry.ModelID)
		}
		return current.Fit(vec, label, l.cfg.LearningRate), nil
	})
	if err != nil {
		return fmt.Errorf("failed to update model %s: %w", entry.ModelID, err)
	}

	slog.Debug("Applied partial fit",
		"event_id", eventID,
		"model_id", entry.ModelID,
		"label", label,
		"version", snap.Version)
	return nil
}

// Bootstrap trains a model from every accepted label, stores it and registers
// it in shadow phase. Re-running with an existing model ID replaces its
// artifact without changing its phase. tick, if non-nil, is built with the
// number of epochs and called after each one.
func (l *Learner) Bootstrap(ctx context.Context, modelID string, tick func(epochs int) func()) (*model.RegistryEntry, error) {
	if modelID == "" {
		return nil, common.InvalidInputf("model id is required")
	}

	labeled, err := l.store.GetAcceptedExamples(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load accepted examples: %w", err)
	}
	if len(labeled) == 0 {
		return nil, common.InvalidStatef("no accepted feedback to train on")
	}

	examples := make([]scoring.Example, len(labeled))
	for i, ex := range labeled {
		examples[i] = scoring.Example{
			Vector: scoring.Extract(ex.Transaction, l.cfg.Dimensions),
			Label:  ex.Label,
		}
	}

	var onEpoch func()
	if tick != nil {
		onEpoch = tick(l.cfg.BootstrapEpochs)
	}
	snap := scoring.Train(modelID, l.cfg.Dimensions, examples, l.cfg.BootstrapEpochs, l.cfg.LearningRate, onEpoch)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uri, err := l.models.Put(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("failed to store model %s: %w", modelID, err)
	}

	entry, err := l.registry.Register(ctx, model.RegistryEntry{
		ModelID:     modelID,
		ArtifactURI: uri,
		Notes:       fmt.Sprintf("bootstrapped from %d accepted examples, %d classes", len(examples), len(snap.Classes)),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Bootstrapped model",
		"model_id", modelID,
		"examples", len(examples),
		"classes", len(snap.Classes),
		"phase", entry.Phase)
	return entry, nil
}
