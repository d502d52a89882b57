package scoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// Artifacts loads and saves snapshots.
type Artifacts interface {
	Save(ctx context.Context, snap *Snapshot) (string, error)
	Load(ctx context.Context, uri string) (*Snapshot, error)
}

// Result is the outcome of scoring one transaction.
type Result struct {
	ModelID      string
	FeaturesHash string
	Predictions  []Prediction
	Version      int64
}

type loadedModel struct {
	holder *Holder
	uri    string
	// writeMu serializes writers. Readers never take it.
	writeMu sync.Mutex
}

// Service scores transactions against registered models. Snapshots are loaded
// lazily from the artifact store and cached per model.
type Service struct {
	artifacts  Artifacts
	models     map[string]*loadedModel
	dimensions int
	mu         sync.Mutex
}

// NewService creates a scoring service.
func NewService(artifacts Artifacts, dimensions int) *Service {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Service{
		artifacts:  artifacts,
		models:     make(map[string]*loadedModel),
		dimensions: dimensions,
	}
}

// Dimensions reports the feature space size used for new models.
func (s *Service) Dimensions() int {
	return s.dimensions
}

// Score computes the top-k predictions of the registry entry's model for txn.
// The snapshot is read once, so a concurrent Update never affects this call.
func (s *Service) Score(ctx context.Context, entry model.RegistryEntry, txn model.Transaction, topK int) (*Result, error) {
	lm, err := s.load(ctx, entry)
	if err != nil {
		return nil, err
	}
	snap := lm.holder.Load()

	vec := Extract(txn, snap.Dimensions)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preds := snap.Predict(vec)
	if topK > 0 && len(preds) > topK {
		preds = preds[:topK]
	}

	return &Result{
		ModelID:      entry.ModelID,
		Version:      snap.Version,
		FeaturesHash: FeatureHash(vec),
		Predictions:  preds,
	}, nil
}

// Update applies fn to the current snapshot, publishes the result and persists
// it. Concurrent updates of the same model are serialized; scoring is not
// blocked.
func (s *Service) Update(ctx context.Context, entry model.RegistryEntry, fn func(*Snapshot) (*Snapshot, error)) (*Snapshot, error) {
	lm, err := s.load(ctx, entry)
	if err != nil {
		return nil, err
	}

	lm.writeMu.Lock()
	defer lm.writeMu.Unlock()

	next, err := fn(lm.holder.Load())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, fmt.Errorf("update of model %s produced no snapshot", entry.ModelID)
	}

	if _, err := s.artifacts.Save(ctx, next); err != nil {
		return nil, err
	}
	lm.holder.Publish(next)
	return next, nil
}

// Put saves a freshly trained snapshot and makes it available for scoring.
func (s *Service) Put(ctx context.Context, snap *Snapshot) (string, error) {
	uri, err := s.artifacts.Save(ctx, snap)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.models[snap.ModelID] = &loadedModel{holder: NewHolder(snap), uri: uri}
	s.mu.Unlock()
	return uri, nil
}

func (s *Service) load(ctx context.Context, entry model.RegistryEntry) (*loadedModel, error) {
	if entry.ModelID == "" {
		return nil, common.InvalidInputf("registry entry has no model id")
	}

	s.mu.Lock()
	lm, ok := s.models[entry.ModelID]
	s.mu.Unlock()
	if ok && lm.uri == entry.ArtifactURI {
		return lm, nil
	}

	snap, err := s.artifacts.Load(ctx, entry.ArtifactURI)
	if err != nil {
		return nil, fmt.Errorf("model %s unavailable: %w", entry.ModelID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another request may have loaded it meanwhile; keep the first so writers
	// share one holder.
	if existing, ok := s.models[entry.ModelID]; ok && existing.uri == entry.ArtifactURI {
		return existing, nil
	}
	lm = &loadedModel{holder: NewHolder(snap), uri: entry.ArtifactURI}
	s.models[entry.ModelID] = lm
	return lm, nil
}
