package scoring

import (
	"math"
	"sort"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable set of model weights. Nothing mutates a snapshot
// after it is published; Fit returns a new one.
type Snapshot struct {
	UpdatedAt  time.Time   `json:"updated_at"`
	ModelID    string      `json:"model_id"`
	Classes    []string    `json:"classes"`
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Version    int64       `json:"version"`
	Dimensions int         `json:"dimensions"`
}

// Prediction is one class probability.
type Prediction struct {
	Class       string
	Probability float64
}

// NewSnapshot returns an empty model with no classes.
func NewSnapshot(modelID string, dimensions int) *Snapshot {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Snapshot{
		ModelID:    modelID,
		Dimensions: dimensions,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Predict returns softmax probabilities, highest first. Classes with equal
// probability keep their class order.
func (s *Snapshot) Predict(vec Vector) []Prediction {
	if len(s.Classes) == 0 {
		return nil
	}

	probs := s.probabilities(vec)
	preds := make([]Prediction, len(s.Classes))
	for i, class := range s.Classes {
		preds[i] = Prediction{Class: class, Probability: probs[i]}
	}

	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Probability > preds[j].Probability
	})
	return preds
}

func (s *Snapshot) probabilities(vec Vector) []float64 {
	logits := make([]float64, len(s.Classes))
	maxLogit := math.Inf(-1)
	for c := range s.Classes {
		z := s.Bias[c]
		row := s.Weights[c]
		for _, f := range vec {
			if f.Index < len(row) {
				z += row[f.Index] * f.Value
			}
		}
		logits[c] = z
		if z > maxLogit {
			maxLogit = z
		}
	}

	var sum float64
	for c, z := range logits {
		logits[c] = math.Exp(z - maxLogit)
		sum += logits[c]
	}
	for c := range logits {
		logits[c] /= sum
	}
	return logits
}

// Fit applies one stochastic gradient step for label and returns the updated
// copy. Unseen labels become new classes. The receiver is left untouched.
func (s *Snapshot) Fit(vec Vector, label string, learningRate float64) *Snapshot {
	next := s.clone()
	next.fit(vec, label, learningRate)
	return next
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		ModelID:    s.ModelID,
		Dimensions: s.Dimensions,
		Version:    s.Version,
		UpdatedAt:  time.Now().UTC(),
		Classes:    append([]string(nil), s.Classes...),
		Bias:       append([]float64(nil), s.Bias...),
		Weights:    make([][]float64, len(s.Weights)),
	}
	for c, row := range s.Weights {
		next.Weights[c] = append([]float64(nil), row...)
	}
	return next
}

// fit mutates s in place. Only call it on a snapshot nobody else can see.
func (s *Snapshot) fit(vec Vector, label string, learningRate float64) {
	target := -1
	for c, class := range s.Classes {
		if class == label {
			target = c
			break
		}
	}
	if target < 0 {
		s.Classes = append(s.Classes, label)
		s.Bias = append(s.Bias, 0)
		s.Weights = append(s.Weights, make([]float64, s.Dimensions))
		target = len(s.Classes) - 1
	}

	probs := s.probabilities(vec)
	for c := range s.Classes {
		grad := probs[c]
		if c == target {
			grad -= 1
		}
		s.Bias[c] -= learningRate * grad
		row := s.Weights[c]
		for _, f := range vec {
			if f.Index < len(row) {
				row[f.Index] -= learningRate * grad * f.Value
			}
		}
	}
	s.Version++
}

// Example is one labeled training vector.
type Example struct {
	Vector Vector
	Label  string
}

// Train fits a fresh model over examples for the given number of epochs.
// Examples are visited in order, so training is deterministic. tick, if
// non-nil, is called after every epoch.
func Train(modelID string, dimensions int, examples []Example, epochs int, learningRate float64, tick func()) *Snapshot {
	snap := NewSnapshot(modelID, dimensions)
	if epochs <= 0 {
		epochs = 1
	}
	for e := 0; e < epochs; e++ {
		for _, ex := range examples {
			snap.fit(ex.Vector, ex.Label, learningRate)
		}
		if tick != nil {
			tick()
		}
	}
	snap.UpdatedAt = time.Now().UTC()
	return snap
}

// Holder publishes snapshots to concurrent readers. Readers call Load once per
// request and keep that reference; Publish swaps the pointer.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder returns a holder publishing snap.
func NewHolder(snap *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(snap)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Publish makes snap the current snapshot.
func (h *Holder) Publish(snap *Snapshot) {
	h.current.Store(snap)
}
