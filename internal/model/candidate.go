package model

import (
	"fmt"
	"sort"
)

// CandidateSource identifies which path produced a suggestion candidate.
type CandidateSource string

// Candidate source constants.
const (
	SourceRule      CandidateSource = "rule"
	SourceHeuristic CandidateSource = "heuristic"
	SourceModel     CandidateSource = "model"
)

// Valid reports whether s is a known candidate source.
func (s CandidateSource) Valid() bool {
	switch s {
	case SourceRule, SourceHeuristic, SourceModel:
		return true
	}
	return false
}

// Candidate is a single category proposal. It is never stored on its own, only as
// part of the SuggestionEvent that offered it.
//
// Source acts as the tag of the union: rule candidates always carry confidence 1.0,
// model candidates always carry the ModelID that scored them and heuristic
// candidates never do. Use the New*Candidate constructors to keep that true.
type Candidate struct {
	Category      string          `json:"category"`
	Source        CandidateSource `json:"source"`
	ModelID       string          `json:"model_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Confidence    float64         `json:"confidence"`
	LowConfidence bool            `json:"low_confidence,omitempty"`
}

// NewRuleCandidate returns the candidate for a matched user rule.
func NewRuleCandidate(category, pattern string) Candidate {
	return Candidate{
		Category:   category,
		Confidence: 1.0,
		Source:     SourceRule,
		Reason:     fmt.Sprintf("matched rule %q", pattern),
	}
}

// NewHeuristicCandidate returns a candidate produced by hints or merchant statistics.
func NewHeuristicCandidate(category string, confidence float64, reason string) Candidate {
	return Candidate{
		Category:   category,
		Confidence: clampConfidence(confidence),
		Source:     SourceHeuristic,
		Reason:     reason,
	}
}

// NewModelCandidate returns a candidate scored by a registered model.
func NewModelCandidate(category string, confidence float64, modelID string) Candidate {
	return Candidate{
		Category:   category,
		Confidence: clampConfidence(confidence),
		Source:     SourceModel,
		ModelID:    modelID,
	}
}

// Validate ensures the candidate respects the invariants of its source.
func (c *Candidate) Validate() error {
	if c.Category == "" {
		return fmt.Errorf("category name is required")
	}
	if c.Confidence < 0.0 || c.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %.2f", c.Confidence)
	}

	switch c.Source {
	case SourceRule:
		if c.Confidence != 1.0 {
			return fmt.Errorf("rule candidates must have confidence 1.0, got %.2f", c.Confidence)
		}
		if c.ModelID != "" {
			return fmt.Errorf("rule candidates cannot carry a model id")
		}
	case SourceHeuristic:
		if c.ModelID != "" {
			return fmt.Errorf("heuristic candidates cannot carry a model id")
		}
	case SourceModel:
		if c.ModelID == "" {
			return fmt.Errorf("model candidates must carry a model id")
		}
	default:
		return fmt.Errorf("unknown candidate source %q", c.Source)
	}

	return nil
}

// Candidates is an ordered candidate list.
type Candidates []Candidate

// SortByConfidence orders candidates by confidence, highest first. Equal
// confidences keep the order the producing path emitted them in.
func (c Candidates) SortByConfidence() {
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].Confidence > c[j].Confidence
	})
}

// TopN returns a copy of the first n candidates.
func (c Candidates) TopN(n int) Candidates {
	if n <= 0 {
		return Candidates{}
	}
	if n > len(c) {
		n = len(c)
	}

	result := make(Candidates, n)
	copy(result, c[:n])
	return result
}

// Top returns the first candidate, or nil if the list is empty.
func (c Candidates) Top() *Candidate {
	if len(c) == 0 {
		return nil
	}
	return &c[0]
}

// Gate applies the confidence threshold. Rule candidates always pass. Below-threshold
// candidates are dropped, or kept and marked LowConfidence when flag is true.
func (c Candidates) Gate(threshold float64, flag bool) Candidates {
	result := make(Candidates, 0, len(c))
	for _, candidate := range c {
		if candidate.Source == SourceRule || candidate.Confidence >= threshold {
			result = append(result, candidate)
			continue
		}
		if flag {
			candidate.LowConfidence = true
			result = append(result, candidate)
		}
	}
	return result
}

// Validate ensures all candidates are valid and no category appears twice.
func (c Candidates) Validate() error {
	seen := make(map[string]bool)

	for i, candidate := range c {
		if err := candidate.Validate(); err != nil {
			return fmt.Errorf("invalid candidate at index %d: %w", i, err)
		}
		if seen[candidate.Category] {
			return fmt.Errorf("duplicate category %q in candidates", candidate.Category)
		}
		seen[candidate.Category] = true
	}

	return nil
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
