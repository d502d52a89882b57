// Package engine routes suggestion requests through user rules, registered
// models and merchant heuristics, and records every answer as a suggestion event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/metrics"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/pattern"
	"github.com/Veraticus/spice-suggest/internal/registry"
	"github.com/Veraticus/spice-suggest/internal/scoring"
)

// LowConfidencePolicy decides what happens to candidates below the confidence
// threshold.
type LowConfidencePolicy string

// Low-confidence policies.
const (
	LowConfidenceDrop LowConfidencePolicy = "drop"
	LowConfidenceFlag LowConfidencePolicy = "flag"
)

// Config tunes the router.
type Config struct {
	LowConfidence       LowConfidencePolicy
	ConfidenceThreshold float64
	TopK                int
	DefaultCanaryPct    int
	ScoringTimeout      time.Duration
	// Dimensions sizes the feature hash recorded on heuristic events.
	Dimensions    int
	BatchWorkers  int
	ShadowScoring bool
}

// DefaultConfig returns the stock router settings.
func DefaultConfig() Config {
	return Config{
		LowConfidence:       LowConfidenceDrop,
		ConfidenceThreshold: 0.50,
		TopK:                3,
		DefaultCanaryPct:    0,
		ScoringTimeout:      250 * time.Millisecond,
		Dimensions:          scoring.DefaultDimensions,
		BatchWorkers:        4,
	}
}

// Request asks for suggestions for one transaction.
type Request struct {
	TxnID    string
	TenantID string
	Mode     model.SuggestionMode
	// LowConfidence overrides the configured policy when set.
	LowConfidence LowConfidencePolicy
	// StickyKey pins the canary bucket, so repeated requests with the same key
	// take the same path.
	StickyKey string
	TopK      int
}

// Response is the answer to a suggestion request. It mirrors the persisted event.
type Response struct {
	EventID       string
	TxnID         string
	TenantID      string
	Mode          model.SuggestionMode
	RequestedMode model.SuggestionMode
	Source        model.CandidateSource
	ModelID       string
	FeaturesHash  string
	Reason        common.DegradedReason
	Cause         common.DegradedCause
	Candidates    model.Candidates
}

// Degraded reports whether the model path was wanted but not used.
func (r *Response) Degraded() bool {
	return r.Reason != common.DegradedNone
}

// Router answers suggestion requests.
type Router struct {
	store    Store
	registry RegistryView
	scorer   Scorer
	metrics  *metrics.Metrics
	rand     RandSource
	now      func() time.Time
	cfg      Config
	shadowWG sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithRand replaces the canary draw source.
func WithRand(src RandSource) Option {
	return func(r *Router) { r.rand = src }
}

// WithMetrics records suggestion counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a router.
func New(store Store, reg RegistryView, scorer Scorer, cfg Config, opts ...Option) *Router {
	defaults := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.ScoringTimeout <= 0 {
		cfg.ScoringTimeout = defaults.ScoringTimeout
	}
	if cfg.LowConfidence == "" {
		cfg.LowConfidence = defaults.LowConfidence
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaults.Dimensions
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = defaults.BatchWorkers
	}

	r := &Router{
		store:    store,
		registry: reg,
		scorer:   scorer,
		rand:     globalRand{},
		now:      func() time.Time { return time.Now().UTC() },
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Suggest produces and records candidates for one transaction. Problems on the
// model path never fail the request: the router answers from the heuristic
// path and sets Reason instead. If ctx ends before the event is recorded, no
// event is stored and ctx's error is returned.
func (r *Router) Suggest(ctx context.Context, req Request) (*Response, error) {
	mode, ok := model.ParseMode(string(req.Mode))
	if !ok {
		return nil, common.InvalidInputf("unknown suggestion mode %q", req.Mode)
	}
	if req.TxnID == "" {
		return nil, common.InvalidInputf("txn_id is required")
	}
	policy, err := r.policy(req.LowConfidence)
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	txn, err := r.store.GetTransactionByID(ctx, req.TxnID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", req.TxnID, err)
	}
	tenant := req.TenantID
	if tenant == "" {
		tenant = txn.TenantID
	}

	event := &model.SuggestionEvent{
		TxnID:         txn.ID,
		TenantID:      tenant,
		RequestedMode: mode,
	}

	if rule, matched := r.matchRule(ctx, txn); matched {
		event.Mode = model.ModeRule
		event.Source = model.SourceRule
		event.Candidates = model.Candidates{model.NewRuleCandidate(rule.Category, rule.Pattern)}
		return r.record(ctx, event, txn)
	}

	entry, cause := r.selectModel(r.registry.Current(), mode, tenant, req.StickyKey)
	if entry != nil {
		result, scoreCause, scoreErr := r.scoreWithBudget(ctx, *entry, *txn, topK)
		if scoreErr != nil {
			return nil, scoreErr
		}
		if scoreCause == common.CauseNone {
			event.Mode = model.ModeModel
			event.Source = model.SourceModel
			event.ModelID = entry.ModelID
			event.FeaturesHash = result.FeaturesHash
			event.Candidates = r.finalize(modelCandidates(result), policy, topK)
			return r.record(ctx, event, txn)
		}
		cause = scoreCause
	}

	if cause != common.CauseNone {
		attrs := []any{"reason", cause.Reason(), "cause", cause, "txn_id", txn.ID, "tenant_id", tenant}
		if entry != nil {
			attrs = append(attrs, "model_id", entry.ModelID)
		}
		slog.Warn("Serving heuristic suggestions in degraded mode", attrs...)
	}

	event.Mode = model.ModeHeuristic
	event.Source = model.SourceHeuristic
	event.Reason = string(cause.Reason())
	event.DegradedCause = string(cause)
	event.FeaturesHash = scoring.FeatureHash(scoring.Extract(*txn, r.cfg.Dimensions))
	event.Candidates = r.finalize(r.heuristicCandidates(ctx, txn), policy, topK)
	return r.record(ctx, event, txn)
}

// Wait blocks until background shadow scoring has finished.
func (r *Router) Wait() {
	r.shadowWG.Wait()
}

func (r *Router) policy(requested LowConfidencePolicy) (LowConfidencePolicy, error) {
	switch requested {
	case "":
		return r.cfg.LowConfidence, nil
	case LowConfidenceDrop, LowConfidenceFlag:
		return requested, nil
	}
	return "", common.InvalidInputf("unknown low-confidence policy %q", requested)
}

// matchRule finds the first active rule for txn. Rules that cannot be loaded
// are treated as no match.
func (r *Router) matchRule(ctx context.Context, txn *model.Transaction) (model.Rule, bool) {
	rules, err := r.store.GetActiveRules(ctx)
	if err != nil {
		slog.Warn("Failed to load rules, skipping rule match", "txn_id", txn.ID, "error", err)
		return model.Rule{}, false
	}
	return pattern.NewMatcher(rules).MatchRule(txn.Name)
}

// selectModel picks the registry entry for the request, or explains why there
// is none. A nil entry with no cause means the heuristic path was chosen.
func (r *Router) selectModel(snap *registry.Snapshot, mode model.SuggestionMode, tenant, stickyKey string) (*model.RegistryEntry, common.DegradedCause) {
	switch mode {
	case model.ModeHeuristic:
		return nil, common.CauseNone

	case model.ModeModel:
		if entry := firstActive(snap, model.PhaseLive, model.PhaseCanary); entry != nil {
			return entry, common.CauseNone
		}
		return nil, common.CauseNoActiveModel

	default:
		pct := snap.EffectiveCanaryPct(tenant, r.cfg.DefaultCanaryPct)
		if r.bucket(stickyKey) > pct {
			return nil, common.CauseNone
		}
		// Inside the bucket with nothing registered is a plain heuristic answer.
		return firstActive(snap, model.PhaseCanary, model.PhaseLive), common.CauseNone
	}
}

// bucket draws a value in [1,100].
func (r *Router) bucket(stickyKey string) int {
	if stickyKey != "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(stickyKey))
		return int(h.Sum32()%100) + 1
	}
	return r.rand.IntN(100) + 1
}

func firstActive(snap *registry.Snapshot, phases ...model.ModelPhase) *model.RegistryEntry {
	for _, phase := range phases {
		if entry := snap.Active(phase); entry != nil {
			return entry
		}
	}
	return nil
}

type scoreOutcome struct {
	result *scoring.Result
	err    error
}

// scoreWithBudget runs the scorer under the scoring timeout. Only the caller's
// own cancellation is returned as an error; every scorer failure becomes a
// degraded cause.
func (r *Router) scoreWithBudget(ctx context.Context, entry model.RegistryEntry, txn model.Transaction, topK int) (*scoring.Result, common.DegradedCause, error) {
	scoreCtx, cancel := context.WithTimeout(ctx, r.cfg.ScoringTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan scoreOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- scoreOutcome{err: fmt.Errorf("scorer panic: %v", p)}
			}
		}()
		res, err := r.scorer.Score(scoreCtx, entry, txn, topK)
		done <- scoreOutcome{result: res, err: err}
	}()

	var outcome scoreOutcome
	select {
	case outcome = <-done:
	case <-scoreCtx.Done():
		select {
		case outcome = <-done:
		default:
		}
	}
	r.metrics.ObserveScoring(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return nil, common.CauseNone, err
	}

	switch {
	case outcome.result == nil && outcome.err == nil:
		return nil, common.CauseTimeout, nil
	case outcome.err != nil && errors.Is(outcome.err, context.DeadlineExceeded):
		return nil, common.CauseTimeout, nil
	case outcome.err != nil && errors.Is(outcome.err, common.ErrNotFound):
		slog.Debug("Model artifact unavailable", "model_id", entry.ModelID, "error", outcome.err)
		return nil, common.CauseArtifactMissing, nil
	case outcome.err != nil:
		slog.Debug("Model scoring failed", "model_id", entry.ModelID, "error", outcome.err)
		return nil, common.CauseScoringError, nil
	}
	return outcome.result, common.CauseNone, nil
}

func modelCandidates(result *scoring.Result) model.Candidates {
	candidates := make(model.Candidates, 0, len(result.Predictions))
	for _, p := range result.Predictions {
		candidates = append(candidates, model.NewModelCandidate(p.Class, p.Probability, result.ModelID))
	}
	return candidates
}

// finalize orders, gates and truncates candidates.
func (r *Router) finalize(candidates model.Candidates, policy LowConfidencePolicy, topK int) model.Candidates {
	candidates.SortByConfidence()
	gated := candidates.Gate(r.cfg.ConfidenceThreshold, policy == LowConfidenceFlag)
	return gated.TopN(topK)
}

// record persists the event unless ctx has already ended.
func (r *Router) record(ctx context.Context, event *model.SuggestionEvent, txn *model.Transaction) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	event.ID = uuid.NewString()
	event.CreatedAt = r.now()
	if event.Candidates == nil {
		event.Candidates = model.Candidates{}
	}

	if err := r.store.SaveSuggestionEvent(ctx, event); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to record suggestion for %s: %w", event.TxnID, err)
	}

	r.metrics.Suggestion(string(event.Mode), string(event.Source))
	if event.DegradedCause != "" {
		r.metrics.Degraded(event.DegradedCause)
	}

	if r.cfg.ShadowScoring && event.Mode != model.ModeRule {
		r.scoreShadows(event.ID, *txn)
	}

	return &Response{
		EventID:       event.ID,
		TxnID:         event.TxnID,
		TenantID:      event.TenantID,
		Mode:          event.Mode,
		RequestedMode: event.RequestedMode,
		Source:        event.Source,
		ModelID:       event.ModelID,
		FeaturesHash:  event.FeaturesHash,
		Reason:        common.DegradedReason(event.Reason),
		Cause:         common.DegradedCause(event.DegradedCause),
		Candidates:    event.Candidates,
	}, nil
}
