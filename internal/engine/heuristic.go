package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// heuristicCandidates answers from the merchant's promoted hint when there is
// one, and from its accept statistics otherwise. Storage problems leave the
// list empty; the heuristic path is the last resort and never fails.
func (r *Router) heuristicCandidates(ctx context.Context, txn *model.Transaction) model.Candidates {
	merchant := txn.CanonicalMerchant()
	if merchant == "" {
		return model.Candidates{}
	}

	hint, err := r.store.GetMerchantHint(ctx, merchant)
	switch {
	case err == nil:
		reason := fmt.Sprintf("promoted hint for %s (support %d)", merchant, hint.Support)
		return model.Candidates{model.NewHeuristicCandidate(hint.Category, hint.Confidence, reason)}
	case !errors.Is(err, common.ErrNotFound):
		slog.Warn("Failed to read merchant hint", "merchant", merchant, "error", err)
	}

	stats, err := r.store.GetMerchantStats(ctx, merchant)
	if err != nil {
		slog.Warn("Failed to read merchant statistics", "merchant", merchant, "error", err)
		return model.Candidates{}
	}
	return statCandidates(merchant, stats)
}

// statCandidates ranks categories by accept count. Confidence is the share of
// all feedback for the merchant that accepted the category. Stats arrive in
// insertion order, which breaks ties.
func statCandidates(merchant string, stats []model.MerchantCategoryStat) model.Candidates {
	var total int
	accepted := make([]model.MerchantCategoryStat, 0, len(stats))
	for _, s := range stats {
		total += s.Support()
		if s.AcceptCount > 0 {
			accepted = append(accepted, s)
		}
	}
	if total == 0 {
		return model.Candidates{}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].AcceptCount > accepted[j].AcceptCount
	})

	candidates := make(model.Candidates, 0, len(accepted))
	for _, s := range accepted {
		reason := fmt.Sprintf("%s accepted %d of %d times", merchant, s.AcceptCount, total)
		candidates = append(candidates,
			model.NewHeuristicCandidate(s.Category, float64(s.AcceptCount)/float64(total), reason))
	}
	return candidates
}
