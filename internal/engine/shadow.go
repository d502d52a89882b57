package engine

import (
	"context"
	"log/slog"

	"github.com/Veraticus/spice-suggest/internal/model"
)

// scoreShadows lets every shadow-phase model score txn in the background and
// stores what each would have answered. Results never reach the caller.
func (r *Router) scoreShadows(eventID string, txn model.Transaction) {
	shadows := r.registry.Current().InPhase(model.PhaseShadow)
	for _, entry := range shadows {
		r.shadowWG.Add(1)
		go func(entry model.RegistryEntry) {
			defer r.shadowWG.Done()

			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ScoringTimeout)
			defer cancel()

			result, err := r.scorer.Score(ctx, entry, txn, 1)
			if err != nil {
				slog.Debug("Shadow scoring failed", "model_id", entry.ModelID, "event_id", eventID, "error", err)
				return
			}
			if len(result.Predictions) == 0 {
				return
			}

			top := result.Predictions[0]
			prediction := &model.ShadowPrediction{
				EventID:    eventID,
				ModelID:    entry.ModelID,
				Category:   top.Class,
				Confidence: top.Probability,
			}
			if err := r.store.SaveShadowPrediction(context.Background(), prediction); err != nil {
				slog.Warn("Failed to save shadow prediction", "model_id", entry.ModelID, "event_id", eventID, "error", err)
			}
		}(entry)
	}
}
