package learner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// PromotionSummary reports one promotion run.
type PromotionSummary struct {
	Promoted         []model.MerchantCategoryHint
	MerchantsScanned int
	Duration         time.Duration
}

// Promote turns qualifying merchant statistics into hints. For each merchant
// the category with the highest accept share wins, then the one with more
// support; remaining ties go to the stat recorded first.
func (l *Learner) Promote(ctx context.Context) (*PromotionSummary, error) {
	start := time.Now()

	stats, err := l.store.GetAllMerchantStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant statistics: %w", err)
	}

	var order []string
	best := make(map[string]model.MerchantCategoryStat)
	seen := make(map[string]bool)
	for _, s := range stats {
		if !seen[s.Merchant] {
			seen[s.Merchant] = true
			order = append(order, s.Merchant)
		}
		if !l.qualifies(s) {
			continue
		}
		current, ok := best[s.Merchant]
		if !ok || outranks(s, current) {
			best[s.Merchant] = s
		}
	}

	summary := &PromotionSummary{MerchantsScanned: len(order)}
	now := l.now()
	for _, merchant := range order {
		s, ok := best[merchant]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		hint := model.MerchantCategoryHint{
			Merchant:   s.Merchant,
			Category:   s.Category,
			Confidence: s.Share(),
			Support:    s.Support(),
			PromotedAt: now,
		}
		if err := l.store.UpsertMerchantHint(ctx, &hint); err != nil {
			return summary, fmt.Errorf("failed to promote hint for %q: %w", merchant, err)
		}
		summary.Promoted = append(summary.Promoted, hint)
	}

	summary.Duration = time.Since(start)
	l.metrics.HintsPromoted(len(summary.Promoted))
	slog.Info("Promoted merchant hints",
		"merchants", summary.MerchantsScanned,
		"promoted", len(summary.Promoted),
		"duration", summary.Duration)
	return summary, nil
}

func (l *Learner) qualifies(s model.MerchantCategoryStat) bool {
	return s.Support() >= l.cfg.MinSupport && s.Share() >= l.cfg.MinShare
}

func outranks(a, b model.MerchantCategoryStat) bool {
	if a.Share() != b.Share() {
		return a.Share() > b.Share()
	}
	return a.Support() > b.Support()
}

// PromotionJob runs Promote on a fixed interval.
type PromotionJob struct {
	learner  *Learner
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	mu       sync.Mutex
}

// NewPromotionJob creates a stopped job.
func NewPromotionJob(l *Learner, interval time.Duration) *PromotionJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &PromotionJob{learner: l, interval: interval}
}

// Start launches the job. Starting a running job is a no-op.
func (j *PromotionJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := j.learner.Promote(ctx); err != nil && ctx.Err() == nil {
					common.LogError(err, "Hint promotion failed", common.Fields{"interval": j.interval.String()})
				}
			}
		}
	}(j.done)
}

// Stop halts the job and waits for a running promotion to finish.
func (j *PromotionJob) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
