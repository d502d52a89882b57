package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/spice-suggest/internal/model"
)

// BatchResult is the outcome of one request in a batch. Exactly one of
// Response and Err is set.
type BatchResult struct {
	Response *Response
	Err      error
	Index    int
}

// BatchSummary counts the outcomes of a batch run.
type BatchSummary struct {
	Total          int
	Succeeded      int
	Degraded       int
	Failed         int
	ProcessingTime time.Duration
}

// Summarize counts results.
func Summarize(results []BatchResult, elapsed time.Duration) BatchSummary {
	summary := BatchSummary{Total: len(results), ProcessingTime: elapsed}
	for _, res := range results {
		switch {
		case res.Err != nil:
			summary.Failed++
		case res.Response.Degraded():
			summary.Succeeded++
			summary.Degraded++
		default:
			summary.Succeeded++
		}
	}
	return summary
}

// SuggestBatch runs every request through Suggest on a pool of workers.
// Results come back in request order; one request failing never affects the
// others. progress, if non-nil, is called once per finished request.
func (r *Router) SuggestBatch(ctx context.Context, reqs []Request, progress func()) []BatchResult {
	results := make([]BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	workChan := make(chan int, len(reqs))
	for i := range reqs {
		workChan <- i
	}
	close(workChan)

	resultsChan := make(chan BatchResult, len(reqs))

	workers := r.cfg.BatchWorkers
	if workers > len(reqs) {
		workers = len(reqs)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range workChan {
				resultsChan <- r.suggestOne(ctx, idx, reqs[idx])
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for res := range resultsChan {
		results[res.Index] = res
		if progress != nil {
			progress()
		}
	}
	return results
}

// SuggestUncategorized suggests categories for up to limit uncategorized
// transactions.
func (r *Router) SuggestUncategorized(ctx context.Context, tenantID string, mode model.SuggestionMode, limit int, progress func(total int) func()) ([]BatchResult, error) {
	txns, err := r.store.GetUncategorizedTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load uncategorized transactions: %w", err)
	}

	reqs := make([]Request, 0, len(txns))
	for _, txn := range txns {
		if tenantID != "" && txn.TenantID != "" && txn.TenantID != tenantID {
			continue
		}
		reqs = append(reqs, Request{TxnID: txn.ID, TenantID: tenantID, Mode: mode})
	}

	slog.Info("Suggesting categories for uncategorized transactions",
		"count", len(reqs),
		"mode", mode,
		"workers", r.cfg.BatchWorkers)

	var tick func()
	if progress != nil {
		tick = progress(len(reqs))
	}
	return r.SuggestBatch(ctx, reqs, tick), nil
}

func (r *Router) suggestOne(ctx context.Context, idx int, req Request) (res BatchResult) {
	res.Index = idx
	defer func() {
		if p := recover(); p != nil {
			res.Response = nil
			res.Err = fmt.Errorf("suggestion for %s panicked: %v", req.TxnID, p)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	resp, err := r.Suggest(ctx, req)
	if err != nil {
		slog.Warn("Batch suggestion failed", "txn_id", req.TxnID, "error", err)
		res.Err = err
		return res
	}
	res.Response = resp
	return res
}
