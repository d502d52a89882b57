package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/testutil"
)

func TestSuggestBatch_PreservesOrderAndIsolatesFailures(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.db.SeedRule("target", "Shopping", 0)

	reqs := []Request{
		{TxnID: "txn-1", Mode: model.ModeHeuristic},
		{TxnID: "missing"},
		{TxnID: "txn-2"},
		{TxnID: "txn-1", Mode: "bogus"},
	}

	var ticks atomic.Int32
	results := h.router.SuggestBatch(context.Background(), reqs, func() { ticks.Add(1) })

	require.Len(t, results, len(reqs))
	assert.Equal(t, int32(len(reqs)), ticks.Load())

	for i, res := range results {
		assert.Equal(t, i, res.Index)
	}

	require.NoError(t, results[0].Err)
	assert.Equal(t, "txn-1", results[0].Response.TxnID)

	assert.ErrorIs(t, results[1].Err, common.ErrNotFound)
	assert.Nil(t, results[1].Response)

	require.NoError(t, results[2].Err)
	assert.Equal(t, model.SourceRule, results[2].Response.Source)

	assert.ErrorIs(t, results[3].Err, common.ErrInvalidInput)

	summary := Summarize(results, time.Second)
	assert.Equal(t, BatchSummary{Total: 4, Succeeded: 2, Failed: 2, ProcessingTime: time.Second}, summary)
}

func TestSuggestBatch_Empty(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.Empty(t, h.router.SuggestBatch(context.Background(), nil, nil))
}

func TestSuggestBatch_CanceledContextFailsEveryItem(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := h.router.SuggestBatch(ctx, []Request{{TxnID: "txn-1"}, {TxnID: "txn-2"}}, nil)
	for _, res := range results {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Equal(t, 0, h.eventCount(t))
}

func TestSuggestBatch_CountsDegraded(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	results := h.router.SuggestBatch(context.Background(), []Request{
		{TxnID: "txn-1", Mode: model.ModeModel},
		{TxnID: "txn-2", Mode: model.ModeHeuristic},
	}, nil)

	summary := Summarize(results, 0)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Degraded)
}

func TestSuggestUncategorized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchWorkers = 2
	h := newHarness(t, cfg)

	other := testutil.Transaction("txn-3", "SHELL OIL 5555", -40)
	other.TenantID = "tenant-b"
	categorized := testutil.Transaction("txn-4", "NETFLIX.COM", -15.99)
	categorized.Category = "Streaming"
	h.db.SeedTransactions(other, categorized)

	var total int
	var ticks atomic.Int32
	results, err := h.router.SuggestUncategorized(context.Background(), "tenant-a", model.ModeHeuristic, 100,
		func(n int) func() {
			total = n
			return func() { ticks.Add(1) }
		})
	require.NoError(t, err)

	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)
	assert.Equal(t, int32(2), ticks.Load())
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, "tenant-a", res.Response.TenantID)
	}
}
