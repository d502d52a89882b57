package cli

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/engine"
	"github.com/Veraticus/spice-suggest/internal/model"
)

func TestRenderSuggestion(t *testing.T) {
	low := model.NewHeuristicCandidate("Dining", 0.2, "merchant history")
	low.LowConfidence = true

	out := RenderSuggestion(&engine.Response{
		EventID:    "evt-1",
		TxnID:      "txn-1",
		Mode:       model.ModeHeuristic,
		Source:     model.SourceHeuristic,
		Reason:     common.DegradedModelUnavailable,
		Cause:      common.CauseTimeout,
		Candidates: model.Candidates{model.NewHeuristicCandidate("Coffee", 0.8, "merchant history"), low},
	})

	assert.Contains(t, out, "txn-1")
	assert.Contains(t, out, "evt-1")
	assert.Contains(t, out, "model_unavailable (timeout)")
	assert.Contains(t, out, "Coffee")
	assert.Contains(t, out, "80.0%")
	assert.Contains(t, out, "low confidence")
}

func TestRenderSuggestion_Empty(t *testing.T) {
	out := RenderSuggestion(&engine.Response{EventID: "evt-1", TxnID: "txn-1", Mode: model.ModeModel, ModelID: "m-1", Source: model.SourceModel})
	assert.Contains(t, out, "no candidates")
	assert.Contains(t, out, "m-1")
	assert.NotContains(t, out, "degraded")
}

func TestRenderTable_AlignsColumns(t *testing.T) {
	out := RenderTable([]string{"ID", "PATTERN"}, [][]string{{"1", "starbucks"}, {"12", "gas"}})
	lines := strings.Split(out, "\n")

	assert.Len(t, lines, 3)
	assert.Equal(t, strings.Index(lines[1], "starbucks"), strings.Index(lines[2], "gas"))
}

func TestRenderModelsAndRules(t *testing.T) {
	assert.Contains(t, RenderModels(nil), "no models")
	assert.Contains(t, RenderRules(nil), "no rules")

	out := RenderModels([]model.RegistryEntry{{ModelID: "m-1", Phase: model.PhaseLive, ArtifactURI: "badger://models/m-1", UpdatedAt: time.Now()}})
	assert.Contains(t, out, "m-1")
	assert.Contains(t, out, "live")

	out = RenderRules([]model.Rule{{ID: 7, Pattern: "target", Category: "Shopping", Priority: 2}})
	assert.Contains(t, out, "target")
	assert.Contains(t, out, "Shopping")
}

func TestRenderBatchSummary(t *testing.T) {
	out := RenderBatchSummary(engine.BatchSummary{Total: 5, Succeeded: 4, Degraded: 1, Failed: 1, ProcessingTime: 1500 * time.Millisecond})
	assert.Contains(t, out, "Transactions: 5")
	assert.Contains(t, out, "Failed: 1")
}

func TestTicker_ConcurrentUse(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, 50, "Suggesting")
	tick := Ticker(bar)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tick()
		}()
	}
	wg.Wait()

	assert.True(t, bar.IsFinished())
}
