package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/service"
	"github.com/Veraticus/spice-suggest/internal/storage"
	"github.com/Veraticus/spice-suggest/internal/testutil"
)

const merchant = "Starbucks Seattle"

type fakeLearner struct {
	err   error
	calls []string
	mu    sync.Mutex
}

func (f *fakeLearner) PartialFit(_ context.Context, eventID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, eventID+"="+label)
	return f.err
}

func setup(t *testing.T, opts ...Option) (*Ledger, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	db.SeedTransactions(testutil.Transaction("txn-1", "STARBUCKS #1234 SEATTLE", -4.50))
	return NewLedger(db.Storage, nil, opts...), db
}

func seedEvent(t *testing.T, db *testutil.TestDB, id string, source model.CandidateSource, candidates ...model.Candidate) *model.SuggestionEvent {
	t.Helper()
	event := &model.SuggestionEvent{
		ID:            id,
		TxnID:         "txn-1",
		TenantID:      "tenant-a",
		RequestedMode: model.ModeAuto,
		Source:        source,
		Candidates:    candidates,
	}
	switch source {
	case model.SourceModel:
		event.Mode = model.ModeModel
		event.ModelID = "m-1"
	case model.SourceRule:
		event.Mode = model.ModeRule
	default:
		event.Mode = model.ModeHeuristic
	}
	if event.Candidates == nil {
		event.Candidates = model.Candidates{}
	}
	require.NoError(t, db.Storage.SaveSuggestionEvent(context.Background(), event))
	return event
}

func accepted(t *testing.T, db *testutil.TestDB, eventID string) *bool {
	t.Helper()
	event, err := db.Storage.GetSuggestionEvent(context.Background(), eventID)
	require.NoError(t, err)
	return event.Accepted
}

func TestLedger_AcceptIncrementsStat(t *testing.T) {
	ledger, db := setup(t)
	seedEvent(t, db, "evt-1", model.SourceHeuristic, model.NewHeuristicCandidate("Coffee", 0.8, ""))

	res, err := ledger.Record(context.Background(), Request{EventID: "evt-1", Action: model.ActionAccept, Label: "Coffee"})
	require.NoError(t, err)
	assert.Equal(t, merchant, res.Merchant)
	assert.Equal(t, 0, res.Reverted)
	assert.NotEmpty(t, res.Feedback.ID)

	assert.Equal(t, 1, db.MustStat(merchant, "Coffee").AcceptCount)
	flag := accepted(t, db, "evt-1")
	require.NotNil(t, flag)
	assert.True(t, *flag)
}

func TestLedger_RejectDefaultsToTopCandidate(t *testing.T) {
	ledger, db := setup(t)
	seedEvent(t, db, "evt-1", model.SourceHeuristic,
		model.NewHeuristicCandidate("Coffee", 0.8, ""),
		model.NewHeuristicCandidate("Dining", 0.2, ""))

	res, err := ledger.Record(context.Background(), Request{EventID: "evt-1", Action: model.ActionReject, Reason: "wrong"})
	require.NoError(t, err)
	assert.Equal(t, "Coffee", res.Feedback.Label)

	stat := db.MustStat(merchant, "Coffee")
	assert.Equal(t, 1, stat.RejectCount)
	assert.Equal(t, 0, stat.AcceptCount)
	flag := accepted(t, db, "evt-1")
	require.NotNil(t, flag)
	assert.False(t, *flag)

	seedEvent(t, db, "evt-empty", model.SourceHeuristic)
	_, err = ledger.Record(context.Background(), Request{EventID: "evt-empty", Action: model.ActionReject})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestLedger_UndoWithoutAcceptFails(t *testing.T) {
	ledger, db := setup(t)
	seedEvent(t, db, "evt-1", model.SourceHeuristic, model.NewHeuristicCandidate("Coffee", 0.8, ""))
	ctx := context.Background()

	_, err := ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionUndo})
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionReject})
	require.NoError(t, err)
	_, err = ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionUndo})
	assert.ErrorIs(t, err, common.ErrInvalidState, "a reject is not undoable")

	history, err := ledger.History(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.ActionReject, history[0].Action)
}

func TestLedger_UndoRevertsAcceptAndFloorsAtZero(t *testing.T) {
	ledger, db := setup(t)
	seedEvent(t, db, "evt-1", model.SourceHeuristic, model.NewHeuristicCandidate("Coffee", 0.8, ""))
	ctx := context.Background()

	_, err := ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionAccept, Label: "Coffee"})
	require.NoError(t, err)

	res, err := ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionUndo})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reverted)
	assert.Equal(t, "Coffee", res.Feedback.Label)
	assert.Equal(t, 0, db.MustStat(merchant, "Coffee").AcceptCount)

	flag := accepted(t, db, "evt-1")
	require.NotNil(t, flag)
	assert.True(t, *flag, "undo leaves the accepted flag alone")

	res, err = ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionUndo})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reverted)
	assert.Equal(t, 0, db.MustStat(merchant, "Coffee").AcceptCount)

	_, err = ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionUndo, Label: "Dining"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	history, err := ledger.History(ctx, "evt-1")
	require.NoError(t, err)
	actions := make([]model.FeedbackAction, len(history))
	for i, fb := range history {
		actions[i] = fb.Action
	}
	assert.Equal(t, []model.FeedbackAction{model.ActionAccept, model.ActionUndo, model.ActionUndo}, actions)
}

func TestLedger_UndoTargetsLatestAccept(t *testing.T) {
	ledger, db := setup(t)
	seedEvent(t, db, "evt-1", model.SourceHeuristic, model.NewHeuristicCandidate("Coffee", 0.8, ""))
	ctx := context.Background()

	for _, label := range []string{"Coffee", "Dining"} {
		_, err := ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionAccept, Label: label})
		require.NoError(t, err)
	}

	res, err := ledger.Record(ctx, Request{EventID: "evt-1", Action: model.ActionUndo})
	require.NoError(t, err)
	assert.Equal(t, "Dining", res.Feedback.Label)
	assert.Equal(t, 1, db.MustStat(merchant, "Coffee").AcceptCount)
	assert.Equal(t, 0, db.MustStat(merchant, "Dining").AcceptCount)
}

func TestLedger_RequestErrors(t *testing.T) {
	ledger, db := setup(t)
	seedEvent(t, db, "evt-1", model.SourceHeuristic)
	ctx := context.Background()
	tooSure := 1.5

	tests := []struct {
		want error
		name string
		req  Request
	}{
		{name: "unknown event", req: Request{EventID: "nope", Action: model.ActionAccept, Label: "X"}, want: common.ErrNotFound},
		{name: "missing event id", req: Request{Action: model.ActionAccept, Label: "X"}, want: common.ErrInvalidInput},
		{name: "unknown action", req: Request{EventID: "evt-1", Action: "maybe"}, want: common.ErrInvalidInput},
		{name: "accept without label", req: Request{EventID: "evt-1", Action: model.ActionAccept}, want: common.ErrInvalidInput},
		{name: "user confidence out of range", req: Request{EventID: "evt-1", Action: model.ActionAccept, Label: "X", UserConfidence: &tooSure}, want: common.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Record(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := ledger.History(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLedger_MerchantlessTransactionIsRefused(t *testing.T) {
	ledger, db := setup(t)
	ctx := context.Background()
	db.SeedTransactions(testutil.Transaction("txn-2", "12345 #99", -9.99))
	require.NoError(t, db.Storage.SaveSuggestionEvent(ctx, &model.SuggestionEvent{
		ID:            "evt-2",
		TxnID:         "txn-2",
		TenantID:      "tenant-a",
		Mode:          model.ModeHeuristic,
		RequestedMode: model.ModeAuto,
		Source:        model.SourceHeuristic,
		Candidates:    model.Candidates{},
	}))

	_, err := ledger.Record(ctx, Request{EventID: "evt-2", Action: model.ActionAccept, Label: "Fees"})
	require.ErrorIs(t, err, common.ErrInvalidState)

	stats, err := db.Storage.GetMerchantStats(ctx, "12345 #99")
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestLedger_PartialFitOnlyForAcceptedModelSuggestions(t *testing.T) {
	learner := &fakeLearner{}
	ledger, db := setup(t, WithLearner(learner))
	ctx := context.Background()

	seedEvent(t, db, "evt-model", model.SourceModel, model.NewModelCandidate("Coffee", 0.9, "m-1"))
	seedEvent(t, db, "evt-heur", model.SourceHeuristic, model.NewHeuristicCandidate("Coffee", 0.9, ""))
	seedEvent(t, db, "evt-rule", model.SourceRule, model.NewRuleCandidate("Coffee", "starbucks"))

	_, err := ledger.Record(ctx, Request{EventID: "evt-model", Action: model.ActionReject})
	require.NoError(t, err)
	_, err = ledger.Record(ctx, Request{EventID: "evt-heur", Action: model.ActionAccept, Label: "Coffee"})
	require.NoError(t, err)
	_, err = ledger.Record(ctx, Request{EventID: "evt-rule", Action: model.ActionAccept, Label: "Coffee"})
	require.NoError(t, err)
	assert.Empty(t, learner.calls)

	_, err = ledger.Record(ctx, Request{EventID: "evt-model", Action: model.ActionAccept, Label: "Dining"})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-model=Dining"}, learner.calls)
}

func TestLedger_PartialFitFailureKeepsFeedback(t *testing.T) {
	learner := &fakeLearner{err: errors.New("artifact store down")}
	ledger, db := setup(t, WithLearner(learner))
	seedEvent(t, db, "evt-model", model.SourceModel, model.NewModelCandidate("Coffee", 0.9, "m-1"))

	_, err := ledger.Record(context.Background(), Request{EventID: "evt-model", Action: model.ActionAccept, Label: "Coffee"})
	require.NoError(t, err)
	assert.Equal(t, 1, db.MustStat(merchant, "Coffee").AcceptCount)
	assert.Len(t, learner.calls, 1)
}

func TestLedger_ConcurrentAcceptsAreAllCounted(t *testing.T) {
	ledger, db := setup(t)
	const n = 25
	for i := 0; i < n; i++ {
		seedEvent(t, db, fmt.Sprintf("evt-%d", i), model.SourceHeuristic)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Record(context.Background(), Request{
				EventID: fmt.Sprintf("evt-%d", i), Action: model.ActionAccept, Label: "Coffee",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, db.MustStat(merchant, "Coffee").AcceptCount)
}

// flakyStore fails the first failures ledger writes with err.
type flakyStore struct {
	*storage.SQLiteStorage
	err      error
	failures int
	calls    int
}

func (f *flakyStore) ApplyFeedback(ctx context.Context, write service.FeedbackWrite) (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, f.err
	}
	return f.SQLiteStorage.ApplyFeedback(ctx, write)
}

func TestLedger_RetriesStorageOutage(t *testing.T) {
	fast := common.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	outage := fmt.Errorf("%w: database is locked", common.ErrStorageUnavailable)
	ctx := context.Background()

	t.Run("recovers", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		db.SeedTransactions(testutil.Transaction("txn-1", "STARBUCKS #1234 SEATTLE", -4.50))
		seedEvent(t, db, "evt-1", model.SourceHeuristic)
		store := &flakyStore{SQLiteStorage: db.Storage, err: outage, failures: 2}

		_, err := NewLedger(store, nil, WithRetry(fast)).Record(ctx, Request{EventID: "evt-1", Action: model.ActionAccept, Label: "Coffee"})
		require.NoError(t, err)
		assert.Equal(t, 3, store.calls)
		assert.Equal(t, 1, db.MustStat(merchant, "Coffee").AcceptCount)
	})

	t.Run("surfaces persistent outage", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		db.SeedTransactions(testutil.Transaction("txn-1", "STARBUCKS #1234 SEATTLE", -4.50))
		seedEvent(t, db, "evt-1", model.SourceHeuristic)
		store := &flakyStore{SQLiteStorage: db.Storage, err: outage, failures: 10}

		_, err := NewLedger(store, nil, WithRetry(fast)).Record(ctx, Request{EventID: "evt-1", Action: model.ActionAccept, Label: "Coffee"})
		assert.ErrorIs(t, err, common.ErrStorageUnavailable)
		assert.Equal(t, 3, store.calls)
	})

	t.Run("does not retry invalid state", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		db.SeedTransactions(testutil.Transaction("txn-1", "STARBUCKS #1234 SEATTLE", -4.50))
		seedEvent(t, db, "evt-1", model.SourceHeuristic)
		store := &flakyStore{SQLiteStorage: db.Storage, err: common.InvalidStatef("conflict"), failures: 10}

		_, err := NewLedger(store, nil, WithRetry(fast)).Record(ctx, Request{EventID: "evt-1", Action: model.ActionAccept, Label: "Coffee"})
		assert.ErrorIs(t, err, common.ErrInvalidState)
		assert.Equal(t, 1, store.calls)
	})
}
