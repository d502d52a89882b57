package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

func testTxn(name string, amount float64) model.Transaction {
	return model.Transaction{
		ID:     "txn-1",
		Name:   name,
		Amount: amount,
		Date:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func openTestStore(t *testing.T) *ArtifactStore {
	t.Helper()
	store, err := OpenArtifactStore(ArtifactOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestExtract_Deterministic(t *testing.T) {
	txn := testTxn("STARBUCKS #1234 SEATTLE", -4.50)

	a := Extract(txn, 1024)
	b := Extract(txn, 1024)
	assert.Equal(t, a, b)
	assert.Equal(t, FeatureHash(a), FeatureHash(b))

	for i := 1; i < len(a); i++ {
		assert.Less(t, a[i-1].Index, a[i].Index, "vector must be sorted without duplicates")
	}
	for _, f := range a {
		assert.Less(t, f.Index, 1024)
	}

	other := Extract(testTxn("STARBUCKS #1234 SEATTLE", 4.50), 1024)
	assert.NotEqual(t, FeatureHash(a), FeatureHash(other), "sign is part of the features")
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"amazon", "mktp", "us", "2k3"}, tokenize("AMAZON MKTP US*2K3 1234"))
	assert.Empty(t, tokenize("1234 5678"))
}

func TestAmountBucket(t *testing.T) {
	assert.Equal(t, "lt1", amountBucket(0.5))
	assert.Equal(t, "0", amountBucket(-4.5))
	assert.Equal(t, "2", amountBucket(123))
	assert.Equal(t, "zero", amountSign(0))
}

func TestSnapshot_FitIsCopyOnWrite(t *testing.T) {
	vec := Extract(testTxn("TARGET STORE", -30), 256)
	base := NewSnapshot("m-1", 256)

	next := base.Fit(vec, "Shopping", 0.5)
	assert.Empty(t, base.Classes, "fit must not mutate the receiver")
	assert.Equal(t, int64(0), base.Version)
	assert.Equal(t, []string{"Shopping"}, next.Classes)
	assert.Equal(t, int64(1), next.Version)

	next2 := next.Fit(vec, "Home", 0.5)
	require.Len(t, next.Classes, 1)
	require.Len(t, next2.Classes, 2)

	before := append([]float64(nil), next.Weights[0]...)
	_ = next2.Fit(vec, "Shopping", 0.5)
	assert.Equal(t, before, next.Weights[0])
}

func TestSnapshot_LearnsLabel(t *testing.T) {
	shopping := Extract(testTxn("TARGET STORE", -30), 256)
	coffee := Extract(testTxn("STARBUCKS COFFEE", -4), 256)

	snap := NewSnapshot("m-1", 256)
	for i := 0; i < 30; i++ {
		snap = snap.Fit(shopping, "Shopping", 0.3)
		snap = snap.Fit(coffee, "Coffee", 0.3)
	}

	preds := snap.Predict(shopping)
	require.Len(t, preds, 2)
	assert.Equal(t, "Shopping", preds[0].Class)
	assert.Greater(t, preds[0].Probability, 0.8)

	preds = snap.Predict(coffee)
	assert.Equal(t, "Coffee", preds[0].Class)

	var sum float64
	for _, p := range preds {
		sum += p.Probability
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestSnapshot_PredictTiesKeepClassOrder(t *testing.T) {
	snap := &Snapshot{
		ModelID:    "m",
		Dimensions: 8,
		Classes:    []string{"Zeta", "Alpha", "Beta"},
		Weights:    [][]float64{make([]float64, 8), make([]float64, 8), make([]float64, 8)},
		Bias:       []float64{0, 0, 0},
	}
	preds := snap.Predict(Vector{{Index: 1, Value: 1}})
	require.Len(t, preds, 3)
	assert.Equal(t, "Zeta", preds[0].Class)
	assert.Equal(t, "Alpha", preds[1].Class)
	assert.Equal(t, "Beta", preds[2].Class)

	assert.Nil(t, NewSnapshot("empty", 8).Predict(Vector{{Index: 1, Value: 1}}))
}

func TestArtifactStore_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	snap := NewSnapshot("m-1", 64).Fit(Extract(testTxn("TARGET", -5), 64), "Shopping", 0.1)
	uri, err := store.Save(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, "badger://models/m-1", uri)

	loaded, err := store.Load(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, snap.Classes, loaded.Classes)
	assert.Equal(t, snap.Weights, loaded.Weights)
	assert.Equal(t, snap.Version, loaded.Version)

	_, err = store.Load(ctx, "badger://models/missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = store.Load(ctx, "s3://bucket/m-1")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestService_ScoreAndUpdate(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store, 128)
	ctx := context.Background()

	txn := testTxn("TARGET STORE", -30)
	snap := NewSnapshot("m-1", 128).Fit(Extract(txn, 128), "Shopping", 0.5)
	uri, err := svc.Put(ctx, snap)
	require.NoError(t, err)
	entry := model.RegistryEntry{ModelID: "m-1", ArtifactURI: uri}

	res, err := svc.Score(ctx, entry, txn, 3)
	require.NoError(t, err)
	require.Len(t, res.Predictions, 1)
	assert.Equal(t, "Shopping", res.Predictions[0].Class)
	assert.Equal(t, FeatureHash(Extract(txn, 128)), res.FeaturesHash)

	updated, err := svc.Update(ctx, entry, func(s *Snapshot) (*Snapshot, error) {
		return s.Fit(Extract(txn, s.Dimensions), "Home", 0.5), nil
	})
	require.NoError(t, err)
	assert.Equal(t, snap.Version+1, updated.Version)

	res, err = svc.Score(ctx, entry, txn, 1)
	require.NoError(t, err)
	assert.Len(t, res.Predictions, 1)
	assert.Equal(t, updated.Version, res.Version)

	// The update was persisted.
	fresh := NewService(store, 128)
	res, err = fresh.Score(ctx, entry, txn, 5)
	require.NoError(t, err)
	assert.Len(t, res.Predictions, 2)
}

func TestService_ScoreUnknownModel(t *testing.T) {
	svc := NewService(openTestStore(t), 64)

	_, err := svc.Score(context.Background(),
		model.RegistryEntry{ModelID: "ghost", ArtifactURI: URIFor("ghost")}, testTxn("X", 1), 3)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestService_ScoreHonorsCancellation(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store, 64)
	uri, err := svc.Put(context.Background(), NewSnapshot("m-1", 64))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Score(ctx, model.RegistryEntry{ModelID: "m-1", ArtifactURI: uri}, testTxn("X", 1), 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_ConcurrentScoreDuringUpdate(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store, 64)
	ctx := context.Background()

	txn := testTxn("TARGET", -10)
	uri, err := svc.Put(ctx, NewSnapshot("m-1", 64).Fit(Extract(txn, 64), "Shopping", 0.1))
	require.NoError(t, err)
	entry := model.RegistryEntry{ModelID: "m-1", ArtifactURI: uri}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, scoreErr := svc.Score(ctx, entry, txn, 3)
			assert.NoError(t, scoreErr)
			if res != nil {
				var sum float64
				for _, p := range res.Predictions {
					sum += p.Probability
				}
				assert.InDelta(t, 1.0, sum, 1e-9)
			}
		}()
		go func() {
			defer wg.Done()
			_, updErr := svc.Update(ctx, entry, func(s *Snapshot) (*Snapshot, error) {
				return s.Fit(Extract(txn, s.Dimensions), "Shopping", 0.1), nil
			})
			assert.NoError(t, updErr)
		}()
	}
	wg.Wait()

	res, err := svc.Score(ctx, entry, txn, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Version)
}

func TestTrain_LearnsEveryLabel(t *testing.T) {
	shopping := Extract(testTxn("TARGET STORE", -30), 256)
	coffee := Extract(testTxn("STARBUCKS COFFEE", -4), 256)

	ticks := 0
	snap := Train("m-boot", 256, []Example{
		{Vector: shopping, Label: "Shopping"},
		{Vector: coffee, Label: "Coffee"},
	}, 20, 0.3, func() { ticks++ })

	assert.Equal(t, 20, ticks)
	assert.Equal(t, []string{"Shopping", "Coffee"}, snap.Classes)
	assert.Equal(t, int64(40), snap.Version)
	assert.Equal(t, "Shopping", snap.Predict(shopping)[0].Class)
	assert.Equal(t, "Coffee", snap.Predict(coffee)[0].Class)
}
