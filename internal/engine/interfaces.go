package engine

import (
	"context"
	"math/rand/v2"

	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/registry"
	"github.com/Veraticus/spice-suggest/internal/scoring"
	"github.com/Veraticus/spice-suggest/internal/service"
)

// Store is the slice of storage the router reads and writes.
type Store interface {
	service.TransactionStore
	service.RuleStore
	service.EventStore
	service.MerchantStore
}

// Scorer produces model predictions for a transaction.
type Scorer interface {
	Score(ctx context.Context, entry model.RegistryEntry, txn model.Transaction, topK int) (*scoring.Result, error)
}

// RegistryView hands out the current registry snapshot.
type RegistryView interface {
	Current() *registry.Snapshot
}

// RandSource draws canary buckets. IntN returns a value in [0, n).
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n)
}
