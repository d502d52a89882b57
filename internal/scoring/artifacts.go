package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/Veraticus/spice-suggest/internal/common"
)

// URIScheme prefixes every artifact URI produced by the badger store.
const URIScheme = "badger://"

const modelKeyPrefix = "models/"

// ArtifactOptions configures the badger-backed artifact store.
type ArtifactOptions struct {
	Dir      string
	InMemory bool
}

// ArtifactStore persists model snapshots in BadgerDB, keyed by model ID.
type ArtifactStore struct {
	db *badger.DB
}

// OpenArtifactStore opens (or creates) the store.
func OpenArtifactStore(opts ArtifactOptions) (*ArtifactStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Model artifacts are small and rarely written.
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	return &ArtifactStore{db: db}, nil
}

// Close closes the store.
func (a *ArtifactStore) Close() error {
	return a.db.Close()
}

// URIFor returns the artifact URI of a model ID.
func URIFor(modelID string) string {
	return URIScheme + modelKeyPrefix + modelID
}

// Save writes the snapshot and returns its URI.
func (a *ArtifactStore) Save(ctx context.Context, snap *Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if snap == nil || snap.ModelID == "" {
		return "", common.InvalidInputf("snapshot must carry a model id")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := []byte(modelKeyPrefix + snap.ModelID)
	if err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return "", fmt.Errorf("failed to save artifact %s: %w", snap.ModelID, err)
	}

	return URIFor(snap.ModelID), nil
}

// Load reads the snapshot stored at uri.
func (a *ArtifactStore) Load(ctx context.Context, uri string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := keyFromURI(uri)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	err = a.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(key)
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			return common.NotFoundf("artifact %s", uri)
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}

	if len(snap.Weights) != len(snap.Classes) || len(snap.Bias) != len(snap.Classes) {
		return nil, fmt.Errorf("artifact %s is corrupt: %d classes, %d weight rows, %d biases",
			uri, len(snap.Classes), len(snap.Weights), len(snap.Bias))
	}
	return &snap, nil
}

func keyFromURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, URIScheme)
	if !ok || !strings.HasPrefix(rest, modelKeyPrefix) || len(rest) == len(modelKeyPrefix) {
		return nil, common.InvalidInputf("unsupported artifact uri %q", uri)
	}
	return []byte(rest), nil
}
