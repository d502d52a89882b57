// Package registry serves the model registry to the router from a versioned,
// immutable snapshot that writers replace atomically.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/metrics"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/service"
)

// Snapshot is a read-only view of registry state. Readers take one per request
// and never observe a partially applied write.
type Snapshot struct {
	LoadedAt  time.Time
	tenantPct map[string]int
	// entries are ordered newest first.
	entries []model.RegistryEntry
	Version uint64
}

// Entries returns a copy of all entries, newest first.
func (s *Snapshot) Entries() []model.RegistryEntry {
	return append([]model.RegistryEntry(nil), s.entries...)
}

// Active returns the newest entry in phase, or nil.
func (s *Snapshot) Active(phase model.ModelPhase) *model.RegistryEntry {
	for i := range s.entries {
		if s.entries[i].Phase == phase {
			entry := s.entries[i]
			return &entry
		}
	}
	return nil
}

// InPhase returns every entry in phase, newest first.
func (s *Snapshot) InPhase(phase model.ModelPhase) []model.RegistryEntry {
	var result []model.RegistryEntry
	for _, entry := range s.entries {
		if entry.Phase == phase {
			result = append(result, entry)
		}
	}
	return result
}

// EffectiveCanaryPct returns the tenant override, or defaultPct when the tenant
// has none.
func (s *Snapshot) EffectiveCanaryPct(tenantID string, defaultPct int) int {
	if pct, ok := s.tenantPct[tenantID]; ok {
		return pct
	}
	return defaultPct
}

// Registry wraps the registry store with a cached snapshot.
type Registry struct {
	store   service.RegistryStore
	metrics *metrics.Metrics
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	// writeMu serializes operator writes and the refresh that follows them.
	writeMu sync.Mutex
}

// New creates a registry and loads the first snapshot.
func New(ctx context.Context, store service.RegistryStore, m *metrics.Metrics) (*Registry, error) {
	r := &Registry{store: store, metrics: m}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Current returns the snapshot in effect.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Refresh reloads the snapshot from storage and publishes it. The version is
// taken before reading, so a refresh that read older rows than a concurrent one
// never replaces the newer snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	version := r.version.Add(1)

	entries, err := r.store.ListRegistryEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load registry entries: %w", err)
	}
	overrides, err := r.store.ListTenantOverrides(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tenant overrides: %w", err)
	}

	tenantPct := make(map[string]int, len(overrides))
	for _, o := range overrides {
		if o.CanaryPct != nil {
			tenantPct[o.TenantID] = *o.CanaryPct
		}
	}

	snap := &Snapshot{
		Version:   version,
		LoadedAt:  time.Now(),
		entries:   entries,
		tenantPct: tenantPct,
	}
	if !r.publish(snap) {
		slog.Debug("Discarded stale registry snapshot", "version", version, "current", r.Current().Version)
		return nil
	}
	r.metrics.RegistryVersion(snap.Version)
	return nil
}

// publish installs snap unless a newer snapshot is already current.
func (r *Registry) publish(snap *Snapshot) bool {
	for {
		cur := r.current.Load()
		if cur != nil && cur.Version > snap.Version {
			return false
		}
		if r.current.CompareAndSwap(cur, snap) {
			return true
		}
	}
}

// Run refreshes the snapshot every interval until ctx is done. Refresh
// failures keep the previous snapshot.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return common.InvalidInputf("registry refresh interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Registry refresh failed, serving previous snapshot",
					"error", err,
					"version", r.Current().Version)
			}
		}
	}
}

// Register records a model, defaulting to shadow phase. Registering a known
// model ID refreshes its artifact URI, commit and notes only.
func (r *Registry) Register(ctx context.Context, entry model.RegistryEntry) (*model.RegistryEntry, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	saved, err := r.store.UpsertRegistryEntry(ctx, &entry)
	if err != nil {
		return nil, err
	}

	slog.Info("Registered model",
		"model_id", saved.ModelID,
		"phase", saved.Phase,
		"artifact_uri", saved.ArtifactURI)

	r.refreshAfterWrite(ctx)
	return saved, nil
}

// SetPhase moves a model to phase. Going live while another model is live fails
// with common.ErrRegistryConflict.
func (r *Registry) SetPhase(ctx context.Context, modelID string, phase model.ModelPhase) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.store.SetModelPhase(ctx, modelID, phase); err != nil {
		return err
	}

	slog.Info("Model phase changed", "model_id", modelID, "phase", phase)
	r.refreshAfterWrite(ctx)
	return nil
}

// Demote returns a model to shadow.
func (r *Registry) Demote(ctx context.Context, modelID string) error {
	return r.SetPhase(ctx, modelID, model.PhaseShadow)
}

// GetActive returns the newest entry in phase from the current snapshot.
func (r *Registry) GetActive(phase model.ModelPhase) *model.RegistryEntry {
	return r.Current().Active(phase)
}

// Get returns one entry from storage.
func (r *Registry) Get(ctx context.Context, modelID string) (*model.RegistryEntry, error) {
	return r.store.GetRegistryEntry(ctx, modelID)
}

// List returns the entries of the current snapshot.
func (r *Registry) List() []model.RegistryEntry {
	return r.Current().Entries()
}

// SetTenantCanaryPct stores or clears (nil) a tenant override.
func (r *Registry) SetTenantCanaryPct(ctx context.Context, tenantID string, pct *int) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.store.SetTenantCanaryPct(ctx, tenantID, pct); err != nil {
		return err
	}
	r.refreshAfterWrite(ctx)
	return nil
}

// EffectiveCanaryPct resolves a tenant's canary percentage against defaultPct.
func (r *Registry) EffectiveCanaryPct(tenantID string, defaultPct int) int {
	return r.Current().EffectiveCanaryPct(tenantID, defaultPct)
}

// refreshAfterWrite publishes the committed write. A failed refresh is logged;
// the periodic refresh catches up.
func (r *Registry) refreshAfterWrite(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		slog.Warn("Registry refresh after write failed", "error", err)
	}
}
