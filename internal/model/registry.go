package model

import "time"

// ModelPhase is the lifecycle phase of a registered model.
type ModelPhase string

// Model phase constants.
const (
	PhaseShadow ModelPhase = "shadow"
	PhaseCanary ModelPhase = "canary"
	PhaseLive   ModelPhase = "live"
)

// Valid reports whether p is a known phase.
func (p ModelPhase) Valid() bool {
	switch p {
	case PhaseShadow, PhaseCanary, PhaseLive:
		return true
	}
	return false
}

// RegistryEntry describes one deployed model.
type RegistryEntry struct {
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ModelID     string     `json:"model_id"`
	Phase       ModelPhase `json:"phase"`
	CommitSHA   string     `json:"commit_sha,omitempty"`
	ArtifactURI string     `json:"artifact_uri"`
	Notes       string     `json:"notes,omitempty"`
}

// TenantCanaryOverride overrides the process-wide canary percentage for one tenant.
// A nil CanaryPct means the tenant follows the default.
type TenantCanaryOverride struct {
	UpdatedAt time.Time `json:"updated_at"`
	CanaryPct *int      `json:"suggest_canary_pct"`
	TenantID  string    `json:"tenant_id"`
}
