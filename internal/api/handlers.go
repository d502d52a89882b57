package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/spice-suggest/internal/engine"
	"github.com/Veraticus/spice-suggest/internal/feedback"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// SuggestRequest is the body of POST /api/v1/suggestions.
type SuggestRequest struct {
	TxnID         string `json:"txn_id" binding:"required"`
	TenantID      string `json:"tenant_id"`
	Mode          string `json:"mode"`
	LowConfidence string `json:"low_confidence"`
	StickyKey     string `json:"sticky_key"`
	TopK          int    `json:"top_k" binding:"gte=0"`
}

// SuggestResponse is one recorded suggestion event.
type SuggestResponse struct {
	EventID       string                `json:"event_id"`
	TxnID         string                `json:"txn_id"`
	TenantID      string                `json:"tenant_id"`
	Mode          model.SuggestionMode  `json:"mode"`
	RequestedMode model.SuggestionMode  `json:"requested_mode"`
	Source        model.CandidateSource `json:"source"`
	ModelID       string                `json:"model_id,omitempty"`
	FeaturesHash  string                `json:"features_hash,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	DegradedCause string                `json:"degraded_cause,omitempty"`
	Candidates    model.Candidates      `json:"candidates"`
	Degraded      bool                  `json:"degraded"`
}

func toSuggestResponse(resp *engine.Response) SuggestResponse {
	candidates := resp.Candidates
	if candidates == nil {
		candidates = model.Candidates{}
	}
	return SuggestResponse{
		EventID:       resp.EventID,
		TxnID:         resp.TxnID,
		TenantID:      resp.TenantID,
		Mode:          resp.Mode,
		RequestedMode: resp.RequestedMode,
		Source:        resp.Source,
		ModelID:       resp.ModelID,
		FeaturesHash:  resp.FeaturesHash,
		Reason:        string(resp.Reason),
		DegradedCause: string(resp.Cause),
		Candidates:    candidates,
		Degraded:      resp.Degraded(),
	}
}

func (s *Server) handleSuggest(c *gin.Context) {
	var req SuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.deps.Suggester.Suggest(c.Request.Context(), engine.Request{
		TxnID:         req.TxnID,
		TenantID:      req.TenantID,
		Mode:          model.SuggestionMode(req.Mode),
		LowConfidence: engine.LowConfidencePolicy(req.LowConfidence),
		StickyKey:     req.StickyKey,
		TopK:          req.TopK,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSuggestResponse(resp))
}

// BatchRequest is the body of POST /api/v1/suggestions/batch.
type BatchRequest struct {
	TenantID string   `json:"tenant_id"`
	Mode     string   `json:"mode"`
	TxnIDs   []string `json:"txn_ids" binding:"required,min=1,max=500"`
	TopK     int      `json:"top_k" binding:"gte=0"`
}

// BatchItem is the outcome for one transaction of a batch.
type BatchItem struct {
	Suggestion *SuggestResponse `json:"suggestion,omitempty"`
	TxnID      string           `json:"txn_id"`
	Error      string           `json:"error,omitempty"`
}

// BatchResponse answers a batch request in request order.
type BatchResponse struct {
	Items     []BatchItem `json:"items"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Degraded  int         `json:"degraded"`
	Failed    int         `json:"failed"`
}

func (s *Server) handleSuggestBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, ok := model.ParseMode(req.Mode); !ok {
		badRequest(c, fmt.Errorf("unknown suggestion mode %q", req.Mode))
		return
	}

	reqs := make([]engine.Request, len(req.TxnIDs))
	for i, id := range req.TxnIDs {
		reqs[i] = engine.Request{
			TxnID:    id,
			TenantID: req.TenantID,
			Mode:     model.SuggestionMode(req.Mode),
			TopK:     req.TopK,
		}
	}

	start := time.Now()
	results := s.deps.Suggester.SuggestBatch(c.Request.Context(), reqs, nil)
	summary := engine.Summarize(results, time.Since(start))

	out := BatchResponse{
		Items:     make([]BatchItem, len(results)),
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Degraded:  summary.Degraded,
		Failed:    summary.Failed,
	}
	for i, res := range results {
		item := BatchItem{TxnID: req.TxnIDs[res.Index]}
		if res.Err != nil {
			item.Error = res.Err.Error()
		} else {
			sr := toSuggestResponse(res.Response)
			item.Suggestion = &sr
		}
		out.Items[i] = item
	}
	c.JSON(http.StatusOK, out)
}

// FeedbackRequest is the body of POST /api/v1/feedback.
type FeedbackRequest struct {
	UserConfidence *float64 `json:"user_confidence"`
	EventID        string   `json:"event_id" binding:"required"`
	Action         string   `json:"action" binding:"required"`
	Label          string   `json:"label"`
	Reason         string   `json:"reason"`
}

// FeedbackResponse acknowledges a recorded submission.
type FeedbackResponse struct {
	FeedbackID string `json:"feedback_id"`
	Label      string `json:"label"`
	OK         bool   `json:"ok"`
	Reverted   int    `json:"reverted"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.deps.Ledger.Record(c.Request.Context(), feedback.Request{
		UserConfidence: req.UserConfidence,
		EventID:        req.EventID,
		Action:         model.FeedbackAction(req.Action),
		Label:          req.Label,
		Reason:         req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, FeedbackResponse{
		FeedbackID: res.Feedback.ID,
		Label:      res.Feedback.Label,
		OK:         true,
		Reverted:   res.Reverted,
	})
}

func (s *Server) handleFeedbackHistory(c *gin.Context) {
	history, err := s.deps.Ledger.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if history == nil {
		history = []model.Feedback{}
	}
	c.JSON(http.StatusOK, gin.H{"event_id": c.Param("id"), "feedback": history})
}

func (s *Server) handleListModels(c *gin.Context) {
	models := s.deps.Registry.List()
	if models == nil {
		models = []model.RegistryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// RegisterModelRequest is the body of POST /api/v1/models.
type RegisterModelRequest struct {
	ModelID     string `json:"model_id" binding:"required"`
	ArtifactURI string `json:"artifact_uri" binding:"required"`
	CommitSHA   string `json:"commit_sha"`
	Notes       string `json:"notes"`
}

func (s *Server) handleRegisterModel(c *gin.Context) {
	var req RegisterModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := s.deps.Registry.Register(c.Request.Context(), model.RegistryEntry{
		ModelID:     req.ModelID,
		ArtifactURI: req.ArtifactURI,
		CommitSHA:   req.CommitSHA,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// PhaseRequest is the body of PUT /api/v1/models/:id/phase.
type PhaseRequest struct {
	Phase string `json:"phase" binding:"required"`
}

func (s *Server) handleSetPhase(c *gin.Context) {
	var req PhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	phase := model.ModelPhase(req.Phase)
	if !phase.Valid() {
		badRequest(c, fmt.Errorf("unknown phase %q", req.Phase))
		return
	}

	if err := s.deps.Registry.SetPhase(c.Request.Context(), c.Param("id"), phase); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model_id": c.Param("id"), "phase": phase})
}

// CanaryRequest is the body of PUT /api/v1/tenants/:id/canary. A null pct
// clears the override.
type CanaryRequest struct {
	Pct *int `json:"pct"`
}

func (s *Server) handleTenantCanary(c *gin.Context) {
	var req CanaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Pct != nil && (*req.Pct < 0 || *req.Pct > 100) {
		badRequest(c, fmt.Errorf("pct must be between 0 and 100, got %d", *req.Pct))
		return
	}

	tenant := c.Param("id")
	if err := s.deps.Registry.SetTenantCanaryPct(c.Request.Context(), tenant, req.Pct); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenant, "pct": req.Pct})
}

func (s *Server) handlePromote(c *gin.Context) {
	summary, err := s.deps.Promoter.Promote(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	promoted := summary.Promoted
	if promoted == nil {
		promoted = []model.MerchantCategoryHint{}
	}
	c.JSON(http.StatusOK, gin.H{
		"promoted":          promoted,
		"merchants_scanned": summary.MerchantsScanned,
		"duration_ms":       summary.Duration.Milliseconds(),
	})
}
