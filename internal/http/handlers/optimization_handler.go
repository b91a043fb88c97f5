// Optimization HTTP handlers.
//
// This file exposes REST endpoints for the optimization candidate lifecycle:
//   - POST /schedule/optimize                        (propose a candidate)
//   - GET  /schedule/optimizations                   (list candidates)
//   - GET  /schedule/optimizations/{id}              (fetch one)
//   - POST /schedule/optimizations/{id}/apply        (commit to the schedule)
//   - POST /schedule/optimizations/{id}/feedback     (record feedback)
//
// Propose calls the external recommender and is the most expensive endpoint
// in the API; it sits behind the shared rate limiter.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/http/middleware"
	"github.com/mindwell/go-scheduling-backend/internal/services"
	"github.com/mindwell/go-scheduling-backend/internal/utils"
)

// ProposeRequest is the JSON payload for requesting a new candidate.
type ProposeRequest struct {
	// Type selects the optimization strategy.
	Type string `json:"type" binding:"required"`
	// Preferences is free-form guidance forwarded to the recommender.
	Preferences string `json:"preferences"`
}

// CandidateFeedbackRequest is the JSON payload for recording feedback.
type CandidateFeedbackRequest struct {
	Feedback string `json:"feedback" binding:"required,min=1,max=500"`
	// EffectivenessScore is the observed [0,100] outcome, when known.
	EffectivenessScore *float64 `json:"effectiveness_score"`
}

// CandidatesResponse wraps the candidate list.
type CandidatesResponse struct {
	Candidates []domain.OptimizationCandidate `json:"candidates"`
}

// rejectedResponse shapes the 422 body for a rejected proposal, carrying the
// offending conflicts when detection caused the rejection.
type rejectedResponse struct {
	ErrorResponse
	NewCriticalConflicts []domain.Conflict `json:"new_critical_conflicts,omitempty"`
}

// ProposeOptimization handles POST /schedule/optimize. On success it returns
// 201 with the persisted candidate. A proposal that would introduce new
// critical conflicts is rejected with 422 and the offending pairs; a
// recommender failure yields 502.
func (h *Handlers) ProposeOptimization(c *gin.Context) {
	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	typ := domain.OptimizationType(req.Type)
	if !typ.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown optimization type")
		return
	}

	cand, err := h.optimizeSvc.Propose(c.Request.Context(), userID(c), typ, req.Preferences)
	if err != nil {
		var rej *services.OptimizationRejectedError
		switch {
		case errors.As(err, &rej):
			middleware.ObserveOptimization("propose", "rejected")
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, rejectedResponse{
				ErrorResponse: ErrorResponse{
					RequestID: c.Writer.Header().Get("X-Request-ID"),
					Code:      ErrCodeOptimizationRejected,
					Message:   rej.Error(),
				},
				NewCriticalConflicts: rej.Conflicts,
			})
		case errors.Is(err, services.ErrOptimizationRejected):
			middleware.ObserveOptimization("propose", "rejected")
			fail(c, http.StatusUnprocessableEntity, ErrCodeOptimizationRejected, err.Error())
		case errors.Is(err, services.ErrRecommenderUnavailable):
			middleware.ObserveOptimization("propose", "error")
			fail(c, http.StatusBadGateway, ErrCodeRecommenderUnavailable, "recommender unavailable; try again later")
		default:
			middleware.ObserveOptimization("propose", "error")
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	middleware.ObserveOptimization("propose", "ok")
	ok(c, http.StatusCreated, cand)
}

// ListCandidates handles GET /schedule/optimizations. The optional "limit"
// query caps the result (default 20, max 100).
func (h *Handlers) ListCandidates(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 20)
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	cands, err := h.optimizeSvc.List(c.Request.Context(), userID(c), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if cands == nil {
		cands = []domain.OptimizationCandidate{}
	}
	ok(c, http.StatusOK, CandidatesResponse{Candidates: cands})
}

// GetCandidate handles GET /schedule/optimizations/{id}.
func (h *Handlers) GetCandidate(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "candidate id must be a UUID")
		return
	}
	cand, err := h.optimizeSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrCandidateNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "optimization candidate not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, cand)
}

// ApplyCandidate handles POST /schedule/optimizations/{id}/apply. The apply
// is all-or-nothing: a schedule that diverged from the candidate's base
// state yields 409 stale_schedule and nothing changes; an already applied
// candidate yields 409 conflict.
func (h *Handlers) ApplyCandidate(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "candidate id must be a UUID")
		return
	}

	cand, err := h.optimizeSvc.Apply(c.Request.Context(), userID(c), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCandidateNotFound):
			middleware.ObserveOptimization("apply", "error")
			fail(c, http.StatusNotFound, ErrCodeNotFound, "optimization candidate not found")
		case errors.Is(err, services.ErrCandidateApplied):
			middleware.ObserveOptimization("apply", "error")
			fail(c, http.StatusConflict, ErrCodeConflict, "candidate already applied")
		case errors.Is(err, services.ErrStaleSchedule):
			middleware.ObserveOptimization("apply", "stale")
			fail(c, http.StatusConflict, ErrCodeStaleSchedule, "schedule changed since candidate was computed; request a new proposal")
		default:
			middleware.ObserveOptimization("apply", "error")
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	middleware.ObserveOptimization("apply", "ok")
	ok(c, http.StatusOK, cand)
}

// CandidateFeedback handles POST /schedule/optimizations/{id}/feedback.
func (h *Handlers) CandidateFeedback(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "candidate id must be a UUID")
		return
	}
	var req CandidateFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "feedback required (1-500 chars)")
		return
	}

	err := h.optimizeSvc.RecordFeedback(c.Request.Context(), userID(c), id, req.Feedback, req.EffectivenessScore)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCandidateNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "optimization candidate not found")
		case errors.Is(err, services.ErrOptimizationRejected):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "effectiveness score must be 0-100")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}
