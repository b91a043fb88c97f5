// Conflict HTTP handlers.
//
// This file exposes REST endpoints for schedule conflicts:
//   - GET  /schedule/conflicts               (list, ETag support)
//   - POST /schedule/conflicts/recompute     (re-run detection)
//   - POST /schedule/conflicts/{id}/resolve  (settle as resolved/ignored)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/http/middleware"
	"github.com/mindwell/go-scheduling-backend/internal/repo"
	"github.com/mindwell/go-scheduling-backend/internal/services"
)

// ResolveConflictRequest is the JSON payload for settling a conflict.
type ResolveConflictRequest struct {
	// Status must be "resolved" or "ignored".
	Status string `json:"status" binding:"required"`
	// Action names what the user did (e.g. "rescheduled_item_b").
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

// ConflictsResponse wraps the conflict list.
type ConflictsResponse struct {
	Conflicts []domain.Conflict `json:"conflicts"`
}

// ListConflicts handles GET /schedule/conflicts. The optional "status" query
// filters by resolution status. Supports weak ETags via If-None-Match.
func (h *Handlers) ListConflicts(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	status := domain.ResolutionStatus(c.Query("status"))
	switch status {
	case "", domain.ResolutionUnresolved, domain.ResolutionResolved, domain.ResolutionIgnored:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown resolution status")
		return
	}

	// ETag pre-check (best effort).
	if h.db != nil {
		count, maxTS, err := repo.ConflictsStats(ctx, h.db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"conflicts:%s:%s:%d:%d"`, uid, status, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	conflicts, err := h.conflictSvc.List(ctx, uid, status)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if conflicts == nil {
		conflicts = []domain.Conflict{}
	}
	ok(c, http.StatusOK, ConflictsResponse{Conflicts: conflicts})
}

// RecomputeConflicts handles POST /schedule/conflicts/recompute. It re-runs
// detection over the user's active items and returns the new unresolved set.
// Recomputing without schedule changes is idempotent.
func (h *Handlers) RecomputeConflicts(c *gin.Context) {
	conflicts, err := h.conflictSvc.Recompute(c.Request.Context(), userID(c))
	if err != nil {
		middleware.ObserveConflictRecompute("error")
		fail(c, http.StatusInternalServerError, ErrCodeDetectionFailed, err.Error())
		return
	}
	middleware.ObserveConflictRecompute("ok")
	if conflicts == nil {
		conflicts = []domain.Conflict{}
	}
	ok(c, http.StatusOK, ConflictsResponse{Conflicts: conflicts})
}

// ResolveConflict handles POST /schedule/conflicts/{id}/resolve. Only
// unresolved conflicts can be settled; settling twice yields 404.
func (h *Handlers) ResolveConflict(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conflict id must be a UUID")
		return
	}
	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	status := domain.ResolutionStatus(req.Status)
	if status != domain.ResolutionResolved && status != domain.ResolutionIgnored {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, `status must be "resolved" or "ignored"`)
		return
	}

	err := h.conflictSvc.Resolve(c.Request.Context(), userID(c), id, status, req.Action, req.Notes)
	if err != nil {
		if errors.Is(err, services.ErrConflictNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conflict not found or already settled")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
