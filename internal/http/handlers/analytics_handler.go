// Analytics HTTP handlers.
//
// This file exposes REST endpoints for daily adherence rollups:
//   - GET  /schedule/analytics            (range of stored rollups)
//   - GET  /schedule/analytics/{day}      (one stored rollup)
//   - POST /schedule/analytics/recompute  (recompute one day on demand)
//
// Days are addressed as "YYYY-MM-DD" in UTC.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/services"
)

const dayLayout = "2006-01-02"

// RecomputeRollupRequest is the JSON payload for recomputing one day.
type RecomputeRollupRequest struct {
	// Day is the UTC day as "YYYY-MM-DD"; defaults to today.
	Day string `json:"day"`
	// ConsistencyBonus is added to the completion rate before clamping.
	ConsistencyBonus float64 `json:"consistency_bonus"`
}

// RollupsResponse wraps a range of rollups.
type RollupsResponse struct {
	Rollups []domain.DailyRollup `json:"rollups"`
}

// ListRollups handles GET /schedule/analytics. The "from"/"to" query params
// ("YYYY-MM-DD") default to the last 7 days.
func (h *Handlers) ListRollups(c *gin.Context) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	to := now.AddDate(0, 0, 1)
	var err error
	if s := c.Query("from"); s != "" {
		if from, err = time.Parse(dayLayout, s); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from must be YYYY-MM-DD")
			return
		}
	}
	if s := c.Query("to"); s != "" {
		if to, err = time.Parse(dayLayout, s); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must be YYYY-MM-DD")
			return
		}
	}
	if !to.After(from) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must be after from")
		return
	}

	rollups, err := h.analytics.Range(c.Request.Context(), userID(c), from, to)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if rollups == nil {
		rollups = []domain.DailyRollup{}
	}
	ok(c, http.StatusOK, RollupsResponse{Rollups: rollups})
}

// GetRollup handles GET /schedule/analytics/{day}. It returns the stored
// rollup, or 404 when the day has not been rolled up yet.
func (h *Handlers) GetRollup(c *gin.Context) {
	day, err := time.Parse(dayLayout, c.Param("day"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "day must be YYYY-MM-DD")
		return
	}
	r, err := h.analytics.Get(c.Request.Context(), userID(c), day)
	if err != nil {
		if errors.Is(err, services.ErrItemNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no rollup for that day")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, r)
}

// RecomputeRollup handles POST /schedule/analytics/recompute. Recomputing is
// an upsert on (user, day): repeating the call with the same inputs leaves
// the same row.
func (h *Handlers) RecomputeRollup(c *gin.Context) {
	var req RecomputeRollupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	day := time.Now().UTC()
	if req.Day != "" {
		var err error
		if day, err = time.Parse(dayLayout, req.Day); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "day must be YYYY-MM-DD")
			return
		}
	}

	r, err := h.analytics.Rollup(c.Request.Context(), userID(c), day, req.ConsistencyBonus)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, r)
}
