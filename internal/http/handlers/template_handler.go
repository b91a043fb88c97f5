// Template HTTP handlers.
//
// This file exposes REST endpoints for schedule templates:
//   - POST   /schedule/templates             (create)
//   - GET    /schedule/templates             (list)
//   - GET    /schedule/templates/{id}        (fetch)
//   - PUT    /schedule/templates/{id}        (update)
//   - DELETE /schedule/templates/{id}        (delete)
//   - POST   /schedule/templates/{id}/apply  (materialize into items)
//
// Apply is idempotent two ways: slot identity makes re-applying a window a
// no-op at the data level, and an optional Idempotency-Key lets clients
// safely retry the request itself without re-running materialization.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/http/middleware"
	"github.com/mindwell/go-scheduling-backend/internal/repo"
	"github.com/mindwell/go-scheduling-backend/internal/services"
)

// idempotencyTTL bounds how long a completed apply can be replayed.
const idempotencyTTL = 24 * time.Hour

// TemplateRequest is the JSON payload for creating or updating a template.
type TemplateRequest struct {
	Name        string                 `json:"name" binding:"required,min=1,max=100"`
	Description string                 `json:"description"`
	Cadence     string                 `json:"cadence" binding:"required"`
	Entries     domain.TemplateEntries `json:"entries" binding:"required"`
	IsActive    *bool                  `json:"is_active"`
}

// ApplyTemplateRequest is the JSON payload for materializing a template.
type ApplyTemplateRequest struct {
	From time.Time `json:"from" binding:"required"`
	To   time.Time `json:"to" binding:"required"`
}

// TemplatesResponse wraps the template list.
type TemplatesResponse struct {
	Templates []domain.ScheduleTemplate `json:"templates"`
}

// ApplyTemplateResponse reports the items created by one apply.
type ApplyTemplateResponse struct {
	CreatedItems []domain.ScheduleItem `json:"created_items"`
	// Replayed is true when an Idempotency-Key matched a completed apply and
	// materialization was skipped.
	Replayed bool `json:"replayed,omitempty"`
}

// CreateTemplate handles POST /schedule/templates.
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	t := &domain.ScheduleTemplate{
		Name:        req.Name,
		Description: req.Description,
		Cadence:     domain.TemplateCadence(req.Cadence),
		Entries:     req.Entries,
	}
	created, err := h.templateSvc.Create(c.Request.Context(), userID(c), t)
	if err != nil {
		if failValidation(c, err) {
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, created)
}

// ListTemplates handles GET /schedule/templates.
func (h *Handlers) ListTemplates(c *gin.Context) {
	ts, err := h.templateSvc.List(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if ts == nil {
		ts = []domain.ScheduleTemplate{}
	}
	ok(c, http.StatusOK, TemplatesResponse{Templates: ts})
}

// GetTemplate handles GET /schedule/templates/{id}.
func (h *Handlers) GetTemplate(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "template id must be a UUID")
		return
	}
	t, err := h.templateSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "template not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, t)
}

// UpdateTemplate handles PUT /schedule/templates/{id}.
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "template id must be a UUID")
		return
	}
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	upd := &domain.ScheduleTemplate{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Cadence:     domain.TemplateCadence(req.Cadence),
		Entries:     req.Entries,
		IsActive:    active,
	}
	t, err := h.templateSvc.Update(c.Request.Context(), userID(c), upd)
	if err != nil {
		switch {
		case failValidation(c, err):
		case errors.Is(err, services.ErrTemplateNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "template not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /schedule/templates/{id}. Items already
// materialized from the template are kept.
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "template id must be a UUID")
		return
	}
	if err := h.templateSvc.Delete(c.Request.Context(), userID(c), id); err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "template not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ApplyTemplate handles POST /schedule/templates/{id}/apply. When the
// request carries an Idempotency-Key that matches a completed apply, the
// materialization is skipped and an empty replay response is returned.
func (h *Handlers) ApplyTemplate(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "template id must be a UUID")
		return
	}
	var req ApplyTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if !req.To.After(req.From) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must be after from")
		return
	}

	// Idempotency replay short-circuit. Slot identity would make the re-apply
	// a data-level no-op anyway; this skips the work entirely.
	key, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey && h.db != nil {
		if _, err := repo.GetIdempotency(ctx, h.db, uid, id, key, time.Now().UTC()); err == nil {
			ok(c, http.StatusOK, ApplyTemplateResponse{CreatedItems: []domain.ScheduleItem{}, Replayed: true})
			return
		}
	}

	created, err := h.templateSvc.Apply(ctx, uid, id, req.From.UTC(), req.To.UTC())
	if err != nil {
		switch {
		case failValidation(c, err):
		case errors.Is(err, services.ErrTemplateNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "template not found or inactive")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	if hasKey && h.db != nil {
		// Best effort: losing the record only means a retry re-runs the
		// (idempotent) apply.
		_, _ = repo.CreateIdempotency(ctx, h.db, uid, id, key, id, http.StatusOK, idempotencyTTL)
	}

	ok(c, http.StatusOK, ApplyTemplateResponse{CreatedItems: created})
}
