// Schedule item HTTP handlers.
//
// This file exposes REST endpoints for schedule item resources:
//   - POST   /schedule/items                  (create)
//   - GET    /schedule/items                  (list, paginated, ETag support)
//   - GET    /schedule/items/{id}             (fetch)
//   - PUT    /schedule/items/{id}             (update)
//   - DELETE /schedule/items/{id}             (delete)
//   - POST   /schedule/items/{id}/complete    (mark completed)
//   - GET    /schedule/items/{id}/occurrences (expand recurrence)
//   - GET    /schedule/agenda                 (merged occurrences)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses (including conditional
// responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/recurrence"
	"github.com/mindwell/go-scheduling-backend/internal/repo"
	"github.com/mindwell/go-scheduling-backend/internal/services"
	"github.com/mindwell/go-scheduling-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ScheduleService defines item lifecycle operations consumed by HTTP handlers.
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type ScheduleService interface {
	// Create validates and inserts a new item for userID.
	Create(ctx context.Context, userID string, item *domain.ScheduleItem) (*domain.ScheduleItem, error)
	// Get returns one item owned by userID.
	Get(ctx context.Context, userID, id string) (*domain.ScheduleItem, error)
	// ListPage returns a filtered page of items and the total count.
	ListPage(ctx context.Context, userID string, typ domain.ScheduleType, until time.Time, page, pageSize int) ([]domain.ScheduleItem, int64, error)
	// Update applies the mutable fields of the given item.
	Update(ctx context.Context, userID string, upd *domain.ScheduleItem) (*domain.ScheduleItem, error)
	// Complete marks an item completed with the optional details.
	Complete(ctx context.Context, userID, id string, notes string, rating *int, moodBefore, moodAfter string, actualMinutes *int) (*domain.ScheduleItem, error)
	// Delete removes an item.
	Delete(ctx context.Context, userID, id string) error
	// Occurrences expands one item's recurrence inside [from, to).
	Occurrences(ctx context.Context, userID, id string, from, to time.Time) ([]recurrence.Occurrence, error)
	// Agenda expands every active item inside [from, to), merged and sorted.
	Agenda(ctx context.Context, userID string, from, to time.Time) ([]recurrence.Occurrence, error)
}

// ConflictService defines conflict lifecycle operations consumed by handlers.
type ConflictService interface {
	// Recompute re-runs detection and returns the new unresolved set.
	Recompute(ctx context.Context, userID string) ([]domain.Conflict, error)
	// List returns conflicts, optionally filtered by resolution status.
	List(ctx context.Context, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error)
	// Resolve settles a conflict as resolved or ignored.
	Resolve(ctx context.Context, userID, id string, status domain.ResolutionStatus, action, notes string) error
}

// AnalyticsService defines adherence rollup operations consumed by handlers.
type AnalyticsService interface {
	// Rollup recomputes and stores the rollup for one day.
	Rollup(ctx context.Context, userID string, day time.Time, consistencyBonus float64) (*domain.DailyRollup, error)
	// Get returns the stored rollup for one day.
	Get(ctx context.Context, userID string, day time.Time) (*domain.DailyRollup, error)
	// Range returns stored rollups for days in [from, to).
	Range(ctx context.Context, userID string, from, to time.Time) ([]domain.DailyRollup, error)
}

// OptimizationService defines candidate lifecycle operations consumed by
// handlers.
type OptimizationService interface {
	// Propose computes and persists a new optimization candidate.
	Propose(ctx context.Context, userID string, typ domain.OptimizationType, preferences string) (*domain.OptimizationCandidate, error)
	// Apply commits a candidate's moves to the live schedule.
	Apply(ctx context.Context, userID, candidateID string) (*domain.OptimizationCandidate, error)
	// Get returns one candidate.
	Get(ctx context.Context, userID, id string) (*domain.OptimizationCandidate, error)
	// List returns candidates, newest first.
	List(ctx context.Context, userID string, limit int) ([]domain.OptimizationCandidate, error)
	// RecordFeedback stores feedback and an optional effectiveness score.
	RecordFeedback(ctx context.Context, userID, id, feedback string, effectiveness *float64) error
}

// TemplateService defines template lifecycle operations consumed by handlers.
type TemplateService interface {
	// Create validates and inserts a new template.
	Create(ctx context.Context, userID string, t *domain.ScheduleTemplate) (*domain.ScheduleTemplate, error)
	// Get returns one template.
	Get(ctx context.Context, userID, id string) (*domain.ScheduleTemplate, error)
	// List returns the user's templates.
	List(ctx context.Context, userID string) ([]domain.ScheduleTemplate, error)
	// Update applies the mutable fields of the given template.
	Update(ctx context.Context, userID string, upd *domain.ScheduleTemplate) (*domain.ScheduleTemplate, error)
	// Delete removes a template.
	Delete(ctx context.Context, userID, id string) error
	// Apply materializes the template into items over [from, to).
	Apply(ctx context.Context, userID, templateID string, from, to time.Time) ([]domain.ScheduleItem, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for schedule items, conflicts,
// analytics, optimization, and templates. It depends on abstract service
// interfaces to keep transport concerns separate from business logic. DB is
// used only for cheap aggregate queries backing conditional responses and
// idempotency records.
type Handlers struct {
	db          *gorm.DB
	scheduleSvc ScheduleService
	conflictSvc ConflictService
	analytics   AnalyticsService
	optimizeSvc OptimizationService
	templateSvc TemplateService
}

// New constructs a Handlers instance bound to the given services.
func New(db *gorm.DB, scheduleSvc ScheduleService, conflictSvc ConflictService, analytics AnalyticsService, optimizeSvc OptimizationService, templateSvc TemplateService) *Handlers {
	return &Handlers{
		db:          db,
		scheduleSvc: scheduleSvc,
		conflictSvc: conflictSvc,
		analytics:   analytics,
		optimizeSvc: optimizeSvc,
		templateSvc: templateSvc,
	}
}

// userID extracts the authenticated user id from Gin context (set by
// upstream middleware). If absent, it falls back to the "X-User-ID" header
// (tests use it), and finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// ItemRequest is the JSON payload for creating or updating a schedule item.
type ItemRequest struct {
	Type        string                `json:"type" binding:"required"`
	Title       string                `json:"title" binding:"required,min=1,max=200"`
	Description string                `json:"description"`
	StartTime   time.Time             `json:"start_time" binding:"required"`
	Duration    int                   `json:"duration" binding:"required"`
	Recurrence  domain.RecurrenceRule `json:"recurrence"`
	Priority    string                `json:"priority"`
	IsActive    *bool                 `json:"is_active"`
	// Version guards updates; ignored on create.
	Version int `json:"version"`
}

// CompleteItemRequest is the JSON payload for marking an item completed.
type CompleteItemRequest struct {
	Notes               string `json:"notes"`
	EffectivenessRating *int   `json:"effectiveness_rating"`
	MoodBefore          string `json:"mood_before"`
	MoodAfter           string `json:"mood_after"`
	ActualDuration      *int   `json:"actual_duration"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListItemsResponse wraps a page of items and pagination information.
type ListItemsResponse struct {
	Items      []domain.ScheduleItem `json:"items"`
	Pagination Pagination            `json:"pagination"`
}

// OccurrencesResponse wraps expanded occurrences and their window.
type OccurrencesResponse struct {
	From        time.Time               `json:"from"`
	To          time.Time               `json:"to"`
	Occurrences []recurrence.Occurrence `json:"occurrences"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// parseWindow reads "from" and "to" RFC3339 query params. A missing from
// defaults to now; a missing to defaults to from+7d.
func parseWindow(c *gin.Context) (from, to time.Time, err error) {
	now := time.Now().UTC()
	from = now
	if s := c.Query("from"); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, fmt.Errorf("from must be RFC3339")
		}
	}
	to = from.AddDate(0, 0, 7)
	if s := c.Query("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, fmt.Errorf("to must be RFC3339")
		}
	}
	if !to.After(from) {
		return from, to, fmt.Errorf("to must be after from")
	}
	return from.UTC(), to.UTC(), nil
}

// validationMessage unwraps the detail text joined onto a domain validation
// error for the client-facing message.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = msg[i+1:]
	}
	return msg
}

// failValidation maps domain validation errors to 400/422 responses and
// reports whether it handled the error.
func failValidation(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, domain.ErrInvalidRecurrenceRule):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidRecurrence, validationMessage(err))
		return true
	case errors.Is(err, domain.ErrInvalidScheduleItem):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidItem, validationMessage(err))
		return true
	}
	return false
}

//
// Handlers
//

// CreateItem handles POST /schedule/items. It validates the payload, creates
// the item for the current user, and returns 201 with the stored resource.
// Validation failures yield 422 with a domain-specific code.
func (h *Handlers) CreateItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	item := &domain.ScheduleItem{
		Type:        domain.ScheduleType(req.Type),
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime.UTC(),
		Duration:    req.Duration,
		Recurrence:  req.Recurrence,
		Priority:    domain.Priority(req.Priority),
	}
	created, err := h.scheduleSvc.Create(c.Request.Context(), userID(c), item)
	if err != nil {
		if failValidation(c, err) {
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, created)
}

// ListItems handles GET /schedule/items. It returns a page of the user's
// items, optionally filtered by type and an upper start-time bound ("until",
// RFC3339, or "days_ahead" relative to now; "until" wins when both are
// given). Supports weak ETags via If-None-Match and may return 304.
func (h *Handlers) ListItems(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	typ := domain.ScheduleType(c.Query("type"))
	if typ != "" && !typ.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown schedule type")
		return
	}
	var until time.Time
	if s := c.Query("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "until must be RFC3339")
			return
		}
		until = t.UTC()
	} else if s := c.Query("days_ahead"); s != "" {
		days := utils.AtoiDefault(s, -1)
		if days < 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "days_ahead must be a non-negative integer")
			return
		}
		until = time.Now().UTC().AddDate(0, 0, days)
	}

	// ETag pre-check (best effort).
	if h.db != nil {
		count, maxTS, err := repo.ItemsStats(ctx, h.db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"items:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.scheduleSvc.ListPage(ctx, uid, typ, until, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListItemsResponse{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetItem handles GET /schedule/items/{id}.
func (h *Handlers) GetItem(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	item, err := h.scheduleSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrItemNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "schedule item not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, item)
}

// UpdateItem handles PUT /schedule/items/{id}. The request's version must
// match the stored item or the update fails with 409 stale_schedule.
func (h *Handlers) UpdateItem(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	upd := &domain.ScheduleItem{
		ID:          id,
		Type:        domain.ScheduleType(req.Type),
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime.UTC(),
		Duration:    req.Duration,
		Recurrence:  req.Recurrence,
		Priority:    domain.Priority(req.Priority),
		IsActive:    active,
		Version:     req.Version,
	}
	item, err := h.scheduleSvc.Update(c.Request.Context(), userID(c), upd)
	if err != nil {
		switch {
		case failValidation(c, err):
		case errors.Is(err, services.ErrItemNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "schedule item not found")
		case errors.Is(err, services.ErrStaleSchedule):
			fail(c, http.StatusConflict, ErrCodeStaleSchedule, "item changed concurrently; reload and retry")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, item)
}

// DeleteItem handles DELETE /schedule/items/{id}.
func (h *Handlers) DeleteItem(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	if err := h.scheduleSvc.Delete(c.Request.Context(), userID(c), id); err != nil {
		if errors.Is(err, services.ErrItemNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "schedule item not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// CompleteItem handles POST /schedule/items/{id}/complete.
func (h *Handlers) CompleteItem(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	var req CompleteItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	item, err := h.scheduleSvc.Complete(c.Request.Context(), userID(c), id,
		req.Notes, req.EffectivenessRating, req.MoodBefore, req.MoodAfter, req.ActualDuration)
	if err != nil {
		switch {
		case failValidation(c, err):
		case errors.Is(err, services.ErrItemNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "schedule item not found")
		case errors.Is(err, services.ErrStaleSchedule):
			fail(c, http.StatusConflict, ErrCodeStaleSchedule, "item changed concurrently; reload and retry")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, item)
}

// ItemOccurrences handles GET /schedule/items/{id}/occurrences. The window
// is given by "from"/"to" query params (RFC3339), defaulting to the next 7
// days.
func (h *Handlers) ItemOccurrences(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	from, to, err := parseWindow(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	occs, err := h.scheduleSvc.Occurrences(c.Request.Context(), userID(c), id, from, to)
	if err != nil {
		switch {
		case failValidation(c, err):
		case errors.Is(err, services.ErrItemNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "schedule item not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	if occs == nil {
		occs = []recurrence.Occurrence{}
	}
	ok(c, http.StatusOK, OccurrencesResponse{From: from, To: to, Occurrences: occs})
}

// Agenda handles GET /schedule/agenda: the merged, sorted occurrences of all
// active items inside the requested window.
func (h *Handlers) Agenda(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	occs, err := h.scheduleSvc.Agenda(c.Request.Context(), userID(c), from, to)
	if err != nil {
		if failValidation(c, err) {
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if occs == nil {
		occs = []recurrence.Occurrence{}
	}
	ok(c, http.StatusOK, OccurrencesResponse{From: from, To: to, Occurrences: occs})
}
