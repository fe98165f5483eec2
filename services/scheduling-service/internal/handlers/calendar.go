package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

type CalendarService interface {
	Location() *time.Location
	ListAvailability(ctx context.Context, coachID string, dayOfWeek int) ([]model.Availability, error)
	SetAvailability(ctx context.Context, a model.Availability) (model.Availability, error)
	SetAvailabilityActive(ctx context.Context, id string, active bool) error
	DeleteAvailability(ctx context.Context, id string) error
	SeedDefaultAvailability(ctx context.Context, coachID string) error
	CreateException(ctx context.Context, e model.Exception) (model.Exception, error)
	ListExceptions(ctx context.Context, coachID string, from, to time.Time) ([]model.Exception, error)
	DeleteException(ctx context.Context, id string) error
	ListSessionTypes(ctx context.Context, coachID string) ([]model.SessionType, error)
	CreateSessionType(ctx context.Context, st model.SessionType) (model.SessionType, error)
	SetSessionTypeActive(ctx context.Context, id string, active bool) error
}

// CalendarHandler manages a coach's recurring windows, blocked dates and
// session types.
type CalendarHandler struct {
	svc    CalendarService
	logger *slog.Logger
}

func NewCalendarHandler(svc CalendarService, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{svc: svc, logger: logger}
}

type availabilityResponse struct {
	ID        string `json:"id"`
	CoachID   string `json:"coach_id"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Active    bool   `json:"is_active"`
}

func toAvailabilityResponse(a model.Availability) availabilityResponse {
	return availabilityResponse{
		ID:        a.ID,
		CoachID:   a.CoachID,
		DayOfWeek: a.DayOfWeek,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Active:    a.Active,
	}
}

func (h *CalendarHandler) ListAvailability(w http.ResponseWriter, r *http.Request) {
	day, err := queryInt(r, "day_of_week", -1)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	items, err := h.svc.ListAvailability(r.Context(), queryString(r, "coach_id"), day)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	out := make([]availabilityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAvailabilityResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"availability": out})
}

type setAvailabilityRequest struct {
	CoachID   string `json:"coach_id"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Active    *bool  `json:"is_active"`
}

// PutAvailability creates or replaces the window starting at start_time.
func (h *CalendarHandler) PutAvailability(w http.ResponseWriter, r *http.Request) {
	var req setAvailabilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	a, err := h.svc.SetAvailability(r.Context(), model.Availability{
		CoachID:   strings.TrimSpace(req.CoachID),
		DayOfWeek: req.DayOfWeek,
		StartTime: strings.TrimSpace(req.StartTime),
		EndTime:   strings.TrimSpace(req.EndTime),
		Active:    active,
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAvailabilityResponse(a))
}

type toggleRequest struct {
	ID     string `json:"id"`
	Active bool   `json:"is_active"`
}

func (h *CalendarHandler) ToggleAvailability(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	if err := h.svc.SetAvailabilityActive(r.Context(), strings.TrimSpace(req.ID), req.Active); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": req.ID, "is_active": req.Active})
}

func (h *CalendarHandler) DeleteAvailability(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAvailability(r.Context(), queryString(r, "id")); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CalendarHandler) SeedAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CoachID string `json:"coach_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	if err := h.svc.SeedDefaultAvailability(r.Context(), strings.TrimSpace(req.CoachID)); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"status": "seeded"})
}

type exceptionResponse struct {
	ID        string `json:"id"`
	CoachID   string `json:"coach_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason,omitempty"`
}

func toExceptionResponse(e model.Exception) exceptionResponse {
	return exceptionResponse{
		ID:        e.ID,
		CoachID:   e.CoachID,
		StartDate: e.StartDate.Format(dateLayout),
		EndDate:   e.EndDate.Format(dateLayout),
		Reason:    e.Reason,
	}
}

type createExceptionRequest struct {
	CoachID   string `json:"coach_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason"`
}

func (h *CalendarHandler) CreateException(w http.ResponseWriter, r *http.Request) {
	var req createExceptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	loc := h.svc.Location()
	start, err := parseDate(req.StartDate, "start_date", loc)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	end := start
	if strings.TrimSpace(req.EndDate) != "" {
		if end, err = parseDate(req.EndDate, "end_date", loc); err != nil {
			writeError(h.logger, w, r, err)
			return
		}
	}
	e, err := h.svc.CreateException(r.Context(), model.Exception{
		CoachID:   strings.TrimSpace(req.CoachID),
		StartDate: start,
		EndDate:   end,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toExceptionResponse(e))
}

func (h *CalendarHandler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	loc := h.svc.Location()
	var from, to time.Time
	var err error
	if raw := queryString(r, "from"); raw != "" {
		if from, err = parseDate(raw, "from", loc); err != nil {
			writeError(h.logger, w, r, err)
			return
		}
	}
	if raw := queryString(r, "to"); raw != "" {
		if to, err = parseDate(raw, "to", loc); err != nil {
			writeError(h.logger, w, r, err)
			return
		}
	}
	items, err := h.svc.ListExceptions(r.Context(), queryString(r, "coach_id"), from, to)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	out := make([]exceptionResponse, 0, len(items))
	for _, e := range items {
		out = append(out, toExceptionResponse(e))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"exceptions": out})
}

func (h *CalendarHandler) DeleteException(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteException(r.Context(), queryString(r, "id")); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionTypeResponse struct {
	ID              string `json:"id"`
	CoachID         string `json:"coach_id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Active          bool   `json:"is_active"`
	DisplayOrder    int    `json:"display_order"`
}

func toSessionTypeResponse(t model.SessionType) sessionTypeResponse {
	return sessionTypeResponse{
		ID:              t.ID,
		CoachID:         t.CoachID,
		Name:            t.Name,
		Description:     t.Description,
		DurationMinutes: t.DurationMinutes,
		PriceCents:      t.PriceCents,
		Active:          t.Active,
		DisplayOrder:    t.DisplayOrder,
	}
}

func (h *CalendarHandler) ListSessionTypes(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSessionTypes(r.Context(), queryString(r, "coach_id"))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	out := make([]sessionTypeResponse, 0, len(items))
	for _, t := range items {
		out = append(out, toSessionTypeResponse(t))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"session_types": out})
}

type createSessionTypeRequest struct {
	CoachID         string `json:"coach_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	StripePriceID   string `json:"stripe_price_id"`
	DisplayOrder    int    `json:"display_order"`
}

func (h *CalendarHandler) CreateSessionType(w http.ResponseWriter, r *http.Request) {
	var req createSessionTypeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	st, err := h.svc.CreateSessionType(r.Context(), model.SessionType{
		CoachID:         strings.TrimSpace(req.CoachID),
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		DurationMinutes: req.DurationMinutes,
		PriceCents:      req.PriceCents,
		StripePriceID:   strings.TrimSpace(req.StripePriceID),
		DisplayOrder:    req.DisplayOrder,
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toSessionTypeResponse(st))
}

func (h *CalendarHandler) ToggleSessionType(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	if err := h.svc.SetSessionTypeActive(r.Context(), strings.TrimSpace(req.ID), req.Active); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": req.ID, "is_active": req.Active})
}
