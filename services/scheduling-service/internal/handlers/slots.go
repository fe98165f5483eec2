package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/availability"
)

type SlotService interface {
	Location() *time.Location
	AvailableSlots(ctx context.Context, coachID string, date time.Time, durationMinutes int) ([]time.Time, error)
	IsTimeSlotAvailable(ctx context.Context, coachID string, start time.Time, durationMinutes int) (bool, error)
	WeeklyAvailability(ctx context.Context, coachID string, durationMinutes int) (availability.WeeklyCapacity, error)
}

// SlotHandler serves the public calculator endpoints.
type SlotHandler struct {
	svc             SlotService
	logger          *slog.Logger
	defaultDuration int
}

func NewSlotHandler(svc SlotService, logger *slog.Logger, defaultDuration int) *SlotHandler {
	if defaultDuration <= 0 {
		defaultDuration = 60
	}
	return &SlotHandler{svc: svc, logger: logger, defaultDuration: defaultDuration}
}

type slotsResponse struct {
	CoachID         string   `json:"coach_id"`
	Date            string   `json:"date"`
	DurationMinutes int      `json:"duration_minutes"`
	Slots           []string `json:"slots"`
}

func (h *SlotHandler) Slots(w http.ResponseWriter, r *http.Request) {
	coachID := queryString(r, "coach_id")
	duration, err := queryInt(r, "duration", h.defaultDuration)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	date, err := parseDate(queryString(r, "date"), "date", h.svc.Location())
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	slots, err := h.svc.AvailableSlots(r.Context(), coachID, date, duration)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	out := slotsResponse{
		CoachID:         coachID,
		Date:            date.Format(dateLayout),
		DurationMinutes: duration,
		Slots:           make([]string, 0, len(slots)),
	}
	for _, s := range slots {
		out.Slots = append(out.Slots, formatTime(s))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *SlotHandler) Check(w http.ResponseWriter, r *http.Request) {
	coachID := queryString(r, "coach_id")
	duration, err := queryInt(r, "duration", h.defaultDuration)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	start, err := parseTime(queryString(r, "start"), "start")
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	ok, err := h.svc.IsTimeSlotAvailable(r.Context(), coachID, start, duration)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"available": ok})
}

type weeklyResponse struct {
	WeekStart      string `json:"week_start"`
	WeekEnd        string `json:"week_end"`
	TotalMinutes   int    `json:"total_available_minutes"`
	TotalCapacity  int    `json:"total_capacity"`
	BookedCount    int    `json:"booked_count"`
	RemainingSpots int    `json:"remaining_spots"`
}

func (h *SlotHandler) Weekly(w http.ResponseWriter, r *http.Request) {
	duration, err := queryInt(r, "duration", h.defaultDuration)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	wc, err := h.svc.WeeklyAvailability(r.Context(), queryString(r, "coach_id"), duration)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, weeklyResponse{
		WeekStart:      formatTime(wc.WeekStart),
		WeekEnd:        formatTime(wc.WeekEnd),
		TotalMinutes:   wc.TotalMinutes,
		TotalCapacity:  wc.TotalCapacity,
		BookedCount:    wc.BookedCount,
		RemainingSpots: wc.RemainingSpots,
	})
}
