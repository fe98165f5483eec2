package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/analytics-service/internal/metrics"
)

const (
	defaultRangeDays = 30
	maxRangeDays     = 366
)

type Reader interface {
	Daily(ctx context.Context, coachID string, from, to time.Time) ([]metrics.Day, error)
}

type MetricsHandler struct {
	reader Reader
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewMetricsHandler(reader Reader, logger *slog.Logger, loc *time.Location) *MetricsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &MetricsHandler{reader: reader, logger: logger, loc: loc, now: time.Now}
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, raw, time.UTC)
}

// dateRange resolves from/to, defaulting to the 30 days ending today.
func (h *MetricsHandler) dateRange(r *http.Request) (time.Time, time.Time, error) {
	y, m, d := h.now().In(h.loc).Date()
	to := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.New(apperr.BadRequest, "to must be YYYY-MM-DD")
		}
		to = t
	}
	from := to.AddDate(0, 0, -(defaultRangeDays - 1))
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.New(apperr.BadRequest, "from must be YYYY-MM-DD")
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, apperr.New(apperr.BadRequest, "from must not be after to")
	}
	if to.Sub(from) >= maxRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, apperr.Newf(apperr.BadRequest, "range must not exceed %d days", maxRangeDays)
	}
	return from, to, nil
}

func (h *MetricsHandler) Daily(w http.ResponseWriter, r *http.Request) {
	id, err := auth.Require(r.Context())
	if err != nil {
		apperr.Write(w, err)
		return
	}
	coachID := strings.TrimSpace(r.URL.Query().Get("coach_id"))
	if coachID == "" && id.Role == auth.RoleCoach {
		coachID = id.CoachID
	}
	if coachID == "" {
		apperr.Write(w, apperr.New(apperr.BadRequest, "coach_id is required"))
		return
	}
	if _, err := auth.RequireCoachAccess(r.Context(), coachID); err != nil {
		apperr.Write(w, err)
		return
	}
	from, to, err := h.dateRange(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	days, err := h.reader.Daily(r.Context(), coachID, from, to)
	if err != nil {
		h.logger.Error("failed to load coach metrics",
			"coach_id", coachID,
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"err", err,
		)
		apperr.Write(w, apperr.Wrap(apperr.Internal, "failed to load metrics", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, metrics.BuildReport(coachID, from, to, days))
}

func Register(mux *http.ServeMux, h *MetricsHandler) {
	mux.Handle("/api/v1/analytics/coaches/daily", httpx.MethodHandlers{http.MethodGet: h.Daily})
}
