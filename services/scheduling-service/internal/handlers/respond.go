package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

const dateLayout = "2006-01-02"

// writeError renders err and logs anything that is not a caller mistake.
func writeError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	if e.Code == apperr.Internal {
		logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"err", err,
		)
	}
	apperr.Write(w, e)
}

func queryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := queryString(r, key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.BadRequest, "invalid %s", key)
	}
	return v, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(queryString(r, key))
	return v
}

func parseTime(raw, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.BadRequest, "invalid %s, want RFC3339", field)
	}
	return t, nil
}

func optionalTime(raw, field string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return parseTime(raw, field)
}

func parseDate(raw, field string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.BadRequest, "invalid %s, want YYYY-MM-DD", field)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

type sessionResponse struct {
	ID              string `json:"id"`
	CoachID         string `json:"coach_id"`
	ClientID        string `json:"client_id"`
	SessionTypeID   string `json:"session_type_id,omitempty"`
	ScheduledDate   string `json:"scheduled_date"`
	EndsAt          string `json:"ends_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	PaymentStatus   string `json:"payment_status"`
	PriceCents      int64  `json:"price_cents"`
	Notes           string `json:"notes,omitempty"`
	CancelledBy     string `json:"cancelled_by,omitempty"`
	CancelReason    string `json:"cancellation_reason,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toSessionResponse(s model.Session) sessionResponse {
	out := sessionResponse{
		ID:              s.ID,
		CoachID:         s.CoachID,
		ClientID:        s.ClientID,
		SessionTypeID:   s.SessionTypeID,
		ScheduledDate:   formatTime(s.ScheduledDate),
		EndsAt:          formatTime(s.EndsAt()),
		DurationMinutes: s.DurationMinutes,
		Status:          s.Status,
		PaymentStatus:   s.PaymentStatus,
		PriceCents:      s.PriceCents,
		Notes:           s.Notes,
		CancelledBy:     s.CancelledBy,
		CancelReason:    s.CancelReason,
		CreatedAt:       formatTime(s.CreatedAt),
	}
	if s.CancelledAt != nil {
		out.CancelledAt = formatTime(*s.CancelledAt)
	}
	return out
}

func toSessionResponses(in []model.Session) []sessionResponse {
	out := make([]sessionResponse, 0, len(in))
	for _, s := range in {
		out = append(out, toSessionResponse(s))
	}
	return out
}
