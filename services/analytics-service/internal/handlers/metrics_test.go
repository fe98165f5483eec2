package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/services/analytics-service/internal/metrics"
)

type fakeReader struct {
	coachID  string
	from, to time.Time
	err      error
}

func (f *fakeReader) Daily(_ context.Context, coachID string, from, to time.Time) ([]metrics.Day, error) {
	f.coachID, f.from, f.to = coachID, from, to
	if f.err != nil {
		return nil, f.err
	}
	return []metrics.Day{{Date: to.Format(time.DateOnly), Delta: metrics.Delta{Booked: 2}}}, nil
}

func serve(t *testing.T, reader *fakeReader, id *auth.Identity, target string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewMetricsHandler(reader, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC)
	h.now = func() time.Time { return time.Date(2026, 3, 31, 15, 0, 0, 0, time.UTC) }
	mux := http.NewServeMux()
	Register(mux, h)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if id != nil {
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), *id))
	}
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	return rw
}

func TestDailyDefaultsToOwnCoachAndLast30Days(t *testing.T) {
	reader := &fakeReader{}
	rw := serve(t, reader, &auth.Identity{UserID: "coach-1", CoachID: "coach-1", Role: auth.RoleCoach}, "/api/v1/analytics/coaches/daily")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if reader.coachID != "coach-1" {
		t.Fatalf("expected own coach, got %q", reader.coachID)
	}
	if reader.from.Format(time.DateOnly) != "2026-03-02" || reader.to.Format(time.DateOnly) != "2026-03-31" {
		t.Fatalf("unexpected range %s..%s", reader.from, reader.to)
	}
	var rep metrics.Report
	if err := json.NewDecoder(rw.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rep.Days) != 30 || rep.Totals.Booked != 2 {
		t.Fatalf("unexpected report: days=%d totals=%+v", len(rep.Days), rep.Totals)
	}
}

func TestDailyAccessControl(t *testing.T) {
	cases := []struct {
		name   string
		id     *auth.Identity
		target string
		want   int
	}{
		{"anonymous", nil, "/api/v1/analytics/coaches/daily?coach_id=coach-1", http.StatusUnauthorized},
		{"client", &auth.Identity{UserID: "u1", CoachID: "coach-1", Role: auth.RoleClient}, "/api/v1/analytics/coaches/daily?coach_id=coach-1", http.StatusForbidden},
		{"other coach", &auth.Identity{UserID: "coach-2", CoachID: "coach-2", Role: auth.RoleCoach}, "/api/v1/analytics/coaches/daily?coach_id=coach-1", http.StatusForbidden},
		{"admin without coach", &auth.Identity{UserID: "a1", Role: auth.RoleAdmin}, "/api/v1/analytics/coaches/daily", http.StatusBadRequest},
		{"admin", &auth.Identity{UserID: "a1", Role: auth.RoleAdmin}, "/api/v1/analytics/coaches/daily?coach_id=coach-1", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rw := serve(t, &fakeReader{}, tc.id, tc.target)
			if rw.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rw.Code, rw.Body.String())
			}
		})
	}
}

func TestDailyRangeValidation(t *testing.T) {
	coach := &auth.Identity{UserID: "coach-1", CoachID: "coach-1", Role: auth.RoleCoach}
	for _, q := range []string{
		"?from=2026-13-01",
		"?to=yesterday",
		"?from=2026-03-10&to=2026-03-01",
		"?from=2025-01-01&to=2026-03-01",
	} {
		rw := serve(t, &fakeReader{}, coach, "/api/v1/analytics/coaches/daily"+q)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rw.Code)
		}
	}

	reader := &fakeReader{}
	rw := serve(t, reader, coach, "/api/v1/analytics/coaches/daily?from=2026-01-01&to=2026-01-07")
	if rw.Code != http.StatusOK || reader.from.Format(time.DateOnly) != "2026-01-01" {
		t.Fatalf("explicit range not honored: %d %s", rw.Code, reader.from)
	}
}

func TestDailyStoreErrorIsGeneric(t *testing.T) {
	coach := &auth.Identity{UserID: "coach-1", CoachID: "coach-1", Role: auth.RoleCoach}
	rw := serve(t, &fakeReader{err: errors.New("relation does not exist")}, coach, "/api/v1/analytics/coaches/daily")
	if rw.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rw.Code)
	}
}
