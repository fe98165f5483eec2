package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/services/analytics-service/internal/metrics"
	"github.com/segmentio/kafka-go"
)

type applied struct {
	coachID string
	changes []metrics.Change
}

type fakeStore struct {
	applied     []applied
	deadLetters []events.ReminderDue
	err         error
}

func (f *fakeStore) Apply(_ context.Context, coachID string, changes ...metrics.Change) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, applied{coachID, changes})
	return nil
}

func (f *fakeStore) RecordDeadLetter(_ context.Context, evt events.ReminderDue, _, _ time.Time) error {
	f.deadLetters = append(f.deadLetters, evt)
	return f.err
}

func newIngestor(loc *time.Location) (*Ingestor, *fakeStore) {
	store := &fakeStore{}
	in := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), loc)
	in.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return in, store
}

func message(t *testing.T, v any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Value: raw}
}

func date(c metrics.Change) string { return c.Day.Format(time.DateOnly) }

func TestSessionBookedCountsOnScheduledDayInZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	in, store := newIngestor(ny)
	// 02:00 UTC on the 5th is still the 4th in New York.
	err = in.SessionBooked(context.Background(), message(t, events.SessionBooked{
		SessionID:     "s1",
		CoachID:       "coach-1",
		ScheduledDate: time.Date(2026, 3, 5, 2, 0, 0, 0, time.UTC),
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected one apply, got %d", len(store.applied))
	}
	got := store.applied[0]
	if got.coachID != "coach-1" || date(got.changes[0]) != "2026-03-04" || got.changes[0].Delta.Booked != 1 {
		t.Fatalf("unexpected change: %+v", got)
	}
}

func TestSessionRescheduledMovesBooking(t *testing.T) {
	in, store := newIngestor(nil)
	_ = in.SessionRescheduled(context.Background(), message(t, events.SessionRescheduled{
		SessionID:     "s1",
		CoachID:       "coach-1",
		PreviousDate:  time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		ScheduledDate: time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC),
	}))
	changes := store.applied[0].changes
	if len(changes) != 2 {
		t.Fatalf("expected two changes, got %+v", changes)
	}
	if date(changes[0]) != "2026-03-07" || changes[0].Delta.Booked != 1 || changes[0].Delta.Rescheduled != 1 {
		t.Fatalf("unexpected new-day change: %+v", changes[0])
	}
	if date(changes[1]) != "2026-03-05" || changes[1].Delta.Booked != -1 {
		t.Fatalf("unexpected old-day change: %+v", changes[1])
	}
}

func TestNotificationResultUsesBrokerTime(t *testing.T) {
	in, store := newIngestor(nil)
	msg := message(t, events.NotificationResult{CoachID: "coach-1", Status: "failed", Channel: "sms"})
	msg.Time = time.Date(2026, 3, 8, 23, 30, 0, 0, time.UTC)
	_ = in.NotificationResult(context.Background(), msg)

	sent := message(t, events.NotificationResult{CoachID: "coach-1", Status: "sent", Channel: "email"})
	_ = in.NotificationResult(context.Background(), sent)

	if len(store.applied) != 2 {
		t.Fatalf("expected two applies, got %d", len(store.applied))
	}
	failed := store.applied[0].changes[0]
	if date(failed) != "2026-03-08" || failed.Delta.NotificationsFailed != 1 {
		t.Fatalf("unexpected failed change: %+v", failed)
	}
	ok := store.applied[1].changes[0]
	if date(ok) != "2026-03-10" || ok.Delta.NotificationsSent != 1 {
		t.Fatalf("unexpected sent change: %+v", ok)
	}
}

func TestEventsWithoutCoachAreIgnored(t *testing.T) {
	in, store := newIngestor(nil)
	_ = in.NotificationResult(context.Background(), message(t, events.NotificationResult{Status: "sent"}))
	_ = in.CrisisDetected(context.Background(), message(t, events.CrisisDetected{AlertID: "a1"}))
	if len(store.applied) != 0 {
		t.Fatalf("expected nothing applied, got %+v", store.applied)
	}
}

func TestCrisisDetectedCountsOnDetectionDay(t *testing.T) {
	in, store := newIngestor(nil)
	_ = in.CrisisDetected(context.Background(), message(t, events.CrisisDetected{
		AlertID:    "a1",
		CoachID:    "coach-1",
		Level:      "high",
		DetectedAt: time.Date(2026, 3, 9, 4, 0, 0, 0, time.UTC),
	}))
	c := store.applied[0].changes[0]
	if date(c) != "2026-03-09" || c.Delta.CrisisAlerts != 1 {
		t.Fatalf("unexpected change: %+v", c)
	}
}

func TestReminderDeadLettered(t *testing.T) {
	in, store := newIngestor(nil)
	err := in.ReminderDeadLettered(context.Background(), message(t, events.ReminderDue{
		SessionID:   "s1",
		CoachID:     "coach-1",
		Channel:     "sms",
		Recipient:   "+15550001",
		ErrorReason: "provider down",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(store.deadLetters) != 1 || store.deadLetters[0].ErrorReason != "provider down" {
		t.Fatalf("unexpected dead letters: %+v", store.deadLetters)
	}
}

func TestMalformedPayloadDroppedStoreErrorReturned(t *testing.T) {
	in, store := newIngestor(nil)
	if err := in.SessionCancelled(context.Background(), kafka.Message{Value: []byte("{")}); err != nil {
		t.Fatalf("malformed payload should be dropped: %v", err)
	}
	store.err = errors.New("db down")
	err := in.SessionCancelled(context.Background(), message(t, events.SessionCancelled{
		SessionID:     "s1",
		CoachID:       "coach-1",
		ScheduledDate: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
	}))
	if err == nil {
		t.Fatal("store errors should be returned")
	}
}
