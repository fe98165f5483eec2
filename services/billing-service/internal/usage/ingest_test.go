package usage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/segmentio/kafka-go"
)

type added struct {
	clientID string
	month    string
	ai       int
	human    int
}

type fakeStore struct {
	added []added
	err   error
}

func (f *fakeStore) AddUsage(_ context.Context, clientID string, month time.Time, ai, human int) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, added{clientID, month.Format("2006-01-02"), ai, human})
	return nil
}

func newIngestor() (*Ingestor, *fakeStore) {
	store := &fakeStore{}
	in := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	in.now = func() time.Time { return time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC) }
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

func TestChatMessageCountsInSentMonth(t *testing.T) {
	in, store := newIngestor()
	_ = in.ChatMessageSent(context.Background(), message(t, events.ChatMessageSent{
		MessageID: "m1",
		UserID:    "client-1",
		SentAt:    time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC),
	}))
	_ = in.ChatMessageSent(context.Background(), message(t, events.ChatMessageSent{MessageID: "m2", UserID: "client-1"}))
	if len(store.added) != 2 {
		t.Fatalf("expected two usage rows, got %+v", store.added)
	}
	if store.added[0] != (added{"client-1", "2026-03-01", 1, 0}) {
		t.Fatalf("unexpected first row: %+v", store.added[0])
	}
	if store.added[1].month != "2026-04-01" {
		t.Fatalf("missing sent_at should fall back to now, got %+v", store.added[1])
	}
}

func TestSessionLifecycleAdjustsHumanSessions(t *testing.T) {
	in, store := newIngestor()
	ctx := context.Background()
	march := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	_ = in.SessionBooked(ctx, message(t, events.SessionBooked{SessionID: "s1", ClientID: "client-1", ScheduledDate: march}))
	_ = in.SessionRescheduled(ctx, message(t, events.SessionRescheduled{SessionID: "s1", ClientID: "client-1", PreviousDate: march, ScheduledDate: april}))
	_ = in.SessionCancelled(ctx, message(t, events.SessionCancelled{SessionID: "s1", ClientID: "client-1", ScheduledDate: april}))

	want := []added{
		{"client-1", "2026-03-01", 0, 1},
		{"client-1", "2026-04-01", 0, 1},
		{"client-1", "2026-03-01", 0, -1},
		{"client-1", "2026-04-01", 0, -1},
	}
	if len(store.added) != len(want) {
		t.Fatalf("got %+v want %+v", store.added, want)
	}
	for i := range want {
		if store.added[i] != want[i] {
			t.Fatalf("row %d = %+v want %+v", i, store.added[i], want[i])
		}
	}
}

func TestRescheduleWithinMonthIsNoop(t *testing.T) {
	in, store := newIngestor()
	_ = in.SessionRescheduled(context.Background(), message(t, events.SessionRescheduled{
		SessionID:     "s1",
		ClientID:      "client-1",
		PreviousDate:  time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		ScheduledDate: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC),
	}))
	if len(store.added) != 0 {
		t.Fatalf("expected no usage change, got %+v", store.added)
	}
}

func TestMalformedDroppedStoreErrorReturned(t *testing.T) {
	in, store := newIngestor()
	if err := in.SessionBooked(context.Background(), kafka.Message{Value: []byte("not json")}); err != nil {
		t.Fatalf("malformed payload should be dropped: %v", err)
	}
	if err := in.ChatMessageSent(context.Background(), message(t, events.ChatMessageSent{MessageID: "m1"})); err != nil {
		t.Fatalf("payload without user should be dropped: %v", err)
	}
	store.err = errors.New("db down")
	err := in.SessionBooked(context.Background(), message(t, events.SessionBooked{
		SessionID:     "s1",
		ClientID:      "client-1",
		ScheduledDate: time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
	}))
	if err == nil {
		t.Fatal("store errors should be returned")
	}
}
