package outbox

import (
	"context"
	"testing"

	"github.com/purposefullive/coaching-platform/libs/kafkax"
)

func TestNewEventMarshalsPayload(t *testing.T) {
	evt, err := NewEvent("session", "sess-1", "scheduling.session.booked.v1", map[string]string{"coach_id": "c1"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if string(evt.Payload) != `{"coach_id":"c1"}` {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
	if _, err := NewEvent("x", "y", "z", func() {}); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestToMessageUsesEventTypeAsTopic(t *testing.T) {
	msg := toMessage(context.Background(), Record{
		EventID:       "evt-1",
		AggregateType: "session",
		AggregateID:   "sess-1",
		EventType:     "scheduling.session.cancelled.v1",
		Payload:       []byte(`{}`),
	})
	if msg.Topic != "scheduling.session.cancelled.v1" || string(msg.Key) != "sess-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "scheduling.session.cancelled.v1" || meta.AggregateType != "session" || meta.AggregateID != "sess-1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}
