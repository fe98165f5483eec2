package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestExtractEventMetaFallsBack(t *testing.T) {
	msg := kafka.Message{Topic: "scheduling.session.booked.v1", Key: []byte("sess-1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "sess-1" || meta.EventType != "scheduling.session.booked.v1" {
		t.Fatalf("unexpected meta %+v", meta)
	}

	msg.Headers = []kafka.Header{{Key: HeaderEventID, Value: []byte("evt-9")}, {Key: HeaderEventType, Value: []byte("custom")}}
	meta = ExtractEventMeta(msg)
	if meta.EventID != "evt-9" || meta.EventType != "custom" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka:9092, ,kafka2:9092 ")
	if len(got) != 2 || got[0] != "kafka:9092" || got[1] != "kafka2:9092" {
		t.Fatalf("unexpected brokers %#v", got)
	}
}

func TestHeaderCarrierOverwrites(t *testing.T) {
	c := &headerCarrier{}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	if len(c.headers) != 1 || c.Get("traceparent") != "b" {
		t.Fatalf("unexpected headers %#v", c.headers)
	}
}

type memoryDeduper map[string]bool

func (m memoryDeduper) Record(_ context.Context, id, _ string) (bool, error) {
	if m[id] {
		return false, nil
	}
	m[id] = true
	return true, nil
}

func TestConsumerHandleSkipsDuplicates(t *testing.T) {
	calls := 0
	c := &Consumer{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		dedupe: memoryDeduper{},
		handler: func(context.Context, kafka.Message) error {
			calls++
			return errors.New("handler failures are logged")
		},
	}
	msg := kafka.Message{Topic: "t", Headers: []kafka.Header{{Key: HeaderEventID, Value: []byte("e1")}}}
	c.handle(context.Background(), msg)
	c.handle(context.Background(), msg)
	if calls != 1 {
		t.Fatalf("expected 1 handler call, got %d", calls)
	}
}

func TestReadyCheckFallsThroughToLiveBroker(t *testing.T) {
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := dead.Addr().String()
	_ = dead.Close()

	live, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer live.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ReadyCheck(deadAddr+","+live.Addr().String())(ctx); err != nil {
		t.Fatalf("expected ready via second broker, got %v", err)
	}
	if err := ReadyCheck(deadAddr)(ctx); err == nil {
		t.Fatal("expected error with no live broker")
	}
	if err := ReadyCheck(" , ")(ctx); err == nil {
		t.Fatal("expected error without brokers")
	}
}
