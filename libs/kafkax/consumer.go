package kafkax

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Deduper records an event id and reports false when it was seen before.
type Deduper interface {
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topic   string
}

// Consumer reads one topic in a consumer group. Each message gets a span
// linked to the producer's trace, is deduplicated through the inbox and is
// then handed to the handler. Handler errors are logged and the offset still
// advances; handlers that need retries persist their own work.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	dedupe  Deduper
	handler Handler
	topic   string
}

func NewConsumer(logger *slog.Logger, dedupe Deduper, cfg ConsumerConfig, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:  reader,
		logger:  logger.With("topic", cfg.Topic),
		dedupe:  dedupe,
		handler: handler,
		topic:   cfg.Topic,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	meta := ExtractEventMeta(msg)
	ctx, span := otel.Tracer("kafka").Start(ExtractTraceContext(ctx, msg), "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", meta.EventID),
		),
	)
	defer span.End()

	if c.dedupe != nil {
		fresh, err := c.dedupe.Record(ctx, meta.EventID, meta.EventType)
		if err != nil {
			c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "inbox")
			return
		}
		if !fresh {
			c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			return
		}
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "event_type", meta.EventType,
			"aggregate_type", meta.AggregateType, "aggregate_id", meta.AggregateID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler")
	}
}
