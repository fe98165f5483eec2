package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Carried is a W3C trace context stored next to a row that another process
// picks up later, such as an outbox event or a reminder job.
type Carried struct {
	Traceparent string
	Tracestate  string
}

func Capture(ctx context.Context) Carried {
	c := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, c)
	return Carried{Traceparent: c.Get("traceparent"), Tracestate: c.Get("tracestate")}
}

func (c Carried) Empty() bool {
	return c.Traceparent == ""
}

// Resume makes c the remote parent of ctx. Tracestate without a traceparent
// carries nothing and is ignored.
func (c Carried) Resume(ctx context.Context) context.Context {
	if c.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": c.Traceparent}
	if c.Tracestate != "" {
		carrier["tracestate"] = c.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
