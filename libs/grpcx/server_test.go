package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func TestHealthCheckReflectsServingStatus(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()

	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.SetServing("scheduling", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, addr) }()

	check := HealthCheck(addr, "scheduling")
	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	if err := check(callCtx); err != nil {
		t.Fatalf("expected serving, got %v", err)
	}

	srv.SetServing("scheduling", false)
	if err := check(callCtx); err == nil {
		t.Fatal("expected not serving error")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	if RequestIDFromContext(ctx) != "abc" {
		t.Fatal("request id not stored")
	}
	if WithRequestID(ctx, "") != ctx {
		t.Fatal("empty id must not replace context")
	}
}
