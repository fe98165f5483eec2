package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSenderPostsMessage(t *testing.T) {
	var got Message
	var auth, idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		idem = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	msg := Message{To: "+15550001111", Body: "Your session starts in 1 hour", Reference: "notif-1", SessionID: "sess-1"}
	if err := NewWebhookSender(srv.URL, "tok").Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got != msg {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if auth != "Bearer tok" || idem != "notif-1" {
		t.Fatalf("unexpected headers: auth=%q idempotency=%q", auth, idem)
	}
}

func TestWebhookSenderGatewayErrors(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"invalid number"}`))
	}))
	defer srv.Close()
	s := NewWebhookSender(srv.URL, "")

	err := s.Send(context.Background(), Message{To: "1", Body: "x"})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || !gwErr.Rejected() || gwErr.Detail != "invalid number" {
		t.Fatalf("expected rejected gateway error, got %v", err)
	}

	status = http.StatusBadGateway
	err = s.Send(context.Background(), Message{To: "1", Body: "x"})
	if !errors.As(err, &gwErr) || gwErr.Rejected() {
		t.Fatalf("502 must not be a rejection, got %v", err)
	}
}

func TestWebhookSenderUnconfigured(t *testing.T) {
	if err := NewWebhookSender("", "").Send(context.Background(), Message{To: "1", Body: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := NewWebhookSender("http://sms.local", "").Send(context.Background(), Message{Body: "x"}); err == nil {
		t.Fatal("expected error without recipient")
	}
}
