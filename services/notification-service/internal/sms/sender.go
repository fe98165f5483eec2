// Package sms delivers session reminders and notices by text message.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrNotConfigured = errors.New("sms gateway url not configured")

// Message is one text. Reference is the notification id; gateways use it to
// drop duplicate submissions when a reminder is redelivered.
type Message struct {
	To        string `json:"to"`
	Body      string `json:"body"`
	Reference string `json:"reference,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	ProviderID() string
}

// GatewayError is a non-2xx answer from the SMS gateway.
type GatewayError struct {
	Status int
	Detail string
}

func (e *GatewayError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("sms gateway returned %d", e.Status)
	}
	return fmt.Sprintf("sms gateway returned %d: %s", e.Status, e.Detail)
}

// Rejected reports a 4xx, which retrying the same message will not fix.
func (e *GatewayError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// WebhookSender posts each Message as JSON to an HTTP SMS gateway.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *WebhookSender) ProviderID() string { return "sms-webhook" }

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if s.url == "" {
		return ErrNotConfigured
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("sms recipient is empty")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.Reference != "" {
		req.Header.Set("Idempotency-Key", msg.Reference)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var detail struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&detail)
	return &GatewayError{Status: resp.StatusCode, Detail: detail.Error}
}

// NoopSender accepts everything. It is used when no gateway is configured
// so reminders still show up in the notification log.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (NoopSender) ProviderID() string { return "sms-noop" }

func (NoopSender) Send(context.Context, Message) error { return nil }
