package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/chat"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/crisis"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/storage"
)

type fakeChat struct {
	sendConv, sendText string
	states             []string
	transitionTo       string
	err                error
}

func (f *fakeChat) SendMessage(_ context.Context, conversationID, text string) (chat.Reply, error) {
	f.sendConv, f.sendText = conversationID, text
	if f.err != nil {
		return chat.Reply{}, f.err
	}
	return chat.Reply{ConversationID: "c1", CrisisLevel: crisis.None}, nil
}

func (f *fakeChat) ListConversations(context.Context, int) ([]storage.Conversation, error) {
	return nil, f.err
}

func (f *fakeChat) ListMessages(_ context.Context, conversationID string, _ int) ([]storage.Message, error) {
	if conversationID == "" {
		return nil, apperr.New(apperr.BadRequest, "conversation_id is required")
	}
	return []storage.Message{{ID: "m1", ConversationID: conversationID, Role: "user", Content: "hi"}}, nil
}

func (f *fakeChat) ExtractProfile(_ context.Context, conversationID string) (chat.Profile, error) {
	return chat.Profile{ConversationID: conversationID, Goals: []string{"run"}}, f.err
}

func (f *fakeChat) ListAlerts(_ context.Context, states []string, _ int) ([]storage.Alert, error) {
	f.states = states
	return nil, f.err
}

func (f *fakeChat) TransitionAlert(_ context.Context, alertID, to, _ string) (storage.Alert, error) {
	f.transitionTo = to
	if f.err != nil {
		return storage.Alert{}, f.err
	}
	return storage.Alert{ID: alertID, State: to}, nil
}

func (f *fakeChat) AlertHistory(context.Context, string) ([]storage.Transition, error) {
	return nil, f.err
}

func newMux(svc ChatService) *http.ServeMux {
	mux := http.NewServeMux()
	Register(mux, NewChatHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))))
	return mux
}

func do(t *testing.T, mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSendMessage(t *testing.T) {
	svc := &fakeChat{}
	rec := do(t, newMux(svc), http.MethodPost, "/api/v1/chat/messages", `{"conversation_id":" c1 ","message":"hello"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.sendConv != "c1" || svc.sendText != "hello" {
		t.Fatalf("unexpected args %q %q", svc.sendConv, svc.sendText)
	}
	var reply chat.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil || reply.ConversationID != "c1" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestSendMessageRejectsUnknownFields(t *testing.T) {
	rec := do(t, newMux(&fakeChat{}), http.MethodPost, "/api/v1/chat/messages", `{"msg":"hello"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMessagesRequiresConversation(t *testing.T) {
	mux := newMux(&fakeChat{})
	if rec := do(t, mux, http.MethodGet, "/api/v1/chat/messages", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec := do(t, mux, http.MethodGet, "/api/v1/chat/messages?conversation_id=c1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"messages":[`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestListsRenderEmptyArrays(t *testing.T) {
	mux := newMux(&fakeChat{})
	rec := do(t, mux, http.MethodGet, "/api/v1/chat/conversations", "")
	if strings.TrimSpace(rec.Body.String()) != `{"conversations":[]}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	rec = do(t, mux, http.MethodGet, "/api/v1/chat/crisis-alerts/history?alert_id=a1", "")
	if strings.TrimSpace(rec.Body.String()) != `{"transitions":[]}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestAlertsParsesStates(t *testing.T) {
	svc := &fakeChat{}
	rec := do(t, newMux(svc), http.MethodGet, "/api/v1/chat/crisis-alerts?state=queued,+acknowledged,", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.states) != 2 || svc.states[0] != "queued" || svc.states[1] != "acknowledged" {
		t.Fatalf("unexpected states %v", svc.states)
	}
}

func TestAlertsInvalidLimit(t *testing.T) {
	rec := do(t, newMux(&fakeChat{}), http.MethodGet, "/api/v1/chat/crisis-alerts?limit=x", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTransitionMapsErrors(t *testing.T) {
	svc := &fakeChat{err: apperr.New(apperr.Forbidden, "not allowed to review this alert")}
	rec := do(t, newMux(svc), http.MethodPost, "/api/v1/chat/crisis-alerts/transition", `{"alert_id":"a1","state":"acknowledged"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if svc.transitionTo != "acknowledged" {
		t.Fatalf("unexpected state %q", svc.transitionTo)
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	svc := &fakeChat{err: errors.New("pq: connection refused")}
	rec := do(t, newMux(svc), http.MethodPost, "/api/v1/chat/profile/extract", `{"conversation_id":"c1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, newMux(&fakeChat{}), http.MethodDelete, "/api/v1/chat/messages", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
