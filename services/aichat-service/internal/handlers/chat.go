package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/chat"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/storage"
)

type ChatService interface {
	SendMessage(ctx context.Context, conversationID, text string) (chat.Reply, error)
	ListConversations(ctx context.Context, limit int) ([]storage.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]storage.Message, error)
	ExtractProfile(ctx context.Context, conversationID string) (chat.Profile, error)
	ListAlerts(ctx context.Context, states []string, limit int) ([]storage.Alert, error)
	TransitionAlert(ctx context.Context, alertID, to, note string) (storage.Alert, error)
	AlertHistory(ctx context.Context, alertID string) ([]storage.Transition, error)
}

type ChatHandler struct {
	svc    ChatService
	logger *slog.Logger
}

func NewChatHandler(svc ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

func (h *ChatHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	if e.Code == apperr.Internal {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"err", err,
		)
	}
	apperr.Write(w, e)
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.BadRequest, "invalid limit")
	}
	return n, nil
}

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reply, err := h.svc.SendMessage(r.Context(), strings.TrimSpace(req.ConversationID), req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, reply)
}

func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), strings.TrimSpace(r.URL.Query().Get("conversation_id")), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *ChatHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	convs, err := h.svc.ListConversations(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if convs == nil {
		convs = []storage.Conversation{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (h *ChatHandler) ExtractProfile(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.ExtractProfile(r.Context(), strings.TrimSpace(req.ConversationID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *ChatHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var states []string
	for _, s := range strings.Split(r.URL.Query().Get("state"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			states = append(states, s)
		}
	}
	alerts, err := h.svc.ListAlerts(r.Context(), states, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []storage.Alert{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

type transitionRequest struct {
	AlertID string `json:"alert_id"`
	State   string `json:"state"`
	Note    string `json:"note"`
}

func (h *ChatHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	alert, err := h.svc.TransitionAlert(r.Context(), req.AlertID, strings.TrimSpace(req.State), req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, alert)
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.AlertHistory(r.Context(), strings.TrimSpace(r.URL.Query().Get("alert_id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []storage.Transition{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transitions": items})
}

func Register(mux *http.ServeMux, h *ChatHandler) {
	mux.Handle("/api/v1/chat/messages", httpx.MethodHandlers{
		http.MethodGet:  h.Messages,
		http.MethodPost: h.Send,
	})
	mux.Handle("/api/v1/chat/conversations", httpx.MethodHandlers{http.MethodGet: h.Conversations})
	mux.Handle("/api/v1/chat/profile/extract", httpx.MethodHandlers{http.MethodPost: h.ExtractProfile})
	mux.Handle("/api/v1/chat/crisis-alerts", httpx.MethodHandlers{http.MethodGet: h.Alerts})
	mux.Handle("/api/v1/chat/crisis-alerts/transition", httpx.MethodHandlers{http.MethodPost: h.Transition})
	mux.Handle("/api/v1/chat/crisis-alerts/history", httpx.MethodHandlers{http.MethodGet: h.History})
}
