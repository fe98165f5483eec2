package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/booking"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

type SessionService interface {
	Book(ctx context.Context, in booking.BookInput) (model.Session, bool, error)
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	Reschedule(ctx context.Context, sessionID string, start time.Time, durationMinutes int) (model.Session, error)
	Cancel(ctx context.Context, sessionID, reason string) (model.Session, error)
	MarkStatus(ctx context.Context, sessionID, status string) (model.Session, error)
	ListCoachSessions(ctx context.Context, q booking.CoachSessionQuery) ([]model.Session, error)
	ListClientSessions(ctx context.Context, clientID string, upcomingOnly bool, limit int) ([]model.Session, error)
	AttachFile(ctx context.Context, up booking.Upload) (model.SessionFile, error)
	ListFiles(ctx context.Context, sessionID string) ([]model.SessionFile, error)
}

type SessionHandler struct {
	svc       SessionService
	logger    *slog.Logger
	maxUpload int64
}

func NewSessionHandler(svc SessionService, logger *slog.Logger, maxUpload int64) *SessionHandler {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &SessionHandler{svc: svc, logger: logger, maxUpload: maxUpload}
}

type bookRequest struct {
	CoachID         string `json:"coach_id"`
	ClientID        string `json:"client_id"`
	SessionTypeID   string `json:"session_type_id"`
	ScheduledDate   string `json:"scheduled_date"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
	ClientEmail     string `json:"client_email"`
	ClientPhone     string `json:"client_phone"`
}

func (h *SessionHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	start, err := parseTime(req.ScheduledDate, "scheduled_date")
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	sess, replayed, err := h.svc.Book(r.Context(), booking.BookInput{
		CoachID:         strings.TrimSpace(req.CoachID),
		ClientID:        strings.TrimSpace(req.ClientID),
		SessionTypeID:   strings.TrimSpace(req.SessionTypeID),
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Notes:           strings.TrimSpace(req.Notes),
		ClientEmail:     strings.TrimSpace(req.ClientEmail),
		ClientPhone:     strings.TrimSpace(req.ClientPhone),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, toSessionResponse(sess))
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), queryString(r, "id"))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

// ListCoach accepts coach_id, optional from/to (RFC3339) and a comma
// separated status filter.
func (h *SessionHandler) ListCoach(w http.ResponseWriter, r *http.Request) {
	from, err := optionalTime(queryString(r, "from"), "from")
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	to, err := optionalTime(queryString(r, "to"), "to")
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	var statuses []string
	for _, s := range strings.Split(queryString(r, "status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, s)
		}
	}
	items, err := h.svc.ListCoachSessions(r.Context(), booking.CoachSessionQuery{
		CoachID:  queryString(r, "coach_id"),
		From:     from,
		To:       to,
		Statuses: statuses,
		Limit:    limit,
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": toSessionResponses(items)})
}

func (h *SessionHandler) ListClient(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	items, err := h.svc.ListClientSessions(r.Context(), queryString(r, "client_id"), queryBool(r, "upcoming"), limit)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": toSessionResponses(items)})
}

type rescheduleRequest struct {
	SessionID       string `json:"session_id"`
	ScheduledDate   string `json:"scheduled_date"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *SessionHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	start, err := parseTime(req.ScheduledDate, "scheduled_date")
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	sess, err := h.svc.Reschedule(r.Context(), strings.TrimSpace(req.SessionID), start, req.DurationMinutes)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	sess, err := h.svc.Cancel(r.Context(), strings.TrimSpace(req.SessionID), req.Reason)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

type statusRequest struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	sess, err := h.svc.MarkStatus(r.Context(), strings.TrimSpace(req.SessionID), strings.TrimSpace(req.Status))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

type fileResponse struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	URL         string `json:"url"`
	UploadedBy  string `json:"uploaded_by"`
	CreatedAt   string `json:"created_at"`
}

func toFileResponse(f model.SessionFile) fileResponse {
	return fileResponse{
		ID:          f.ID,
		SessionID:   f.SessionID,
		FileName:    f.FileName,
		ContentType: f.ContentType,
		SizeBytes:   f.SizeBytes,
		URL:         f.URL,
		UploadedBy:  f.UploadedBy,
		CreatedAt:   formatTime(f.CreatedAt),
	}
}

// Upload takes multipart/form-data with session_id and a file part.
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(h.logger, w, r, apperr.Wrap(apperr.BadRequest, "invalid multipart body", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(h.logger, w, r, apperr.New(apperr.BadRequest, "file is required"))
		return
	}
	defer file.Close()

	out, err := h.svc.AttachFile(r.Context(), booking.Upload{
		SessionID:   strings.TrimSpace(r.FormValue("session_id")),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toFileResponse(out))
}

func (h *SessionHandler) Files(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListFiles(r.Context(), queryString(r, "session_id"))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	out := make([]fileResponse, 0, len(items))
	for _, f := range items {
		out = append(out, toFileResponse(f))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"files": out})
}
