package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/accounts"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/audit"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/tokens"
)

type AccountService interface {
	Register(ctx context.Context, in accounts.RegisterInput) (accounts.TokenPair, error)
	Login(ctx context.Context, email, password string) (accounts.TokenPair, error)
	Refresh(ctx context.Context, raw string) (accounts.TokenPair, error)
	Logout(ctx context.Context, raw string) error
	LogoutAll(ctx context.Context) (int64, error)
	Me(ctx context.Context) (storage.User, error)
	Keys() []tokens.JWK
	RotateKey(ctx context.Context, kid string) error
	AuditLog(ctx context.Context, eventType string, limit int) ([]audit.Event, error)
}

type AuthHandler struct {
	svc    AccountService
	logger *slog.Logger
}

func NewAuthHandler(svc AccountService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
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

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req accounts.RegisterInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	pair, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, pair)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	pair, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.LogoutAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Me(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	keys := h.svc.Keys()
	if len(keys) == 0 {
		apperr.Write(w, apperr.New(apperr.NotFound, "jwks not available"))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *AuthHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActiveKid string `json:"active_kid"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.RotateKey(r.Context(), req.ActiveKid); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, apperr.New(apperr.BadRequest, "invalid limit"))
			return
		}
		limit = n
	}
	evts, err := h.svc.AuditLog(r.Context(), r.URL.Query().Get("event_type"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, evts)
}

func Register(mux *http.ServeMux, h *AuthHandler) {
	mux.Handle("/api/v1/auth/register", httpx.MethodHandlers{http.MethodPost: h.Register})
	mux.Handle("/api/v1/auth/login", httpx.MethodHandlers{http.MethodPost: h.Login})
	mux.Handle("/api/v1/auth/refresh", httpx.MethodHandlers{http.MethodPost: h.Refresh})
	mux.Handle("/api/v1/auth/logout", httpx.MethodHandlers{http.MethodPost: h.Logout})
	mux.Handle("/api/v1/auth/logout-all", httpx.MethodHandlers{http.MethodPost: h.LogoutAll})
	mux.Handle("/api/v1/auth/me", httpx.MethodHandlers{http.MethodGet: h.Me})
	mux.Handle("/api/v1/auth/rotate", httpx.MethodHandlers{http.MethodPost: h.Rotate})
	mux.Handle("/api/v1/auth/audit", httpx.MethodHandlers{http.MethodGet: h.Audit})
	mux.Handle("/.well-known/jwks.json", httpx.MethodHandlers{http.MethodGet: h.JWKS})
}
