// Package accounts implements registration, sign-in and token refresh for
// coaches, clients and admins.
package accounts

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/libs/outbox"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/audit"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/sessions"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/tokens"
)

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	return c
}

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	CoachID  string `json:"coach_id"`
}

type TokenPair struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         storage.User `json:"user"`
}

type Service struct {
	pool    *db.Pool
	users   *storage.UserRepository
	refresh *sessions.RefreshRepository
	audit   *audit.Repository
	outbox  *outbox.Repository
	signer  tokens.Signer
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func NewService(
	pool *db.Pool,
	users *storage.UserRepository,
	refresh *sessions.RefreshRepository,
	auditRepo *audit.Repository,
	outboxRepo *outbox.Repository,
	signer tokens.Signer,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		pool:    pool,
		users:   users,
		refresh: refresh,
		audit:   auditRepo,
		outbox:  outboxRepo,
		signer:  signer,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

var errInvalidCredentials = apperr.New(apperr.Unauthorized, "invalid email or password")

// normalizeRegistration validates in and fills defaults. Coaches belong to
// themselves, so CoachID is only kept for clients.
func normalizeRegistration(in RegisterInput) (RegisterInput, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.CoachID = strings.TrimSpace(in.CoachID)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))

	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return in, apperr.New(apperr.BadRequest, "a valid email is required")
	}
	if len(in.Password) < minPasswordLen {
		return in, apperr.Newf(apperr.BadRequest, "password must be at least %d characters", minPasswordLen)
	}
	if len(in.Password) > maxPasswordLen {
		return in, apperr.Newf(apperr.BadRequest, "password must be at most %d bytes", maxPasswordLen)
	}
	switch in.Role {
	case "":
		in.Role = auth.RoleClient
	case auth.RoleClient:
	case auth.RoleCoach:
		in.CoachID = ""
	case auth.RoleAdmin:
		return in, apperr.New(apperr.BadRequest, "admin accounts cannot be self-registered")
	default:
		return in, apperr.New(apperr.BadRequest, "role must be client or coach")
	}
	return in, nil
}

func claimsFor(u storage.User, now time.Time, ttl time.Duration) auth.Claims {
	c := auth.Claims{
		Sub:  u.ID,
		Role: u.Role,
		Iat:  now.Unix(),
		Exp:  now.Add(ttl).Unix(),
	}
	switch u.Role {
	case auth.RoleCoach:
		c.CoachID = u.ID
	case auth.RoleClient:
		c.CoachID = u.CoachID
	}
	return c
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (TokenPair, error) {
	in, err := normalizeRegistration(in)
	if err != nil {
		return TokenPair{}, err
	}
	if in.CoachID != "" {
		ok, err := s.users.CoachExists(ctx, in.CoachID)
		if err != nil {
			return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to look up coach", err)
		}
		if !ok {
			return TokenPair{}, apperr.New(apperr.BadRequest, "coach_id does not name a coach")
		}
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to hash password", err)
	}

	user := storage.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         in.Role,
		CoachID:      in.CoachID,
	}
	var refreshRaw string
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.users.CreateTx(ctx, tx, &user); err != nil {
			return err
		}
		evt, err := outbox.NewEvent("user", user.ID, events.TopicUserRegistered, events.UserRegistered{
			UserID:       user.ID,
			Email:        user.Email,
			Name:         user.Name,
			Role:         user.Role,
			CoachID:      user.CoachID,
			RegisteredAt: user.CreatedAt,
		})
		if err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, audit.EventRegistered, user.ID, map[string]any{"role": user.Role}); err != nil {
			return err
		}
		refreshRaw, err = s.refresh.Create(ctx, tx, user.ID, s.cfg.RefreshTTL)
		return err
	})
	if err != nil {
		if db.HasCode(err, db.CodeUniqueViolation) {
			return TokenPair{}, apperr.New(apperr.BadRequest, "email already registered")
		}
		return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to create account", err)
	}
	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	return s.pair(user, refreshRaw)
}

func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return TokenPair{}, apperr.New(apperr.BadRequest, "email and password are required")
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !storage.IsNotFound(err) {
			return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to look up user", err)
		}
		_ = verifyPassword(string(dummyHash), password)
		s.recordAudit(ctx, audit.EventLoginFailed, "", map[string]any{"reason": "unknown_email"})
		return TokenPair{}, errInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		s.recordAudit(ctx, audit.EventLoginFailed, user.ID, map[string]any{"reason": "bad_password"})
		return TokenPair{}, errInvalidCredentials
	}
	if err := s.users.TouchSignedIn(ctx, user.ID); err != nil {
		s.logger.Warn("failed to update last sign-in", "user_id", user.ID, "err", err)
	}
	refreshRaw, err := s.refresh.Create(ctx, nil, user.ID, s.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to issue refresh token", err)
	}
	s.recordAudit(ctx, audit.EventLogin, user.ID, nil)
	return s.pair(user, refreshRaw)
}

// Refresh exchanges a refresh token for a new pair. Presenting a token that
// was already exchanged revokes every session of its user.
func (s *Service) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TokenPair{}, apperr.New(apperr.BadRequest, "refresh_token is required")
	}
	token, err := s.refresh.GetByRaw(ctx, raw)
	if err != nil {
		if sessions.IsNotFound(err) {
			return TokenPair{}, apperr.New(apperr.Unauthorized, "invalid refresh token")
		}
		return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to look up refresh token", err)
	}
	if token.RevokedAt != nil {
		return TokenPair{}, s.reuseDetected(ctx, token.UserID)
	}
	if !token.Usable(s.now()) {
		return TokenPair{}, apperr.New(apperr.Unauthorized, "refresh token expired")
	}
	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if storage.IsNotFound(err) {
			return TokenPair{}, apperr.New(apperr.Unauthorized, "invalid refresh token")
		}
		return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to look up user", err)
	}

	var refreshRaw string
	var reused bool
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		revoked, err := s.refresh.Revoke(ctx, tx, token.ID)
		if err != nil {
			return err
		}
		if !revoked {
			reused = true
			return nil
		}
		refreshRaw, err = s.refresh.Create(ctx, tx, user.ID, s.cfg.RefreshTTL)
		return err
	})
	if err != nil {
		return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to rotate refresh token", err)
	}
	if reused {
		return TokenPair{}, s.reuseDetected(ctx, user.ID)
	}
	return s.pair(user, refreshRaw)
}

func (s *Service) reuseDetected(ctx context.Context, userID string) error {
	n, err := s.refresh.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke sessions after refresh token reuse", "user_id", userID, "err", err)
	}
	s.logger.Warn("refresh token reuse detected", "user_id", userID, "revoked", n)
	s.recordAudit(ctx, audit.EventRefreshReuse, userID, map[string]any{"revoked": n})
	return apperr.New(apperr.Unauthorized, "invalid refresh token")
}

// Logout revokes one refresh token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.New(apperr.BadRequest, "refresh_token is required")
	}
	token, err := s.refresh.GetByRaw(ctx, raw)
	if err != nil {
		if sessions.IsNotFound(err) {
			return nil
		}
		return apperr.Wrap(apperr.Internal, "failed to look up refresh token", err)
	}
	if _, err := s.refresh.Revoke(ctx, nil, token.ID); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to revoke refresh token", err)
	}
	return nil
}

// LogoutAll revokes every refresh token of the caller.
func (s *Service) LogoutAll(ctx context.Context) (int64, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.refresh.RevokeAllForUser(ctx, id.UserID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "failed to revoke sessions", err)
	}
	return n, nil
}

func (s *Service) Me(ctx context.Context) (storage.User, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return storage.User{}, err
	}
	user, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		if storage.IsNotFound(err) {
			return storage.User{}, apperr.New(apperr.NotFound, "user not found")
		}
		return storage.User{}, apperr.Wrap(apperr.Internal, "failed to look up user", err)
	}
	return user, nil
}

func (s *Service) Keys() []tokens.JWK {
	return s.signer.Keys()
}

func requireAdmin(ctx context.Context) (auth.Identity, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return id, err
	}
	if !id.IsAdmin() {
		return id, apperr.New(apperr.Forbidden, "admin role required")
	}
	return id, nil
}

func (s *Service) RotateKey(ctx context.Context, kid string) error {
	id, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return apperr.New(apperr.BadRequest, "active_kid is required")
	}
	if err := s.signer.SetActiveKid(kid); err != nil {
		switch {
		case errors.Is(err, tokens.ErrRotationUnsupported):
			return apperr.New(apperr.BadRequest, "key rotation is not enabled")
		case errors.Is(err, tokens.ErrUnknownKid):
			return apperr.New(apperr.BadRequest, "unknown active_kid")
		}
		return apperr.Wrap(apperr.Internal, "failed to rotate key", err)
	}
	s.logger.Info("signing key rotated", "active_kid", kid, "actor", id.UserID)
	s.recordAudit(ctx, audit.EventKeyRotated, id.UserID, map[string]any{"active_kid": kid})
	return nil
}

func (s *Service) AuditLog(ctx context.Context, eventType string, limit int) ([]audit.Event, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	evts, err := s.audit.ListRecent(ctx, strings.TrimSpace(eventType), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load audit events", err)
	}
	return evts, nil
}

// PurgeExpired deletes refresh tokens that expired more than a day ago.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.refresh.DeleteExpired(ctx, s.now().Add(-24*time.Hour))
}

func (s *Service) pair(user storage.User, refreshRaw string) (TokenPair, error) {
	access, err := s.signer.Sign(claimsFor(user, s.now(), s.cfg.AccessTTL))
	if err != nil {
		return TokenPair{}, apperr.Wrap(apperr.Internal, "failed to issue token", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refreshRaw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL / time.Second),
		User:         user,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, eventType, actorID string, metadata map[string]any) {
	if err := s.audit.Record(ctx, nil, eventType, actorID, metadata); err != nil {
		s.logger.Warn("failed to record audit event", "event_type", eventType, "err", err)
	}
}
