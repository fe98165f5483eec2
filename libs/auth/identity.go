package auth

import (
	"context"
	"net/http"

	"github.com/purposefullive/coaching-platform/libs/apperr"
)

// Headers the gateway sets after verifying a token. Backend services trust
// them because they are only reachable through the gateway.
const (
	HeaderUserID  = "X-User-Id"
	HeaderCoachID = "X-Coach-Id"
	HeaderRole    = "X-Role"
)

type Identity struct {
	UserID  string
	CoachID string
	Role    string
}

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// CanManageCoach reports whether the caller may change coach-owned data.
func (id Identity) CanManageCoach(coachID string) bool {
	if id.IsAdmin() {
		return true
	}
	return id.Role == RoleCoach && coachID != "" && id.CoachID == coachID
}

type identityKey struct{}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// SetHeaders replaces any caller supplied identity headers with the verified claims.
func SetHeaders(h http.Header, c *Claims) {
	h.Del(HeaderUserID)
	h.Del(HeaderCoachID)
	h.Del(HeaderRole)
	if c == nil {
		return
	}
	h.Set(HeaderUserID, c.Sub)
	if c.CoachID != "" {
		h.Set(HeaderCoachID, c.CoachID)
	}
	if c.Role != "" {
		h.Set(HeaderRole, c.Role)
	}
}

// WithIdentity reads gateway headers into the request context. Requests
// without a user id pass through anonymously.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		id := Identity{
			UserID:  userID,
			CoachID: r.Header.Get(HeaderCoachID),
			Role:    r.Header.Get(HeaderRole),
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// Require returns the caller identity or an UNAUTHORIZED error.
func Require(ctx context.Context) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID == "" {
		return Identity{}, apperr.New(apperr.Unauthorized, "authentication required")
	}
	return id, nil
}

// RequireCoachAccess checks the caller may manage coachID.
func RequireCoachAccess(ctx context.Context, coachID string) (Identity, error) {
	id, err := Require(ctx)
	if err != nil {
		return id, err
	}
	if !id.CanManageCoach(coachID) {
		return id, apperr.New(apperr.Forbidden, "not allowed to manage this coach")
	}
	return id, nil
}
