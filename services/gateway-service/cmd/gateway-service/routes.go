package main

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type upstreams struct {
	Auth       *url.URL
	Scheduling *url.URL
	AIChat     *url.URL
	Analytics  *url.URL
	Billing    *url.URL
}

func newProxy(target *url.URL) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	p.Transport = otelhttp.NewTransport(http.DefaultTransport)
	p.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, _ error) {
		httpx.WriteJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]string{"code": "BAD_GATEWAY", "message": "upstream unavailable"},
		})
	}
	return p
}

func registerRoutes(mux *http.ServeMux, up upstreams) {
	authProxy := newProxy(up.Auth)
	scheduling := newProxy(up.Scheduling)
	aichat := newProxy(up.AIChat)
	analytics := newProxy(up.Analytics)
	billing := newProxy(up.Billing)

	// Register, login, refresh and JWKS are public; the auth service checks
	// identity on the rest.
	registerProxy(mux, "/api/v1/auth", authProxy)
	registerProxy(mux, "/.well-known/jwks.json", authProxy)

	// Stripe reaches the webhook without a JWT; the signature is the auth.
	registerProxy(mux, "/api/v1/scheduling/webhooks/stripe", scheduling)
	// Slot search, session types and availability reads are public; the
	// scheduling service enforces identity on everything else.
	registerProxy(mux, "/api/v1/scheduling", scheduling)
	registerProxy(mux, "/uploads", scheduling)

	registerProxy(mux, "/api/v1/chat/crisis-alerts", requireAuth(requireRole(aichat, auth.RoleCoach, auth.RoleAdmin)))
	registerProxy(mux, "/api/v1/chat", requireAuth(aichat))

	registerProxy(mux, "/api/v1/analytics", requireAuth(requireRole(analytics, auth.RoleCoach, auth.RoleAdmin)))

	// The plan catalog, the Stripe webhook and the checkout return page are
	// reachable without a JWT.
	registerProxy(mux, "/api/v1/billing/plans", billing)
	registerProxy(mux, "/api/v1/billing/webhooks/stripe", billing)
	registerProxy(mux, "/api/v1/billing/checkout/session", billing)
	registerProxy(mux, "/api/v1/billing", requireAuth(billing))
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// withIdentity verifies a bearer token when one is sent and replaces the
// identity headers with its claims. Requests without a token continue
// anonymously with the identity headers stripped.
func withIdentity(v auth.Verifier) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			if strings.TrimSpace(raw) == "" {
				auth.SetHeaders(r.Header, nil)
				next.ServeHTTP(w, r)
				return
			}
			token, ok := auth.BearerToken(raw)
			if !ok {
				apperr.Write(w, apperr.New(apperr.Unauthorized, "missing or invalid Authorization header"))
				return
			}
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "token expired"
				}
				apperr.Write(w, apperr.New(apperr.Unauthorized, msg))
				return
			}
			auth.SetHeaders(r.Header, claims)
			next.ServeHTTP(w, r)
		})
	}
}

func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.HeaderUserID) == "" {
			apperr.Write(w, apperr.New(apperr.Unauthorized, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(auth.HeaderRole)]; !ok {
			apperr.Write(w, apperr.New(apperr.Forbidden, "forbidden"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
