package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/config"
	"github.com/purposefullive/coaching-platform/libs/grpcx"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	otelx "github.com/purposefullive/coaching-platform/libs/otel"
	"github.com/purposefullive/coaching-platform/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	verifier := auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		jwksTTL, err := config.Int("JWKS_CACHE_SECONDS", 300)
		if err != nil || jwksTTL <= 0 {
			jwksTTL = 300
		}
		verifier.JWKS = auth.NewJWKSClient(jwksURL, time.Duration(jwksTTL)*time.Second)
	}
	if verifier.Secret == "" && verifier.JWKS == nil {
		logger.Warn("neither JWT_SECRET nor JWKS_URL set, every bearer token will be rejected")
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks()...)
	registerRoutes(mux, upstreams{
		Auth:       mustParseURL(config.String("AUTH_URL", "http://auth-service:8081")),
		Scheduling: mustParseURL(config.String("SCHEDULING_URL", "http://scheduling-service:8083")),
		AIChat:     mustParseURL(config.String("AICHAT_URL", "http://aichat-service:8088")),
		Analytics:  mustParseURL(config.String("ANALYTICS_URL", "http://analytics-service:8086")),
		Billing:    mustParseURL(config.String("BILLING_URL", "http://billing-service:8084")),
	})

	bodyLimit := int64(12 << 20)
	if v, err := config.Int("REQUEST_BODY_LIMIT_BYTES", 12<<20); err == nil && v > 0 {
		bodyLimit = int64(v)
	}
	requestTimeout := 30 * time.Second
	if v, err := config.Int("REQUEST_TIMEOUT_SECONDS", 30); err == nil && v > 0 {
		requestTimeout = time.Duration(v) * time.Second
	}
	limitPerMinute := 60
	if v, err := config.Int("RATE_LIMIT_PER_MINUTE", 60); err == nil && v > 0 {
		limitPerMinute = v
	}

	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB, err := config.Int("REDIS_DB", 0)
		if err != nil {
			redisDB = 0
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"), httpx.UserOrClientKey)
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute, httpx.UserOrClientKey)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   listOr("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders:   listOr("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key"),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           corsMaxAge(),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(bodyLimit),
		httpx.WithTimeout(requestTimeout),
		withIdentity(verifier),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "gateway")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// readyChecks probes the gRPC health endpoint of every backend configured
// in READY_GRPC_TARGETS, given as name=host:port pairs.
func readyChecks() []runtime.ReadyCheck {
	var checks []runtime.ReadyCheck
	for _, item := range config.List("READY_GRPC_TARGETS") {
		name, addr, ok := strings.Cut(item, "=")
		if !ok || name == "" || addr == "" {
			continue
		}
		checks = append(checks, runtime.ReadyCheck{Name: name, Check: grpcx.HealthCheck(addr, name)})
	}
	return checks
}

func listOr(key, fallback string) []string {
	if v := config.List(key); len(v) > 0 {
		return v
	}
	return strings.Split(fallback, ",")
}

func corsMaxAge() time.Duration {
	v, err := config.Int("CORS_MAX_AGE_SECONDS", 600)
	if err != nil || v <= 0 {
		v = 600
	}
	return time.Duration(v) * time.Second
}
