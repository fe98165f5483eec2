package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/config"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/grpcx"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/libs/kafkax"
	otelx "github.com/purposefullive/coaching-platform/libs/otel"
	"github.com/purposefullive/coaching-platform/libs/outbox"
	"github.com/purposefullive/coaching-platform/libs/runtime"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/accounts"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/audit"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/handlers"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/sessions"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/tokens"
	"github.com/purposefullive/coaching-platform/services/auth-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "auth-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9081")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, migrations.FS, ".", logger); err != nil {
		logger.Error("db migration failed", "err", err)
		panic(err)
	}

	signer, err := buildSigner()
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
		panic(err)
	}
	cfg, err := loadAccountsConfig()
	if err != nil {
		panic(err)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository()
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	svc := accounts.NewService(pool,
		storage.NewUserRepository(pool),
		sessions.NewRefreshRepository(pool),
		audit.NewRepository(pool),
		outboxRepo,
		signer,
		logger,
		cfg,
	)
	go purgeExpired(ctx, svc, logger, time.Hour)

	grpcServer := grpcx.NewServer(logger)
	grpcServer.SetServing(service, true)
	go func() {
		if err := grpcServer.Run(ctx, ":"+grpcPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.Register(mux, handlers.NewAuthHandler(svc, logger))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		auth.WithIdentity,
		httpx.WithBodyLimit(16<<10),
	)
	handler = otelhttp.NewHandler(handler, "auth")
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
	grpcServer.SetServing(service, false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func loadAccountsConfig() (accounts.Config, error) {
	accessMinutes, err := config.Int("ACCESS_TTL_MINUTES", 60)
	if err != nil {
		return accounts.Config{}, err
	}
	refreshHours, err := config.Int("REFRESH_TTL_HOURS", 720)
	if err != nil {
		return accounts.Config{}, err
	}
	return accounts.Config{
		AccessTTL:  time.Duration(accessMinutes) * time.Minute,
		RefreshTTL: time.Duration(refreshHours) * time.Hour,
	}, nil
}

// buildSigner prefers an RS256 key set so the gateway can verify through
// JWKS; JWT_SECRET is the shared-secret fallback for local runs.
func buildSigner() (tokens.Signer, error) {
	if pems := config.String("JWT_PRIVATE_KEYS_PEM", ""); pems != "" {
		signer, err := tokens.NewRSASigner(pems, config.String("JWT_ACTIVE_KID", ""))
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
	return tokens.NewHS256Signer(config.String("JWT_SECRET", "dev-secret")), nil
}

func purgeExpired(ctx context.Context, svc *accounts.Service, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("refresh token purge failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired refresh tokens", "count", n)
			}
		}
	}
}
