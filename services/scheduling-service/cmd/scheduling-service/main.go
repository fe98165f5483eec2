package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
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
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/availability"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/booking"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/files"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/handlers"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/payments"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/slotcache"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour, time.Hour}
	}
	return offsets
}

func loadSlotConfig() (availability.Config, error) {
	step, err := config.Minutes("SLOT_STEP_MINUTES", 30)
	if err != nil {
		return availability.Config{}, err
	}
	if step <= 0 {
		return availability.Config{}, fmt.Errorf("SLOT_STEP_MINUTES must be positive")
	}
	lead, err := config.Minutes("BOOKING_LEAD_MINUTES", 0)
	if err != nil {
		return availability.Config{}, err
	}
	loc, err := config.Location("SCHEDULING_TIMEZONE", "UTC")
	if err != nil {
		return availability.Config{}, err
	}
	return availability.Config{Step: step, Lead: lead, Location: loc}, nil
}

func newRedis(logger *slog.Logger) *redis.Client {
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return nil
	}
	dbIndex, err := config.Int("REDIS_DB", 0)
	if err != nil || dbIndex < 0 {
		logger.Warn("invalid REDIS_DB, using 0", "err", err)
		dbIndex = 0
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       dbIndex,
	})
}

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9083")
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

	slotCfg, err := loadSlotConfig()
	if err != nil {
		panic(err)
	}
	maxDuration, err := config.Int("MAX_SESSION_MINUTES", 480)
	if err != nil {
		panic(err)
	}
	cacheTTL, err := config.Minutes("SLOT_CACHE_TTL_MINUTES", 2)
	if err != nil {
		panic(err)
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

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}
	var cache *slotcache.Cache
	if rdb := newRedis(logger); rdb != nil {
		defer func() { _ = rdb.Close() }()
		cache = slotcache.New(rdb, cacheTTL)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	var store *files.LocalStore
	if dir := config.String("UPLOAD_DIR", ""); dir != "" {
		store, err = files.NewLocalStore(dir, config.String("UPLOAD_BASE_URL", "http://localhost:"+port), 10<<20)
		if err != nil {
			logger.Error("upload store init failed; uploads disabled", "err", err)
			store = nil
		}
	}

	outboxRepo := outbox.NewRepository()
	svc := booking.NewService(pool, booking.Repositories{
		Availability:   storage.NewAvailabilityRepository(pool),
		Exceptions:     storage.NewExceptionRepository(pool),
		Sessions:       storage.NewSessionRepository(pool),
		SessionTypes:   storage.NewSessionTypeRepository(pool),
		Files:          storage.NewFileRepository(pool),
		ProviderEvents: storage.NewProviderEventRepository(),
		Outbox:         outboxRepo,
	}, booking.Deps{
		Cache: cache,
		Store: store,
		Checkout: payments.NewCheckout(payments.CheckoutConfig{
			SecretKey:  config.String("STRIPE_SECRET_KEY", ""),
			SuccessURL: config.String("STRIPE_SUCCESS_URL", "http://localhost:3000/booking/success"),
			CancelURL:  config.String("STRIPE_CANCEL_URL", "http://localhost:3000/booking/cancelled"),
			Currency:   config.String("STRIPE_CURRENCY", "usd"),
		}),
	}, logger, booking.Config{
		Slots:              slotCfg,
		ReminderOffsets:    parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"), logger),
		MaxDurationMinutes: maxDuration,
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	grpcServer := grpcx.NewServer(logger)
	grpcServer.SetServing(service, true)
	go func() {
		if err := grpcServer.Run(ctx, ":"+grpcPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	webhookTolerance, err := config.Minutes("STRIPE_WEBHOOK_TOLERANCE_MINUTES", 5)
	if err != nil {
		panic(err)
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.Register(mux,
		handlers.NewSlotHandler(svc, logger, 60),
		handlers.NewSessionHandler(svc, logger, 10<<20),
		handlers.NewCalendarHandler(svc, logger),
		handlers.NewPaymentHandler(svc, payments.WebhookVerifier{
			Secret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
			Tolerance: webhookTolerance,
		}, logger),
	)
	if dir := config.String("UPLOAD_DIR", ""); dir != "" && store != nil {
		mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(dir))))
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		auth.WithIdentity,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
