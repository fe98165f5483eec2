package main

import (
	"context"
	"net/http"
	"time"

	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/config"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/libs/grpcx"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/libs/inbox"
	"github.com/purposefullive/coaching-platform/libs/kafkax"
	otelx "github.com/purposefullive/coaching-platform/libs/otel"
	"github.com/purposefullive/coaching-platform/libs/runtime"
	"github.com/purposefullive/coaching-platform/services/analytics-service/internal/handlers"
	"github.com/purposefullive/coaching-platform/services/analytics-service/internal/ingest"
	"github.com/purposefullive/coaching-platform/services/analytics-service/internal/metrics"
	"github.com/purposefullive/coaching-platform/services/analytics-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9086")
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

	loc, err := config.Location("ANALYTICS_TIMEZONE", "UTC")
	if err != nil {
		panic(err)
	}

	repo := metrics.NewRepository(pool)
	ingestor := ingest.New(repo, logger, loc)
	inboxRepo := inbox.NewRepository(pool)
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "analytics-service")
	for topic, handler := range map[string]kafkax.Handler{
		events.TopicSessionBooked:      ingestor.SessionBooked,
		events.TopicSessionRescheduled: ingestor.SessionRescheduled,
		events.TopicSessionCancelled:   ingestor.SessionCancelled,
		events.TopicNotificationSent:   ingestor.NotificationResult,
		events.TopicNotificationFailed: ingestor.NotificationResult,
		events.TopicReminderDLQ:        ingestor.ReminderDeadLettered,
		events.TopicCrisisDetected:     ingestor.CrisisDetected,
	} {
		c := kafkax.NewConsumer(logger, inboxRepo, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

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
	handlers.Register(mux, handlers.NewMetricsHandler(repo, logger, loc))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		auth.WithIdentity,
	)
	handler = otelhttp.NewHandler(handler, "analytics")
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
