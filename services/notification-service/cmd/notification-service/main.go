package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/purposefullive/coaching-platform/libs/config"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/libs/grpcx"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/libs/inbox"
	"github.com/purposefullive/coaching-platform/libs/kafkax"
	otelx "github.com/purposefullive/coaching-platform/libs/otel"
	"github.com/purposefullive/coaching-platform/libs/outbox"
	"github.com/purposefullive/coaching-platform/libs/runtime"
	"github.com/purposefullive/coaching-platform/services/notification-service/internal/dispatch"
	"github.com/purposefullive/coaching-platform/services/notification-service/internal/email"
	"github.com/purposefullive/coaching-platform/services/notification-service/internal/sms"
	"github.com/purposefullive/coaching-platform/services/notification-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/notification-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newSMSSender(provider, url, token string) sms.Sender {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "noop":
		return sms.NewNoopSender()
	default:
		return sms.NewWebhookSender(url, token)
	}
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9085")
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

	loc, err := config.Location("NOTIFICATION_TIMEZONE", "UTC")
	if err != nil {
		panic(err)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	inboxRepo := inbox.NewRepository(pool)
	outboxRepo := outbox.NewRepository()
	notificationsRepo := storage.NewRepository(pool, outboxRepo)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	emailSender := email.NewSMTPSender(email.SMTPConfig{
		Host:     config.String("SMTP_HOST", "mailpit"),
		Port:     config.String("SMTP_PORT", "1025"),
		From:     config.String("SMTP_FROM", "no-reply@purposefullive.local"),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
	})
	smsSender := newSMSSender(
		config.String("SMS_PROVIDER", "noop"),
		config.String("SMS_WEBHOOK_URL", ""),
		config.String("SMS_WEBHOOK_TOKEN", ""),
	)

	dispatcher := dispatch.New(emailSender, smsSender, notificationsRepo, logger, dispatch.Config{
		FailSuffix: config.String("NOTIFICATION_FAIL_SUFFIX", ""),
		OwnerEmail: config.String("OWNER_EMAIL", ""),
		Location:   loc,
		Brand:      config.String("NOTIFICATION_BRAND", "Purposeful Live Coaching"),
	})

	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	for topic, handler := range map[string]kafkax.Handler{
		events.TopicSessionBooked:       dispatcher.SessionBooked,
		events.TopicSessionRescheduled:  dispatcher.SessionRescheduled,
		events.TopicSessionCancelled:    dispatcher.SessionCancelled,
		events.TopicReminderDue:         dispatcher.ReminderDue,
		events.TopicCrisisDetected:      dispatcher.CrisisDetected,
		events.TopicUserRegistered:      dispatcher.UserRegistered,
		events.TopicSubscriptionChanged: dispatcher.SubscriptionChanged,
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
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
