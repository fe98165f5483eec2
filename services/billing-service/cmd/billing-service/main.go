package main

import (
	"context"
	"net/http"
	"strings"
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
	"github.com/purposefullive/coaching-platform/libs/outbox"
	"github.com/purposefullive/coaching-platform/libs/runtime"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/handlers"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/plans"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/provider"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/reconcile"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/subscriptions"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/usage"
	"github.com/purposefullive/coaching-platform/services/billing-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// stripePrices reads STRIPE_PRICE_<TIER> for every paid tier.
func stripePrices() map[string]string {
	prices := map[string]string{}
	for _, p := range plans.Paid() {
		if id := config.String("STRIPE_PRICE_"+strings.ToUpper(p.Tier), ""); id != "" {
			prices[p.Tier] = id
		}
	}
	return prices
}

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9084")
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

	trialDays, err := config.Int("SUBSCRIPTION_TRIAL_DAYS", plans.TrialDays)
	if err != nil {
		panic(err)
	}
	webhookTolerance, err := config.Minutes("STRIPE_WEBHOOK_TOLERANCE_MINUTES", 5)
	if err != nil {
		panic(err)
	}
	reconcileEvery, err := config.Minutes("BILLING_STRIPE_RECONCILE_INTERVAL_MINUTES", 5)
	if err != nil {
		panic(err)
	}
	reconcileBatch, err := config.Int("BILLING_STRIPE_RECONCILE_BATCH_SIZE", 50)
	if err != nil {
		panic(err)
	}
	reconcileLockKey, err := config.Int("BILLING_STRIPE_RECONCILE_LOCK_KEY", 4242001)
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

	stripeClient := provider.NewStripe(provider.Config{
		SecretKey:  config.String("STRIPE_SECRET_KEY", ""),
		Prices:     stripePrices(),
		SuccessURL: config.String("CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
		CancelURL:  config.String("CHECKOUT_CANCEL_URL", "http://localhost:3000/billing/cancelled"),
		TrialDays:  int64(trialDays),
	})
	if !stripeClient.Configured() {
		logger.Warn("STRIPE_SECRET_KEY not set; checkout disabled, local provider only")
	}

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository()
	svc := subscriptions.New(pool, repo, outboxRepo, stripeClient, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	meter := usage.New(repo, logger)
	inboxRepo := inbox.NewRepository(pool)
	groupID := config.String("KAFKA_GROUP_ID", "billing-service")
	for topic, handler := range map[string]kafkax.Handler{
		events.TopicChatMessageSent:    meter.ChatMessageSent,
		events.TopicSessionBooked:      meter.SessionBooked,
		events.TopicSessionRescheduled: meter.SessionRescheduled,
		events.TopicSessionCancelled:   meter.SessionCancelled,
	} {
		c := kafkax.NewConsumer(logger, inboxRepo, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	if config.Bool("BILLING_STRIPE_RECONCILE_ENABLED", false) {
		if stripeClient.Configured() {
			r := reconcile.NewStripeReconciler(svc, reconcile.NewAdvisoryLock(pool), logger, reconcile.Config{
				Interval:        reconcileEvery,
				BatchSize:       reconcileBatch,
				AdvisoryLockKey: int64(reconcileLockKey),
			})
			go r.Run(ctx)
		} else {
			logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing")
		}
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
	handlers.Register(mux, handlers.NewBillingHandler(svc, provider.WebhookVerifier{
		Secret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		Tolerance: webhookTolerance,
	}, logger))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		auth.WithIdentity,
	)
	handler = otelhttp.NewHandler(handler, "billing")
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
