package main

import (
	"context"
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
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/chat"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/handlers"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/llm"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/aichat-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func loadLLMConfig() (llm.Config, error) {
	timeoutSeconds, err := config.Int("LLM_TIMEOUT_SECONDS", 30)
	if err != nil {
		return llm.Config{}, err
	}
	intervalMillis, err := config.Int("LLM_MIN_INTERVAL_MS", 50)
	if err != nil {
		return llm.Config{}, err
	}
	maxTokens, err := config.Int("LLM_MAX_TOKENS", 800)
	if err != nil {
		return llm.Config{}, err
	}
	return llm.Config{
		BaseURL:       config.String("LLM_BASE_URL", "https://api.openai.com/v1"),
		APIKey:        config.String("LLM_API_KEY", ""),
		Model:         config.String("LLM_MODEL", "gpt-4o-mini"),
		FallbackModel: config.String("LLM_FALLBACK_MODEL", ""),
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
		MinInterval:   time.Duration(intervalMillis) * time.Millisecond,
		MaxTokens:     maxTokens,
	}, nil
}

func main() {
	service := config.String("SERVICE_NAME", "aichat-service")
	port, err := config.Port("PORT", "8088")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9088")
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

	llmCfg, err := loadLLMConfig()
	if err != nil {
		panic(err)
	}
	llmClient := llm.New(llmCfg)
	if !llmClient.Configured() {
		logger.Warn("LLM_API_KEY not set, chat replies will use the fallback message")
	}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository()
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	historyLimit, err := config.Int("CHAT_HISTORY_LIMIT", 20)
	if err != nil {
		panic(err)
	}
	svc := chat.NewService(pool, storage.NewRepository(pool), outboxRepo, llmClient, logger, chat.Config{
		SystemPrompt: config.String("CHAT_SYSTEM_PROMPT", ""),
		HistoryLimit: historyLimit,
	})

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
	handlers.Register(mux, handlers.NewChatHandler(svc, logger))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		auth.WithIdentity,
		httpx.WithBodyLimit(64<<10),
	)
	handler = otelhttp.NewHandler(handler, "aichat")
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
