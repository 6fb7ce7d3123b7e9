package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frlabs/sitegate/internal/config"
	"github.com/frlabs/sitegate/internal/handler"
	"github.com/frlabs/sitegate/internal/middleware"
	"github.com/frlabs/sitegate/internal/pkg/logger"
	"github.com/frlabs/sitegate/internal/repository"
	"github.com/frlabs/sitegate/internal/service"
	"github.com/frlabs/sitegate/internal/upstream/openai"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Local development keeps OPENAI_API_KEY in .env; absence is fine.
	_ = godotenv.Load()

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	// 2. Initialize Persistence
	// Quota counters (Redis > Memory)
	var quotaStore service.QuotaStore
	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			quotaStore = redisClient
		} else {
			logger.Error("Failed to connect to Redis, falling back to memory", "error", err)
			redisClient = nil
		}
	}
	if quotaStore == nil {
		quotaStore = service.NewMemoryQuotaStore()
	}

	// Consent evidence (Postgres > Redis > log line only)
	var evidenceRepo service.EvidenceRepo
	var pgRepo *repository.PostgresConsentRepo
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			pgRepo, err = repository.NewPostgresConsentRepo(ctx, db)
			cancel()
		}
		if err == nil {
			logger.Info("Connected to PostgreSQL")
			evidenceRepo = pgRepo
		} else {
			logger.Error("Failed to connect to DB, consent events will be log-only", "error", err)
		}
	}
	if evidenceRepo == nil && redisClient != nil {
		evidenceRepo = repository.NewRedisConsentRepo(redisClient, cfg.Redis.EvidenceListKey, cfg.Redis.EvidenceListMax)
	}

	// 3. Initialize Core Services
	var completer service.Completer
	if cfg.OpenAI.APIKey != "" {
		completer = openai.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, time.Duration(cfg.OpenAI.TimeoutMs)*time.Millisecond)
	} else {
		logger.Warn("OpenAI API key not configured, /api/chat will answer 503")
	}
	chatSvc := service.NewChatService(completer, service.ChatOptions{
		Model:            cfg.OpenAI.Model,
		ReasoningEffort:  cfg.OpenAI.ReasoningEffort,
		Verbosity:        cfg.OpenAI.Verbosity,
		MaxOutputTokens:  cfg.OpenAI.MaxOutputTokens,
		MaxQuestionChars: cfg.Chat.MaxQuestionChars,
		MaxAnswerWords:   cfg.Chat.MaxAnswerWords,
	})
	consentSvc := service.NewConsentLogService(logger.Get(), evidenceRepo, service.ConsentLogOptions{
		MaxUserAgentChars: cfg.Consent.MaxUserAgentChars,
		MaxFieldChars:     cfg.Consent.MaxFieldChars,
		Buffer:            cfg.Consent.EvidenceBuffer,
	})
	quotaSvc := service.NewQuotaService(quotaStore, cfg.RateLimit.DailyQuestions, cfg.Redis.QuotaPrefix)
	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.ChatQPS, cfg.RateLimit.ChatBurst)

	// 4. Setup Router
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	r, err := handler.NewRouter(handler.RouterOptions{
		Chat:           handler.NewChatHandler(chatSvc, cfg.Chat.MaxBodyChars).WithQuota(quotaSvc),
		ConsentLog:     handler.NewConsentLogHandler(consentSvc, cfg.Consent.MaxBodyChars),
		ChatGuard:      middleware.RateLimitMiddleware(limiter),
		MetricsPath:    metricsPath,
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		log.Fatalf("Failed to build router: %v", err)
	}

	// 5. Retention for persisted consent evidence
	stopCleanup := make(chan struct{})
	if pgRepo != nil && cfg.Database.ConsentRetentionDays > 0 {
		go runRetention(pgRepo, time.Duration(cfg.Database.ConsentRetentionDays)*24*time.Hour, stopCleanup)
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("sitegate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	close(stopCleanup)
	consentSvc.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server exiting")
}

func runRetention(repo *repository.PostgresConsentRepo, retention time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := repo.Cleanup(ctx, retention); err != nil {
			logger.LogError(ctx, err, "consent evidence cleanup failed")
		}
		cancel()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
