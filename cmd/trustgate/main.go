package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/gateway"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/repository/postgres"
	"github.com/xela07ax/trustgate/internal/server"
	"github.com/xela07ax/trustgate/internal/upload"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Database.URL == "" {
		logger.Fatal("DB_URL environment variable is required")
	}
	if cfg.Webhook.Secret == "" {
		// Fail closed: без секрета любой вебхук будет отклонен,
		// но стартовать без него — почти наверняка ошибка деплоя
		logger.Warn("WEBHOOK_SECRET is not set: all webhooks will be rejected")
	}

	// Контекст жизненного цикла фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	userRepo, err := postgres.NewUserRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to init user repo", zap.Error(err))
	}
	defer userRepo.Close()

	auditRepo, err := postgres.NewAuditRepo(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to init audit repo", zap.Error(err))
	}

	// Проверяем соединение с таймаутом
	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := userRepo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(reg)

	// 4. Audit Trail: асинхронная пакетная запись журнала
	trail := audit.NewTrail(auditRepo, logger, cfg.Audit.BufferSize, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	trail.SetBufferGauge(metrics.AuditBufferFill)
	trail.Start()

	// 5. Control Plane: рантайм-блокировка источников (Redis)
	blocklist := gateway.NewBlockList(rdb, logger)
	if err := blocklist.Init(appCtx); err != nil {
		// Redis недоступен — стартуем с пустым списком, слушатель досинхронизирует
		logger.Warn("blocklist init failed, starting empty", zap.Error(err))
	}
	go blocklist.StartListener(appCtx)

	// 6. Ядро шлюза
	validator := gateway.NewInputValidator(logger)
	verifier := gateway.NewSignatureVerifier(cfg.Webhook.Secret)
	window := gateway.NewFixedWindowLimiter(cfg.Outbound.RateCapacity, cfg.Outbound.RateWindow)
	outbound := gateway.NewOutboundClient(cfg.Outbound.URL, cfg.Outbound.APIKey, cfg.Outbound.Timeout, window, metrics, logger)

	datagate := gateway.NewDataGateway(validator, userRepo, trail, logger)
	dispatcher := gateway.NewDispatcher(verifier, blocklist, metrics, logger)
	if err := dispatcher.Bind("get_user", gateway.GetUserHandler(datagate)); err != nil {
		logger.Fatal("failed to bind action", zap.Error(err))
	}
	// update_preferences остается в allow-list без обработчика:
	// диспетчер ответит структурированным "not implemented"

	// 7. UploadGate: объектное хранилище с принудительным SSE
	s3store, err := upload.NewS3Store(appCtx, cfg.Storage.Region)
	if err != nil {
		logger.Fatal("failed to init object storage", zap.Error(err))
	}
	uploadGate := upload.NewGate(s3store, cfg.Storage.Timeout, logger)

	// 8. Операторская аутентификация (RS256, только верификация)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse ops public key", zap.Error(err))
	}
	tokenValidator := auth.NewBaseValidator(pubKey)

	// 9. HTTP-периметр
	srvHandler := server.New(
		logger,
		dispatcher,
		uploadGate,
		outbound,
		auditRepo,
		tokenValidator,
		trail,
		cfg.Storage.Bucket,
		window.RetryAfter,
		reg,
	)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("trustgate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("trustgate stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Останавливаем фоновые горутины и дожимаем аудиторский буфер
	cancel()
	trail.Stop()
	logger.Info("trustgate exited properly")
}
