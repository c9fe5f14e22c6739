package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/audit"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/connection"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/handler"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/hub"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/server"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/service"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/gateway"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra/auth"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура и ресурсы
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	repo, err := postgres.NewRepo(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to init postgres", zap.Error(err))
	}
	if err := repo.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancel()
	defer repo.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// RSA ключи для RS256
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse private key", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse public key", zap.Error(err))
	}

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := infra.NewMetrics(reg)

	// Экспортируем метрики для Prometheus на отдельном порту
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		log.Fatal(http.ListenAndServe(addr, mux))
	}()

	// 3. Журнал операций (асинхронная пакетная запись в Postgres)
	trail := audit.NewTrail(repo, metrics, logger)
	trail.Start()

	// 4. Клиент шлюза и слой подключений
	creds := gateway.NewCredentialStore(gateway.Credentials{
		APIURL: cfg.Gateway.BaseURL,
		APIKey: cfg.Gateway.APIKey,
	})
	gwClient := gateway.NewClient(creds, cfg.Gateway, metrics, logger)

	view := connection.NewListView()
	bus := connection.NewEventBus(rdb, logger)
	reconciler := connection.NewReconciler(repo, bus, view, logger)

	registry := connection.NewRegistry(gwClient, reconciler, cfg.Gateway.PendingRecheck, logger)
	poller := connection.NewPoller(cfg.Gateway.PollInterval, metrics, logger)

	// Realtime: реконсайлер -> WebSocket-хаб
	wsHub := hub.New()
	reconciler.SetNotify(wsHub.BroadcastEvent)

	// Контекст жизненного цикла фоновых горутин
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()
	go reconciler.Run(appCtx)

	// 5. Сервисы и хендлеры (Dependency Injection)
	connService := service.NewConnectionService(
		repo, registry, poller, reconciler, view, gwClient, creds, trail, logger)
	agentService := service.NewAgentService(repo, logger)
	authService := service.NewAuthService(repo, privateKey, publicKey, cfg.Auth.TokenTTL)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewWhatsAppHandler(connService, logger),
		handler.NewConnectionHandler(connService, logger),
		handler.NewAgentHandler(agentService, logger),
		handler.NewDashboardHandler(repo),
		handler.NewWSHandler(wsHub, authService, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Запуск и Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("service stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	appCancel()          // Останавливаем подписку на события
	poller.Shutdown()    // Гасим таймеры опроса
	trail.Stop()         // Дописываем журнал операций (drain)
	logger.Info("service exited properly")
}
