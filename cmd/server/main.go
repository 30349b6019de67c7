package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"botdash/internal/api"
	"botdash/internal/config"
	"botdash/internal/eventbridge"
	"botdash/internal/liveness"
	"botdash/internal/repository"
	"botdash/internal/service"
	"botdash/internal/websocket"
	"botdash/pkg/crypto"
	"botdash/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Источники сигналов живости
	lc := cfg.Liveness
	httpCfg := liveness.DefaultHTTPClientConfig()
	httpCfg.RequestRate = lc.RequestRate
	httpCfg.RequestBurst = lc.RequestBurst
	hc := liveness.NewHTTPClient(httpCfg)

	botAPI := liveness.NewBotAPIClient(hc, lc.APIUsername, lc.ProbeTimeout, logger.Logger)
	orchestrator := liveness.NewOrchestratorClient(hc, lc.OrchestratorURL, lc.OrchestratorToken, lc.ProbeTimeout, logger.Logger)
	router := liveness.NewExchangeRouter(botAPI, lc.CandidateDomains, lc.StalenessThreshold(), lc.ProbeTimeout, logger.Logger)

	// Инициализация репозиториев
	botRepo := repository.NewBotRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// WebSocket hub
	hub := websocket.NewHub(logger.Logger)

	notificationService := service.NewNotificationService(notificationRepo, logger.Logger)
	notificationService.SetWebSocketHub(hub)

	// Push канал ботов
	bridgeCfg := eventbridge.DefaultConfig()
	bridgeCfg.Categories = lc.EventCategories
	bridge := eventbridge.NewBridge(ctx, bridgeCfg, logger.Logger)

	factory := service.NewEngineFactory(service.EngineWiring{
		Deps: liveness.Dependencies{
			Router:     router,
			Deployment: orchestrator,
			Trades:     botAPI,
			Control:    botAPI,
			Account:    botAPI,
			Store:      botRepo,
		},
		Options: liveness.Options{
			Threshold:    lc.StalenessThreshold(),
			PollInterval: lc.PollInterval,
			StopGrace:    lc.StopGrace,
			DeployHold:   lc.DeployHold,
		},
		Events:   bridge,
		Hub:      hub,
		Notifier: notificationService,
		Logger:   logger.Logger,
	})
	registry := liveness.NewRegistry(ctx, factory, logger.Logger)

	secrets, err := crypto.NewSecretBox([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		logger.Fatal("failed to init secret box", zap.Error(err))
	}

	botService := service.NewBotService(botRepo, registry, orchestrator, secrets, logger.Logger)
	botService.SetNotifier(notificationService)

	hub.SetWatcher(botService)
	go hub.Run()

	var metricsAuth *crypto.BasicAuthVerifier
	if cfg.Security.MetricsUser != "" {
		metricsAuth = crypto.NewBasicAuthVerifier(cfg.Security.MetricsUser, cfg.Security.MetricsPasswordHash)
	}

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		BotService:          botService,
		NotificationService: notificationService,
		Hub:                 hub,
		MetricsAuth:         metricsAuth,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		HealthCheck:         db.PingContext,
	}

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // ручные действия ждут до 30s
		IdleTimeout:  60 * time.Second,
	}

	go runNotificationCleanup(ctx, notificationService, cfg.Server.NotificationCleanup, cfg.Server.NotificationKeep)

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Порядок важен: сначала представления, затем движки и их push каналы
	botService.Close()
	registry.Close()
	bridge.Close()
	hub.Stop()
	cancel()
	hc.Close()

	logger.Info("server exited")
}

// runNotificationCleanup периодически обрезает журнал уведомлений
func runNotificationCleanup(ctx context.Context, svc *service.NotificationService, interval time.Duration, keep int) {
	if interval <= 0 || keep <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := svc.CleanupOld(keep)
			if err != nil {
				utils.Warn("notification cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				utils.Info("old notifications removed", zap.Int64("deleted", deleted))
			}
		}
	}
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
