package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"spottrader/internal/api"
	"spottrader/internal/bot"
	"spottrader/internal/config"
	"spottrader/internal/exchange"
	"spottrader/internal/push"
	"spottrader/internal/repository"
	"spottrader/internal/service"
	"spottrader/internal/websocket"
	"spottrader/pkg/retry"
	"spottrader/pkg/utils"
)

const (
	// notificationKeep - сколько последних уведомлений хранить на владельца
	notificationKeep = 1000
	// cleanupInterval - период очистки журнала уведомлений
	cleanupInterval = time.Hour
	// shutdownTimeout - время на завершение HTTP запросов и доставку очереди
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", utils.Err(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	if err := repository.Migrate(db); err != nil {
		return err
	}

	// Репозитории
	ownerRepo := repository.NewOwnerRepository(db)
	exchangeRepo := repository.NewExchangeRepository(db)
	lotRepo := repository.NewLotRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	// Все клиенты бирж делят один пул соединений с таймаутом ORDER_TIMEOUT
	exchange.SetGlobalTimeout(cfg.Trading.OrderTimeout)
	defer exchange.CloseGlobalClient()
	newClient := exchange.NewClient

	publicClients := make(map[string]exchange.Exchange, len(exchange.SupportedExchanges))
	for _, name := range exchange.SupportedExchanges {
		client, err := newClient(name, exchange.Credentials{})
		if err != nil {
			return err
		}
		publicClients[name] = client
	}
	market := bot.NewMarketData(publicClients, cfg.Trading.PriceCacheTTL)

	// WebSocket hub и уведомления
	hub := websocket.NewHub(cfg.Server.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	notificationService := service.NewNotificationService(notificationRepo, cfg.Notify.QueueSize)
	notificationService.SetWebSocketHub(hub)
	if cfg.Notify.FCMEnabled {
		pusher, err := push.NewFCMPusher(ctx, cfg.Notify.FCMCredentialsFile, cfg.Notify.FCMTopicPrefix)
		if err != nil {
			// Push необязателен: уведомления остаются в журнале и websocket
			log.Warn("FCM push disabled", utils.Err(err))
		} else {
			notificationService.SetPusher(pusher)
			log.Info("FCM push enabled", utils.String("topic_prefix", cfg.Notify.FCMTopicPrefix))
		}
	}

	// Сервисы
	exchangeService := service.NewExchangeService(exchangeRepo, cfg.Security.EncryptionKey, newClient)
	ownerService := service.NewOwnerService(ownerRepo)
	ruleService := service.NewRuleService(ruleRepo)
	statsService := service.NewStatsService(tradeRepo)

	// Торговое ядро
	orders := bot.NewOrderGateway(newClient, market, cfg.Trading)
	ledger := bot.NewPositionLedger(lotRepo, tradeRepo, orders, exchangeService, market, notificationService)

	gate, err := bot.NewSignalGate(market, cfg.Gate, hub)
	if err != nil {
		return fmt.Errorf("create signal gate: %w", err)
	}
	settingsService := service.NewSettingsService(settingsRepo, gate)
	if err := settingsService.RestoreGateMode(); err != nil {
		log.Warn("failed to restore gate mode", utils.Err(err))
	}

	deferred := bot.NewDeferredScheduler(ledger, gate, notificationService)
	profit := bot.NewProfitManager(ledger, market, ledger, cfg.Profit)

	router := bot.NewIntentRouter(bot.RouterDeps{
		Owners:       ownerRepo,
		Rules:        ruleService,
		Credentials:  exchangeService,
		Balances:     orders,
		Orders:       orders,
		Ledger:       ledger,
		Exits:        deferred,
		Gate:         gate,
		Notifier:     notificationService,
		GlobalSecret: cfg.Security.WebhookSecret,
	}, cfg.Trading)

	engine := bot.NewEngine(cfg, gate, deferred, profit)

	// Фоновые задачи
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		notificationService.Run(notifyCtx)
	}()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(ctx)
	}()

	go runCleanup(ctx, notificationService, log)

	// HTTP сервер
	handler := api.NewHandler(&api.Dependencies{
		Router:              router,
		Positions:           ledger,
		Pending:             deferred,
		Prices:              market,
		Balances:            orders,
		ExchangeService:     exchangeService,
		RuleService:         ruleService,
		OwnerService:        ownerService,
		StatsService:        statsService,
		SettingsService:     settingsService,
		NotificationService: notificationService,
		Hub:                 hub,
		APIToken:            cfg.Security.APIToken,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		FeeRate:             cfg.Profit.FeeRate,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", utils.Err(err))
	}

	// Сначала останавливаются циклы, затем очередь уведомлений дописывается в БД
	<-engineDone
	stopNotify()
	select {
	case <-notifyDone:
	case <-shutdownCtx.Done():
		log.Warn("notification queue not drained", utils.Int("pending", notificationService.Pending()))
	}

	log.Info("server exited")
	return runErr
}

// initDatabase открывает пул и ждёт доступности БД с повторами
func initDatabase(ctx context.Context, cfg *config.Config, log *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	retryCfg := retry.ConservativeConfig()
	retryCfg.MaxRetries = 5
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("database is not ready, retrying",
			utils.Int("attempt", attempt), utils.Dur("delay", delay), utils.Err(err))
	}

	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, retryCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// runCleanup периодически обрезает журнал уведомлений
func runCleanup(ctx context.Context, notifications *service.NotificationService, log *utils.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := notifications.Cleanup(notificationKeep)
			if err != nil {
				log.Warn("notification cleanup failed", utils.Err(err))
				continue
			}
			if removed > 0 {
				log.Info("notification journal trimmed", utils.Int64("removed", removed))
			}
		}
	}
}
