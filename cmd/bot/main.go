package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_rewards_bot/internal/api"
	"tg_rewards_bot/internal/config"
	"tg_rewards_bot/internal/ledger"
	"tg_rewards_bot/internal/logging"
	"tg_rewards_bot/internal/referral"
	"tg_rewards_bot/internal/store"
	"tg_rewards_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoRestoreTimeout     = 10 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	apiShutdownTimeout      = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":        "startup",
		"bot_username": cfg.BotUsername,
		"durability":   cfg.HasMongo(),
	}).Info("configuration loaded")

	accountLedger := ledger.New(logger)
	engine := referral.NewEngine(accountLedger, logger)

	var mongoManager *store.Manager
	var syncer *store.Syncer
	var mongoChecker api.MongoChecker

	if cfg.HasMongo() {
		connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		mongoManager, err = store.NewManager(connectCtx, cfg)
		cancel()
		if err != nil {
			logger.WithError(err).Error("mongo connection error")
			fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
			os.Exit(1)
		}

		logger.WithField("event", "mongo_connect").Info("connected to mongo")

		indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
		if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
			cancelIndexes()
			logger.WithError(err).Error("mongo index setup error")
			fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
			os.Exit(1)
		}
		cancelIndexes()

		repo := store.NewAccountRepository(mongoManager.Accounts())

		restoreCtx, cancelRestore := context.WithTimeout(context.Background(), mongoRestoreTimeout)
		accounts, err := repo.ListAll(restoreCtx)
		cancelRestore()
		if err != nil {
			logger.WithError(err).Error("account restore error")
			fmt.Fprintf(os.Stderr, "account restore error: %v\n", err)
			os.Exit(1)
		}
		accountLedger.Restore(accounts)

		logger.WithFields(logging.Fields{
			"event":    "accounts_restored",
			"accounts": len(accounts),
		}).Info("restored accounts from mongo")

		syncer = store.NewSyncer(repo, accountLedger, time.Duration(cfg.SyncInterval)*time.Second, logger)
		mongoChecker = mongoManager
	}

	apiServer := api.NewServer(cfg.HTTPPort, accountLedger, engine, mongoChecker, logger)

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithLedger(accountLedger),
		telegram.WithEngine(engine),
	)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiDone := make(chan struct{})
	go func() {
		if err := apiServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("api server error")
		}
		close(apiDone)
	}()

	var syncerDone chan struct{}
	syncerCtx, cancelSyncer := context.WithCancel(context.Background())
	if syncer != nil {
		syncerDone = make(chan struct{})
		go func() {
			syncer.Run(syncerCtx)
			close(syncerDone)
		}()
	}

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	apiCtx, cancelAPI := context.WithTimeout(context.Background(), apiShutdownTimeout)
	if err := apiServer.Shutdown(apiCtx); err != nil {
		logger.WithError(err).Error("api shutdown error")
	}
	cancelAPI()
	<-apiDone

	cancelSyncer()
	if syncerDone != nil {
		<-syncerDone
	}

	if mongoManager != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		if err := mongoManager.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
		} else {
			logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
		}
		cancelShutdown()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
