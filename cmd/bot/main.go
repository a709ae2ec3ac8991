package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/config"
	"github.com/markov-tgbot-go/internal/database"
	"github.com/markov-tgbot-go/internal/handlers"
	"github.com/markov-tgbot-go/internal/i18n"
	"github.com/markov-tgbot-go/internal/middleware"
	"github.com/markov-tgbot-go/internal/services/engine"
	"github.com/markov-tgbot-go/internal/services/features"
	"github.com/markov-tgbot-go/internal/services/history"
	"github.com/markov-tgbot-go/internal/services/modelcache"
	"github.com/markov-tgbot-go/internal/services/personality"
	"github.com/markov-tgbot-go/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Telegram Bot...")

	// Initialize bot
	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}

	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.InitDB(cfg.Storage.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	// Initialize stores
	historyStore := history.NewStore(db, log)
	personalityStore := personality.NewStore(db, log)

	// Initialize feature toggles
	featureService, err := features.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize feature toggles")
	}

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Initialize the response engine
	modelCache := modelcache.NewCache(historyStore, metrics, log)
	trigger := engine.NewTrigger(historyStore, personalityStore, log)
	generator := engine.NewGenerator(historyStore, personalityStore, modelCache, log)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize handlers
	commandHandler := handlers.NewCommandHandler(
		bot,
		cfg,
		historyStore,
		personalityStore,
		featureService,
		modelCache,
		trigger,
		rateLimiter,
		metrics,
		localizer,
		log,
	)

	messageHandler := handlers.NewMessageHandler(
		cfg,
		bot,
		historyStore,
		featureService,
		trigger,
		generator,
		rateLimiter,
		metrics,
		log,
	)

	// Use long polling
	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Bot.UpdateTimeout
	updates := bot.GetUpdatesChan(u)
	log.Info("Using long polling")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Main bot loop
	go func() {
		for update := range updates {
			if update.Message == nil {
				continue
			}

			if update.Message.IsCommand() {
				if err := commandHandler.HandleCommand(ctx, update.Message); err != nil {
					log.WithError(err).Error("Failed to handle command")
				}
				continue
			}

			if err := messageHandler.HandleMessage(ctx, &update); err != nil {
				log.WithError(err).Error("Failed to handle message")
			}
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	bot.StopReceivingUpdates()
	cancel()

	// Give in-flight replies time to finish
	time.Sleep(2 * time.Second)

	log.Info("Bot stopped")
}
