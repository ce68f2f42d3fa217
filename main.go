package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/medminder/medminder/internal/bot"
	"github.com/medminder/medminder/internal/bot/state"
	"github.com/medminder/medminder/internal/checker"
	"github.com/medminder/medminder/internal/config"
	"github.com/medminder/medminder/internal/connectivity"
	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/logger"
	"github.com/medminder/medminder/internal/reminder"
	"github.com/medminder/medminder/internal/repository"
	"github.com/medminder/medminder/internal/services"
	"github.com/medminder/medminder/internal/tracker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting MedMinder Bot...")

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.InitWithConfig(logger.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Configuration loaded successfully", "storage_backend", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := newRepository(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer repo.Close()
	logger.Info("Storage connection established")

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Fatalf("Failed to create bot API: %v", err)
	}
	logger.Info("Bot authorized", "account", api.Self.UserName)

	clock := domain.SystemClock{}
	track := tracker.New(clock)
	network := connectivity.New(cfg.Connectivity.ProbeAddress,
		time.Duration(cfg.Connectivity.TimeoutSeconds)*time.Second)
	orch := reminder.New(cfg.Reminders, reminder.NewTelegramNotifier(api, cfg.Reminders))

	medService := services.NewMedicationService(repo, track, orch, network, clock, cfg.Reminders.StockAlertLeadDays)
	doseService := services.NewDoseService(repo, track, network, clock)
	adherenceService := services.NewAdherenceService(repo, clock)
	logger.Info("Services initialized successfully")

	stateChecker := checker.New(repo, track, doseService, orch)
	if err := stateChecker.Start(ctx); err != nil {
		logger.Fatalf("Failed to start dose state checker: %v", err)
	}
	defer stateChecker.Stop()

	states, cleanup, err := newStateManager(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize state manager: %v", err)
	}
	defer cleanup()

	telegramBot := bot.NewBot(api, repo, medService, doseService, adherenceService, stateChecker, track, states)
	logger.Info("Bot initialized successfully")

	if err := telegramBot.Start(ctx); err != nil && err != context.Canceled {
		logger.Errorf("Bot stopped with error: %v", err)
	}
	logger.Info("Shutdown complete")
}

func newRepository(ctx context.Context, cfg *config.Config) (domain.MedicationRepository, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		return repository.NewPostgresRepository(cfg.Storage.DB)
	default:
		return repository.NewFirestoreRepository(ctx, cfg.Storage.FirebaseCredentials, cfg.Storage.FirebaseProjectID)
	}
}

func newStateManager(cfg *config.Config) (state.StateManager, func(), error) {
	if cfg.Redis.Enabled {
		manager, err := state.NewRedisManager(cfg.Redis.Host, cfg.Redis.Port)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Redis state manager", "host", cfg.Redis.Host)
		return manager, func() { manager.Close() }, nil
	}
	logger.Info("Using in-memory state manager")
	return state.NewManager(), func() {}, nil
}
