package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"campus_vote/pkg/booth"
	"campus_vote/pkg/config"
	"campus_vote/pkg/database"
	"campus_vote/pkg/scheduler"
	"campus_vote/pkg/security"
	"campus_vote/pkg/tally"
	"campus_vote/pkg/utils"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

// App represents the running application
type App struct {
	db        *database.Service
	lifecycle *scheduler.Lifecycle
	booth     *booth.Service
	logger    *zap.Logger
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, err := initLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration",
			zap.String("path", *configFile),
			zap.Error(err),
		)
	}

	// Create context for application lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize application
	app, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	// Setup shutdown handling
	setupGracefulShutdown(ctx, cancel, app, logger)

	// Block until shutdown signal
	<-ctx.Done()
}

func initializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Database service: connection pool, schema, change feed. The change
	// feed runs for the process lifetime, so it gets the app context.
	dbService := database.NewService(&cfg.Database, logger)
	if err := dbService.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting database service: %w", err)
	}
	repo := dbService.GetRepository()

	// Security collaborators
	hasher := security.NewIdentityHasher(cfg.Security.HashSecret)
	detector := security.NewFraudDetector(&cfg.Fraud)
	tokens := security.NewTokenIssuer(&cfg.Security)

	// Live tallies: change-feed driven with a periodic fallback poll
	aggregator := tally.NewAggregator(repo, dbService.GetListener(), &cfg.Voting,
		utils.LoggerWithContext(logger, zap.String("component", "tally")))
	go aggregator.Watch(ctx)

	// Booth flow
	boothService := booth.NewService(repo, hasher, detector, tokens, aggregator, &cfg.Voting,
		utils.LoggerWithContext(logger, zap.String("component", "booth")))

	// Election lifecycle sweeps
	lifecycle := scheduler.NewLifecycle(repo, &cfg.Scheduler, cfg.Voting.SessionTimeout,
		utils.LoggerWithContext(logger, zap.String("component", "scheduler")))
	if err := lifecycle.Start(); err != nil {
		dbService.Stop(context.Background())
		return nil, fmt.Errorf("starting lifecycle scheduler: %w", err)
	}

	logger.Info("All services started successfully")

	return &App{
		db:        dbService,
		lifecycle: lifecycle,
		booth:     boothService,
		logger:    logger,
	}, nil
}

func (a *App) stop(ctx context.Context) error {
	// Stop services in reverse order
	a.lifecycle.Stop()

	if err := a.db.Stop(ctx); err != nil {
		a.logger.Error("Shutdown error", zap.Error(err))
		return err
	}

	a.logger.Info("All services stopped")
	return nil
}

func setupGracefulShutdown(ctx context.Context, cancel context.CancelFunc, app *App, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-ctx.Done():
			logger.Info("Context cancelled")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.stop(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
			os.Exit(1)
		}

		cancel()
	}()
}

func initLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	cfg := utils.DefaultLogConfig()
	cfg.Level = "info"
	return utils.NewLogger(cfg)
}
