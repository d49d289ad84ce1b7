package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/api"
	"github.com/ivansuy/finalsecurityandaudit/internal/auth"
	"github.com/ivansuy/finalsecurityandaudit/internal/detector"
	"github.com/ivansuy/finalsecurityandaudit/internal/events"
	"github.com/ivansuy/finalsecurityandaudit/internal/logger"
	"github.com/ivansuy/finalsecurityandaudit/pkg/config"
	"github.com/ivansuy/finalsecurityandaudit/pkg/database"
	"github.com/ivansuy/finalsecurityandaudit/pkg/database/queries"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	migrate := flag.Bool("migrate", false, "run database migrations")
	createUser := flag.String("create-user", "", "create a dashboard user (username:password)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Setup(cfg.App.LogLevel, cfg.App.Mode)
	logger.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Mode)

	db, err := database.New(cfg.Database.ToDBConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	logger.Info("Database connection established")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *migrate {
		logger.Info("Running database migrations")
		migrator := database.NewMigrator(db)
		if err := migrator.Run(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Migrations completed successfully")
		return nil
	}

	if *createUser != "" {
		return createDashboardUser(ctx, db, *createUser)
	}

	bus := events.NewEventBus(cfg.Events.BufferSize)
	defer bus.Close()

	requestLogRepo := queries.NewRequestLogRepository(db.DB)
	detectionRepo := queries.NewDetectionRepository(db.DB)

	engine := detector.NewEngine(cfg.Anomaly, requestLogRepo, detectionRepo, events.NewPublisher(bus))
	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start detection engine: %w", err)
	}
	defer engine.Stop()

	server := api.NewServer(cfg, db, engine, bus)

	// Expire stale backoff entries so the attempt map stays bounded
	pruneCtx, prunesCancel := context.WithCancel(context.Background())
	defer prunesCancel()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
				server.Backoff().Prune()
			}
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("API server listening on port %d", cfg.API.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdownChan:
		logger.Infof("Received signal %v, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func createDashboardUser(ctx context.Context, db *database.DB, userArg string) error {
	parts := strings.SplitN(userArg, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("expected username:password, got %q", userArg)
	}

	hash, err := auth.HashPassword(parts[1])
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	userRepo := queries.NewUserRepository(db.DB)
	if _, err := userRepo.Create(ctx, parts[0], hash, "admin"); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	logger.Infof("Created user %s", parts[0])
	return nil
}
