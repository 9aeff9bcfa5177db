package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wmstack/workflow-engine/internal/api"
	"github.com/wmstack/workflow-engine/internal/application/service"
	"github.com/wmstack/workflow-engine/internal/config"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
	"github.com/wmstack/workflow-engine/internal/infrastructure/persistence/repository"
	"github.com/wmstack/workflow-engine/internal/infrastructure/worker"
	"github.com/wmstack/workflow-engine/migrations"
	"github.com/wmstack/workflow-engine/pkg/database"
	"github.com/wmstack/workflow-engine/pkg/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting workflow engine",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(migrations.FS); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize repositories
	definitionRepo := repository.NewDefinitionRepository(db, logger)
	stepRepo := repository.NewStepRepository(db, logger)
	instanceRepo := repository.NewInstanceRepository(db, logger)
	stepInstanceRepo := repository.NewStepInstanceRepository(db, logger)
	transitionRepo := repository.NewTransitionRepository(db, logger)
	approvalRepo := repository.NewApprovalRepository(db, logger)

	// Initialize services
	evaluator := workflow.NewEvaluator()
	definitionService := service.NewDefinitionService(db, definitionRepo, stepRepo, instanceRepo, logger)
	stepService := service.NewStepService(definitionRepo, stepRepo, logger)
	instanceService := service.NewInstanceService(db, definitionRepo, stepRepo, instanceRepo, stepInstanceRepo, transitionRepo, evaluator, logger)
	approvalService := service.NewApprovalService(stepRepo, stepInstanceRepo, approvalRepo, logger)
	queryService := service.NewQueryService(definitionRepo, stepRepo, instanceRepo, stepInstanceRepo, transitionRepo, approvalRepo, logger)

	// Start background workers
	workerManager := worker.NewManager(logger)
	if cfg.Scheduler.Enabled {
		workerManager.Register(worker.NewTimeoutWorker(
			instanceService,
			stepInstanceRepo,
			cfg.Scheduler.PollInterval,
			cfg.Scheduler.BatchSize,
			logger,
		))
	}
	if err := workerManager.StartAll(context.Background()); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// Initialize HTTP router
	router := api.NewRouter(api.Services{
		Definitions: definitionService,
		Steps:       stepService,
		Instances:   instanceService,
		Approvals:   approvalService,
		Queries:     queryService,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if err := workerManager.StopAll(); err != nil {
		logger.Error("Failed to stop workers", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
