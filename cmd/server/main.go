package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/atis-edu/be-survey-approvals/internal/cache"
	"github.com/atis-edu/be-survey-approvals/internal/client"
	"github.com/atis-edu/be-survey-approvals/internal/config"
	"github.com/atis-edu/be-survey-approvals/internal/database"
	"github.com/atis-edu/be-survey-approvals/internal/handler"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/metrics"
	"github.com/atis-edu/be-survey-approvals/internal/middleware"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
	"github.com/atis-edu/be-survey-approvals/internal/repository/memory"
	"github.com/atis-edu/be-survey-approvals/internal/security"
	"github.com/atis-edu/be-survey-approvals/internal/service"
	"github.com/atis-edu/be-survey-approvals/internal/telemetry"
)

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:           "survey-approvals",
		Short:         "ATIS survey response approval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(cfgFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(cfgFile)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg, log)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func bootstrap(cfgFile string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	return cfg, log, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	return database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
}

func migrate(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db)
	if err != nil {
		return err
	}
	log.Info().Strs("applied", applied).Msg("Migrations complete")
	return nil
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Survey Approval Service")

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.OutputFile)
		if err != nil {
			return errors.Wrap(err, "failed to initialize tracing")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	// Store
	var store repository.Store
	switch cfg.Store.Driver {
	case "postgres":
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return errors.Wrap(err, "failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")
		store = repository.NewPostgresStore(db)
	default:
		log.Warn().Msg("Using in-memory store, state is lost on restart")
		store = memory.New()
	}

	// Cache
	var c cache.Cache = cache.NewMemory()
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "failed to configure redis")
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, cache reads will miss until it recovers")
		}
		c = rc
	}

	// Notifications
	var notifier service.Notifier
	if cfg.NATS.Enabled {
		nc, err := client.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			return errors.Wrap(err, "failed to connect to NATS")
		}
		defer nc.Close()
		notifier = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log)
		log.Info().Str("url", cfg.NATS.URL).Msg("Notification publisher connected")
	}

	authz, err := security.New(security.Policy{
		Grants:          cfg.Approval.Policy.Grants,
		Inherits:        cfg.Approval.Policy.Inherits,
		GlobalRoles:     cfg.Approval.Policy.GlobalRoles,
		CompleteRoles:   cfg.Approval.Policy.CompleteRoles,
		AllowSkipLevels: cfg.Approval.AllowSkipLevels,
	}, log)
	if err != nil {
		return errors.Wrap(err, "failed to load approval policy")
	}

	m := metrics.New()

	// Services
	actions := service.NewApprovalActionService(store, authz, c, notifier, m, log)
	svc := handler.Services{
		Actions: actions,
		Submissions: service.NewSubmissionService(store, service.WorkflowDefaults{
			WorkflowType:     cfg.Approval.WorkflowType,
			Name:             cfg.Approval.WorkflowName,
			Steps:            workflowSteps(cfg.Approval.DefaultSteps),
			RequireAllLevels: cfg.Approval.RequireAllLevels,
			Deadline:         cfg.Approval.DefaultDeadline,
		}, c, notifier, m, log),
		Queries: service.NewApprovalQueryService(store, authz, c, service.QueryOptions{
			CacheTTL:     cfg.Approval.CacheTTL,
			PendingLimit: cfg.Approval.PendingLimit,
		}, m, log),
		Bulk: service.NewBulkApprovalService(actions, service.BulkOptions{
			MaxItems:    cfg.Approval.BulkMaxItems,
			Concurrency: cfg.Approval.BulkConcurrency,
		}, m, log),
	}

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", m.Handler())
	handler.NewHTTPHandler(svc, log).Register(mux)

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.Recovery(log),
			middleware.RequestID,
			middleware.Logger(log),
			middleware.CORS([]string{"*"}),
			middleware.Timeout(cfg.Server.RequestTimeout),
			middleware.Identity,
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Setup gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.UnaryRecovery(log),
		handler.UnaryLogging(log),
		handler.UnaryIdentity(),
	))
	handler.NewGRPCHandler(svc, log).Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return errors.Wrap(err, "failed to create gRPC listener")
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- errors.Wrap(err, "HTTP server failed")
		}
	}()
	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errc <- errors.Wrap(err, "gRPC server failed")
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		log.Error().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return err
}

func workflowSteps(in []config.StepConfig) []repository.WorkflowStep {
	steps := make([]repository.WorkflowStep, 0, len(in))
	for _, s := range in {
		steps = append(steps, repository.WorkflowStep{
			Level:     s.Level,
			Role:      s.Role,
			Required:  s.IsRequired(),
			Title:     s.Title,
			Delegates: s.Delegates,
		})
	}
	return steps
}
