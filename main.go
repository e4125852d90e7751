package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	_ "github.com/pulsehq/pulse-engine/pkg/adapters/source/mssql"    // Register sqlserver adapter
	_ "github.com/pulsehq/pulse-engine/pkg/adapters/source/postgres" // Register postgres adapter
	_ "github.com/pulsehq/pulse-engine/pkg/adapters/source/rest"     // Register rest adapter
	_ "github.com/pulsehq/pulse-engine/pkg/adapters/source/service"  // Register internal-service adapter
	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/cache"
	"github.com/pulsehq/pulse-engine/pkg/config"
	"github.com/pulsehq/pulse-engine/pkg/crypto"
	"github.com/pulsehq/pulse-engine/pkg/database"
	"github.com/pulsehq/pulse-engine/pkg/handlers"
	"github.com/pulsehq/pulse-engine/pkg/logging"
	"github.com/pulsehq/pulse-engine/pkg/middleware"
	"github.com/pulsehq/pulse-engine/pkg/realtime"
	"github.com/pulsehq/pulse-engine/pkg/registry"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
	"github.com/pulsehq/pulse-engine/pkg/scheduler"
	"github.com/pulsehq/pulse-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting pulse-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("port", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Engine failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Migrations use a plain database/sql connection; the pool below is pgx
	// native.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		migrationDB.Close()
		return err
	}
	migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		ConnString:     cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		// The cache is best-effort: start degraded rather than fail.
		logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	store := cache.NewStore(redisClient, &cfg.Cache, logger)

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		return fmt.Errorf("create credential encryptor: %w", err)
	}

	// Repositories
	datasourceRepo := repositories.NewDataSourceRepository(db)
	queryRepo := repositories.NewQueryRepository(db)
	datasetRepo := repositories.NewDatasetRepository(db)
	visualizationRepo := repositories.NewVisualizationRepository(db)
	dashboardRepo := repositories.NewDashboardRepository(db)
	reportRepo := repositories.NewReportRepository(db)
	scheduleRepo := repositories.NewScheduleRepository(db)

	// Services
	datasourceService := services.NewDataSourceService(datasourceRepo, queryRepo, encryptor, logger)
	queryService := services.NewQueryService(queryRepo, datasetRepo, datasourceService, store, logger)
	datasetService := services.NewDatasetService(datasetRepo, visualizationRepo, queryService, store, logger)
	visualizationService := services.NewVisualizationService(visualizationRepo, datasetService, store, logger)
	dashboardService := services.NewDashboardService(dashboardRepo, visualizationService, store, logger)
	reportService := services.NewReportService(reportRepo, queryService, store, logger)

	// Auth
	verifier, err := auth.NewVerifier(&cfg.Auth, cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}
	defer verifier.Close()
	authService := auth.NewAuthService(verifier, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)

	// Realtime broadcaster. Visualization and dataset writes push refreshes
	// to subscribed dashboards through it.
	hub := realtime.NewHub(dashboardService, redisClient, logger)
	go hub.Run(ctx)
	visualizationService.SetNotifier(hub)
	datasetService.SetNotifier(hub)

	// Scheduler
	delivery := scheduler.NewDelivery(&cfg.SMTP, &scheduler.FSStore{BaseDir: cfg.Scheduler.ArtifactsDir}, logger)
	sched := scheduler.New(scheduleRepo, reportService, delivery, logger)
	scheduleService := services.NewScheduleService(scheduleRepo, sched, logger)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	// Background reclamation of expired datasets.
	cleanupInterval := time.Duration(cfg.Scheduler.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval > 0 {
		go datasetService.CleanupLoop(ctx, cleanupInterval)
	}

	// Service registry heartbeat (no-op when unconfigured).
	tokens := auth.NewServiceTokenClient(cfg.Auth.ServiceTokenURL)
	heartbeat := registry.New(&cfg.Registry, cfg.Version, cfg.BaseURL, tokens, logger)
	go heartbeat.Run(ctx)

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, db, store, redisClient, hub, logger).RegisterRoutes(mux)
	handlers.NewDataSourcesHandler(datasourceService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewQueriesHandler(queryService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDatasetsHandler(datasetService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewVisualizationsHandler(visualizationService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDashboardsHandler(dashboardService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewReportsHandler(reportService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewSchedulesHandler(scheduleService, sched, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewCacheHandler(store, logger).RegisterRoutes(mux, authMiddleware)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /pulse-realtime", realtime.Handler(hub, authService, cfg.CORSOrigin))

	var handler http.Handler = mux
	handler = middleware.Metrics()(handler)
	handler = middleware.CORS(cfg.CORSOrigin)(handler)
	handler = middleware.RequestLogger(logger)(handler)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSCertPath != "" {
			logger.Info("Listening with TLS", zap.String("addr", server.Addr))
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			logger.Info("Listening", zap.String("addr", server.Addr))
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	// Order matters: stop pushing realtime frames, then let in-flight
	// schedule runs finish, then drain HTTP.
	hub.Shutdown()
	if cfg.Scheduler.Enabled {
		sched.StopAll()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
