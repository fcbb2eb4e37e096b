package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-scm/meridian-scm/internal/app"
	"github.com/meridian-scm/meridian-scm/internal/audit"
	"github.com/meridian-scm/meridian-scm/internal/auth"
	"github.com/meridian-scm/meridian-scm/internal/damagereturn"
	"github.com/meridian-scm/meridian-scm/internal/ledger"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/categories"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/locations"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/products"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/suppliers"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/units"
	"github.com/meridian-scm/meridian-scm/internal/observability"
	"github.com/meridian-scm/meridian-scm/internal/platform/cache"
	"github.com/meridian-scm/meridian-scm/internal/platform/db"
	"github.com/meridian-scm/meridian-scm/internal/procurement"
	"github.com/meridian-scm/meridian-scm/internal/rbac"
	"github.com/meridian-scm/meridian-scm/internal/replacement"
	"github.com/meridian-scm/meridian-scm/internal/shared"
	"github.com/meridian-scm/meridian-scm/internal/stockrequest"
	"github.com/meridian-scm/meridian-scm/internal/transfer"
	"github.com/meridian-scm/meridian-scm/internal/usage"
	"github.com/meridian-scm/meridian-scm/internal/users"
	"github.com/meridian-scm/meridian-scm/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, logger, cfg.RedisAddr, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Source: rbacService, Logger: logger}
	rbacHandler := &rbac.Handler{Service: rbacService, Middleware: rbacMiddleware}

	usersService := users.NewService(users.NewRepository(dbpool))
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	categoriesService := categories.NewService(categories.NewRepository(dbpool))
	locationsService := locations.NewService(locations.NewRepository(dbpool))
	productsService := products.NewService(products.NewRepository(dbpool))
	suppliersService := suppliers.NewService(suppliers.NewRepository(dbpool))
	unitsService := units.NewService(units.NewRepository(dbpool))

	metrics := observability.NewMetrics()

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), auditLogger, logger, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, rbacMiddleware)

	transferService := transfer.NewService(transfer.NewRepository(dbpool), ledgerService,
		locationsService, productsService, approvalRecorder, idempotencyStore, logger)
	transferHandler := transfer.NewHandler(logger, transferService, rbacMiddleware)

	requestService := stockrequest.NewService(stockrequest.NewRepository(dbpool), ledgerService,
		locationsService, productsService, approvalRecorder, idempotencyStore, logger)
	requestHandler := stockrequest.NewHandler(logger, requestService, rbacMiddleware)

	usageService := usage.NewService(usage.NewRepository(dbpool), ledgerService,
		locationsService, productsService, approvalRecorder, idempotencyStore, logger)
	usageHandler := usage.NewHandler(logger, usageService, rbacMiddleware)

	damageService := damagereturn.NewService(damagereturn.NewRepository(dbpool), ledgerService,
		usageService, approvalRecorder, idempotencyStore, logger)
	damageHandler := damagereturn.NewHandler(logger, damageService, rbacMiddleware)

	replacementService := replacement.NewService(replacement.NewRepository(dbpool), ledgerService, damageService, logger)
	replacementHandler := replacement.NewHandler(logger, replacementService, rbacMiddleware)

	procurementService := procurement.NewService(procurement.NewRepository(dbpool), ledgerService,
		locationsService, productsService, approvalRecorder, idempotencyStore, logger)
	procurementHandler := procurement.NewHandler(logger, procurementService, rbacMiddleware)

	auditService := audit.NewService(audit.NewRepository(dbpool), approvalRecorder)
	auditHandler := audit.NewHandler(logger, auditService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,

		AuthHandler:  authHandler,
		UsersHandler: usersHandler,
		RBACHandler:  rbacHandler,

		CategoriesHandler: categories.NewHandler(logger, categoriesService, rbacMiddleware),
		LocationsHandler:  locations.NewHandler(logger, locationsService, rbacMiddleware),
		ProductsHandler:   products.NewHandler(logger, productsService, rbacMiddleware),
		SuppliersHandler:  suppliers.NewHandler(logger, suppliersService, rbacMiddleware),
		UnitsHandler:      units.NewHandler(logger, unitsService, rbacMiddleware),

		LedgerHandler:       ledgerHandler,
		TransferHandler:     transferHandler,
		StockRequestHandler: requestHandler,
		UsageHandler:        usageHandler,
		DamageReturnHandler: damageHandler,
		ReplacementHandler:  replacementHandler,
		ProcurementHandler:  procurementHandler,

		AuditHandler: auditHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
