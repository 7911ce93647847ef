package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"finops-api/internal/audit"
	"finops-api/internal/cache"
	"finops-api/internal/compliance"
	"finops-api/internal/config"
	"finops-api/internal/controller"
	"finops-api/internal/database"
	"finops-api/internal/engine"
	"finops-api/internal/external"
	"finops-api/internal/middleware"
	"finops-api/internal/monitoring"
	"finops-api/internal/service"
	"finops-api/pkg/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize databases")
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			log.WithError(err).Error("failed to close database connections")
		}
	}()

	events := buildEventPublisher(cfg, log)
	defer events.Close()

	cacheService := cache.NewCacheService(db.RedisDB, cfg.Redis.BalanceTTL)

	payments := external.NewPaymentProcessor(&external.ProcessorConfig{
		APIKey:        cfg.External.PaymentAPIKey,
		APISecret:     cfg.External.PaymentSecret,
		BaseURL:       cfg.External.PaymentBaseURL,
		Timeout:       cfg.External.RequestTimeout,
		RetryAttempts: cfg.External.MaxRetries,
	})
	ledger := external.NewLedgerProcessor(&external.ProcessorConfig{
		APIKey:        cfg.External.LedgerAPIKey,
		APISecret:     cfg.External.LedgerSecret,
		BaseURL:       cfg.External.LedgerBaseURL,
		Timeout:       cfg.External.RequestTimeout,
		RetryAttempts: cfg.External.MaxRetries,
	})

	auditSvc := audit.NewService(db.Repositories.Audit, audit.NewDeterministicSigner(), log)

	complianceEng := compliance.NewEngine(
		cfg.Compliance,
		db.Repositories.Wallet,
		db.Repositories.Member,
		db.Repositories.Rule,
		db.Repositories.Transaction,
		auditSvc,
		events,
		log,
	)

	router := engine.NewTransactionRouter(
		db.Repositories.Transaction,
		db.Repositories.Ledger,
		db.Repositories.LockManager,
		db.Repositories.Idempotency,
		cacheService,
		payments,
		ledger,
		auditSvc,
		events,
		cfg.Redis.LockTTL,
		log,
	)

	walletService := service.NewWalletService(
		db.Repositories.Wallet,
		db.Repositories.Member,
		db.Repositories.Transaction,
		db.Repositories.Ledger,
		complianceEng,
		payments,
		cacheService,
		auditSvc,
		events,
		log,
	)
	transactionService := service.NewTransactionService(
		db.Repositories.Wallet,
		db.Repositories.Transaction,
		complianceEng,
		router,
		auditSvc,
		log,
	)
	ruleService := service.NewRuleService(db.Repositories.Rule, auditSvc, log)

	maintenance := engine.NewMaintenanceScheduler(db.Repositories.Transaction, cfg.Compliance.ProcessingExpiry, log)
	if err := maintenance.Start(); err != nil {
		log.WithError(err).Fatal("failed to start maintenance scheduler")
	}
	defer maintenance.Stop()

	healthChecker := monitoring.NewHealthChecker(version)
	healthChecker.RegisterCheck("mongodb", db.HealthCheck)
	healthChecker.RegisterCheck("redis", cacheService.HealthCheck)

	server := buildHTTPServer(cfg, db, log, healthChecker, walletService, transactionService, ruleService)

	go func() {
		log.WithField("addr", server.Addr).Info("finops-api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("forced server shutdown")
	}
}

// buildEventPublisher falls back to a no-op publisher when the broker is
// disabled or unreachable; event publishing is never load-bearing.
func buildEventPublisher(cfg *config.Config, log *logrus.Logger) external.EventPublisher {
	if cfg.RabbitMQ.PublisherDisabled {
		return external.NoopPublisher{}
	}

	events, err := external.NewEventPublisher(&external.PublisherConfig{
		URL:            cfg.RabbitMQ.URL,
		EventsExchange: cfg.RabbitMQ.EventsExchange,
		AlertsExchange: cfg.RabbitMQ.AlertsExchange,
	}, log)
	if err != nil {
		log.WithError(err).Warn("rabbitmq unavailable, events disabled")
		return external.NoopPublisher{}
	}

	return events
}

func buildHTTPServer(
	cfg *config.Config,
	db *database.Database,
	log *logrus.Logger,
	healthChecker monitoring.HealthChecker,
	walletService service.WalletService,
	transactionService service.TransactionService,
	ruleService service.RuleService,
) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	controller.RegisterValidations()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-API-Key", "X-Request-ID")
	router.Use(cors.New(corsConfig))

	security := middleware.NewSecurityMiddleware(1 << 20)
	router.Use(security.SecurityHeaders())
	router.Use(security.RequestSizeLimit())

	logging := middleware.NewLoggingMiddleware(log)
	router.Use(logging.RequestLogger())

	auth := middleware.NewAuthMiddleware(cfg.Auth.SigningSecret, cfg.Auth.InternalAPIKey)
	rateLimit := middleware.NewRateLimitMiddleware(db.RedisDB, log, nil)
	router.Use(rateLimit.IPRateLimit())

	router.GET("/health", func(c *gin.Context) {
		health := healthChecker.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	})

	if cfg.Monitoring.Enabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	walletController := controller.NewWalletController(walletService, transactionService)
	adminController := controller.NewAdminController(ruleService, db.Repositories.Member)

	api := router.Group("/api/v1")
	api.Use(auth.JWTAuth())
	api.Use(rateLimit.MemberRateLimit())
	{
		wallets := api.Group("/wallets")
		{
			wallets.POST("", walletController.CreateWallet)
			wallets.GET("/:walletId", walletController.GetWallet)
			wallets.GET("/:walletId/balance", walletController.GetBalance)
			wallets.GET("/:walletId/activity", walletController.GetActivity)
			wallets.PATCH("/:walletId/limits", walletController.UpdateLimits)
			wallets.PATCH("/:walletId/compliance-level", walletController.UpdateComplianceLevel)
			wallets.POST("/:walletId/suspend", walletController.SuspendWallet)
		}

		transactions := api.Group("/transactions")
		{
			transactions.POST("", rateLimit.SubmitRateLimit(), walletController.SubmitTransaction)
			transactions.GET("/:transactionId", walletController.GetTransaction)
		}
	}

	admin := router.Group("/api/v1/admin")
	admin.Use(auth.JWTAuth())
	admin.Use(auth.RequirePermission("compliance_review"))
	{
		admin.POST("/rules", adminController.CreateRule)
		admin.GET("/rules", adminController.ListRules)
		admin.PUT("/rules/:ruleId", adminController.UpdateRule)
		admin.PATCH("/rules/:ruleId/enabled", adminController.SetRuleEnabled)
		admin.PUT("/members", adminController.UpsertMember)
		admin.GET("/members/:memberId", adminController.GetMember)
		admin.GET("/audit/:entityId", adminController.GetAuditHistory)
		admin.GET("/audit/:entityId/verify", adminController.VerifyAuditChain)
	}

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
