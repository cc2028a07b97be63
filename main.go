// Package main provides the main entry point for the Kusanagi payment service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/Kusanagi/app/handlers"
	"github.com/amirphl/Kusanagi/app/middleware"
	"github.com/amirphl/Kusanagi/app/router"
	"github.com/amirphl/Kusanagi/app/services"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/config"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"

	"github.com/amirphl/Kusanagi/app/scheduler"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting Kusanagi application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Setup graceful shutdown
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful  shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	// TranslateError maps driver unique violations onto gorm.ErrDuplicatedKey,
	// which the settlement paths rely on for idempotent inserts
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializePaymentProvider initializes the invoice provider client
func initializePaymentProvider(cfg config.CryptoPayConfig) services.PaymentProvider {
	if cfg.BaseURL == "mock" {
		log.Println("Payment provider running in mock mode")
		return services.NewMockPaymentProvider()
	}
	return services.NewCryptoPayClient(cfg.BaseURL, cfg.APIToken, cfg.Timeout)
}

// initializeNotificationService initializes the settlement notice sender
func initializeNotificationService(cfg config.BotAPIConfig) services.NotificationService {
	var chatProvider services.ChatProvider
	if cfg.Token == "" {
		log.Println("Bot API token not set; settlement notices go to the mock chat provider")
		chatProvider = services.NewMockChatProvider()
	} else {
		chatProvider = services.NewTelegramChatProvider(cfg.APIDomain, cfg.Token, cfg.Timeout)
	}
	return services.NewNotificationService(chatProvider)
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	if rc != nil {
		cancel := startCacheHealthMonitor(context.Background(), rc, cfg.Cache.CleanupInterval)
		stopFuncs = append(stopFuncs, cancel)
	}

	// Seed the gateway bot account the shop gateway logs in with
	if err := ensureGatewayBot(db, cfg); err != nil {
		return nil, err
	}

	// Initialize repositories
	customerRepo := repository.NewCustomerRepository(db)
	botRepo := repository.NewBotRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	depositEntryRepo := repository.NewDepositEntryRepository(db)
	depositAggregateRepo := repository.NewDepositAggregateRepository(db)
	balanceRepo := repository.NewBalanceAccountRepository(db)
	balanceTxRepo := repository.NewBalanceTransactionRepository(db)

	// Initialize services
	notificationService := initializeNotificationService(cfg.BotAPI)
	paymentProvider := initializePaymentProvider(cfg.CryptoPay)

	// Redis-backed replay guard; without Redis the webhook flow still
	// deduplicates through the events table unique index
	var replayGuard services.ReplayGuard
	if rc != nil {
		replayGuard = services.NewRedisReplayGuard(rc, cfg.Payment.WebhookReplayTTL)
	}

	// Initialize token service
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.RefreshTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Log that services are initialized
	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Initialize flows
	botAuthFlow := businessflow.NewBotAuthFlow(
		botRepo,
		auditRepo,
		tokenService,
	)

	depositFlow := businessflow.NewDepositFlow(
		depositEntryRepo,
		depositAggregateRepo,
		balanceRepo,
		customerRepo,
		db,
	)

	checkoutFlow := businessflow.NewCheckoutFlow(
		orderRepo,
		productRepo,
		customerRepo,
		balanceRepo,
		balanceTxRepo,
		auditRepo,
		db,
	)

	reconcileFlow := businessflow.NewReconcileFlow(
		invoiceRepo,
		customerRepo,
		orderRepo,
		balanceRepo,
		balanceTxRepo,
		auditRepo,
		depositFlow,
		checkoutFlow,
		notificationService,
		utils.NewSystemClock(),
		db,
	)

	invoiceFlow := businessflow.NewInvoiceFlow(
		invoiceRepo,
		customerRepo,
		orderRepo,
		auditRepo,
		paymentProvider,
		reconcileFlow,
		db,
		cfg.Payment,
	)

	webhookFlow := businessflow.NewWebhookFlow(
		webhookEventRepo,
		paymentProvider,
		replayGuard,
		reconcileFlow,
		db,
	)

	// Initialize handlers
	authBotHandler := handlers.NewAuthBotHandler(botAuthFlow)
	invoiceHandler := handlers.NewInvoiceHandler(invoiceFlow)
	orderHandler := handlers.NewOrderHandler(checkoutFlow, invoiceFlow)
	depositHandler := handlers.NewDepositHandler(depositFlow)
	webhookHandler := handlers.NewWebhookHandler(webhookFlow)

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	// Initialize router
	appRouter := router.NewFiberRouter(
		authBotHandler,
		invoiceHandler,
		orderHandler,
		depositHandler,
		webhookHandler,
		authMiddleware,
	)

	if cfg.Scheduler.ReconcileEnabled {
		// Start reconcile scheduler (expiry sweep + settlement effects retry)
		sched := scheduler.NewReconcileScheduler(reconcileFlow, cfg.Scheduler.SweepInterval, cfg.Scheduler.RetryInterval, cfg.Scheduler.RetryBatch)
		stopScheduler := sched.Start(context.Background())
		stopFuncs = append(stopFuncs, stopScheduler)
	}

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}

// ensureGatewayBot creates the configured bot account on first boot
func ensureGatewayBot(db *gorm.DB, cfg *config.ProductionConfig) error {
	botRepo := repository.NewBotRepository(db)

	existing, err := botRepo.ByUsername(context.Background(), cfg.Gateway.BotUsername)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Gateway.BotPassword), cfg.Security.BcryptCost)
	if err != nil {
		return err
	}

	bot := models.Bot{
		UUID:         uuid.New(),
		Username:     cfg.Gateway.BotUsername,
		PasswordHash: string(hash),
		IsActive:     utils.ToPtr(true),
		CreatedAt:    utils.UTCNow(),
		UpdatedAt:    utils.UTCNow(),
	}
	if err := botRepo.Save(context.Background(), &bot); err != nil {
		return err
	}

	log.Printf("Gateway bot account %s created", cfg.Gateway.BotUsername)
	return nil
}
