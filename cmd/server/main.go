package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"sautihub-sacco/internal/adapters/events"
	"sautihub-sacco/internal/adapters/http/middleware"
	"sautihub-sacco/internal/adapters/http/routes"
	"sautihub-sacco/internal/adapters/payments"
	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/config"
	"sautihub-sacco/internal/core/services"

	"github.com/gofiber/fiber/v2"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer config.CloseDatabase(db)

	// Auto migrate (creates tables if not exist)
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("❌ Failed to auto migrate: %v", err)
	}
	log.Println("✅ Database migration completed")

	// Seed loan products and system pool accounts
	if err := config.SeedMasterData(db); err != nil {
		log.Fatalf("❌ Failed to seed master data: %v", err)
	}

	// Repositories
	memberRepo := repositories.NewMemberRepository(db)
	accountRepo := repositories.NewAccountRepository(db)
	txnRepo := repositories.NewTransactionRepository(db)
	productRepo := repositories.NewLoanProductRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	installmentRepo := repositories.NewInstallmentRepository(db)
	dividendRepo := repositories.NewDividendRepository(db)
	memberDividendRepo := repositories.NewMemberDividendRepository(db)

	// Services
	notifyService := services.NewNotificationService(cfg.Notify.WebhookURL)
	ledgerService := services.NewLedgerService(db)
	memberService := services.NewMemberService(memberRepo, accountRepo, loanRepo, ledgerService, cfg.Policy, notifyService)
	loanService := services.NewLoanService(db, loanRepo, productRepo, installmentRepo,
		memberRepo, accountRepo, ledgerService, cfg.Policy, notifyService)
	dividendService := services.NewDividendService(db, dividendRepo, memberDividendRepo,
		memberRepo, accountRepo, ledgerService, cfg.Policy, notifyService)
	gateway := payments.NewGateway(cfg.Provider)
	paymentService := services.NewPaymentService(memberRepo, accountRepo, txnRepo,
		memberService, ledgerService, gateway, cfg.Policy)
	dashboardService := services.NewDashboardService(db)

	// Revenue event consumer
	revenueBridge := services.NewRevenueBridge(loanService, memberRepo, accountRepo, ledgerService)
	consumer, err := events.StartRevenueConsumer(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue, revenueBridge)
	if err != nil {
		log.Printf("⚠️ Warning: revenue consumer not started: %v", err)
	} else {
		defer consumer.Close()
	}

	// Scheduled sweeps (overdue, default, dividend payouts, reconciliation)
	cronService := services.NewCronService(loanService, dividendService, paymentService)
	if err := cronService.Start(); err != nil {
		log.Fatalf("❌ Failed to start scheduler: %v", err)
	}
	defer cronService.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "SautiHub SACCO Engine v1.0",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	// Setup middlewares
	middleware.Setup(app, cfg)

	// Setup routes
	routes.Setup(app, &routes.Services{
		Ledger:      ledgerService,
		Member:      memberService,
		Loan:        loanService,
		Dividend:    dividendService,
		Payment:     paymentService,
		Dashboard:   dashboardService,
		AccountRepo: accountRepo,
		ProductRepo: productRepo,
	}, cfg)

	// Graceful shutdown
	go gracefulShutdown(app)

	// Start server
	log.Printf("🚀 Server starting on port %s [MODE: %s]", cfg.Port, cfg.AppMode)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// gracefulShutdown handles graceful shutdown
func gracefulShutdown(app *fiber.App) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("❌ Error during shutdown: %v", err)
	}
	log.Println("✅ Server stopped gracefully")
}
