package routes

import (
	"sautihub-sacco/internal/adapters/http/handlers"
	"sautihub-sacco/internal/adapters/http/middleware"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/config"
	"sautihub-sacco/internal/core/services"

	"github.com/gofiber/fiber/v2"
)

// Services bundles the wired services and repositories the HTTP layer
// exposes. main builds this once so the same instances back the API, the
// scheduler and the event consumer.
type Services struct {
	Ledger      *services.LedgerService
	Member      *services.MemberService
	Loan        *services.LoanService
	Dividend    *services.DividendService
	Payment     *services.PaymentService
	Dashboard   *services.DashboardService
	AccountRepo *repositories.AccountRepository
	ProductRepo *repositories.LoanProductRepository
}

// Setup configures all routes for the application
func Setup(app *fiber.App, svcs *Services, cfg *config.Config) {
	healthHandler := handlers.NewHealthHandler()
	memberHandler := handlers.NewMemberHandler(svcs.Member)
	accountHandler := handlers.NewAccountHandler(svcs.AccountRepo, svcs.Ledger, svcs.Member)
	loanHandler := handlers.NewLoanHandler(svcs.Loan, svcs.Member)
	dividendHandler := handlers.NewDividendHandler(svcs.Dividend, svcs.Member)
	paymentHandler := handlers.NewPaymentHandler(svcs.Payment, svcs.Member)
	dashboardHandler := handlers.NewDashboardHandler(svcs.Dashboard)
	productHandler := handlers.NewProductHandler(svcs.ProductRepo)

	// Health check & root routes
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.HealthCheck)

	api := app.Group("/api/v1")

	// Provider webhook: authenticated by shared secret header, not JWT
	api.Post("/payments/callback", providerAuth(cfg), paymentHandler.Callback)

	// Everything else requires a platform token
	auth := api.Group("", middleware.AuthMiddleware(cfg))

	// Members
	members := auth.Group("/members")
	members.Post("/", middleware.StaffOnly(), memberHandler.Register)
	members.Get("/", middleware.StaffOnly(), memberHandler.List)
	members.Get("/:id", memberHandler.Get)
	members.Post("/:id/approve", middleware.StaffOnly(), memberHandler.Approve)
	members.Post("/:id/suspend", middleware.StaffOnly(), memberHandler.Suspend)
	members.Post("/:id/reactivate", middleware.StaffOnly(), memberHandler.Reactivate)
	members.Post("/:id/close", middleware.AdminOnly(), memberHandler.Close)
	members.Post("/:id/shares", middleware.MoneyRateLimiter(), memberHandler.PurchaseShares)
	members.Get("/:id/accounts", accountHandler.ListByMember)
	members.Get("/:id/loans", loanHandler.ListByMember)
	members.Get("/:id/dividends", dividendHandler.HistoryByMember)

	// Accounts & ledger
	accounts := auth.Group("/accounts")
	accounts.Get("/:id/balance", accountHandler.Balance)
	accounts.Get("/:id/statement", accountHandler.Statement)
	auth.Post("/transactions/reverse", middleware.AdminOnly(), accountHandler.Reverse)

	// Payments
	payments := auth.Group("/payments", middleware.MoneyRateLimiter())
	payments.Post("/deposit", paymentHandler.Deposit)
	payments.Post("/withdraw", paymentHandler.Withdraw)

	// Loan products
	auth.Get("/products", productHandler.List)

	// Loans
	loans := auth.Group("/loans")
	loans.Post("/", loanHandler.Apply)
	loans.Get("/", middleware.StaffOnly(), loanHandler.List)
	loans.Get("/:id", loanHandler.Get)
	loans.Get("/:id/schedule", loanHandler.Schedule)
	loans.Post("/:id/approve", middleware.StaffOnly(), loanHandler.Approve)
	loans.Post("/:id/reject", middleware.StaffOnly(), loanHandler.Reject)
	loans.Post("/:id/disburse", middleware.StaffOnly(), loanHandler.Disburse)
	loans.Post("/:id/repay", middleware.MoneyRateLimiter(), loanHandler.Repay)
	loans.Post("/:id/restructure", middleware.StaffOnly(), loanHandler.Restructure)

	// Dividends
	dividends := auth.Group("/dividends")
	dividends.Post("/", middleware.AdminOnly(), dividendHandler.Declare)
	dividends.Get("/", dividendHandler.List)
	dividends.Get("/:year", dividendHandler.GetByYear)
	dividends.Post("/:id/payout", middleware.AdminOnly(), dividendHandler.Payout)

	// Dashboard
	auth.Get("/dashboard", middleware.StaffOnly(), dashboardHandler.Stats)
}

// providerAuth guards the provider webhook with a shared secret header
func providerAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Provider.CallbackSecret == "" || c.Get("X-Callback-Secret") != cfg.Provider.CallbackSecret {
			return fiber.ErrUnauthorized
		}
		return c.Next()
	}
}
