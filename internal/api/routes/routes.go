// Package routes wires the HTTP surface: public health endpoints and the
// JWT-protected admin settlement API.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/payout-service/payout_service/internal/api/handlers"
	"github.com/payout-service/payout_service/internal/api/middleware"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
	"github.com/payout-service/payout_service/pkg/logger"
)

// Dependencies carries everything the router needs
type Dependencies struct {
	Config             *config.Config
	Logger             *logger.Logger
	SettlementHandlers *handlers.SettlementHandlers
	CoreHandlers       *handlers.CoreHandlers
}

// SetupRoutes configures all application routes
func SetupRoutes(deps Dependencies) *gin.Engine {
	if deps.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))

	// Operational endpoints (no auth required)
	router.GET("/health", deps.CoreHandlers.Health)
	router.GET("/metrics", deps.CoreHandlers.Metrics)

	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.AdminAuth(deps.Config.JWT, deps.Logger))
	{
		admin.POST("/withdrawals/:id/process", deps.SettlementHandlers.ProcessWithdrawal)
		admin.POST("/withdrawals/:id/decline", deps.SettlementHandlers.DeclineWithdrawal)
		admin.GET("/withdrawals/:id", deps.SettlementHandlers.GetWithdrawal)
		admin.GET("/withdrawals", deps.SettlementHandlers.ListWithdrawals)

		admin.POST("/payouts/:id/process", deps.SettlementHandlers.ProcessPayout)
		admin.POST("/payouts/:id/decline", deps.SettlementHandlers.DeclinePayout)
		admin.GET("/payouts/:id", deps.SettlementHandlers.GetPayout)
		admin.GET("/payouts", deps.SettlementHandlers.ListPayouts)

		admin.GET("/users/:id/balances/:currency", deps.SettlementHandlers.GetUserBalance)

		admin.POST("/reconciliation/run", deps.CoreHandlers.RunReconciliation)
	}

	return router
}
