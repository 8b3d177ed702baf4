// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/http/v1/handlers"
	"stockledger/internal/infrastructure/http/v1/middleware"
	"stockledger/internal/infrastructure/metrics"
	"stockledger/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Pool         *pgxpool.Pool
	Logger       *logger.Logger
	JWTValidator middleware.JWTValidator
	Ledger       *ledger.Service
	Version      string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(metrics.HTTPMiddleware())
	router.Use(middleware.ErrorHandler())

	// Health and metrics endpoints, no auth required
	healthHandler := handlers.NewHealthHandler(cfg.Pool, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	moveHandler := handlers.NewMoveHandler(cfg.Ledger)
	balanceHandler := handlers.NewBalanceHandler(cfg.Ledger)
	valuationHandler := handlers.NewValuationHandler(cfg.Ledger)

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTValidator))
	{
		moves := api.Group("/moves")
		{
			moves.POST("", moveHandler.Submit)
			moves.POST("/transfer", moveHandler.Transfer)
			moves.POST("/landed-cost", moveHandler.LandedCost)
			moves.GET("", moveHandler.List)
			moves.GET("/:id", moveHandler.Get)
			moves.GET("/:id/consumptions", moveHandler.Consumptions)
			moves.POST("/:id/reverse", moveHandler.Reverse)
		}

		balances := api.Group("/balances")
		{
			balances.GET("", balanceHandler.Get)
			balances.GET("/warehouse/:id", balanceHandler.ListByWarehouse)
		}

		api.GET("/reports/turnover", balanceHandler.Turnover)

		valuation := api.Group("/valuation")
		{
			valuation.PUT("/products/:id", valuationHandler.Configure)
			valuation.GET("/products/:id", valuationHandler.GetSetting)
			valuation.GET("/layers", valuationHandler.Layers)
			valuation.GET("/value", valuationHandler.Value)
		}

		policy := api.Group("/policy", middleware.RequireRole("admin"))
		{
			policy.GET("", valuationHandler.GetPolicy)
			policy.PUT("", valuationHandler.SetPolicy)
		}
	}

	return router
}
