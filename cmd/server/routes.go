package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/ksred/klear-gateway/internal/account"
	"github.com/ksred/klear-gateway/internal/config"
	"github.com/ksred/klear-gateway/internal/exchange"
	"github.com/ksred/klear-gateway/internal/market"
	"github.com/ksred/klear-gateway/internal/metrics"
	"github.com/ksred/klear-gateway/internal/portfolio"
	"github.com/ksred/klear-gateway/internal/stream"
	"github.com/ksred/klear-gateway/internal/trading"
	"github.com/ksred/klear-gateway/pkg/middleware"
)

type handlers struct {
	account   *account.GinHandlers
	trading   *trading.GinHandlers
	portfolio *portfolio.GinHandlers
	market    *market.GinHandlers
	stream    *stream.GinHandlers
}

// newHandler builds the services around client and returns the CORS wrapped router
func newHandler(cfg *config.Config, client exchange.Client, store trading.Store, manager *stream.Manager, limiter *middleware.Limiter) http.Handler {
	h := handlers{
		account:   account.NewGinHandlers(account.NewService(client)),
		trading:   trading.NewGinHandlers(trading.NewService(client, store)),
		portfolio: portfolio.NewGinHandlers(portfolio.NewService(client)),
		market:    market.NewGinHandlers(market.NewService(client)),
		stream:    stream.NewGinHandlers(manager),
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Coinbase trading gateway is running")
	})
	if cfg.Server.UIFile != "" {
		router.StaticFile("/ui", cfg.Server.UIFile)
	}
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("")
	if cfg.Server.JWTSecret != "" {
		api.Use(middleware.JWTAuth(cfg.Server.JWTSecret))
	}
	api.Use(middleware.RateLimit(limiter))
	setupRoutes(api, h)

	return cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler(router)
}

// setupRoutes registers every gateway endpoint on api
func setupRoutes(api *gin.RouterGroup, h handlers) {
	// Accounts
	api.GET("/accounts", h.account.GetAccountsHandler())
	api.GET("/accounts/:id", h.account.GetAccountHandler())
	api.GET("/test_accounts", h.account.TestAccountsHandler())
	api.GET("/transactions/:account_id", h.account.GetTransactionsHandler())
	api.GET("/transactions/:account_id/:txn_id", h.account.GetTransactionHandler())

	// Orders
	api.POST("/order", h.trading.PlaceMarketOrderHandler())
	api.POST("/limit_order", h.trading.PlaceLimitOrderHandler())
	api.GET("/orders", h.trading.ListOrdersHandler())
	api.GET("/orders/:id", h.trading.GetOrderHandler())
	api.DELETE("/orders/:id/cancel", h.trading.CancelOrderHandler())

	// Portfolios
	api.POST("/portfolio", h.portfolio.CreatePortfolioHandler())
	api.POST("/move_funds", h.portfolio.MoveFundsHandler())
	api.POST("/convert_quote", h.portfolio.ConvertQuoteHandler())

	// Market data
	api.GET("/candles/:product_id", h.market.GetCandlesHandler())
	api.GET("/trades/:product_id", h.market.GetMarketTradesHandler())
	api.GET("/best_bid_ask/:product_id", h.market.GetBestBidAskHandler())
	api.GET("/server_time", h.market.GetServerTimeHandler())

	// Streaming
	api.POST("/subscribe_websocket", h.stream.SubscribeHandler())
	api.GET("/subscriptions", h.stream.ListSubscriptionsHandler())
	api.GET("/subscriptions/:id", h.stream.GetSubscriptionHandler())
	api.DELETE("/subscriptions/:id", h.stream.CloseSubscriptionHandler())
}
