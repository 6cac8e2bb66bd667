// Package api exposes the platform over HTTP: auth, trading, strategies,
// brain signals, market data, groups, royalties and the admin surface, plus
// the websocket market stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradebrain/config"
	"tradebrain/internal/analysis"
	"tradebrain/internal/auth"
	"tradebrain/internal/brain"
	"tradebrain/internal/database"
	"tradebrain/internal/events"
	"tradebrain/internal/groups"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	marketrouter "tradebrain/internal/market/router"
	"tradebrain/internal/mutation"
	"tradebrain/internal/paper"
	"tradebrain/internal/regime"
	"tradebrain/internal/royalty"
)

// Deps collects the services the HTTP layer fronts
type Deps struct {
	Repo      *database.Repository
	Auth      *auth.Service
	JWT       *auth.JWTManager
	Broker    *paper.Broker
	Assembler *brain.Assembler
	Markets   *marketrouter.Router
	Regimes   *regime.Detector
	Trends    *analysis.TimeframeAnalyzer
	Groups    *groups.Service
	Biller    *royalty.Biller
	Mutator   *mutation.Engine
	Stripe    *royalty.StripeClient
	Bus       *events.EventBus
}

// Server is the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	deps       Deps
	logger     *logging.Logger

	limiters *clientLimiters
	metrics  *metricsCache
	hub      *streamHub
}

// NewServer builds the gin engine and wires every route
func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(cfg.ServerConfig.AllowedOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:   router,
		cfg:      cfg,
		deps:     deps,
		logger:   logging.WithComponent("api"),
		limiters: newClientLimiters(cfg.ServerConfig.RequestsPerSec),
		metrics:  &metricsCache{ttl: 30 * time.Second},
		hub:      newStreamHub(cfg.WSConfig, deps.Markets, deps.Regimes, logging.WithComponent("ws")),
	}

	s.setupRoutes()
	return s
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public auth surface
	authGroup := s.router.Group("/api/auth")
	authGroup.Use(s.rateLimitMiddleware())
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/send-otp", s.handleSendOTP)
		authGroup.POST("/verify-otp", s.handleVerifyOTP)
		authGroup.POST("/reset-password", s.handleResetPassword)
		authGroup.POST("/oauth-callback", s.handleOAuthCallback)
	}

	// Public lookups and webhooks
	s.router.GET("/api/users/check-email", s.handleCheckEmail)
	s.router.GET("/api/subscriptions/plans", s.handleListPlans)
	s.router.POST("/api/subscriptions/webhook", s.handleStripeWebhook)

	// Websocket market stream authenticates via the token query parameter
	s.router.GET("/ws/market/stream", s.handleMarketStream)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	api.Use(auth.Middleware(s.deps.JWT))
	{
		api.POST("/auth/set-password", s.handleSetPassword)
		api.POST("/auth/change-password", s.handleChangePassword)

		api.GET("/users/me", s.handleGetMe)
		api.PUT("/users/me", s.handleUpdateMe)
		api.GET("/users/by-email", auth.RequireAdmin(), s.handleGetUserByEmail)

		api.GET("/subscriptions/current", s.handleGetSubscription)
		api.PUT("/subscriptions/current", s.handleUpdateSubscription)
		api.POST("/subscriptions/checkout", s.handleCreateCheckout)

		trades := api.Group("/trades")
		{
			trades.POST("", s.paymentLockMiddleware(), s.handleCreateTrade)
			trades.POST("/:id/close", s.handleCloseTrade)
			trades.GET("", s.handleListTrades)
			trades.GET("/summary", s.handleTradeSummary)
		}

		strategies := api.Group("/strategies")
		{
			strategies.GET("/recommended", s.handleRecommendedStrategies)
			strategies.POST("", s.paymentLockMiddleware(), s.handleCreateStrategy)
			strategies.GET("", s.handleListStrategies)
			strategies.GET("/:id", s.handleGetStrategy)
			strategies.PUT("/:id", s.handleUpdateStrategy)
			strategies.DELETE("/:id", s.handleDeleteStrategy)
			strategies.POST("/:id/backtest", s.handleRunBacktest)
			strategies.POST("/:id/mutate", s.handleMutateStrategy)
			strategies.GET("/:id/signal", s.handleStrategySignal)
		}

		brainGroup := api.Group("/brain")
		{
			brainGroup.GET("/signal", s.handleBrainSignal)
			brainGroup.GET("/explain", s.handleBrainExplain)
			brainGroup.GET("/context", s.handleBrainContext)
			brainGroup.GET("/summary", s.handleBrainSummary)
			brainGroup.GET("/recommended-strategies", s.handleRecommendedStrategies)
			brainGroup.GET("/health", s.handleBrainHealth)
		}

		marketGroup := api.Group("/market")
		{
			marketGroup.GET("/price/:symbol", s.handleMarketPrice)
			marketGroup.GET("/candles/:symbol", s.handleMarketCandles)
			marketGroup.GET("/sentiment/:symbol", s.handleMarketSentiment)
			marketGroup.GET("/volatility/:symbol", s.handleMarketVolatility)
			marketGroup.GET("/overview/:symbol", s.handleMarketOverview)
			marketGroup.GET("/context/:symbol", s.handleMarketContext)
			marketGroup.GET("/status", s.handleMarketStatus)
		}

		groupsGroup := api.Group("/groups")
		{
			groupsGroup.POST("", s.handleCreateGroup)
			groupsGroup.GET("", s.handleListGroups)
			groupsGroup.POST("/join", s.handleJoinGroup)
			groupsGroup.GET("/:id", s.handleGetGroup)
			groupsGroup.GET("/:id/members", s.handleGroupMembers)
			groupsGroup.GET("/:id/referral", s.handleGroupReferral)
			groupsGroup.POST("/:id/messages", s.handlePostGroupMessage)
			groupsGroup.GET("/:id/messages", s.handleListGroupMessages)
			groupsGroup.DELETE("/:id/messages/:messageID", s.handleDeleteGroupMessage)
			groupsGroup.POST("/:id/leave", s.handleLeaveGroup)
			groupsGroup.DELETE("/:id", s.handleDeleteGroup)
		}

		royalties := api.Group("/royalties")
		{
			royalties.GET("", s.handleMyRoyalties)
			royalties.GET("/summary", s.handleRoyaltySummary)
			royalties.GET("/billing-status", s.handleBillingStatus)
			royalties.GET("/invoices", s.handleListInvoices)
		}

		admin := api.Group("/admin")
		admin.Use(auth.RequireAdmin())
		{
			admin.GET("/plans", s.handleAdminListPlans)
			admin.PUT("/plans/:code", s.handleAdminUpdatePlan)
			admin.GET("/royalties", s.handleAdminListRoyalties)
			admin.PUT("/royalties/override/:userID", s.handleAdminRoyaltyOverride)
			admin.POST("/royalties/process-billing", s.handleAdminProcessBilling)
			admin.GET("/stats", s.handleAdminStats)
			admin.GET("/metrics", s.handleAdminMetrics)
			admin.GET("/settings", s.handleAdminGetSettings)
			admin.PUT("/settings", s.handleAdminUpdateSettings)
			admin.GET("/promos", s.handleAdminListPromos)
			admin.POST("/promos", s.handleAdminCreatePromo)
			admin.GET("/promos/:code", s.handleAdminGetPromo)
			admin.PUT("/promos/:code", s.handleAdminUpdatePromo)
			admin.DELETE("/promos/:code", s.handleAdminDeletePromo)
			admin.POST("/broadcast", s.handleAdminBroadcast)
			admin.GET("/health", s.handleAdminHealth)
		}
	}
}

// Start runs the HTTP server until it is shut down
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ServerConfig.Host, s.cfg.ServerConfig.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.ServerConfig.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains connections and stops the stream hub
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for httptest servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "healthy"})
}

// respondError translates domain errors to the status taxonomy: 400
// validation, 401/403 auth, 404 unknown entity, 429 upstream rate limit,
// 503 all providers exhausted, 500 otherwise without leaking internals.
func (s *Server) respondError(c *gin.Context, err error) {
	var authErr auth.AuthError
	if errors.As(err, &authErr) {
		c.JSON(authStatusCode(authErr), gin.H{"error": authErr.Code, "message": authErr.Message})
		return
	}

	var provErr *market.ProviderError
	if errors.As(err, &provErr) && provErr.Kind == market.KindRateLimit {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "RATE_LIMITED", "message": "upstream rate limit, retry later"})
		return
	}
	if errors.Is(err, market.ErrAllProvidersFailed) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "NO_PROVIDER", "message": "no market data provider available"})
		return
	}

	s.logger.WithError(err).Error("Request failed", "path", c.FullPath())
	c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "internal server error"})
}

func authStatusCode(err auth.AuthError) int {
	switch err.Code {
	case auth.ErrInvalidCredentials.Code, auth.ErrInvalidToken.Code,
		auth.ErrTokenExpired.Code, auth.ErrUnauthorized.Code:
		return http.StatusUnauthorized
	case auth.ErrForbidden.Code:
		return http.StatusForbidden
	case auth.ErrUserNotFound.Code:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": message})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": message})
}
