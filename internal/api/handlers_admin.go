package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/auth"
	"tradebrain/internal/database"
	"tradebrain/internal/events"
)

func (s *Server) handleAdminListPlans(c *gin.Context) {
	plans, err := s.deps.Repo.ListPlans(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// handleAdminUpdatePlan upserts a plan and broadcasts the change so
// subscribed clients can refresh pricing.
func (s *Server) handleAdminUpdatePlan(c *gin.Context) {
	var req struct {
		Name               string  `json:"name" binding:"required"`
		MonthlyPriceCents  int64   `json:"monthly_price_cents"`
		RoyaltyPercent     float64 `json:"royalty_percent"`
		PlatformFeePercent float64 `json:"platform_fee_percent"`
		MaxGroupSize       int     `json:"max_group_size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}

	plan := &database.SubscriptionPlan{
		Code:               c.Param("code"),
		Name:               req.Name,
		MonthlyPriceCents:  req.MonthlyPriceCents,
		RoyaltyPercent:     req.RoyaltyPercent,
		PlatformFeePercent: req.PlatformFeePercent,
		MaxGroupSize:       req.MaxGroupSize,
	}
	if err := s.deps.Repo.UpsertPlan(c.Request.Context(), plan); err != nil {
		s.respondError(c, err)
		return
	}

	if s.deps.Bus != nil {
		s.deps.Bus.Publish(events.Event{
			Type:      events.EventBroadcast,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"kind":    "plan_updated",
				"code":    plan.Code,
				"message": "subscription plan " + plan.Code + " updated",
			},
		})
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleAdminListRoyalties(c *gin.Context) {
	limit := 200
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, err := s.deps.Repo.ListAllRoyalties(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"royalties": entries})
}

// handleAdminRoyaltyOverride pins a creator's royalty rate, bypassing the
// similarity table. Percent is expressed as 0-100; null clears it.
func (s *Server) handleAdminRoyaltyOverride(c *gin.Context) {
	var req struct {
		Percent *float64 `json:"percent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	if req.Percent != nil && (*req.Percent < 0 || *req.Percent > 100) {
		badRequest(c, "percent must be between 0 and 100")
		return
	}

	ctx := c.Request.Context()
	user, err := s.deps.Repo.GetUserByID(ctx, c.Param("userID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if user == nil {
		notFound(c, "user not found")
		return
	}

	user.RoyaltyPercentOverride = req.Percent
	if err := s.deps.Repo.UpdateUser(ctx, user); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "royalty_percent_override": user.RoyaltyPercentOverride})
}

// handleAdminProcessBilling runs the monthly billing cycle on demand
func (s *Server) handleAdminProcessBilling(c *gin.Context) {
	if err := s.deps.Biller.RunCycle(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "billing cycle completed"})
}

func (s *Server) handleAdminStats(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{"as_of": time.Now().UTC()}

	if count, err := s.deps.Repo.CountUsers(ctx); err == nil {
		resp["users"] = count
	}
	if strategies, err := s.deps.Repo.ListActiveStrategies(ctx); err == nil {
		resp["active_strategies"] = len(strategies)
	}
	if entries, err := s.deps.Repo.ListAllRoyalties(ctx, 1000); err == nil {
		var netCents int64
		for _, e := range entries {
			netCents += e.NetCents
		}
		resp["royalty_entries"] = len(entries)
		resp["royalty_net_cents"] = netCents
	}
	c.JSON(http.StatusOK, resp)
}

// handleAdminMetrics summarizes runtime metrics, memoized for 30 seconds
// so dashboards polling aggressively cannot hammer the stores.
func (s *Server) handleAdminMetrics(c *gin.Context) {
	payload := s.metrics.get(func() gin.H {
		return gin.H{
			"providers":   s.deps.Markets.Status(),
			"streams":     s.hub.ConnectionCount(),
			"generated":   time.Now().UTC(),
			"cached_secs": 30,
		}
	})
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleAdminGetSettings(c *gin.Context) {
	settings, err := s.deps.Repo.GetAdminSettings(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleAdminUpdateSettings(c *gin.Context) {
	var req database.AdminSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	if req.PlatformFeePercent < 0 || req.PlatformFeePercent > 100 {
		badRequest(c, "platform_fee_percent must be between 0 and 100")
		return
	}

	if err := s.deps.Repo.UpdateAdminSettings(c.Request.Context(), &req); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// handleAdminBroadcast publishes a platform-wide message onto the event bus
func (s *Server) handleAdminBroadcast(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "message is required")
		return
	}

	if s.deps.Bus != nil {
		s.deps.Bus.Publish(events.Event{
			Type:      events.EventBroadcast,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"kind":    "admin_broadcast",
				"message": req.Message,
				"from":    auth.GetUserID(c),
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

func (s *Server) handleAdminHealth(c *gin.Context) {
	ctx := c.Request.Context()
	dbHealthy := s.deps.Repo.HealthCheck(ctx) == nil

	status := "healthy"
	if !dbHealthy {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"database":  dbHealthy,
		"providers": s.deps.Markets.Status(),
	})
}

func (s *Server) handleAdminListPromos(c *gin.Context) {
	promos, err := s.deps.Repo.ListPromos(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"promos": promos})
}

func (s *Server) handleAdminCreatePromo(c *gin.Context) {
	var req struct {
		Code           string     `json:"code" binding:"required"`
		Description    string     `json:"description"`
		PercentOff     float64    `json:"percent_off"`
		MaxRedemptions int        `json:"max_redemptions"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code is required")
		return
	}
	if req.PercentOff < 0 || req.PercentOff > 100 {
		badRequest(c, "percent_off must be between 0 and 100")
		return
	}

	ctx := c.Request.Context()
	if existing, err := s.deps.Repo.GetPromo(ctx, req.Code); err != nil {
		s.respondError(c, err)
		return
	} else if existing != nil {
		badRequest(c, "promo code already exists")
		return
	}

	promo := &database.Promo{
		Code:           req.Code,
		Description:    req.Description,
		PercentOff:     req.PercentOff,
		MaxRedemptions: req.MaxRedemptions,
		Active:         true,
		ExpiresAt:      req.ExpiresAt,
	}
	if err := s.deps.Repo.CreatePromo(ctx, promo); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, promo)
}

func (s *Server) handleAdminGetPromo(c *gin.Context) {
	promo, err := s.deps.Repo.GetPromo(c.Request.Context(), c.Param("code"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if promo == nil {
		notFound(c, "promo not found")
		return
	}
	c.JSON(http.StatusOK, promo)
}

func (s *Server) handleAdminUpdatePromo(c *gin.Context) {
	var req struct {
		Description    *string    `json:"description,omitempty"`
		PercentOff     *float64   `json:"percent_off,omitempty"`
		MaxRedemptions *int       `json:"max_redemptions,omitempty"`
		Active         *bool      `json:"active,omitempty"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	if req.PercentOff != nil && (*req.PercentOff < 0 || *req.PercentOff > 100) {
		badRequest(c, "percent_off must be between 0 and 100")
		return
	}

	ctx := c.Request.Context()
	promo, err := s.deps.Repo.GetPromo(ctx, c.Param("code"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if promo == nil {
		notFound(c, "promo not found")
		return
	}

	if req.Description != nil {
		promo.Description = *req.Description
	}
	if req.PercentOff != nil {
		promo.PercentOff = *req.PercentOff
	}
	if req.MaxRedemptions != nil {
		promo.MaxRedemptions = *req.MaxRedemptions
	}
	if req.Active != nil {
		promo.Active = *req.Active
	}
	if req.ExpiresAt != nil {
		promo.ExpiresAt = req.ExpiresAt
	}

	if err := s.deps.Repo.UpdatePromo(ctx, promo); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, promo)
}

func (s *Server) handleAdminDeletePromo(c *gin.Context) {
	ctx := c.Request.Context()
	promo, err := s.deps.Repo.GetPromo(ctx, c.Param("code"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if promo == nil {
		notFound(c, "promo not found")
		return
	}
	if err := s.deps.Repo.DeletePromo(ctx, promo.Code); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": promo.Code})
}
