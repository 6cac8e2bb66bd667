package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/auth"
)

func (s *Server) handleGetMe(c *gin.Context) {
	user, err := s.deps.Repo.GetUserByID(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if user == nil {
		s.respondError(c, auth.ErrUserNotFound)
		return
	}
	c.JSON(http.StatusOK, auth.ToUserResponse(user))
}

func (s *Server) handleUpdateMe(c *gin.Context) {
	var req struct {
		Email *string `json:"email,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	ctx := c.Request.Context()
	user, err := s.deps.Repo.GetUserByID(ctx, auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if user == nil {
		s.respondError(c, auth.ErrUserNotFound)
		return
	}

	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email == "" || !strings.Contains(email, "@") {
			badRequest(c, "invalid email")
			return
		}
		if email != user.Email {
			existing, err := s.deps.Repo.GetUserByEmail(ctx, email)
			if err != nil {
				s.respondError(c, err)
				return
			}
			if existing != nil {
				s.respondError(c, auth.ErrEmailExists)
				return
			}
			user.Email = email
		}
	}

	if err := s.deps.Repo.UpdateUser(ctx, user); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, auth.ToUserResponse(user))
}

// handleCheckEmail reports whether an address is already registered, for
// pre-registration form validation.
func (s *Server) handleCheckEmail(c *gin.Context) {
	email := strings.ToLower(strings.TrimSpace(c.Query("email")))
	if email == "" {
		badRequest(c, "email query parameter is required")
		return
	}

	user, err := s.deps.Repo.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email, "registered": user != nil})
}

// handleGetUserByEmail is an admin lookup of a full user record by address
func (s *Server) handleGetUserByEmail(c *gin.Context) {
	email := strings.ToLower(strings.TrimSpace(c.Query("email")))
	if email == "" {
		badRequest(c, "email query parameter is required")
		return
	}

	user, err := s.deps.Repo.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if user == nil {
		notFound(c, "user not found")
		return
	}
	c.JSON(http.StatusOK, auth.ToUserResponse(user))
}

func (s *Server) handleListPlans(c *gin.Context) {
	plans, err := s.deps.Repo.ListPlans(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (s *Server) handleGetSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := s.deps.Repo.GetUserByID(ctx, auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if user == nil {
		s.respondError(c, auth.ErrUserNotFound)
		return
	}

	resp := gin.H{"plan_code": nil, "plan": nil}
	if user.PlanCode != nil {
		resp["plan_code"] = *user.PlanCode
		if plan, err := s.deps.Repo.GetPlan(ctx, *user.PlanCode); err == nil && plan != nil {
			resp["plan"] = plan
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUpdateSubscription(c *gin.Context) {
	var req struct {
		PlanCode string `json:"plan_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "plan_code is required")
		return
	}

	ctx := c.Request.Context()
	plan, err := s.deps.Repo.GetPlan(ctx, req.PlanCode)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if plan == nil {
		notFound(c, "unknown plan")
		return
	}

	user, err := s.deps.Repo.GetUserByID(ctx, auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if user == nil {
		s.respondError(c, auth.ErrUserNotFound)
		return
	}

	user.PlanCode = &plan.Code
	if err := s.deps.Repo.UpdateUser(ctx, user); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan_code": plan.Code, "plan": plan})
}

// handleCreateCheckout opens a Stripe payment for the selected plan. Without
// a configured Stripe key the plan switch still happens; the checkout URL is
// simply absent.
func (s *Server) handleCreateCheckout(c *gin.Context) {
	var req struct {
		PlanCode string `json:"plan_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "plan_code is required")
		return
	}

	ctx := c.Request.Context()
	plan, err := s.deps.Repo.GetPlan(ctx, req.PlanCode)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if plan == nil {
		notFound(c, "unknown plan")
		return
	}

	resp := gin.H{"plan_code": plan.Code, "amount_cents": plan.MonthlyPriceCents}
	if s.deps.Stripe != nil && s.deps.Stripe.Configured() {
		user, err := s.deps.Repo.GetUserByID(ctx, auth.GetUserID(c))
		if err != nil || user == nil {
			s.respondError(c, auth.ErrUserNotFound)
			return
		}
		customerID, err := s.deps.Stripe.EnsureCustomer(ctx, user)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if user.StripeCustomerID != customerID {
			user.StripeCustomerID = customerID
			if err := s.deps.Repo.UpdateUser(ctx, user); err != nil {
				s.respondError(c, err)
				return
			}
		}
		resp["customer_id"] = customerID
	}
	c.JSON(http.StatusOK, resp)
}

// handleStripeWebhook verifies the signature and acknowledges payment
// events. Invoice settlement itself runs through the billing cycle.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	if s.deps.Stripe == nil {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, "unreadable payload")
		return
	}
	if !s.deps.Stripe.VerifyWebhookSignature(payload, c.GetHeader("Stripe-Signature")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_SIGNATURE", "message": "webhook signature mismatch"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
