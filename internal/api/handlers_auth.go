package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/auth"
)

func (s *Server) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and a password of at least 8 characters are required")
		return
	}

	resp, err := s.deps.Auth.Register(c.Request.Context(), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	resp, err := s.deps.Auth.Login(c.Request.Context(), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSendOTP(c *gin.Context) {
	var req auth.SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "a valid email is required")
		return
	}

	if err := s.deps.Auth.SendOTP(c.Request.Context(), &req); err != nil {
		s.respondError(c, err)
		return
	}
	// Same response whether or not the account exists
	c.JSON(http.StatusOK, gin.H{"message": "code sent if the address is registered"})
}

func (s *Server) handleVerifyOTP(c *gin.Context) {
	var req auth.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and a 6-digit code are required")
		return
	}

	resp, err := s.deps.Auth.VerifyOTP(c.Request.Context(), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleResetPassword(c *gin.Context) {
	var req auth.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reset token and a new password of at least 8 characters are required")
		return
	}

	if err := s.deps.Auth.ResetPassword(c.Request.Context(), &req); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// handleSetPassword lets an OTP-registered user set a first password
// without knowing a current one.
func (s *Server) handleSetPassword(c *gin.Context) {
	var req struct {
		NewPassword string `json:"new_password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "a new password of at least 8 characters is required")
		return
	}

	userID := auth.GetUserID(c)
	user, err := s.deps.Repo.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if user == nil {
		s.respondError(c, auth.ErrUserNotFound)
		return
	}
	if user.PasswordHash != "" {
		badRequest(c, "a password is already set; use change-password")
		return
	}

	if err := s.deps.Auth.SetPassword(c.Request.Context(), userID, req.NewPassword); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password set"})
}

func (s *Server) handleChangePassword(c *gin.Context) {
	var req auth.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "current password and a new password of at least 8 characters are required")
		return
	}

	if err := s.deps.Auth.ChangePassword(c.Request.Context(), auth.GetUserID(c), &req); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// handleOAuthCallback logs in (or provisions) a user for whom an external
// identity provider has already verified the email.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Provider string `json:"provider" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and provider are required")
		return
	}

	resp, err := s.deps.Auth.OAuthLogin(c.Request.Context(), req.Email, req.Provider)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
