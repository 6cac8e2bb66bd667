package auth

import (
	"time"
)

// UserClaims represents the JWT claims for a user
type UserClaims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"is_admin"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	User        UserResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	TokenType   string       `json:"token_type"`
}

// UserResponse represents user data returned to the client
type UserResponse struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	PlanCode        string    `json:"plan_code,omitempty"`
	BrokerConnected bool      `json:"broker_connected"`
	BillingLocked   bool      `json:"billing_locked"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// ResetPasswordRequest represents a password reset confirmation
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// SendOTPRequest asks for a one-time code to be mailed
type SendOTPRequest struct {
	Email   string `json:"email" binding:"required,email"`
	Purpose string `json:"purpose"`
}

// VerifyOTPRequest submits a one-time code
type VerifyOTPRequest struct {
	Email   string `json:"email" binding:"required,email"`
	Code    string `json:"code" binding:"required,len=6"`
	Purpose string `json:"purpose"`
}

// Config holds authentication configuration
type Config struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	ResetTokenDuration  time.Duration `json:"reset_token_duration"`
	MinPasswordLength   int           `json:"min_password_length"`
	OTPTTL              time.Duration `json:"otp_ttl"`
	AdminEmail          string        `json:"admin_email"`
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		AccessTokenDuration: 24 * time.Hour,
		ResetTokenDuration:  1 * time.Hour,
		MinPasswordLength:   8,
		OTPTTL:              10 * time.Minute,
	}
}

// AuthError is a typed authentication error with a stable code
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid email or password"}
	ErrUserNotFound       = AuthError{Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrEmailExists        = AuthError{Code: "EMAIL_EXISTS", Message: "email already registered"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrInvalidOTP         = AuthError{Code: "INVALID_OTP", Message: "invalid or expired code"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden          = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrWeakPassword       = AuthError{Code: "WEAK_PASSWORD", Message: "password does not meet requirements"}
)
