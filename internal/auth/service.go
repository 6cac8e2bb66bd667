package auth

import (
	"context"
	"fmt"
	"strings"

	"tradebrain/internal/database"
	"tradebrain/internal/logging"
)

// OTPSender delivers one-time codes. The email service implements this;
// tests substitute a recorder.
type OTPSender interface {
	SendOTP(ctx context.Context, email, code, purpose string) error
}

// Service provides authentication operations
type Service struct {
	repo      *database.Repository
	jwt       *JWTManager
	passwords *PasswordManager
	otp       OTPSender
	cfg       Config
	logger    *logging.Logger
}

// NewService creates a new authentication service
func NewService(repo *database.Repository, jwt *JWTManager, passwords *PasswordManager, otp OTPSender, cfg Config) *Service {
	return &Service{
		repo:      repo,
		jwt:       jwt,
		passwords: passwords,
		otp:       otp,
		cfg:       cfg,
		logger:    logging.WithComponent("auth"),
	}
}

// Register creates a new user account and returns a logged-in response
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := s.passwords.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	role := database.RoleUser
	if s.cfg.AdminEmail != "" && email == strings.ToLower(s.cfg.AdminEmail) {
		role = database.RoleAdmin
	}

	planCode := "free"
	user := &database.User{
		Email:        email,
		PasswordHash: hash,
		AuthProvider: "password",
		Role:         role,
		PlanCode:     &planCode,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", "user_id", user.ID, "email", email)
	return s.loginResponse(user)
}

// Login authenticates a user with email and password
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if !s.passwords.VerifyPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	s.logger.Info("User logged in", "user_id", user.ID)
	return s.loginResponse(user)
}

// SendOTP mails a single-use code. Unknown emails are silently accepted to
// avoid account enumeration.
func (s *Service) SendOTP(ctx context.Context, req *SendOTPRequest) error {
	purpose := req.Purpose
	if purpose == "" {
		purpose = "login"
	}

	code, err := GenerateOTPCode()
	if err != nil {
		return err
	}
	if err := s.repo.CreateOTP(ctx, req.Email, code, purpose, s.cfg.OTPTTL); err != nil {
		return err
	}
	if s.otp != nil {
		if err := s.otp.SendOTP(ctx, req.Email, code, purpose); err != nil {
			s.logger.WithError(err).Warn("Failed to deliver OTP", "email", req.Email)
		}
	}
	return nil
}

// VerifyOTP consumes a code. For purpose "login" it returns a login
// response (creating the account on first use); for "reset" it returns a
// reset token in LoginResponse.AccessToken.
func (s *Service) VerifyOTP(ctx context.Context, req *VerifyOTPRequest) (*LoginResponse, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = "login"
	}

	ok, err := s.repo.ConsumeOTP(ctx, req.Email, req.Code, purpose)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidOTP
	}

	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	switch purpose {
	case "reset":
		if user == nil {
			return nil, ErrUserNotFound
		}
		token, err := s.jwt.GeneratePurposeToken(user.ID, "reset", s.cfg.ResetTokenDuration)
		if err != nil {
			return nil, err
		}
		return &LoginResponse{AccessToken: token, TokenType: "reset"}, nil
	default:
		if user == nil {
			planCode := "free"
			user = &database.User{
				Email:        req.Email,
				AuthProvider: "otp",
				Role:         database.RoleUser,
				PlanCode:     &planCode,
			}
			if err := s.repo.CreateUser(ctx, user); err != nil {
				return nil, err
			}
		}
		return s.loginResponse(user)
	}
}

// ResetPassword sets a new password from a reset token
func (s *Service) ResetPassword(ctx context.Context, req *ResetPasswordRequest) error {
	userID, err := s.jwt.ValidatePurposeToken(req.Token, "reset")
	if err != nil {
		return err
	}
	hash, err := s.passwords.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, userID, hash); err != nil {
		return err
	}
	s.logger.Info("Password reset", "user_id", userID)
	return nil
}

// SetPassword sets a first password for an account that has none, such as
// one provisioned through OTP or OAuth.
func (s *Service) SetPassword(ctx context.Context, userID, newPassword string) error {
	hash, err := s.passwords.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, userID, hash); err != nil {
		return err
	}
	s.logger.Info("Password set", "user_id", userID)
	return nil
}

// OAuthLogin logs in a user whose email an external identity provider has
// already verified, creating the account on first sight.
func (s *Service) OAuthLogin(ctx context.Context, email, provider string) (*LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		role := database.RoleUser
		if s.cfg.AdminEmail != "" && email == strings.ToLower(s.cfg.AdminEmail) {
			role = database.RoleAdmin
		}
		planCode := "free"
		user = &database.User{
			Email:        email,
			AuthProvider: provider,
			Role:         role,
			PlanCode:     &planCode,
		}
		if err := s.repo.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		s.logger.Info("User provisioned via oauth", "user_id", user.ID, "provider", provider)
	}
	return s.loginResponse(user)
}

// ChangePassword changes a password after verifying the current one
func (s *Service) ChangePassword(ctx context.Context, userID string, req *ChangePasswordRequest) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if !s.passwords.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	hash, err := s.passwords.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.repo.UpdateUserPassword(ctx, userID, hash)
}

func (s *Service) loginResponse(user *database.User) (*LoginResponse, error) {
	claims := UserClaims{
		UserID:  user.ID,
		Email:   user.Email,
		Role:    string(user.Role),
		IsAdmin: user.Role == database.RoleAdmin,
	}
	token, err := s.jwt.GenerateAccessToken(claims)
	if err != nil {
		return nil, err
	}

	resp := &LoginResponse{
		User:        ToUserResponse(user),
		AccessToken: token,
		ExpiresIn:   s.jwt.GetAccessTokenDuration(),
		TokenType:   "Bearer",
	}
	return resp, nil
}

// ToUserResponse converts a database user to its API representation
func ToUserResponse(user *database.User) UserResponse {
	resp := UserResponse{
		ID:              user.ID,
		Email:           user.Email,
		Role:            string(user.Role),
		BrokerConnected: user.BrokerConnected,
		BillingLocked:   user.BillingLocked,
		CreatedAt:       user.CreatedAt,
	}
	if user.PlanCode != nil {
		resp.PlanCode = *user.PlanCode
	}
	return resp
}
