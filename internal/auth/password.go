package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// PasswordManager handles password hashing and verification
type PasswordManager struct {
	minLength int
}

// NewPasswordManager creates a new password manager
func NewPasswordManager(minLength int) *PasswordManager {
	if minLength < 8 {
		minLength = 8
	}
	return &PasswordManager{minLength: minLength}
}

// HashPassword hashes a password with bcrypt
func (m *PasswordManager) HashPassword(password string) (string, error) {
	if err := m.ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a password against its hash
func (m *PasswordManager) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword checks password requirements
func (m *PasswordManager) ValidatePassword(password string) error {
	if len(password) < m.minLength {
		return ErrWeakPassword
	}
	return nil
}

// GenerateOTPCode produces a 6-digit numeric code
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
