package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.GenerateAccessToken(UserClaims{
		UserID: "u-1", Email: "a@b.com", Role: "user", IsAdmin: false,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.False(t, claims.IsAdmin)
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)

	token, err := m.GenerateAccessToken(UserClaims{UserID: "u-1"})
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenSignedWithDifferentSecretRejected(t *testing.T) {
	a := NewJWTManager("secret-a", time.Hour)
	b := NewJWTManager("secret-b", time.Hour)

	token, err := a.GenerateAccessToken(UserClaims{UserID: "u-1"})
	require.NoError(t, err)

	_, err = b.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGarbageTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	_, err := m.ValidateAccessToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPurposeTokenBoundToPurpose(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.GeneratePurposeToken("u-1", "password_reset", 10*time.Minute)
	require.NoError(t, err)

	userID, err := m.ValidatePurposeToken(token, "password_reset")
	require.NoError(t, err)
	assert.Equal(t, "u-1", userID)

	_, err = m.ValidatePurposeToken(token, "email_change")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashAndVerify(t *testing.T) {
	pm := NewPasswordManager(8)

	hash, err := pm.HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery", hash)

	assert.True(t, pm.VerifyPassword("correct horse battery", hash))
	assert.False(t, pm.VerifyPassword("wrong password", hash))
}

func TestShortPasswordRejected(t *testing.T) {
	pm := NewPasswordManager(10)

	_, err := pm.HashPassword("short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	assert.Error(t, pm.ValidatePassword("123456789"))
	assert.NoError(t, pm.ValidatePassword("1234567890"))
}

func TestMinimumLengthFloor(t *testing.T) {
	pm := NewPasswordManager(3)
	// Floor is 8 regardless of configuration
	assert.ErrorIs(t, pm.ValidatePassword("seven77"), ErrWeakPassword)
	assert.NoError(t, pm.ValidatePassword("eightchr"))
}

func TestGenerateOTPCode(t *testing.T) {
	code, err := GenerateOTPCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}
