package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

func testUser(role models.Role) *models.User {
	return &models.User{
		ID:       primitive.NewObjectID(),
		Username: "testrider",
		Role:     role,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	user := testUser(models.RoleAdmin)

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.Hex(), claims.UserID)
	assert.Equal(t, "testrider", claims.Username)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestValidateTokenBearerPrefix(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	token, err := svc.GenerateToken(testUser(models.RoleRider))
	require.NoError(t, err)

	claims, err := svc.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleRider, claims.Role)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	user := testUser(models.RoleRider)
	claims := jwt.MapClaims{
		"user_id":  user.ID.Hex(),
		"username": user.Username,
		"role":     string(user.Role),
		"exp":      time.Now().Add(-time.Minute).Unix(),
		"iat":      time.Now().Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	signer := NewService("secret-a", time.Hour)
	verifier := NewService("secret-b", time.Hour)

	token, err := signer.GenerateToken(testUser(models.RoleRider))
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractTokenFromHeader(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid bearer", "Bearer abc123", "abc123", false},
		{"empty header", "", "", true},
		{"missing token", "Bearer ", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"no scheme", "abc123", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ExtractTokenFromHeader(tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	hash, err := svc.HashPassword("correct-horse-battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct-horse-battery", hash)

	assert.True(t, svc.CheckPassword("correct-horse-battery", hash))
	assert.False(t, svc.CheckPassword("wrong-password", hash))
}

func TestInputValidation(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	assert.Error(t, svc.ValidatePassword("short"))
	assert.NoError(t, svc.ValidatePassword("longenough"))

	assert.Error(t, svc.ValidateEmail("not-an-email"))
	assert.NoError(t, svc.ValidateEmail("rider@example.com"))

	assert.Error(t, svc.ValidateUsername("ab"))
	assert.NoError(t, svc.ValidateUsername("rider"))
}
