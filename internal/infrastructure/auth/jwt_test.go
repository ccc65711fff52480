package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/backend/internal/infrastructure/config"
)

func newTestJWTService(expiration time.Duration) *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-0123456789abcdef",
		AccessTokenExpiration: expiration,
		Issuer:                "ledgerline-test",
	})
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := newTestJWTService(15 * time.Minute)
	tenantID := uuid.New()
	userID := uuid.New()
	orgID := int64(7)

	token, err := svc.GenerateToken(GenerateTokenInput{
		TenantID: tenantID,
		OrgID:    &orgID,
		UserID:   userID,
		Username: "alice",
		Roles:    []string{"accountant", "admin"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	require.NotNil(t, claims.OrgID)
	assert.Equal(t, int64(7), *claims.OrgID)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.HasRole("accountant"))
	assert.False(t, claims.HasRole("auditor"))
	assert.True(t, claims.HasAnyRole("auditor", "admin"))
}

func TestJWTService_RejectsNilTenant(t *testing.T) {
	svc := newTestJWTService(15 * time.Minute)

	_, err := svc.GenerateToken(GenerateTokenInput{
		TenantID: uuid.Nil,
		UserID:   uuid.New(),
	})
	assert.ErrorIs(t, err, ErrMissingTenantID)
}

func TestJWTService_RejectsExpiredToken(t *testing.T) {
	svc := newTestJWTService(-1 * time.Minute)

	token, err := svc.GenerateToken(GenerateTokenInput{
		TenantID: uuid.New(),
		UserID:   uuid.New(),
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTService_RejectsWrongSecret(t *testing.T) {
	svc := newTestJWTService(15 * time.Minute)
	other := NewJWTService(config.JWTConfig{
		Secret:                "a-completely-different-secret-key",
		AccessTokenExpiration: 15 * time.Minute,
		Issuer:                "ledgerline-test",
	})

	token, err := svc.GenerateToken(GenerateTokenInput{
		TenantID: uuid.New(),
		UserID:   uuid.New(),
	})
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_RejectsGarbage(t *testing.T) {
	svc := newTestJWTService(15 * time.Minute)

	_, err := svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
