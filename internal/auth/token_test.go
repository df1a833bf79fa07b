package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/condo-access/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 10)
	principal := domain.Principal{UserID: "u3", Name: "Beto", TenantID: "t1", Role: domain.RoleResident, Unit: "101"}

	signed, expiresAt, err := tm.GenerateToken(principal)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), expiresAt, 5*time.Second)

	claims, err := tm.ParseToken(signed)
	require.NoError(t, err)
	assert.Equal(t, principal, claims.Principal())
}

func TestParseTokenRejects(t *testing.T) {
	tm := NewTokenManager("secret", 10)

	other, _, err := NewTokenManager("other", 10).GenerateToken(domain.Principal{UserID: "u1", TenantID: "t1", Role: domain.RoleAdmin})
	require.NoError(t, err)
	_, err = tm.ParseToken(other)
	assert.Error(t, err)

	noTenant, _, err := tm.GenerateToken(domain.Principal{UserID: "u1", Role: domain.RoleAdmin})
	require.NoError(t, err)
	_, err = tm.ParseToken(noTenant)
	assert.Error(t, err)

	badRole, _, err := tm.GenerateToken(domain.Principal{UserID: "u1", TenantID: "t1", Role: "Z"})
	require.NoError(t, err)
	_, err = tm.ParseToken(badRole)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		TenantID: "t1",
		Role:     domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(signed)
	assert.Error(t, err)
}
