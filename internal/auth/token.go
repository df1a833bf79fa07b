package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/condo-access/internal/domain"
)

// TokenManager handles issuing and validating the bearer JWTs that carry the caller's
// tenant and role. Login happens elsewhere; GenerateToken serves tooling and tests.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// Claims describes JWT payload.
type Claims struct {
	Name     string      `json:"name"`
	TenantID string      `json:"tenant_id"`
	Role     domain.Role `json:"role"`
	Unit     string      `json:"unit,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts validated claims into the caller identity.
func (c *Claims) Principal() domain.Principal {
	return domain.Principal{
		UserID:   c.Subject,
		Name:     c.Name,
		TenantID: c.TenantID,
		Role:     c.Role,
		Unit:     c.Unit,
	}
}

// GenerateToken builds and signs a JWT for the principal.
func (tm *TokenManager) GenerateToken(p domain.Principal) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		Name:     p.Name,
		TenantID: p.TenantID,
		Role:     p.Role,
		Unit:     p.Unit,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" || claims.TenantID == "" || !claims.Role.Valid() {
		return nil, errors.New("token missing tenant identity")
	}
	return claims, nil
}
