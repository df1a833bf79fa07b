package http

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/spec-kit/condo-access/internal/auth"
	apperrors "github.com/spec-kit/condo-access/pkg/util/errorutil"
)

// tenantLimiters keeps one token bucket per tenant.
type tenantLimiters struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	perSec   int
}

func newTenantLimiters(perSec int) *tenantLimiters {
	return &tenantLimiters{limiters: make(map[string]*rate.Limiter), perSec: perSec}
}

func (r *tenantLimiters) get(tenantID string) *rate.Limiter {
	r.mu.RLock()
	limiter, ok := r.limiters[tenantID]
	r.mu.RUnlock()
	if ok {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[tenantID]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(r.perSec), r.perSec)
	r.limiters[tenantID] = limiter
	return limiter
}

// TenantRateLimit throttles a route per authenticated tenant. A non-positive rate
// disables throttling.
func TenantRateLimit(perSecond int) fiber.Handler {
	if perSecond <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	limiters := newTenantLimiters(perSecond)
	return func(c *fiber.Ctx) error {
		principal, ok := auth.PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !limiters.get(principal.TenantID).Allow() {
			return apperrors.NewRateLimited()
		}
		return c.Next()
	}
}
