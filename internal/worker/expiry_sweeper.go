package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/condo-access/internal/observability"
	"github.com/spec-kit/condo-access/internal/repository"
)

// ExpirySweeper periodically purges grants whose expiration date has passed.
type ExpirySweeper struct {
	grants   repository.GrantRepository
	metrics  *observability.Metrics
	logger   *zap.Logger
	clock    func() time.Time
	interval time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// ExpirySweeperDependencies bundles collaborators for the sweeper.
type ExpirySweeperDependencies struct {
	Grants   repository.GrantRepository
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	Clock    func() time.Time
	Interval time.Duration
}

// NewExpirySweeper constructs a stopped sweeper.
func NewExpirySweeper(deps ExpirySweeperDependencies) *ExpirySweeper {
	s := &ExpirySweeper{
		grants:   deps.Grants,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		clock:    deps.Clock,
		interval: deps.Interval,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.interval <= 0 {
		s.interval = 10 * time.Second
	}
	return s
}

// SweepOnce removes every grant expired at the current time. Grants without an
// expiration date are kept.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock()
	removed, err := s.grants.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired grants: %w", err)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	s.metrics.RecordGrantsSwept(len(removed))
	for _, g := range removed {
		s.logger.Info("expired grant removed",
			zap.String("tenant_id", g.TenantID),
			zap.String("grant_id", g.ID),
			zap.String("unit", g.Unit),
			zap.String("grant_type", string(g.Type)))
	}
	return len(removed), nil
}

// Start runs one sweep immediately and then schedules one per interval.
// Overlapping runs are skipped.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule expiry sweeper: %w", err)
	}

	s.run(ctx)
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("expiry sweeper stopped")
}

func (s *ExpirySweeper) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
	}
}
