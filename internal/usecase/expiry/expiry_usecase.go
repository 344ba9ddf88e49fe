// Package expiry closes buddy requests that stayed open for too long.
package expiry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gowith_requests_expired_total",
	Help: "Buddy requests moved from open to expired by the sweep",
})

type ExpiryUseCase struct {
	requestRepo repository.BuddyRequestRepository
	expireAfter time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewExpiryUseCase(
	requestRepo repository.BuddyRequestRepository,
	expireAfter time.Duration,
	logger *zap.Logger,
) *ExpiryUseCase {
	return &ExpiryUseCase{
		requestRepo: requestRepo,
		expireAfter: expireAfter,
		now:         time.Now,
		logger:      logger.Named("expiry"),
	}
}

// SweepExpired marks every open request created more than expireAfter ago as
// expired and returns how many were changed.
func (uc *ExpiryUseCase) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := uc.now().Add(-uc.expireAfter)
	n, err := uc.requestRepo.ExpireOpenBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire requests: %w", err)
	}
	if n > 0 {
		expiredTotal.Add(float64(n))
		uc.logger.Info("expired stale buddy requests", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Scheduler runs the sweep on a fixed interval until stopped.
type Scheduler struct {
	uc       *ExpiryUseCase
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(uc *ExpiryUseCase, interval time.Duration) *Scheduler {
	return &Scheduler{uc: uc, interval: interval}
}

// Start launches the sweep loop. The first sweep runs immediately. Calling
// Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.uc.SweepExpired(ctx); err != nil && ctx.Err() == nil {
			s.uc.logger.Error("expiry sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the loop and waits for an in-flight sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
