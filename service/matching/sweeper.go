package matching

import (
	"context"
	"sync"
	"time"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/log/tag"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
)

// Sweeper periodically reclaims task leases whose worker went silent past
// the lease's expiry, making those tasks pollable again.
type Sweeper struct {
	repo     persistence.TaskQueueRepository
	interval time.Duration
	logger   log.Logger
	metrics  metrics.Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper constructs a Sweeper that runs every interval once started.
func NewSweeper(repo persistence.TaskQueueRepository, interval time.Duration, logger log.Logger, metricsHandler metrics.Handler) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{repo: repo, interval: interval, logger: logger.With(tag.ComponentName("matching-sweeper")), metrics: metricsHandler}
}

// Start begins the background reclaim loop.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.repo.ReclaimExpiredLeases(ctx)
				if err != nil {
					s.logger.Warn("task lease reclaim sweep failed", tag.Error(err))
					continue
				}
				if n > 0 {
					s.metrics.Counter("task_lease_reclaimed").Add(float64(n))
					s.logger.Info("reclaimed expired task leases", tag.Value("count", n))
				}
			}
		}
	}()
}

// Stop halts the background loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
