package notification

import (
	"context"
	"time"

	"github.com/hackgods/appointment-scheduling-core/internal/config"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

// Sweeper retries undelivered notifications and expires the ones that have
// been waiting longer than the configured age.
type Sweeper struct {
	repo       Repository
	dispatcher *Dispatcher
	logger     *logging.Logger
	now        func() time.Time

	interval    time.Duration
	batchSize   int
	maxAttempts int
	maxAge      time.Duration
	settle      time.Duration
}

func NewSweeper(repo Repository, dispatcher *Dispatcher, cfg config.Config, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Sweeper{
		repo:        repo,
		dispatcher:  dispatcher,
		logger:      logger,
		now:         dispatcher.now,
		interval:    cfg.SweepInterval,
		batchSize:   cfg.SweepBatchSize,
		maxAttempts: dispatcher.maxAttempts,
		maxAge:      cfg.MaxNotificationAge,
		settle:      2 * dispatcher.channelTimeout,
	}
	if s.interval <= 0 || s.interval > 5*time.Minute {
		s.interval = 5 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 50
	}
	if s.maxAge <= 0 {
		s.maxAge = 24 * time.Hour
	}
	return s
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("notification sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("notification sweeper stopping")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("notification sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires stale notifications, then redelivers one batch of retry
// candidates. It returns how many candidates were attempted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.maxAge)

	expired, err := s.repo.ExpireStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.logger.Warn("expired undelivered notifications", "count", expired)
	}

	// settle keeps the sweep off notifications a worker is still delivering.
	candidates, err := s.repo.ListRetryCandidates(ctx, RetryQuery{
		CreatedAfter:  cutoff,
		UpdatedBefore: now.Add(-s.settle),
		MaxAttempts:   s.maxAttempts,
		Limit:         s.batchSize,
	})
	if err != nil {
		return 0, err
	}

	for i := range candidates {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		if err := s.dispatcher.Deliver(ctx, &candidates[i]); err != nil {
			s.logger.Error("retry delivery failed", "notification_id", candidates[i].ID, "error", err)
		}
	}
	return len(candidates), nil
}
