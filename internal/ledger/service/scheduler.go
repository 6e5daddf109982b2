package service

import (
	"context"
	"time"

	"github.com/agriflow/agriflow-backend/pkg/logger"
)

// SweepScheduler runs the periodic maintenance sweeps: expiring overdue
// reservations and archiving delivered batches past their dwell time. Both
// sweeps are idempotent, so overlapping runs across multiple instances are
// wasteful but never incorrect.
type SweepScheduler struct {
	reservations *ReservationService
	lifecycle    *LifecycleService
	interval     time.Duration
	logger       *logger.Logger
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewSweepScheduler creates a new sweep scheduler
func NewSweepScheduler(
	reservations *ReservationService,
	lifecycle *LifecycleService,
	interval time.Duration,
	log *logger.Logger,
) *SweepScheduler {
	return &SweepScheduler{
		reservations: reservations,
		lifecycle:    lifecycle,
		interval:     interval,
		logger:       log.WithComponent("sweep-scheduler"),
	}
}

// Start begins the sweep loop in a background goroutine. One sweep cycle runs
// immediately, then on every tick until Stop is called or ctx is cancelled.
func (s *SweepScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info().Dur("interval", s.interval).Msg("sweep scheduler started")

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runSweepCycle(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("sweep scheduler stopped")
				return
			case <-ticker.C:
				s.runSweepCycle(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight cycle to finish.
func (s *SweepScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *SweepScheduler) runSweepCycle(ctx context.Context) {
	expired, err := s.reservations.ExpireOverdue(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reservation expiry sweep failed")
	} else if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("expired overdue reservations")
	}

	archived, err := s.lifecycle.ArchiveDelivered(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("batch archival sweep failed")
	} else if archived > 0 {
		s.logger.Info().Int("archived", archived).Msg("archived delivered batches")
	}
}
