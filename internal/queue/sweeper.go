package queue

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/common"
)

// Sweeper periodically reclaims in-flight tasks from workers that
// stopped heartbeating and expires stale confirmation entries.
type Sweeper struct {
	state    *State
	interval time.Duration
	logger   arbor.ILogger
}

func NewSweeper(state *State, interval time.Duration, logger arbor.ILogger) *Sweeper {
	return &Sweeper{state: state, interval: interval, logger: logger}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	common.SafeGoWithContext(ctx, s.logger, "lease-sweeper", func(ctx context.Context) {
		s.logger.Info().Str("interval", s.interval.String()).Msg("Lease sweeper started")
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("Lease sweeper stopped")
				return
			case <-ticker.C:
				s.state.ExpireLeases()
				if expired := s.state.Confirmations.ExpireStale(); expired > 0 {
					s.logger.Info().Int("count", expired).Msg("Expired confirmations")
				}
			}
		}
	})
}
