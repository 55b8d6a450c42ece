package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor sweeps expired windows from s every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				logger.Debug("swept expired rate limit windows", zap.Int("removed", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}
