package proxy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically deactivates expired proxy configs. Orphaned rows left
// behind by cancelled requests are reclaimed here and nowhere else.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *logrus.Logger
}

func NewSweeper(logger *logrus.Logger, manager *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logEntry := s.logger.WithField("component", "sweeper")
	logEntry.WithField("interval", s.interval).Info("Starting proxy config sweeper")

	for {
		select {
		case <-ticker.C:
			if _, err := s.manager.SweepExpired(ctx); err != nil {
				logEntry.WithError(err).Error("Sweep failed")
			}
		case <-ctx.Done():
			logEntry.Info("Stopping proxy config sweeper")
			return
		}
	}
}
