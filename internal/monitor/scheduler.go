package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvase/sinfarwatch/internal/feed"
)

// Scheduler drives the monitor's update cycles at a fixed interval.
// The next cycle is armed only after the previous one completes, so
// cycles never overlap even when a fetch stalls past the interval.
type Scheduler struct {
	monitor  *Monitor
	feed     *feed.Client
	log      logrus.FieldLogger
	interval time.Duration

	keepAliveURL   string
	keepAliveEvery time.Duration

	done chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithKeepAlive enables the self-ping that keeps the hosting platform
// from idling the process.
func WithKeepAlive(url string, every time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.keepAliveURL = url
		s.keepAliveEvery = every
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l logrus.FieldLogger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler creates a scheduler polling at the given interval.
func NewScheduler(m *Monitor, fd *feed.Client, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		monitor:  m,
		feed:     fd,
		log:      logrus.StandardLogger(),
		interval: interval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Done is closed once Run has returned. A closed channel guarantees
// no cycle is in flight, so the shutdown drain can proceed without a
// trailing cycle re-opening sessions behind it.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run polls until ctx is cancelled. It blocks; callers run it on its
// own goroutine. The first cycle runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	if s.keepAliveURL != "" {
		go s.keepAlive(ctx)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := s.monitor.Update(ctx); err != nil {
			s.log.WithError(err).Error("poll cycle failed")
		}

		// Rearm only after the cycle completed.
		timer.Reset(s.interval)
	}
}

func (s *Scheduler) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(s.keepAliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.feed.Ping(ctx, s.keepAliveURL); err != nil {
				s.log.WithError(err).Warn("keep-alive ping failed")
			}
		}
	}
}
