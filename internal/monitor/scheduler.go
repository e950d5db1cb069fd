package monitor

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// syncScheduler runs the periodic account manager sync.
type syncScheduler struct {
	scheduler gocron.Scheduler
}

func newSyncScheduler(interval time.Duration, run func()) (*syncScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(run),
		gocron.WithName("acct-mgr-sync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule account manager sync: %w", err)
	}
	s.Start()
	return &syncScheduler{scheduler: s}, nil
}

func (s *syncScheduler) Stop() error {
	return s.scheduler.Shutdown()
}
