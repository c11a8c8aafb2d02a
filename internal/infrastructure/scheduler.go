package infrastructure

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// DailyScheduler runs one task every day at a fixed wall-clock time.
type DailyScheduler struct {
	sched  gocron.Scheduler
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewDailyScheduler schedules task at hour:minute in loc. The task's context
// is cancelled by Shutdown.
func NewDailyScheduler(loc *time.Location, hour, minute uint, name string, task func(ctx context.Context), logger *zap.Logger) (*DailyScheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(func() {
			logger.Info("scheduled job starting", zap.String("job", name))
			task(ctx)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, err
	}
	return &DailyScheduler{sched: sched, logger: logger, cancel: cancel}, nil
}

func (s *DailyScheduler) Start() {
	s.sched.Start()
}

// Shutdown cancels a running task and waits for it to return.
func (s *DailyScheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}
