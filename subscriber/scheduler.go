package subscriber

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Seconds are optional so Quartz style six field expressions keep working
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a poll cadence such as "*/30 * * * * *" or "@every 1m"
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule, nil
}

// Scheduler delivers cron ticks to a Coordinator. Every tick runs on its own
// goroutine, overlap is handled by the coordinator.
type Scheduler struct {
	spec        string
	schedule    cron.Schedule
	cron        *cron.Cron
	coordinator *Coordinator
}

// NewScheduler parses spec and prepares a scheduler for coordinator
func NewScheduler(spec string, coordinator *Coordinator) (*Scheduler, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		spec:        spec,
		schedule:    schedule,
		coordinator: coordinator,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cron.PrintfLogger(log.StandardLogger())),
		),
	}, nil
}

// Start begins ticking. Polls run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.coordinator.Tick(ctx); err != nil {
			if errors.Is(err, ErrCursorWrite) {
				log.WithFields(log.Fields{
					"error": err,
				}).Error("Poll failed")
				return
			}
			log.WithFields(log.Fields{
				"error": err,
			}).Debug("Poll aborted")
		}
	}))

	log.WithFields(log.Fields{
		"cron": s.spec,
	}).Info("Starting poll scheduler")

	s.cron.Start()
}

// Stop stops ticking. The returned context is done once a running poll finished.
func (s *Scheduler) Stop() context.Context {
	log.Info("Stopping poll scheduler")
	return s.cron.Stop()
}
