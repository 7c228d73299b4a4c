package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// jobTimeout bounds one scheduled run.
const jobTimeout = 10 * time.Minute

type scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func newScheduler(log zerolog.Logger) *scheduler {
	return &scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// addJob registers fn on a standard five-field cron schedule.
func (s *scheduler) addJob(schedule, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		s.log.Debug().Str("job", name).Msg("Running job")
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("Job failed")
			return
		}
		s.log.Debug().Str("job", name).Msg("Job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", name).Msg("Job registered")
	return nil
}

func (s *scheduler) start() {
	s.cron.Start()
}

func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
}
