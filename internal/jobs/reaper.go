package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// IdleReaper evicts participants whose connections went quiet
type IdleReaper interface {
	ReapIdle(ctx context.Context) (int, error)
}

// ReaperJob runs the idle reaper on a cron schedule
type ReaperJob struct {
	reaper   IdleReaper
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewReaperJob creates a reaper job. Each run is bounded by timeout.
func NewReaperJob(reaper IdleReaper, schedule string, timeout time.Duration) *ReaperJob {
	return &ReaperJob{
		reaper:   reaper,
		schedule: schedule,
		timeout:  timeout,
		// Overlapping runs would race on the same sessions
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the job. An empty schedule disables it.
func (j *ReaperJob) Start() error {
	if j.schedule == "" {
		log.Info().Msg("idle reaper disabled")
		return nil
	}

	if _, err := j.cron.AddFunc(j.schedule, j.run); err != nil {
		return fmt.Errorf("failed to schedule idle reaper: %w", err)
	}

	j.cron.Start()
	log.Info().Str("schedule", j.schedule).Msg("idle reaper started")
	return nil
}

// Stop halts scheduling and waits for a running pass to finish
func (j *ReaperJob) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn().Msg("idle reaper did not stop in time")
	}
}

func (j *ReaperJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("idle reaper pass failed")
	}
}

// RunOnce performs a single reaper pass
func (j *ReaperJob) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	evicted, err := j.reaper.ReapIdle(ctx)
	if err != nil {
		return evicted, err
	}
	if evicted > 0 {
		log.Info().Int("evicted", evicted).Dur("duration", time.Since(start)).Msg("idle reaper pass complete")
	}
	return evicted, nil
}
