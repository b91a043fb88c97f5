// Package jobs runs background batch work on a cron schedule. The only job
// today is the nightly adherence rollup, which recomputes the previous UTC
// day for every user with schedule items.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/mindwell/go-scheduling-backend/internal/services"
)

// rollupTimeout bounds a single nightly batch run.
const rollupTimeout = 10 * time.Minute

// RollupJob schedules nightly adherence rollups via robfig/cron.
type RollupJob struct {
	Analytics *services.AnalyticsService
	c         *cron.Cron
}

// NewRollupJob builds a job around the given analytics service.
func NewRollupJob(analytics *services.AnalyticsService) *RollupJob {
	return &RollupJob{Analytics: analytics}
}

// Start registers the job under the given cron spec (standard 5-field) and
// starts the scheduler. An empty spec disables the job.
func (j *RollupJob) Start(spec string) error {
	if spec == "" {
		log.Info().Msg("rollup job disabled (empty cron spec)")
		return nil
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, j.run); err != nil {
		return err
	}
	c.Start()
	j.c = c
	log.Info().Str("spec", spec).Msg("rollup job scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (j *RollupJob) Stop() {
	if j.c != nil {
		<-j.c.Stop().Done()
	}
}

// run recomputes rollups for the previous UTC day across all users.
func (j *RollupJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), rollupTimeout)
	defer cancel()

	day := time.Now().UTC().AddDate(0, 0, -1)
	start := time.Now()
	ok, failed, err := j.Analytics.RollupAll(ctx, day)
	if err != nil {
		log.Error().Err(err).Msg("nightly rollup aborted")
		return
	}
	log.Info().
		Str("day", day.Format("2006-01-02")).
		Int("ok", ok).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("nightly rollup finished")
}
