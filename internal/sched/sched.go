// Package sched runs the periodic maintenance jobs: snapshot autosave
// and the stale-duel sweep.
package sched

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"log/slog"

	"github.com/m3rciful/edubot/core/logger"
	"github.com/m3rciful/edubot/internal/arena"
	"github.com/m3rciful/edubot/internal/snapshot"
)

// Options configures the job intervals. Zero values take the defaults.
type Options struct {
	AutosaveEvery  time.Duration
	SweepEvery     time.Duration
	DuelStaleAfter time.Duration
}

const (
	defaultAutosaveEvery  = time.Hour
	defaultSweepEvery     = 30 * time.Minute
	defaultDuelStaleAfter = 30 * time.Minute
)

// Jobs owns the running scheduler.
type Jobs struct {
	sched gocron.Scheduler
}

// Start wires and starts the periodic jobs. The returned Jobs must be
// stopped on shutdown.
func Start(committer snapshot.Committer, duels *arena.Registry, opts Options) (*Jobs, error) {
	if opts.AutosaveEvery <= 0 {
		opts.AutosaveEvery = defaultAutosaveEvery
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = defaultSweepEvery
	}
	if opts.DuelStaleAfter <= 0 {
		opts.DuelStaleAfter = defaultDuelStaleAfter
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if committer != nil {
		_, err = s.NewJob(
			gocron.DurationJob(opts.AutosaveEvery),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := committer.Commit(ctx); err != nil {
					logger.SCHED.Error("autosave failed",
						slog.String("event", "sched.autosave"),
						slog.String("err", err.Error()),
					)
					return
				}
				logger.SCHED.Debug("autosave done",
					slog.String("event", "sched.autosave"),
				)
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	if duels != nil {
		_, err = s.NewJob(
			gocron.DurationJob(opts.SweepEvery),
			gocron.NewTask(func() {
				n := duels.SweepStale(opts.DuelStaleAfter)
				if n > 0 {
					logger.SCHED.Info("stale duels swept",
						slog.String("event", "sched.duel_sweep"),
						slog.Int("count", n),
					)
				}
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	s.Start()
	logger.SCHED.Info("scheduler started",
		slog.String("event", "sched.start"),
		slog.Duration("autosave_every", opts.AutosaveEvery),
		slog.Duration("sweep_every", opts.SweepEvery),
	)
	return &Jobs{sched: s}, nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (j *Jobs) Stop() error {
	if j == nil || j.sched == nil {
		return nil
	}
	return j.sched.Shutdown()
}
