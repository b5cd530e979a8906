package sched

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/infra/metrics"
	red "github.com/Xybronix/ecomobile/internal/infra/redis"
	"github.com/Xybronix/ecomobile/internal/usecase"
)

// SweepRunner drives the periodic eligibility sweeps on cron schedules. Each
// run takes a redis lock first so that in a multi-instance deployment only
// one node executes a given sweep.
type SweepRunner struct {
	grants  *usecase.GrantUseCase
	locker  red.Locker
	cron    *cron.Cron
	lockTTL time.Duration
	log     *zerolog.Logger
}

func NewSweepRunner(grants *usecase.GrantUseCase, locker red.Locker, logger *zerolog.Logger) *SweepRunner {
	l := logger.With().Str("component", "SweepRunner").Logger()
	return &SweepRunner{
		grants:  grants,
		locker:  locker,
		cron:    cron.New(),
		lockTTL: 10 * time.Minute,
		log:     &l,
	}
}

// Schedule registers both sweeps. Returns the first invalid cron expression.
func (r *SweepRunner) Schedule(registrationAgeCron, spendCron string) error {
	if _, err := r.cron.AddFunc(registrationAgeCron, func() {
		r.run("registration_age", r.grants.SweepRegistrationAge)
	}); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(spendCron, func() {
		r.run("spend", r.grants.SweepSpend)
	}); err != nil {
		return err
	}
	return nil
}

func (r *SweepRunner) Start() { r.cron.Start() }

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (r *SweepRunner) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("sweep runner stopped")
}

func (r *SweepRunner) run(name string, sweep func(context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	lockKey := "sweep:" + name
	token, err := r.locker.TryLock(ctx, lockKey, r.lockTTL)
	if err != nil {
		if err == domain.ErrLockNotAcquired {
			r.log.Debug().Str("sweep", name).Msg("sweep held by another instance")
			metrics.IncSweepRun(name, "skipped")
			return
		}
		r.log.Error().Err(err).Str("sweep", name).Msg("sweep lock error")
		metrics.IncSweepRun(name, "error")
		return
	}
	defer func() {
		if err := r.locker.Unlock(ctx, lockKey, token); err != nil {
			r.log.Warn().Err(err).Str("sweep", name).Msg("sweep unlock failed")
		}
	}()

	granted, err := sweep(ctx)
	if err != nil {
		r.log.Error().Err(err).Str("sweep", name).Int("granted", granted).Msg("sweep failed")
		metrics.IncSweepRun(name, "error")
		return
	}
	metrics.IncSweepRun(name, "ok")
	if granted > 0 {
		r.log.Info().Str("sweep", name).Int("granted", granted).Msg("sweep granted free days")
	}
}
