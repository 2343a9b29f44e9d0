// Package schedule runs the periodic jobs: releasing expired token locks,
// reconciling settlement legs and snapshotting the capital pool.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"agrivest/internal/business/capitalpool"
	"agrivest/internal/business/distribution"
	"agrivest/internal/business/holding"
	"agrivest/pkg/config"
	"agrivest/pkg/metrics"
)

// jobTimeout bounds a single run so a stuck job cannot pile up behind itself.
const jobTimeout = 5 * time.Minute

type Jobs struct {
	Holdings       *holding.Registry
	Engine         *distribution.Engine
	Pool           *capitalpool.Ledger
	Clock          clockwork.Clock
	ReconcileBatch int
}

// SweepUnlocks releases every time lock that has expired.
func (j *Jobs) SweepUnlocks(ctx context.Context) error {
	released, err := j.Holdings.SweepUnlocks(ctx, j.Clock.Now().UTC())
	metrics.RecordUnlockSweep(released, err)
	if err != nil {
		return fmt.Errorf("sweep unlocks: %w", err)
	}
	if released > 0 {
		log.WithField("released", released).Info("> 解锁到期代币完成")
	}
	return nil
}

// Reconcile runs one settlement reconciliation pass.
func (j *Jobs) Reconcile(ctx context.Context) (*distribution.ReconcileReport, error) {
	report, err := j.Engine.Reconcile(ctx, j.ReconcileBatch)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return report, nil
}

// SnapshotPool records the capital pool balances.
func (j *Jobs) SnapshotPool(ctx context.Context) error {
	snap, err := j.Pool.TakeSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot pool: %w", err)
	}
	log.WithFields(log.Fields{
		"snapshot_id":       snap.ID,
		"available_balance": snap.AvailableBalance.String(),
	}).Info("> 资金池快照完成")
	return nil
}

// New registers the jobs on a cron with seconds precision. Runs of the same
// job never overlap.
func New(j *Jobs, specs config.ScheduleSettings) (*cron.Cron, error) {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	entries := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"unlock_sweep", specs.UnlockSweep, j.SweepUnlocks},
		{"reconcile", specs.Reconcile, func(ctx context.Context) error {
			_, err := j.Reconcile(ctx)
			return err
		}},
		{"pool_snapshot", specs.PoolSnapshot, j.SnapshotPool},
	}
	for _, e := range entries {
		if e.spec == "" {
			log.WithField("job", e.name).Warn("> 定时任务未配置，跳过")
			continue
		}
		run := e.run
		name := e.name
		_, err := c.AddFunc(e.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := run(ctx); err != nil {
				log.WithError(err).WithField("job", name).Error("> 定时任务执行失败")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("add job %s (%q): %w", e.name, e.spec, err)
		}
		log.WithFields(log.Fields{"job": e.name, "spec": e.spec}).Info("> 定时任务已注册")
	}
	return c, nil
}
