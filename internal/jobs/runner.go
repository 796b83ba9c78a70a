package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/keylock"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/metrics"
	"github.com/andrej220/probemanager/internal/probe"
	"github.com/cenkalti/backoff/v4"
)

var ErrProbeNotFound = errors.New("probe not found")

// ProbeSource is the part of the store a runner needs.
type ProbeSource interface {
	GetByName(ctx context.Context, name string) (*probe.Record, bool, error)
	Hydrate(ctx context.Context, rec *probe.Record) error
	UpdateRulesDate(ctx context.Context, name string, at time.Time) error
}

type RunnerConfig struct {
	// MaxAttempts bounds executions per job. One means no retry.
	MaxAttempts  uint64        `yaml:"maxAttempts" json:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay" json:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay" json:"maxDelay"`
}

// Runner executes jobs under the per-probe lock and records their progress.
type Runner struct {
	probes   ProbeSource
	registry *probe.Registry
	exec     executor.Executor
	locks    *keylock.Locker
	tracker  Tracker
	cfg      RunnerConfig
	logger   lg.Logger
	now      func() time.Time
}

func NewRunner(probes ProbeSource, registry *probe.Registry, exec executor.Executor, locks *keylock.Locker,
	tracker Tracker, cfg RunnerConfig, logger lg.Logger) *Runner {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if logger == nil {
		logger = lg.Discard
	}
	return &Runner{
		probes: probes, registry: registry, exec: exec, locks: locks,
		tracker: tracker, cfg: cfg, logger: logger, now: time.Now,
	}
}

// Run executes job and returns an error if it did not succeed. It never
// panics.
func (r *Runner) Run(ctx context.Context, job Job) (err error) {
	logger := r.logger.With(lg.String("job", string(job.Name)), lg.String("probe", job.Probe), lg.String("id", job.ID.String()))
	rec := pendingRecord(job)
	started := r.now().UTC()
	rec.Status, rec.StartedAt = Running, &started
	r.save(ctx, rec, logger)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
			logger.Error("job panicked", lg.Any("panic", p))
			rec.Errors = err.Error()
		}
		finished := r.now().UTC()
		rec.FinishedAt = &finished
		rec.Status = Success
		if err != nil {
			rec.Status = Failed
			if rec.Errors == "" {
				rec.Errors = err.Error()
			}
		}
		metrics.Jobs.WithLabelValues(string(job.Name), string(rec.Status)).Inc()
		r.save(context.WithoutCancel(ctx), rec, logger)
		logger.Info("job finished", lg.String("status", string(rec.Status)), lg.Int("attempts", rec.Attempts))
	}()

	lc, err := r.resolve(ctx, job)
	if err != nil {
		return err
	}
	unlock, err := r.locks.Lock(ctx, job.Probe)
	if err != nil {
		return fmt.Errorf("wait for probe lock: %w", err)
	}
	defer unlock()

	var res executor.Result
	attempt := func() error {
		rec.Attempts++
		res = invoke(ctx, lc, job.Name)
		if !res.Status {
			logger.Warn("job attempt failed", lg.Int("attempt", rec.Attempts), lg.String("errors", res.ErrorText()))
			return errors.New(res.ErrorText())
		}
		return nil
	}
	err = backoff.Retry(attempt, r.policy(ctx))
	rec.Message = res.Message
	if err != nil {
		rec.Errors = res.ErrorText()
		return fmt.Errorf("%s %s: %w", job.Name, job.Probe, err)
	}
	if job.Name == DeployRules {
		if err := r.probes.UpdateRulesDate(ctx, job.Probe, r.now()); err != nil {
			logger.Warn("rules deployed but date not recorded", lg.Err(err))
		}
	}
	return nil
}

func (r *Runner) resolve(ctx context.Context, job Job) (probe.Lifecycle, error) {
	if !job.Name.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnknownJob, job.Name)
	}
	p, found, err := r.probes.GetByName(ctx, job.Probe)
	if err != nil {
		return nil, fmt.Errorf("load probe %s: %w", job.Probe, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrProbeNotFound, job.Probe)
	}
	if err := r.probes.Hydrate(ctx, p); err != nil {
		return nil, fmt.Errorf("load references of %s: %w", job.Probe, err)
	}
	return r.registry.Build(p, r.exec)
}

func (r *Runner) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialDelay
	b.MaxInterval = r.cfg.MaxDelay
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxAttempts-1), ctx)
}

func (r *Runner) save(ctx context.Context, rec Record, logger lg.Logger) {
	if err := r.tracker.Save(ctx, rec); err != nil {
		logger.Warn("failed to record job state", lg.String("status", string(rec.Status)), lg.Err(err))
	}
}

func invoke(ctx context.Context, lc probe.Lifecycle, name Name) executor.Result {
	switch name {
	case Install:
		return lc.Install(ctx)
	case Update:
		return lc.Update(ctx)
	default:
		return lc.DeployRules(ctx)
	}
}
