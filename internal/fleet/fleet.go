// Package fleet is the entry point for every probe operation. Synchronous
// operations run under a per-probe lock, and every outcome, panics included,
// becomes a Report of user visible messages.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/probemanager/internal/deploy"
	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/jobs"
	"github.com/andrej220/probemanager/internal/keylock"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/metrics"
	"github.com/andrej220/probemanager/internal/probe"
	"github.com/andrej220/probemanager/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when the id matches no record or the record's
// type is not registered.
var ErrNotFound = errors.New("probe not found")

type Message = deploy.Message

// Report is the result of one operation on one probe.
type Report struct {
	Probe     string           `json:"probe"`
	Operation string           `json:"operation"`
	Status    bool             `json:"status"`
	Messages  []Message        `json:"messages"`
	Result    *executor.Result `json:"result,omitempty"`
	Outcome   *deploy.Outcome  `json:"outcome,omitempty"`
	Job       *jobs.Handle     `json:"job,omitempty"`
	Uptime    string           `json:"uptime,omitempty"`
}

func (r *Report) ok(text string)     { r.Messages = append(r.Messages, Message{Level: deploy.LevelSuccess, Text: text}) }
func (r *Report) failed(text string) { r.Messages = append(r.Messages, Message{Level: deploy.LevelError, Text: text}) }

type Service struct {
	store    store.ProbeStore
	registry *probe.Registry
	exec     executor.Executor
	workflow *deploy.Workflow
	jobs     jobs.Enqueuer
	locks    *keylock.Locker
	logger   lg.Logger
	workers  int
}

type Option func(*Service)

func WithLogger(l lg.Logger) Option { return func(s *Service) { s.logger = l } }

// WithStatusWorkers bounds the concurrency of StatusAll.
func WithStatusWorkers(n int) Option { return func(s *Service) { s.workers = n } }

// WithLocks shares a lock table, e.g. with an in-process job runner.
func WithLocks(l *keylock.Locker) Option { return func(s *Service) { s.locks = l } }

func New(st store.ProbeStore, reg *probe.Registry, exec executor.Executor, enq jobs.Enqueuer, opts ...Option) *Service {
	s := &Service{
		store: st, registry: reg, exec: exec, jobs: enq,
		locks: keylock.New(), logger: lg.Discard, workers: 8,
	}
	for _, o := range opts {
		o(s)
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	s.workflow = deploy.New(s.logger)
	return s
}

// Get returns the base record.
func (s *Service) Get(ctx context.Context, id string) (*probe.Record, error) {
	rec, found, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context) ([]*probe.Record, error) {
	return s.store.GetAll(ctx)
}

// resolve loads id, its references and its family.
func (s *Service) resolve(ctx context.Context, id string) (probe.Lifecycle, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Hydrate(ctx, rec); err != nil {
		return nil, fmt.Errorf("load references of %s: %w", rec.Name, err)
	}
	l, err := s.registry.Build(rec, s.exec)
	if errors.Is(err, probe.ErrUnknownProbeType) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return l, err
}

// call runs fn on the resolved probe under its lock. A panic in fn becomes
// an "Error during the <op> : <fault>" message.
func (s *Service) call(ctx context.Context, id, op string, fn func(probe.Lifecycle, *Report)) (rep Report, err error) {
	l, err := s.resolve(ctx, id)
	if err != nil {
		return Report{}, err
	}
	rec := l.Record()
	rep = Report{Probe: rec.Name, Operation: op}
	logger := s.logger.With(lg.String("probe", rec.Name), lg.String("operation", op))

	unlock, err := s.locks.Lock(ctx, rec.Name)
	if err != nil {
		return Report{}, fmt.Errorf("wait for probe %s: %w", rec.Name, err)
	}
	defer unlock()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("operation panicked", lg.Any("panic", p))
			rep.Status = false
			rep.failed(fmt.Sprintf("Error during the %s : %v", op, p))
		}
		metrics.ProbeOperations.WithLabelValues(rec.Key(), op, metrics.StatusLabel(rep.Status)).Inc()
	}()

	start := time.Now()
	fn(l, &rep)
	logger.Info("operation done", lg.Bool("status", rep.Status), lg.Duration("took", time.Since(start)))
	return rep, nil
}

func (s *Service) lifecycle(ctx context.Context, id, op, done string, fn func(probe.Lifecycle) executor.Result) (Report, error) {
	return s.call(ctx, id, op, func(l probe.Lifecycle, rep *Report) {
		res := fn(l)
		rep.Result, rep.Status = &res, res.Status
		if res.Status {
			rep.ok(done)
			return
		}
		rep.failed(fmt.Sprintf("Error during the %s: %s", op, res.ErrorText()))
	})
}

func (s *Service) Start(ctx context.Context, id string) (Report, error) {
	return s.lifecycle(ctx, id, "start", "Probe started successfully", func(l probe.Lifecycle) executor.Result { return l.Start(ctx) })
}

func (s *Service) Stop(ctx context.Context, id string) (Report, error) {
	return s.lifecycle(ctx, id, "stop", "Probe stopped successfully", func(l probe.Lifecycle) executor.Result { return l.Stop(ctx) })
}

func (s *Service) Restart(ctx context.Context, id string) (Report, error) {
	return s.lifecycle(ctx, id, "restart", "Probe restarted successfully", func(l probe.Lifecycle) executor.Result { return l.Restart(ctx) })
}

func (s *Service) Reload(ctx context.Context, id string) (Report, error) {
	return s.lifecycle(ctx, id, "reload", "Probe reloaded successfully", func(l probe.Lifecycle) executor.Result { return l.Reload(ctx) })
}

func (s *Service) Test(ctx context.Context, id string) (Report, error) {
	return s.lifecycle(ctx, id, "test", "Connection OK", func(l probe.Lifecycle) executor.Result { return l.Test(ctx) })
}

func (s *Service) TestRoot(ctx context.Context, id string) (Report, error) {
	return s.lifecycle(ctx, id, "test root", "Connection with elevated privileges OK", func(l probe.Lifecycle) executor.Result { return l.TestRoot(ctx) })
}

func (s *Service) Status(ctx context.Context, id string) (Report, error) {
	return s.call(ctx, id, "status", func(l probe.Lifecycle, rep *Report) {
		res := l.Status(ctx)
		rep.Result, rep.Status = &res, res.Status
		if res.Status {
			rep.ok("OK probe " + rep.Probe + " get status successfully")
			return
		}
		rep.failed("Error during the status")
	})
}

func (s *Service) Uptime(ctx context.Context, id string) (Report, error) {
	return s.call(ctx, id, "uptime", func(l probe.Lifecycle, rep *Report) {
		rep.Uptime = l.Uptime(ctx)
		rep.Status = rep.Uptime != probe.UptimeFailed
		if rep.Status {
			rep.ok(rep.Uptime)
			return
		}
		rep.failed(rep.Uptime)
	})
}

// DeployConf runs the secure deployment workflow.
func (s *Service) DeployConf(ctx context.Context, id string) (Report, error) {
	return s.call(ctx, id, "configuration deployment", func(l probe.Lifecycle, rep *Report) {
		o := s.workflow.Run(ctx, l)
		rep.Outcome, rep.Status = &o, o.Status
		rep.Messages = append(rep.Messages, o.Messages...)
	})
}

func (s *Service) Install(ctx context.Context, id string) (Report, error) {
	return s.enqueue(ctx, id, jobs.Install, "install", "Install probe launched with succeed.")
}

func (s *Service) Update(ctx context.Context, id string) (Report, error) {
	return s.enqueue(ctx, id, jobs.Update, "update", "Update probe launched with succeed.")
}

func (s *Service) DeployRules(ctx context.Context, id string) (Report, error) {
	return s.enqueue(ctx, id, jobs.DeployRules, "rules deployment", "Deployed rules launched with succeed.")
}

// enqueue submits job by probe name. It does not take the probe lock: the
// job runner does when the job starts. Enqueue failures are returned with
// the report so callers can tell them from execution failures.
func (s *Service) enqueue(ctx context.Context, id string, job jobs.Name, op, done string) (Report, error) {
	l, err := s.resolve(ctx, id)
	if err != nil {
		return Report{}, err
	}
	name := l.Record().Name
	rep := Report{Probe: name, Operation: op}
	h, err := s.jobs.Enqueue(ctx, job, name)
	if err != nil {
		s.logger.Error("enqueue failed", lg.String("probe", name), lg.String("job", string(job)), lg.Err(err))
		rep.failed(fmt.Sprintf("Error during the %s : %v", op, err))
		return rep, err
	}
	rep.Status, rep.Job = true, &h
	rep.ok(done)
	return rep, nil
}

// StatusAll queries every probe. A probe that cannot be resolved yields a
// failed report, never an error.
func (s *Service) StatusAll(ctx context.Context) ([]Report, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, rec := range all {
		g.Go(func() error {
			rep, err := s.Status(gctx, rec.ID)
			if err != nil {
				rep = Report{Probe: rec.Name, Operation: "status"}
				rep.failed("Error during the status : " + err.Error())
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
