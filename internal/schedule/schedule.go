// Package schedule enqueues rules deployment for probes that carry an
// enabled crontab.
package schedule

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrej220/probemanager/internal/jobs"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/probe"
	"github.com/robfig/cron/v3"
)

// Source lists the probes to schedule.
type Source interface {
	GetAll(ctx context.Context) ([]*probe.Record, error)
}

type Scheduler struct {
	src    Source
	jobs   jobs.Enqueuer
	logger lg.Logger
	parser cron.Parser

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	specs   map[string]string
}

func New(src Source, enq jobs.Enqueuer, logger lg.Logger) *Scheduler {
	if logger == nil {
		logger = lg.Discard
	}
	return &Scheduler{
		src:     src,
		jobs:    enq,
		logger:  logger,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
	}
}

// Sync reconciles the entries with the store. Probes whose crontab is
// invalid are logged and skipped. It returns the number of entries.
func (s *Scheduler) Sync(ctx context.Context) (int, error) {
	all, err := s.src.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list probes: %w", err)
	}
	want := make(map[string]cron.Schedule)
	specs := make(map[string]string)
	for _, rec := range all {
		if !rec.ScheduledEnabled || rec.ScheduledCrontab == "" {
			continue
		}
		sched, err := s.parser.Parse(rec.ScheduledCrontab)
		if err != nil {
			s.logger.Warn("invalid crontab, probe not scheduled",
				lg.String("probe", rec.Name), lg.String("crontab", rec.ScheduledCrontab), lg.Err(err))
			continue
		}
		want[rec.Name] = sched
		specs[rec.Name] = rec.ScheduledCrontab
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.entries {
		if spec, ok := specs[name]; ok && spec == s.specs[name] {
			continue
		}
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.specs, name)
	}
	for name, sched := range want {
		if _, ok := s.entries[name]; ok {
			continue
		}
		s.entries[name] = s.cron.Schedule(sched, s.trigger(name))
		s.specs[name] = specs[name]
		s.logger.Info("probe scheduled", lg.String("probe", name), lg.String("crontab", specs[name]))
	}
	return len(s.entries), nil
}

func (s *Scheduler) trigger(name string) cron.Job {
	return cron.FuncJob(func() {
		h, err := s.jobs.Enqueue(context.Background(), jobs.DeployRules, name)
		if err != nil {
			s.logger.Error("scheduled rules deployment not enqueued", lg.String("probe", name), lg.Err(err))
			return
		}
		s.logger.Info("scheduled rules deployment enqueued", lg.String("probe", name), lg.String("job_id", h.ID.String()))
	})
}

// Scheduled returns the crontab of every scheduled probe, by name.
func (s *Scheduler) Scheduled() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.specs))
	for k, v := range s.specs {
		out[k] = v
	}
	return out
}

// Run syncs, starts the cron loop and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Sync(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.cron.Start()
	s.mu.Unlock()

	<-ctx.Done()
	s.mu.Lock()
	stopped := s.cron.Stop()
	s.mu.Unlock()
	<-stopped.Done()
	return nil
}
