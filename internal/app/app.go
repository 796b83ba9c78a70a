// Package app assembles the components shared by the probemanager binaries
// from an AppConfig.
package app

import (
	"context"
	"fmt"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/families"
	"github.com/andrej220/probemanager/internal/jobs"
	"github.com/andrej220/probemanager/internal/keylock"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/metrics"
	"github.com/andrej220/probemanager/internal/probe"
	"github.com/andrej220/probemanager/internal/secret"
	"github.com/andrej220/probemanager/internal/store"
	"github.com/andrej220/probemanager/internal/workerpool"
	"github.com/andrej220/probemanager/pkg/config"
	"github.com/andrej220/probemanager/pkg/config/filestore"
	"go.mongodb.org/mongo-driver/mongo"
)

type App struct {
	Config   *config.AppConfig
	Logger   lg.Logger
	Store    store.ProbeStore
	Registry *probe.Registry
	Exec     executor.Executor
	Locks    *keylock.Locker
	Tracker  jobs.Tracker

	memory *store.Memory
	client *mongo.Client
}

// Build connects the configured backends. The caller must Close the App.
func Build(ctx context.Context, cfg *config.AppConfig, logger lg.Logger) (*App, error) {
	metrics.Init()
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: families.NewRegistry(),
		Locks:    keylock.New(),
	}

	exec, err := newExecutor(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Exec = exec

	switch cfg.Store.Backend {
	case "mongo":
		client, err := store.Connect(ctx, cfg.Store.Mongo, logger)
		if err != nil {
			return nil, err
		}
		a.client = client
		db := client.Database(cfg.Store.Mongo.DBName)
		st, err := store.NewMongo(ctx, db)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.Store, a.Tracker = st, jobs.NewMongoTracker(db)
	default:
		m := store.NewMemory()
		if cfg.Store.Inventory != "" {
			inv, err := store.LoadInventory(cfg.Store.Inventory)
			if err != nil {
				return nil, err
			}
			if m, err = store.NewMemoryFromInventory(inv); err != nil {
				return nil, fmt.Errorf("inventory %s: %w", cfg.Store.Inventory, err)
			}
		}
		a.memory, a.Store, a.Tracker = m, m, jobs.NewMemoryTracker()
	}
	return a, nil
}

func newExecutor(cfg *config.AppConfig, logger lg.Logger) (*executor.Remote, error) {
	dialer, err := executor.NewSSHDialer(executor.SSHConfig{
		KnownHostsFile:  cfg.Remote.KnownHostsFile,
		DialTimeout:     cfg.Remote.DialTimeout,
		BreakerFailures: cfg.Remote.BreakerFailures,
		BreakerTimeout:  cfg.Remote.BreakerTimeout,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Remote.KnownHostsFile == "" {
		logger.Warn("no known_hosts file configured, host keys are not verified")
	}
	opts := []executor.Option{executor.WithTimeout(cfg.Remote.Timeout), executor.WithLogger(logger)}
	if cfg.SecretKeyFile != "" {
		box, err := secret.FromFile(cfg.SecretKeyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, executor.WithSecrets(box))
	}
	return executor.NewRemote(dialer, opts...), nil
}

// Runner returns a job runner sharing the App's lock table.
func (a *App) Runner() *jobs.Runner {
	return jobs.NewRunner(a.Store, a.Registry, a.Exec, a.Locks, a.Tracker, jobs.RunnerConfig{
		MaxAttempts:  a.Config.Jobs.MaxAttempts,
		InitialDelay: a.Config.Jobs.InitialDelay,
	}, a.Logger.With(lg.String("component", "runner")))
}

// Enqueuer returns the configured job backend and a function releasing it.
// The pool backend runs jobs in process with base as their parent context.
func (a *App) Enqueuer(base context.Context) (jobs.Enqueuer, func(), error) {
	logger := a.Logger.With(lg.String("component", "jobs"))
	switch a.Config.Jobs.Backend {
	case "kafka":
		w := jobs.NewKafkaWriter(a.Config.Jobs.Kafka)
		return jobs.NewKafkaEnqueuer(w, a.Tracker, logger), func() {
			if err := w.Close(); err != nil {
				logger.Warn("close kafka writer", lg.Err(err))
			}
		}, nil
	case "pool", "":
		pool := workerpool.NewPool[jobs.Job](a.Config.Jobs.Workers, logger)
		return jobs.NewPoolEnqueuer(base, pool, a.Runner(), a.Tracker, logger), pool.Stop, nil
	default:
		return nil, nil, fmt.Errorf("%w: jobs backend %q", config.ErrInvalidConfig, a.Config.Jobs.Backend)
	}
}

// WatchProbes calls onChange after the probe set changed: the inventory file
// was edited (and reloaded) or the Mongo probes collection was written.
func (a *App) WatchProbes(ctx context.Context, onChange func()) error {
	var (
		src config.Config
		err error
	)
	switch {
	case a.client != nil:
		src, err = config.NewStore(config.MongoStore, &config.MongoConfig{
			DBName:   a.Config.Store.Mongo.DBName,
			CollName: store.ProbesCollection,
		}, a.client)
	case a.Config.Store.Inventory != "":
		src, err = config.NewStore(config.FileStore, &config.FileConfig{Path: a.Config.Store.Inventory}, nil)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if fs, ok := src.(*filestore.FileStore); ok {
		fs.OnError = func(err error) { a.Logger.Warn("inventory watch", lg.Err(err)) }
	}
	return src.Watch(ctx, func() {
		if a.memory != nil {
			var inv store.Inventory
			if err := src.Load(&inv); err != nil {
				a.Logger.Error("inventory not reloaded", lg.Err(err))
				return
			}
			if err := a.memory.Reload(&inv); err != nil {
				a.Logger.Error("inventory rejected", lg.Err(err))
				return
			}
			a.Logger.Info("inventory reloaded", lg.Int("probes", len(inv.Probes)))
		}
		onChange()
	})
}

func (a *App) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
