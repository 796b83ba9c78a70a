package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrej220/probemanager/internal/api"
	"github.com/andrej220/probemanager/internal/app"
	"github.com/andrej220/probemanager/internal/fleet"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/schedule"
	"github.com/andrej220/probemanager/internal/serverutil"
	"github.com/andrej220/probemanager/pkg/config"
	"golang.org/x/sync/errgroup"
)

const serviceName = "probemanager"

func main() {
	configPath := flag.String("config", "conf.yaml", "configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the configuration")
	flag.Bool("debug", false, "enable debug logging")
	flag.String("log-format", "json", "json or console")
	flag.Parse()

	logger := lg.New(lg.NewConfigFromFlags(serviceName, os.Args[1:]))
	defer logger.Sync()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		lg.Exit(logger, "load configuration", lg.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = lg.Attach(ctx, logger)

	if err := run(ctx, cfg, logger); err != nil {
		lg.Exit(logger, "probemanager stopped", lg.Err(err))
	}
	logger.Info("probemanager stopped")
}

func run(ctx context.Context, cfg *config.AppConfig, logger lg.Logger) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	enq, release, err := a.Enqueuer(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	defer release()

	svc := fleet.New(a.Store, a.Registry, a.Exec, enq,
		fleet.WithLogger(logger.With(lg.String("component", "fleet"))),
		fleet.WithStatusWorkers(cfg.StatusWorkers),
		fleet.WithLocks(a.Locks),
	)
	router := api.New(svc, a.Tracker, enq, logger.With(lg.String("component", "api"))).Router()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serverutil.RunServer(gctx, router, cfg.Server, logger)
	})
	if cfg.Schedule {
		sched := schedule.New(a.Store, enq, logger.With(lg.String("component", "schedule")))
		g.Go(func() error { return sched.Run(gctx) })
		err := a.WatchProbes(gctx, func() {
			if _, err := sched.Sync(gctx); err != nil {
				logger.Error("schedule not synced", lg.Err(err))
			}
		})
		if err != nil {
			logger.Warn("probe changes not watched, schedule is loaded once", lg.Err(err))
		}
	}
	return g.Wait()
}
