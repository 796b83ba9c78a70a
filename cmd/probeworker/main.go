package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrej220/probemanager/internal/app"
	"github.com/andrej220/probemanager/internal/jobs"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/workerpool"
	"github.com/andrej220/probemanager/pkg/config"
	"github.com/andrej220/probemanager/pkg/consumer"
)

const serviceName = "probeworker"

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

	if err := run(ctx, cfg, logger); err != nil {
		lg.Exit(logger, "probeworker stopped", lg.Err(err))
	}
	logger.Info("probeworker stopped")
}

// run consumes jobs until ctx is done, then waits for the running ones.
func run(ctx context.Context, cfg *config.AppConfig, logger lg.Logger) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	runner := a.Runner()
	pool := workerpool.NewPool[jobs.Job](cfg.Jobs.Workers, logger)
	defer pool.Stop()

	cons := consumer.NewConsumer[jobs.Job](consumer.Config{
		Brokers: cfg.Jobs.Kafka.Brokers,
		GroupID: cfg.Jobs.Kafka.GroupID,
		Topic:   cfg.Jobs.Kafka.Topic,
	})
	defer cons.Close()

	logger.Info("consuming jobs", lg.String("topic", cfg.Jobs.Kafka.Topic), lg.Int("workers", cfg.Jobs.Workers))
	jobCtx := context.WithoutCancel(ctx)
	return cons.Run(ctx, func(_ context.Context, job jobs.Job) {
		logger.Debug("job received", lg.String("job", string(job.Name)), lg.String("probe", job.Probe))
		err := pool.Submit(ctx, workerpool.Job[jobs.Job]{Payload: job, Fn: runner.Run, Ctx: jobCtx})
		if err != nil {
			logger.Error("job dropped", lg.String("id", job.ID.String()), lg.Err(err))
		}
	}, func(err error) {
		logger.Warn("message skipped", lg.Err(err))
	})
}
