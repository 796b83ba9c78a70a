package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/metrics"
	"github.com/andrej220/probemanager/internal/workerpool"
	"github.com/andrej220/probemanager/pkg/config"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer for cfg.Topic.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// KafkaEnqueuer publishes jobs as JSON, keyed by probe name so jobs of one
// probe stay ordered on one partition.
type KafkaEnqueuer struct {
	writer  messageWriter
	tracker Tracker
	logger  lg.Logger
	now     func() time.Time
}

func NewKafkaEnqueuer(w messageWriter, tracker Tracker, logger lg.Logger) *KafkaEnqueuer {
	return &KafkaEnqueuer{writer: w, tracker: tracker, logger: logger, now: time.Now}
}

func (k *KafkaEnqueuer) Enqueue(ctx context.Context, name Name, probeName string) (Handle, error) {
	job, err := newJob(name, probeName, k.now())
	if err != nil {
		return Handle{}, err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	// The pending record goes first: a worker may pick the message up and
	// record its outcome before WriteMessages returns.
	if err := k.tracker.Save(ctx, pendingRecord(job)); err != nil {
		k.logger.Warn("job not tracked", lg.String("job", job.ID.String()), lg.Err(err))
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(job.Probe), Value: value, Time: job.EnqueuedAt})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			k.logger.Error("Kafka topic does not exist",
				lg.String("action", "Create the topic manually or enable auto-creation"))
		}
		metrics.Jobs.WithLabelValues(string(name), "enqueue_failed").Inc()
		rec := pendingRecord(job)
		rec.Status, rec.Errors = Failed, err.Error()
		_ = k.tracker.Save(ctx, rec)
		return Handle{}, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	metrics.Jobs.WithLabelValues(string(name), "enqueued").Inc()
	k.logger.Info("job enqueued", lg.String("job", string(name)), lg.String("probe", probeName), lg.String("id", job.ID.String()))
	return job.Handle(), nil
}

func (k *KafkaEnqueuer) Close() error { return k.writer.Close() }

// PoolEnqueuer runs jobs in process on a worker pool.
type PoolEnqueuer struct {
	pool    *workerpool.Pool[Job]
	runner  *Runner
	tracker Tracker
	base    context.Context
	logger  lg.Logger
	now     func() time.Time
}

// NewPoolEnqueuer runs accepted jobs with base as parent context, so they
// outlive the request that submitted them.
func NewPoolEnqueuer(base context.Context, pool *workerpool.Pool[Job], runner *Runner, tracker Tracker, logger lg.Logger) *PoolEnqueuer {
	return &PoolEnqueuer{pool: pool, runner: runner, tracker: tracker, base: base, logger: logger, now: time.Now}
}

func (p *PoolEnqueuer) Enqueue(ctx context.Context, name Name, probeName string) (Handle, error) {
	job, err := newJob(name, probeName, p.now())
	if err != nil {
		return Handle{}, err
	}
	if err := p.tracker.Save(ctx, pendingRecord(job)); err != nil {
		p.logger.Warn("job not tracked", lg.String("job", job.ID.String()), lg.Err(err))
	}
	// A full queue is reported to the caller rather than waited out.
	err = p.pool.TrySubmit(workerpool.Job[Job]{Payload: job, Fn: p.runner.Run, Ctx: p.base})
	if err != nil {
		metrics.Jobs.WithLabelValues(string(name), "enqueue_failed").Inc()
		rec := pendingRecord(job)
		rec.Status, rec.Errors = Failed, err.Error()
		_ = p.tracker.Save(ctx, rec)
		return Handle{}, fmt.Errorf("%w: %w", ErrEnqueue, err)
	}
	metrics.Jobs.WithLabelValues(string(name), "enqueued").Inc()
	return job.Handle(), nil
}
