package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/metrics"
)

// DefaultTimeout bounds one Execute call when none is configured.
const DefaultTimeout = 2 * time.Minute

// Executor runs an ordered list of operations against a target.
// Failures of any kind are reported in the Result, never returned or raised.
type Executor interface {
	Execute(ctx context.Context, target Target, ops []Operation) Result
}

// Output is what a single remote command produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Conn is an established connection to a host.
type Conn interface {
	Run(ctx context.Context, cmd string, stdin io.Reader) (Output, error)
	Close() error
}

// Dialer opens connections to targets.
type Dialer interface {
	Dial(ctx context.Context, t Target) (Conn, error)
}

// Opener unseals secrets referenced by targets.
type Opener interface {
	Open(sealed string) (string, error)
}

// Remote is the Executor used in production: one connection per call,
// operations run sequentially on it, one attempt each.
type Remote struct {
	dialer  Dialer
	secrets Opener
	timeout time.Duration
	logger  lg.Logger
}

type Option func(*Remote)

func WithTimeout(d time.Duration) Option { return func(r *Remote) { r.timeout = d } }
func WithSecrets(o Opener) Option        { return func(r *Remote) { r.secrets = o } }
func WithLogger(l lg.Logger) Option      { return func(r *Remote) { r.logger = l } }

func NewRemote(d Dialer, opts ...Option) *Remote {
	r := &Remote{dialer: d, timeout: DefaultTimeout, logger: lg.Discard}
	for _, o := range opts {
		o(r)
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	return r
}

func (r *Remote) Execute(ctx context.Context, target Target, ops []Operation) Result {
	start := time.Now()
	res := r.execute(ctx, target, ops)
	metrics.RemoteDuration.WithLabelValues(metrics.StatusLabel(res.Status)).Observe(time.Since(start).Seconds())
	for i, s := range res.Steps {
		metrics.RemoteSteps.WithLabelValues(ops[i].Kind(), metrics.StatusLabel(s.OK)).Inc()
	}
	logger := r.logger.With(lg.String("target", target.String()))
	if res.Status {
		logger.Debug("remote execution succeeded", lg.Int("steps", len(ops)), lg.Duration("took", time.Since(start)))
	} else {
		logger.Warn("remote execution failed", lg.Int("code", res.Code), lg.String("errors", res.ErrorText()))
	}
	return res
}

func (r *Remote) execute(ctx context.Context, target Target, ops []Operation) Result {
	if len(ops) == 0 {
		return Result{Status: true, Code: CodeOK}
	}
	if err := target.Validate(); err != nil {
		return Failed(ops, KindConfig, err)
	}

	password := ""
	if target.Become.Enabled && target.Become.Password != "" {
		if r.secrets == nil {
			return Failed(ops, KindConfig, errors.New("become password set but no secret key configured"))
		}
		p, err := r.secrets.Open(target.Become.Password)
		if err != nil {
			return Failed(ops, KindConfig, fmt.Errorf("open become password: %w", err))
		}
		password = p
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, err := r.dialer.Dial(ctx, target)
	if err != nil {
		if isTimeout(ctx, err) {
			return Failed(ops, KindTimeout, fmt.Errorf("%w: %v", ErrTimeout, err))
		}
		return Failed(ops, KindUnreachable, err)
	}
	defer conn.Close()

	b := newBuilder(len(ops))
	for i, op := range ops {
		desc := op.Describe()
		if ctx.Err() != nil {
			b.fail(i, desc, KindTimeout, ErrTimeout.Error(), Output{}, 0)
			continue
		}
		cmd, err := op.Render()
		if err != nil {
			b.fail(i, desc, KindConfig, err.Error(), Output{}, 0)
			continue
		}
		cmd, stdin, err := target.Become.wrap(cmd, password)
		if err != nil {
			b.fail(i, desc, KindConfig, err.Error(), Output{}, 0)
			continue
		}
		if src, ok := op.(Inputter); ok {
			stdin += src.Input()
		}
		var in io.Reader
		if stdin != "" {
			in = strings.NewReader(stdin)
		}

		stepStart := time.Now()
		out, err := conn.Run(ctx, cmd, in)
		took := time.Since(stepStart)
		switch {
		case err != nil && isTimeout(ctx, err):
			b.fail(i, desc, KindTimeout, ErrTimeout.Error(), out, took)
		case err != nil:
			b.fail(i, desc, KindUnreachable, err.Error(), out, took)
		case out.ExitCode != 0:
			b.fail(i, desc, KindCommand, fmt.Sprintf("exit status %d", out.ExitCode), out, took)
		default:
			b.ok(desc, out, took)
		}
	}
	return b.result()
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
