package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result codes. Zero is success; any non-zero value is a failure. A failed
// command reports its own exit status, which may equal one of these values, so
// callers that need the cause branch on Result.Kind rather than on Code.
const (
	CodeOK          = 0
	CodeFailed      = 2
	CodeTimeout     = 3
	CodeUnreachable = 4
)

// ErrorKind classifies a failed step.
type ErrorKind string

const (
	KindCommand     ErrorKind = "command"
	KindUnreachable ErrorKind = "unreachable"
	KindTimeout     ErrorKind = "timeout"
	KindConfig      ErrorKind = "config"
)

// ErrTimeout is reported in step errors when the per-call deadline expires.
var ErrTimeout = errors.New("remote execution timed out")

// StepResult is the outcome of one operation.
type StepResult struct {
	Operation string        `json:"operation"`
	OK        bool          `json:"ok"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	ExitCode  int           `json:"exitCode"`
	Duration  time.Duration `json:"duration"`
}

// StepError is the structured detail of a failed step.
type StepError struct {
	Step      int       `json:"step"`
	Operation string    `json:"operation"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Stderr    string    `json:"stderr,omitempty"`
}

func (e StepError) String() string {
	s := fmt.Sprintf("step %d (%s): %s: %s", e.Step+1, e.Operation, e.Kind, e.Message)
	if e.Stderr != "" {
		s += ": " + e.Stderr
	}
	return s
}

// Result is returned by every Execute call. Status is false when at least one
// step failed; Errors is nil on success.
type Result struct {
	Status  bool         `json:"status"`
	Message string       `json:"message"`
	Errors  []StepError  `json:"errors"`
	Code    int          `json:"result"`
	Steps   []StepResult `json:"steps"`
}

// Kind is the kind of the failure that determined Code, or "" on success.
// Unreachable wins over timeout, which wins over a failed command.
func (r Result) Kind() ErrorKind {
	var kind ErrorKind
	for _, e := range r.Errors {
		switch e.Kind {
		case KindUnreachable:
			return KindUnreachable
		case KindTimeout:
			kind = KindTimeout
		default:
			if kind == "" {
				kind = e.Kind
			}
		}
	}
	return kind
}

// ErrorText joins the step errors for display.
func (r Result) ErrorText() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}

// Failed builds a failed Result that never reached the host, e.g. for an
// invalid target. Every step is reported with the same kind.
func Failed(ops []Operation, kind ErrorKind, err error) Result {
	b := newBuilder(len(ops))
	for i, op := range ops {
		b.fail(i, op.Describe(), kind, err.Error(), Output{}, 0)
	}
	if len(ops) == 0 {
		b.errors = append(b.errors, StepError{Step: 0, Operation: "connect", Kind: kind, Message: err.Error()})
	}
	return b.result()
}

type builder struct {
	steps  []StepResult
	errors []StepError
}

func newBuilder(n int) *builder {
	return &builder{steps: make([]StepResult, 0, n)}
}

func (b *builder) ok(desc string, out Output, d time.Duration) {
	b.steps = append(b.steps, StepResult{
		Operation: desc, OK: true, Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode, Duration: d,
	})
}

func (b *builder) fail(i int, desc string, kind ErrorKind, msg string, out Output, d time.Duration) {
	b.steps = append(b.steps, StepResult{
		Operation: desc, Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode, Duration: d,
	})
	b.errors = append(b.errors, StepError{
		Step: i, Operation: desc, Kind: kind, Message: msg, Stderr: strings.TrimSpace(out.Stderr),
	})
}

func (b *builder) result() Result {
	r := Result{Status: len(b.errors) == 0, Steps: b.steps, Code: CodeOK}
	if !r.Status {
		r.Errors = b.errors
		r.Code = failureCode(b.errors, b.steps)
	}
	r.Message = summarize(b.steps)
	return r
}

func failureCode(errs []StepError, steps []StepResult) int {
	code := 0
	for _, e := range errs {
		switch e.Kind {
		case KindUnreachable:
			return CodeUnreachable
		case KindTimeout:
			code = CodeTimeout
		case KindCommand:
			if code == 0 && e.Step < len(steps) && steps[e.Step].ExitCode > 0 {
				code = steps[e.Step].ExitCode
			}
		}
	}
	if code == 0 {
		code = CodeFailed
	}
	return code
}

// summarize returns the single step's output or one line per step.
func summarize(steps []StepResult) string {
	if len(steps) == 1 {
		return stepSummary(steps[0])
	}
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		state := "ok"
		if !s.OK {
			state = "failed"
		}
		line := s.Operation + ": " + state
		if sum := stepSummary(s); sum != "" {
			line += ": " + sum
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func stepSummary(s StepResult) string {
	if out := strings.TrimSpace(s.Stdout); out != "" {
		return out
	}
	return strings.TrimSpace(s.Stderr)
}
