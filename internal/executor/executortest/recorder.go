// Package executortest provides an in-memory executor.Executor for tests.
package executortest

import (
	"context"
	"sync"

	"github.com/andrej220/probemanager/internal/executor"
)

// Call is one recorded Execute invocation.
type Call struct {
	Target executor.Target
	Ops    []executor.Operation
}

// Recorder records calls and answers them with Respond, or with success.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	Respond func(call int, t executor.Target, ops []executor.Operation) executor.Result
}

// Execute implements executor.Executor.
func (r *Recorder) Execute(_ context.Context, t executor.Target, ops []executor.Operation) executor.Result {
	r.mu.Lock()
	n := len(r.calls)
	r.calls = append(r.calls, Call{Target: t, Ops: ops})
	respond := r.Respond
	r.mu.Unlock()
	if respond != nil {
		return respond(n, t, ops)
	}
	return Success(ops...)
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Success builds a successful result with one ok step per op.
func Success(ops ...executor.Operation) executor.Result {
	steps := make([]executor.StepResult, 0, len(ops))
	for _, op := range ops {
		steps = append(steps, executor.StepResult{Operation: op.Describe(), OK: true})
	}
	return executor.Result{Status: true, Code: executor.CodeOK, Steps: steps}
}

// Failure builds a failed result whose only error carries msg.
func Failure(msg string) executor.Result {
	return executor.Result{
		Status: false,
		Code:   executor.CodeFailed,
		Errors: []executor.StepError{{Operation: "test", Kind: executor.KindCommand, Message: msg}},
	}
}
