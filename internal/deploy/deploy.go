// Package deploy implements configuration rollout gated by a configuration
// test.
//
// A run always tests the configuration. When secure deployment is enabled a
// failed test aborts the run before anything is written to the host.
// Otherwise the configuration is deployed and the probe restarted, the
// restart being attempted even when the deploy failed. The run succeeds only
// if both the deploy and the restart succeeded.
package deploy

import (
	"context"
	"fmt"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/metrics"
	"github.com/andrej220/probemanager/internal/probe"
)

type State string

const (
	Idle       State = "idle"
	Testing    State = "testing"
	Aborted    State = "aborted"
	Deploying  State = "deploying"
	Restarting State = "restarting"
	Done       State = "done"
)

const (
	MsgTestError    = "Error during the test configuration"
	MsgTestOK       = "Test configuration OK"
	MsgTestFailed   = "Test configuration failed ! "
	MsgDeployed     = "Deployed configuration successfully"
	MsgDeployError  = "Error during the configuration deployed: "
	MsgRestartError = "Error during the restart: "
	MsgDeployFault  = "Error during the configuration deployed : "
)

// Outcome is the full record of one workflow run.
type Outcome struct {
	Probe    string           `json:"probe"`
	Secure   bool             `json:"secure"`
	Status   bool             `json:"status"`
	States   []State          `json:"states"`
	Test     probe.TestResult `json:"test"`
	Deploy   *executor.Result `json:"deploy,omitempty"`
	Restart  *executor.Result `json:"restart,omitempty"`
	Faults   []string         `json:"faults,omitempty"`
	Messages []Message        `json:"messages"`
}

// Message is a user visible line of the outcome.
type Message struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// State returns the last state reached.
func (o *Outcome) State() State {
	if len(o.States) == 0 {
		return Idle
	}
	return o.States[len(o.States)-1]
}

func (o *Outcome) enter(s State)      { o.States = append(o.States, s) }
func (o *Outcome) ok(text string)     { o.Messages = append(o.Messages, Message{LevelSuccess, text}) }
func (o *Outcome) failed(text string) { o.Messages = append(o.Messages, Message{LevelError, text}) }

type Workflow struct {
	logger lg.Logger
}

func New(logger lg.Logger) *Workflow {
	if logger == nil {
		logger = lg.Discard
	}
	return &Workflow{logger: logger}
}

// Run executes the workflow against l. It never panics and never returns an
// error: every failure is part of the Outcome.
func (w *Workflow) Run(ctx context.Context, l probe.Lifecycle) Outcome {
	rec := l.Record()
	o := Outcome{Probe: rec.Name, Secure: rec.SecureDeployment, States: []State{Idle}}
	logger := w.logger.With(lg.String("probe", rec.Name), lg.Bool("secure", rec.SecureDeployment))

	o.enter(Testing)
	test, fault := guardTest(ctx, l)
	if fault != nil {
		logger.Error("configuration test panicked", lg.Err(fault))
		test = probe.TestResult{Errors: fault.Error()}
	}
	o.Test = test

	if !test.Status && rec.SecureDeployment {
		o.enter(Aborted)
		o.failed(MsgTestError)
		logger.Warn("deployment aborted, configuration test failed", lg.String("errors", test.Errors))
		w.record(&o)
		return o
	}
	if test.Status {
		o.ok(MsgTestOK)
	} else {
		o.failed(MsgTestFailed + test.Errors)
		logger.Warn("configuration test failed, deploying anyway", lg.String("errors", test.Errors))
	}

	o.enter(Deploying)
	deploy, deployFault := guard(func() executor.Result { return l.DeployConf(ctx) })
	if deployFault == nil {
		o.Deploy = &deploy
	}

	o.enter(Restarting)
	restart, restartFault := guard(func() executor.Result { return l.Restart(ctx) })
	if restartFault == nil {
		o.Restart = &restart
	}

	deployOK := deployFault == nil && deploy.Status
	restartOK := restartFault == nil && restart.Status
	o.Status = deployOK && restartOK
	switch {
	case o.Status:
		o.ok(MsgDeployed)
	default:
		for _, f := range []error{deployFault, restartFault} {
			if f != nil {
				logger.Error("deployment step panicked", lg.Err(f))
				o.Faults = append(o.Faults, f.Error())
				o.failed(MsgDeployFault + f.Error())
			}
		}
		if deployFault == nil && !deploy.Status {
			o.failed(MsgDeployError + deploy.ErrorText())
		}
		if restartFault == nil && !restart.Status {
			o.failed(MsgRestartError + restart.ErrorText())
		}
		logger.Warn("deployment failed", lg.Bool("deployed", deployOK), lg.Bool("restarted", restartOK))
	}
	o.enter(Done)
	w.record(&o)
	return o
}

func (w *Workflow) record(o *Outcome) {
	metrics.Deployments.WithLabelValues(string(o.State()), metrics.StatusLabel(o.Status)).Inc()
}

func guard(fn func() executor.Result) (res executor.Result, fault error) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Errorf("%v", r)
		}
	}()
	return fn(), nil
}

func guardTest(ctx context.Context, l probe.Lifecycle) (res probe.TestResult, fault error) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Errorf("%v", r)
		}
	}()
	return l.Configuration().Test(ctx), nil
}
