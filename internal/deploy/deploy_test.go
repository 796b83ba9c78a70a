package deploy_test

import (
	"context"
	"testing"

	"github.com/andrej220/probemanager/internal/deploy"
	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/executor/executortest"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConf struct {
	result probe.TestResult
	panics bool
}

func (c stubConf) Record() *probe.ConfigurationRecord { return &probe.ConfigurationRecord{Name: "c"} }
func (c stubConf) Test(context.Context) probe.TestResult {
	if c.panics {
		panic("parser crashed")
	}
	return c.result
}

type stubProbe struct {
	probe.Base
	deployPanics bool
}

func (p *stubProbe) DeployConf(ctx context.Context) executor.Result {
	if p.deployPanics {
		panic("nil configuration")
	}
	return p.Run(ctx, executor.File{Path: "/etc/suricata/suricata.yaml", Content: "x"})
}

func newProbe(secure bool, test probe.TestResult, exec executor.Executor) *stubProbe {
	rec := probe.NewRecord()
	rec.Name, rec.Host, rec.Type = "X", "10.0.0.9", "Suricata"
	rec.SecureDeployment = secure
	p := &stubProbe{Base: probe.NewBase(&rec, exec, probe.Names{})}
	p.Conf = stubConf{result: test}
	return p
}

var failingTest = probe.TestResult{Status: false, Errors: "syntax error line 4"}

func texts(o deploy.Outcome) []string {
	out := make([]string, 0, len(o.Messages))
	for _, m := range o.Messages {
		out = append(out, m.Text)
	}
	return out
}

// respond fails the operations whose kind is listed.
func respond(failKinds ...string) func(int, executor.Target, []executor.Operation) executor.Result {
	return func(_ int, _ executor.Target, ops []executor.Operation) executor.Result {
		for _, k := range failKinds {
			if ops[0].Kind() == k {
				return executortest.Failure(k + " failed on host")
			}
		}
		return executortest.Success(ops...)
	}
}

func TestSecureAbortsOnFailedTest(t *testing.T) {
	rec := &executortest.Recorder{}
	o := deploy.New(lg.Discard).Run(context.Background(), newProbe(true, failingTest, rec))

	assert.False(t, o.Status)
	assert.Equal(t, deploy.Aborted, o.State())
	assert.Equal(t, []deploy.State{deploy.Idle, deploy.Testing, deploy.Aborted}, o.States)
	assert.Equal(t, []string{deploy.MsgTestError}, texts(o))
	assert.Equal(t, "syntax error line 4", o.Test.Errors)
	assert.Empty(t, rec.Calls(), "neither deploy nor restart may reach the host")
	assert.Nil(t, o.Deploy)
	assert.Nil(t, o.Restart)
}

func TestNonSecureDeploysDespiteFailedTest(t *testing.T) {
	rec := &executortest.Recorder{}
	o := deploy.New(nil).Run(context.Background(), newProbe(false, failingTest, rec))

	assert.True(t, o.Status)
	assert.Equal(t, deploy.Done, o.State())
	assert.Equal(t, []string{
		deploy.MsgTestFailed + "syntax error line 4",
		deploy.MsgDeployed,
	}, texts(o))
	require.Len(t, rec.Calls(), 2)
	assert.Equal(t, "file", rec.Calls()[0].Ops[0].Kind())
	assert.Equal(t, executor.Service{Name: "suricata", State: executor.Restarted}, rec.Calls()[1].Ops[0])
}

func TestSecurePassingTest(t *testing.T) {
	rec := &executortest.Recorder{}
	o := deploy.New(nil).Run(context.Background(), newProbe(true, probe.TestResult{Status: true}, rec))

	assert.True(t, o.Status)
	assert.Equal(t, []deploy.State{deploy.Idle, deploy.Testing, deploy.Deploying, deploy.Restarting, deploy.Done}, o.States)
	assert.Equal(t, []string{deploy.MsgTestOK, deploy.MsgDeployed}, texts(o))
	assert.Equal(t, deploy.LevelSuccess, o.Messages[0].Level)
}

func TestRestartFailureIsReported(t *testing.T) {
	rec := &executortest.Recorder{Respond: respond("service")}
	o := deploy.New(nil).Run(context.Background(), newProbe(true, probe.TestResult{Status: true}, rec))

	assert.False(t, o.Status)
	require.NotNil(t, o.Restart)
	assert.False(t, o.Restart.Status)
	assert.Contains(t, texts(o), deploy.MsgRestartError+o.Restart.ErrorText())
	assert.Contains(t, o.Restart.ErrorText(), "service failed on host")
	assert.True(t, o.Deploy.Status)
}

func TestRestartAttemptedAfterDeployFailure(t *testing.T) {
	rec := &executortest.Recorder{Respond: respond("file")}
	o := deploy.New(nil).Run(context.Background(), newProbe(true, probe.TestResult{Status: true}, rec))

	assert.False(t, o.Status)
	require.Len(t, rec.Calls(), 2, "restart runs even when the deploy failed")
	assert.Contains(t, texts(o), deploy.MsgDeployError+o.Deploy.ErrorText())
	assert.True(t, o.Restart.Status)
	assert.Equal(t, deploy.Done, o.State())
}

func TestDeployPanicIsRecovered(t *testing.T) {
	rec := &executortest.Recorder{}
	p := newProbe(true, probe.TestResult{Status: true}, rec)
	p.deployPanics = true

	var o deploy.Outcome
	require.NotPanics(t, func() { o = deploy.New(nil).Run(context.Background(), p) })

	assert.False(t, o.Status)
	assert.Nil(t, o.Deploy)
	assert.Equal(t, []string{"nil configuration"}, o.Faults)
	assert.Contains(t, texts(o), deploy.MsgDeployFault+"nil configuration")
	require.Len(t, rec.Calls(), 1)
	assert.Equal(t, "service", rec.Calls()[0].Ops[0].Kind())
}

func TestTestPanicCountsAsFailedTest(t *testing.T) {
	rec := &executortest.Recorder{}
	p := newProbe(true, probe.TestResult{}, rec)
	p.Conf = stubConf{panics: true}

	o := deploy.New(nil).Run(context.Background(), p)
	assert.Equal(t, deploy.Aborted, o.State())
	assert.Equal(t, "parser crashed", o.Test.Errors)
	assert.Empty(t, rec.Calls())
}
