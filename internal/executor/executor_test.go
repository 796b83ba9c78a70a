package executor_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	cmds   []string
	stdins []string
	run    func(i int, cmd string) (executor.Output, error)
	closed bool
}

func (c *fakeConn) Run(ctx context.Context, cmd string, stdin io.Reader) (executor.Output, error) {
	i := len(c.cmds)
	c.cmds = append(c.cmds, cmd)
	in := ""
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		in = string(b)
	}
	c.stdins = append(c.stdins, in)
	if c.run == nil {
		return executor.Output{Stdout: "ok\n"}, nil
	}
	return c.run(i, cmd)
}

func (c *fakeConn) Close() error { c.closed = true; return nil }

type fakeDialer struct {
	conn  *fakeConn
	err   error
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, t executor.Target) (executor.Conn, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type fakeOpener struct{}

func (fakeOpener) Open(sealed string) (string, error) {
	if sealed == "bad" {
		return "", errors.New("corrupted")
	}
	return strings.TrimPrefix(sealed, "sealed:"), nil
}

var target = executor.Target{Host: "probe1.example.com", Port: 22, User: "admin", KeyFile: "/keys/id"}

func TestExecuteSingleStep(t *testing.T) {
	conn := &fakeConn{run: func(int, string) (executor.Output, error) {
		return executor.Output{Stdout: "probe1\n"}, nil
	}}
	r := executor.NewRemote(&fakeDialer{conn: conn})

	res := r.Execute(context.Background(), target, []executor.Operation{executor.Shell{Command: "cat /etc/hostname"}})

	assert.True(t, res.Status)
	assert.Equal(t, executor.CodeOK, res.Code)
	assert.Equal(t, "probe1", res.Message)
	assert.Nil(t, res.Errors)
	assert.True(t, conn.closed)
}

func TestExecuteContinuesAfterFailedStep(t *testing.T) {
	conn := &fakeConn{run: func(i int, cmd string) (executor.Output, error) {
		if i == 0 {
			return executor.Output{Stderr: "E: Unable to locate package", ExitCode: 100}, nil
		}
		return executor.Output{Stdout: "suricata is already the newest version"}, nil
	}}
	r := executor.NewRemote(&fakeDialer{conn: conn})

	ops := []executor.Operation{
		executor.Shell{Command: "apt-get install -y apt-utils"},
		executor.Package{Name: "suricata", State: executor.Latest, UpdateCache: true},
	}
	res := r.Execute(context.Background(), target, ops)

	require.Len(t, conn.cmds, 2, "second step must run after the first failed")
	assert.False(t, res.Status)
	assert.Equal(t, 100, res.Code)
	require.Len(t, res.Steps, 2)
	assert.False(t, res.Steps[0].OK)
	assert.True(t, res.Steps[1].OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].Step)
	assert.Equal(t, executor.KindCommand, res.Errors[0].Kind)
	assert.Equal(t, "E: Unable to locate package", res.Errors[0].Stderr)

	lines := strings.Split(res.Message, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "shell apt-get install -y apt-utils: failed: E: Unable to locate package", lines[0])
	assert.Equal(t, "package suricata latest (update cache): ok: suricata is already the newest version", lines[1])
}

func TestExecuteExitStatusKeepsCommandKind(t *testing.T) {
	conn := &fakeConn{run: func(int, string) (executor.Output, error) {
		return executor.Output{Stderr: "check failed", ExitCode: 4}, nil
	}}
	res := executor.NewRemote(&fakeDialer{conn: conn}).Execute(context.Background(), target,
		[]executor.Operation{executor.Shell{Command: "exit 4"}})

	assert.False(t, res.Status)
	assert.Equal(t, 4, res.Code)
	assert.Equal(t, executor.CodeUnreachable, res.Code, "exit status is passed through unchanged")
	assert.Equal(t, executor.KindCommand, res.Kind())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, executor.KindCommand, res.Errors[0].Kind)
}

func TestResultKind(t *testing.T) {
	assert.Equal(t, executor.ErrorKind(""), executor.Result{Status: true}.Kind())
	mixed := executor.Result{Errors: []executor.StepError{
		{Step: 0, Kind: executor.KindConfig},
		{Step: 1, Kind: executor.KindCommand},
		{Step: 2, Kind: executor.KindTimeout},
	}}
	assert.Equal(t, executor.KindTimeout, mixed.Kind())
	mixed.Errors = append(mixed.Errors, executor.StepError{Step: 3, Kind: executor.KindUnreachable})
	assert.Equal(t, executor.KindUnreachable, mixed.Kind())
	assert.Equal(t, executor.KindConfig, executor.Result{Errors: mixed.Errors[:2]}.Kind())
}

func TestExecuteUnreachable(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	r := executor.NewRemote(d)

	ops := []executor.Operation{executor.Shell{Command: "true"}, executor.Shell{Command: "false"}}
	res := r.Execute(context.Background(), target, ops)

	assert.False(t, res.Status)
	assert.Equal(t, executor.CodeUnreachable, res.Code)
	assert.Equal(t, executor.KindUnreachable, res.Kind())
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.Equal(t, executor.KindUnreachable, e.Kind)
		assert.Contains(t, e.Message, "connection refused")
	}
}

func TestExecuteInvalidTarget(t *testing.T) {
	d := &fakeDialer{conn: &fakeConn{}}
	r := executor.NewRemote(d)

	res := r.Execute(context.Background(), executor.Target{Host: "", Port: 22, User: "admin"},
		[]executor.Operation{executor.Shell{Command: "true"}})

	assert.False(t, res.Status)
	assert.Equal(t, 0, d.dials, "invalid targets are never dialed")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, executor.KindConfig, res.Errors[0].Kind)
}

func TestExecuteTimeout(t *testing.T) {
	conn := &fakeConn{}
	conn.run = func(i int, cmd string) (executor.Output, error) {
		time.Sleep(30 * time.Millisecond)
		return executor.Output{}, context.DeadlineExceeded
	}
	r := executor.NewRemote(&fakeDialer{conn: conn}, executor.WithTimeout(10*time.Millisecond))

	ops := []executor.Operation{executor.Shell{Command: "sleep 100"}, executor.Shell{Command: "true"}}
	res := r.Execute(context.Background(), target, ops)

	assert.False(t, res.Status)
	assert.Equal(t, executor.CodeTimeout, res.Code)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, executor.KindTimeout, res.Errors[0].Kind)
	assert.Equal(t, executor.KindTimeout, res.Errors[1].Kind)
	assert.Len(t, conn.cmds, 1, "steps after the deadline are not sent")
}

func TestExecuteBecome(t *testing.T) {
	conn := &fakeConn{}
	r := executor.NewRemote(&fakeDialer{conn: conn}, executor.WithSecrets(fakeOpener{}))

	tgt := target
	tgt.Become = executor.Become{Enabled: true, Method: "sudo", User: "root", Password: "sealed:hunter2"}
	res := r.Execute(context.Background(), tgt, []executor.Operation{executor.Shell{Command: "service ssh status"}})

	require.True(t, res.Status)
	assert.Equal(t, []string{`sudo -S -p '' -u 'root' sh -c 'service ssh status'`}, conn.cmds)
	assert.Equal(t, []string{"hunter2\n"}, conn.stdins)
}

func TestExecuteStreamsFileContent(t *testing.T) {
	conn := &fakeConn{}
	r := executor.NewRemote(&fakeDialer{conn: conn}, executor.WithSecrets(fakeOpener{}))

	tgt := target
	tgt.Become = executor.Become{Enabled: true, Password: "sealed:hunter2"}
	content := strings.Repeat("0123456789abcdef", 12*1024)
	f := executor.File{Path: "/var/ossec/rules/local_rules.xml", Content: content}
	res := r.Execute(context.Background(), tgt, []executor.Operation{f})

	require.True(t, res.Status)
	require.Len(t, conn.cmds, 1)
	assert.Less(t, len(conn.cmds[0]), 1024)
	assert.Equal(t, "hunter2\n"+f.Input(), conn.stdins[0])
}

func TestExecuteBecomeErrors(t *testing.T) {
	tgt := target
	tgt.Become = executor.Become{Enabled: true, Password: "sealed:x"}

	res := executor.NewRemote(&fakeDialer{conn: &fakeConn{}}).Execute(context.Background(), tgt,
		[]executor.Operation{executor.Shell{Command: "id"}})
	assert.False(t, res.Status)
	assert.Equal(t, executor.KindConfig, res.Errors[0].Kind)

	tgt.Become.Password = "bad"
	res = executor.NewRemote(&fakeDialer{conn: &fakeConn{}}, executor.WithSecrets(fakeOpener{})).Execute(
		context.Background(), tgt, []executor.Operation{executor.Shell{Command: "id"}})
	assert.False(t, res.Status)
	assert.Contains(t, res.ErrorText(), "open become password")
}

func TestExecuteRenderErrorDoesNotStopLaterSteps(t *testing.T) {
	conn := &fakeConn{}
	r := executor.NewRemote(&fakeDialer{conn: conn})

	ops := []executor.Operation{
		executor.Service{Name: "bad name", State: executor.Started},
		executor.Shell{Command: "true"},
	}
	res := r.Execute(context.Background(), target, ops)

	assert.False(t, res.Status)
	assert.Equal(t, executor.CodeFailed, res.Code)
	assert.Equal(t, []string{"true"}, conn.cmds)
	assert.Equal(t, executor.KindConfig, res.Errors[0].Kind)
}

func TestExecuteNoOps(t *testing.T) {
	d := &fakeDialer{conn: &fakeConn{}}
	res := executor.NewRemote(d).Execute(context.Background(), target, nil)
	assert.True(t, res.Status)
	assert.Equal(t, 0, d.dials)
}
