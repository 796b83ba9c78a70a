package bro_test

import (
	"context"
	"testing"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/executor/executortest"
	"github.com/andrej220/probemanager/internal/families/bro"
	"github.com/andrej220/probemanager/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const standalone = `# Example node.cfg
[bro]
type=standalone
host=localhost
interface=eth0
`

func record(content string) *probe.Record {
	rec := probe.NewRecord()
	rec.Name = "bro1"
	rec.Host = "bro1.example.com"
	rec.Type = bro.Type
	rec.Configuration = &probe.ConfigurationRecord{Name: "node", Type: bro.Type, Content: content}
	return &rec
}

func TestConfigurationTest(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ok      bool
		errs    string
	}{
		{"standalone", standalone, true, ""},
		{"cluster", "[manager]\ntype=manager\nhost=10.0.0.1\n\n[worker-1]\ntype=worker\nhost=10.0.0.2\ninterface=eth0\n", true, ""},
		{"garbage line", "[bro]\ntype=standalone\nhost localhost\n", false, "syntax error line 3"},
		{"key outside section", "type=standalone\n", false, "syntax error line 1"},
		{"missing type", "[bro]\nhost=localhost\n", false, "node bro has no type"},
		{"empty", "# nothing\n", false, "no node defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := bro.New(record(tt.content), &executortest.Recorder{}).Configuration().Test(context.Background())
			assert.Equal(t, tt.ok, res.Status)
			assert.Equal(t, tt.errs, res.Errors)
		})
	}
}

func TestDeploy(t *testing.T) {
	rec := &executortest.Recorder{}
	r := record(standalone)
	r.Rules = "signature probe-test { ip-proto == tcp\n event \"test\" }\n"
	p := bro.New(r, rec)

	require.True(t, p.DeployConf(context.Background()).Status)
	require.True(t, p.DeployRules(context.Background()).Status)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, executor.File{Path: bro.ConfPath, Content: standalone, Mode: 0644}, calls[0].Ops[0])
	assert.Equal(t, executor.Shell{Command: "broctl deploy"}, calls[1].Ops[1])
}

func TestDefaultNames(t *testing.T) {
	rec := &executortest.Recorder{}
	bro.New(record(standalone), rec).Restart(context.Background())
	assert.Equal(t, executor.Service{Name: "bro", State: executor.Restarted}, rec.Calls()[0].Ops[0])
}
