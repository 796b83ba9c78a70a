package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrej220/probemanager/internal/executor"
)

// UptimeFailed is returned by Uptime when the remote lookup fails.
const UptimeFailed = "Failed to get the uptime on the host"

// Lifecycle is the capability set of every probe family.
type Lifecycle interface {
	Record() *Record
	Configuration() Configuration

	Test(ctx context.Context) executor.Result
	TestRoot(ctx context.Context) executor.Result
	Uptime(ctx context.Context) string
	Start(ctx context.Context) executor.Result
	Stop(ctx context.Context) executor.Result
	Restart(ctx context.Context) executor.Result
	Reload(ctx context.Context) executor.Result
	Status(ctx context.Context) executor.Result
	Install(ctx context.Context) executor.Result
	Update(ctx context.Context) executor.Result
	DeployConf(ctx context.Context) executor.Result
	DeployRules(ctx context.Context) executor.Result
}

// Names are the remote identifiers of a family. Empty fields default to the
// lowercase probe type.
type Names struct {
	Service string
	Process string
	Package string
}

func (n Names) withDefaults(typ string) Names {
	def := strings.ToLower(typ)
	if n.Service == "" {
		n.Service = def
	}
	if n.Process == "" {
		n.Process = def
	}
	if n.Package == "" {
		n.Package = def
	}
	return n
}

// Base implements the default behavior of every Lifecycle method. Families
// embed it and override DeployConf and DeployRules.
type Base struct {
	Rec   *Record
	Exec  executor.Executor
	Names Names
	Conf  Configuration
}

func NewBase(rec *Record, exec executor.Executor, names Names) Base {
	return Base{Rec: rec, Exec: exec, Names: names.withDefaults(rec.Type)}
}

func (b *Base) Record() *Record { return b.Rec }

func (b *Base) Configuration() Configuration {
	if b.Conf == nil {
		return Missing{Probe: b.Rec.Name}
	}
	return b.Conf
}

// Run executes ops against the probe host.
func (b *Base) Run(ctx context.Context, ops ...executor.Operation) executor.Result {
	return b.run(ctx, false, ops)
}

func (b *Base) run(ctx context.Context, forceBecome bool, ops []executor.Operation) executor.Result {
	t, err := b.Rec.Target()
	if err != nil {
		return executor.Failed(ops, executor.KindConfig, err)
	}
	if forceBecome {
		t.Become.Enabled = true
	}
	return b.Exec.Execute(ctx, t, ops)
}

func (b *Base) Test(ctx context.Context) executor.Result {
	return b.Run(ctx, executor.Shell{Command: "cat /etc/hostname"})
}

func (b *Base) TestRoot(ctx context.Context) executor.Result {
	return b.run(ctx, true, []executor.Operation{executor.Shell{Command: "service ssh status"}})
}

// Uptime returns the start time of the probe process.
func (b *Base) Uptime(ctx context.Context) string {
	res := b.Run(ctx, executor.Shell{Command: fmt.Sprintf("ps -o lstart= -p $( pidof %s )", b.Names.Process)})
	if res.Code != executor.CodeOK {
		return UptimeFailed
	}
	return res.Message
}

func (b *Base) Start(ctx context.Context) executor.Result   { return b.service(ctx, executor.Started) }
func (b *Base) Stop(ctx context.Context) executor.Result    { return b.service(ctx, executor.Stopped) }
func (b *Base) Restart(ctx context.Context) executor.Result { return b.service(ctx, executor.Restarted) }
func (b *Base) Reload(ctx context.Context) executor.Result  { return b.service(ctx, executor.Reloaded) }

func (b *Base) service(ctx context.Context, state executor.ServiceState) executor.Result {
	return b.Run(ctx, executor.Service{Name: b.Names.Service, State: state})
}

func (b *Base) Status(ctx context.Context) executor.Result {
	return b.Run(ctx, executor.Shell{Command: "service " + b.Names.Service + " status"})
}

func (b *Base) Install(ctx context.Context) executor.Result {
	return b.packages(ctx, executor.Package{Name: b.Names.Package, State: executor.Present})
}

func (b *Base) Update(ctx context.Context) executor.Result {
	return b.packages(ctx, executor.Package{Name: b.Names.Package, State: executor.Latest, UpdateCache: true})
}

// packages runs the helper install followed by pkg. Both steps are always
// reported.
func (b *Base) packages(ctx context.Context, pkg executor.Package) executor.Result {
	helper, err := b.Rec.HelperPackage()
	if err != nil {
		return executor.Failed([]executor.Operation{pkg}, executor.KindConfig, err)
	}
	return b.Run(ctx, executor.Shell{Command: "apt-get install -y " + helper}, pkg)
}

func (b *Base) DeployConf(ctx context.Context) executor.Result {
	return b.unsupported("configuration deployment")
}

func (b *Base) DeployRules(ctx context.Context) executor.Result {
	return b.unsupported("rules deployment")
}

func (b *Base) unsupported(what string) executor.Result {
	return executor.Failed(nil, executor.KindConfig, fmt.Errorf("%s is not supported for probe type %s", what, b.Rec.Key()))
}
