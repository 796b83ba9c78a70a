// Package ossec implements the OSSEC HIDS family, server and agent.
package ossec

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/probe"
)

const (
	Type         = "Ossec"
	AgentSubtype = "OssecAgent"
	ConfPath     = "/var/ossec/etc/ossec.conf"
	RulesPath    = "/var/ossec/rules/local_rules.xml"
)

var (
	serverNames = probe.Names{Service: "ossec", Process: "ossec-analysisd", Package: "ossec-hids-server"}
	agentNames  = probe.Names{Service: "ossec", Process: "ossec-agentd", Package: "ossec-hids-agent"}
)

type Probe struct {
	probe.Base
	agent bool
}

func New(rec *probe.Record, exec executor.Executor) probe.Lifecycle {
	return newProbe(rec, exec, serverNames, false)
}

// NewAgent builds an agent, which takes its rules from the server.
func NewAgent(rec *probe.Record, exec executor.Executor) probe.Lifecycle {
	return newProbe(rec, exec, agentNames, true)
}

func newProbe(rec *probe.Record, exec executor.Executor, names probe.Names, agent bool) *Probe {
	p := &Probe{Base: probe.NewBase(rec, exec, names), agent: agent}
	if rec.Configuration != nil {
		p.Conf = Configuration{rec.Configuration}
	}
	return p
}

func (p *Probe) DeployConf(ctx context.Context) executor.Result {
	conf := p.Configuration().Record()
	if conf == nil {
		return executor.Failed(nil, executor.KindConfig, fmt.Errorf("probe %s has no configuration", p.Rec.Name))
	}
	return p.Run(ctx, executor.File{Path: ConfPath, Content: conf.Content, Mode: 0640})
}

func (p *Probe) DeployRules(ctx context.Context) executor.Result {
	if p.agent {
		return p.Base.DeployRules(ctx)
	}
	if p.Rec.Rules == "" {
		return executor.Failed(nil, executor.KindConfig, errors.New("no rules to deploy"))
	}
	return p.Run(ctx,
		executor.File{Path: RulesPath, Content: p.Rec.Rules, Mode: 0640},
		executor.Service{Name: p.Names.Service, State: executor.Restarted},
	)
}

// Configuration is an ossec.conf document.
type Configuration struct {
	rec *probe.ConfigurationRecord
}

func (c Configuration) Record() *probe.ConfigurationRecord { return c.rec }

// Test checks the content is well-formed XML whose top-level elements are
// all ossec_config blocks.
func (c Configuration) Test(context.Context) probe.TestResult {
	dec := xml.NewDecoder(strings.NewReader(c.rec.Content))
	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return probe.TestResult{Errors: err.Error()}
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if el.Name.Local != "ossec_config" {
					line, _ := dec.InputPos()
					return probe.TestResult{Errors: fmt.Sprintf("unexpected element <%s> line %d", el.Name.Local, line)}
				}
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if roots == 0 {
		return probe.TestResult{Errors: "no ossec_config element"}
	}
	return probe.TestResult{Status: true}
}
