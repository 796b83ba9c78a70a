// Package suricata implements the Suricata probe family.
package suricata

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/probe"
	"gopkg.in/yaml.v3"
)

const (
	Type      = "Suricata"
	ConfPath  = "/etc/suricata/suricata.yaml"
	RulesPath = "/etc/suricata/rules/probemanager.rules"
)

var errNoRules = errors.New("no rules to deploy")

type Probe struct {
	probe.Base
}

func New(rec *probe.Record, exec executor.Executor) probe.Lifecycle {
	p := &Probe{Base: probe.NewBase(rec, exec, probe.Names{})}
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
	return p.Run(ctx, executor.File{Path: ConfPath, Content: conf.Content, Mode: 0644})
}

// DeployRules writes the rules file and reloads rules in the running engine.
func (p *Probe) DeployRules(ctx context.Context) executor.Result {
	if p.Rec.Rules == "" {
		return executor.Failed(nil, executor.KindConfig, errNoRules)
	}
	return p.Run(ctx,
		executor.File{Path: RulesPath, Content: p.Rec.Rules, Mode: 0644},
		executor.Service{Name: p.Names.Service, State: executor.Reloaded},
	)
}

// Configuration is a suricata.yaml document.
type Configuration struct {
	rec *probe.ConfigurationRecord
}

func (c Configuration) Record() *probe.ConfigurationRecord { return c.rec }

// Test checks that the content is a YAML mapping defining default-rule-path.
func (c Configuration) Test(context.Context) probe.TestResult {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(c.rec.Content), &doc); err != nil {
		return probe.TestResult{Errors: err.Error()}
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return probe.TestResult{Errors: "configuration is not a YAML mapping"}
	}
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "default-rule-path" {
			return probe.TestResult{Status: true}
		}
	}
	return probe.TestResult{Errors: "default-rule-path is not set"}
}
