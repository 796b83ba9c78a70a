// Package bro implements the Bro network monitor family.
package bro

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/andrej220/probemanager/internal/probe"
)

const (
	Type      = "Bro"
	ConfPath  = "/etc/bro/node.cfg"
	RulesPath = "/etc/bro/site/probemanager.sig"
)

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

// DeployRules installs the signature file and lets broctl push it to the
// cluster nodes.
func (p *Probe) DeployRules(ctx context.Context) executor.Result {
	if p.Rec.Rules == "" {
		return executor.Failed(nil, executor.KindConfig, errors.New("no rules to deploy"))
	}
	return p.Run(ctx,
		executor.File{Path: RulesPath, Content: p.Rec.Rules, Mode: 0644},
		executor.Shell{Command: "broctl deploy"},
	)
}

// Configuration is a broctl node.cfg document.
type Configuration struct {
	rec *probe.ConfigurationRecord
}

func (c Configuration) Record() *probe.ConfigurationRecord { return c.rec }

// Test parses node.cfg. Every section must define a node type.
func (c Configuration) Test(context.Context) probe.TestResult {
	var (
		errs     []string
		sections []string
		section  string
		typed    = make(map[string]bool)
	)
	sc := bufio.NewScanner(strings.NewReader(c.rec.Content))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") && len(line) > 2:
			section = strings.TrimSpace(line[1 : len(line)-1])
			sections = append(sections, section)
		case strings.Contains(line, "=") && section != "":
			key, _, _ := strings.Cut(line, "=")
			key = strings.TrimSpace(key)
			if key == "" {
				errs = append(errs, fmt.Sprintf("syntax error line %d", n))
				continue
			}
			if key == "type" {
				typed[section] = true
			}
		default:
			errs = append(errs, fmt.Sprintf("syntax error line %d", n))
		}
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(sections) == 0 && len(errs) == 0 {
		errs = append(errs, "no node defined")
	}
	for _, s := range sections {
		if !typed[s] {
			errs = append(errs, fmt.Sprintf("node %s has no type", s))
		}
	}
	if len(errs) > 0 {
		return probe.TestResult{Errors: strings.Join(errs, "; ")}
	}
	return probe.TestResult{Status: true}
}
