// Package families registers every probe family with a registry.
package families

import (
	"github.com/andrej220/probemanager/internal/families/bro"
	"github.com/andrej220/probemanager/internal/families/ossec"
	"github.com/andrej220/probemanager/internal/families/suricata"
	"github.com/andrej220/probemanager/internal/probe"
)

// RegisterAll must be called once at startup.
func RegisterAll(reg *probe.Registry) {
	reg.Register(suricata.Type, suricata.New)
	reg.Register(bro.Type, bro.New)
	reg.Register(ossec.Type, ossec.New)
	reg.Register(ossec.AgentSubtype, ossec.NewAgent)
}

// NewRegistry returns a registry holding every family.
func NewRegistry() *probe.Registry {
	reg := probe.NewRegistry()
	RegisterAll(reg)
	return reg
}
