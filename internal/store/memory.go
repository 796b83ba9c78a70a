package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andrej220/probemanager/internal/probe"
	"github.com/andrej220/probemanager/pkg/config/filestore"
	"gopkg.in/yaml.v3"
)

// Inventory is the YAML document seeding a Memory store.
type Inventory struct {
	OS             []probe.OSSupported         `yaml:"os"`
	SSHKeys        []probe.SSHKey              `yaml:"sshKeys"`
	Configurations []probe.ConfigurationRecord `yaml:"configurations"`
	Probes         Records                     `yaml:"probes"`
}

// Records decodes each entry on top of probe.NewRecord so omitted fields
// keep their defaults.
type Records []probe.Record

func (r *Records) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: probes must be a list", n.Line)
	}
	out := make(Records, 0, len(n.Content))
	for _, item := range n.Content {
		rec := probe.NewRecord()
		if err := item.Decode(&rec); err != nil {
			return err
		}
		out = append(out, rec)
	}
	*r = out
	return nil
}

// LoadInventory reads an inventory file.
func LoadInventory(path string) (*Inventory, error) {
	var inv Inventory
	if err := filestore.New(path).Load(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Memory is a ProbeStore kept in process memory.
type Memory struct {
	mu      sync.RWMutex
	probes  map[string]*probe.Record
	byName  map[string]string
	os      map[string]probe.OSSupported
	keys    map[string]probe.SSHKey
	configs map[string]probe.ConfigurationRecord
	now     func() time.Time
}

var _ ProbeStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		probes:  make(map[string]*probe.Record),
		byName:  make(map[string]string),
		os:      make(map[string]probe.OSSupported),
		keys:    make(map[string]probe.SSHKey),
		configs: make(map[string]probe.ConfigurationRecord),
		now:     time.Now,
	}
}

// NewMemoryFromInventory builds a store holding every inventory entry.
func NewMemoryFromInventory(inv *Inventory) (*Memory, error) {
	m := NewMemory()
	for _, o := range inv.OS {
		m.os[o.ID] = o
	}
	for _, k := range inv.SSHKeys {
		m.keys[k.ID] = k
	}
	for _, c := range inv.Configurations {
		m.configs[c.ID] = c
	}
	for i := range inv.Probes {
		rec := inv.Probes[i]
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if err := m.Save(context.Background(), &rec); err != nil {
			return nil, fmt.Errorf("probe %q: %w", rec.Name, err)
		}
	}
	return m, nil
}

// Reload replaces the whole content with inv. On error the store is left
// unchanged.
func (m *Memory) Reload(inv *Inventory) error {
	next, err := NewMemoryFromInventory(inv)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes, m.byName = next.probes, next.byName
	m.os, m.keys, m.configs = next.os, next.keys, next.configs
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*probe.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.probes[id]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (m *Memory) GetByName(ctx context.Context, name string) (*probe.Record, bool, error) {
	m.mu.RLock()
	id, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return m.GetByID(ctx, id)
}

// GetAll returns every probe ordered by name.
func (m *Memory) GetAll(_ context.Context) ([]*probe.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*probe.Record, 0, len(m.probes))
	for _, rec := range m.probes {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save inserts or replaces rec. Missing ID and creation date are filled in.
func (m *Memory) Save(_ context.Context, rec *probe.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = rec.Name
	}
	if rec.CreatedDate.IsZero() {
		rec.CreatedDate = m.now().UTC()
	}
	if id, taken := m.byName[rec.Name]; taken && id != rec.ID {
		return fmt.Errorf("%w: %s", ErrDuplicateName, rec.Name)
	}
	if old, ok := m.probes[rec.ID]; ok {
		if err := checkUpdate(old, rec); err != nil {
			return err
		}
		delete(m.byName, old.Name)
	}
	cp := *rec
	cp.OS, cp.SSHKey, cp.Configuration = nil, nil, nil
	m.probes[rec.ID] = &cp
	m.byName[rec.Name] = rec.ID
	return nil
}

func (m *Memory) UpdateRulesDate(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("probe %s: %w", name, ErrNotFound)
	}
	at = at.UTC()
	m.probes[id].RulesUpdatedDate = &at
	return nil
}

func (m *Memory) Hydrate(_ context.Context, rec *probe.Record) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.os[rec.OSID]; ok {
		rec.OS = &o
	}
	if k, ok := m.keys[rec.SSHKeyID]; ok {
		rec.SSHKey = &k
	}
	if c, ok := m.configs[rec.ConfigurationID]; ok {
		rec.Configuration = &c
	}
	return nil
}

// PutConfiguration adds or replaces a configuration document.
func (m *Memory) PutConfiguration(c probe.ConfigurationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[c.ID] = c
}
