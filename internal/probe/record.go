// Package probe defines the probe record, the lifecycle every probe family
// implements and the registry resolving a record to its family.
package probe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrej220/probemanager/internal/executor"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultRemoteUser   = "admin"
	DefaultRemotePort   = 22
	DefaultBecomeMethod = "sudo"
	DefaultBecomeUser   = "root"
)

var (
	ErrUnsupportedOS = errors.New("unsupported operating system")
	ErrNotHydrated   = errors.New("record reference not loaded")
)

var validate = validator.New()

// helperPackages maps a supported OS name to the package installed before
// any probe package.
var helperPackages = map[string]string{
	"debian": "apt-utils",
}

// OSSupported is an operating system a probe may run on.
type OSSupported struct {
	ID   string `bson:"_id" json:"id" yaml:"id"`
	Name string `bson:"name" json:"name" yaml:"name" validate:"required"`
}

// SSHKey references a private key file on the manager host.
type SSHKey struct {
	ID   string `bson:"_id" json:"id" yaml:"id"`
	Name string `bson:"name" json:"name" yaml:"name" validate:"required"`
	File string `bson:"file" json:"-" yaml:"file" validate:"required"`
}

// ConfigurationRecord is a stored configuration document for one family.
type ConfigurationRecord struct {
	ID      string `bson:"_id" json:"id" yaml:"id"`
	Name    string `bson:"name" json:"name" yaml:"name" validate:"required"`
	Type    string `bson:"type" json:"type" yaml:"type"`
	Content string `bson:"content" json:"content" yaml:"content"`
}

// Record is a persisted probe. OS, SSHKey and Configuration are references
// loaded by the store and are never persisted with the record.
type Record struct {
	ID               string     `bson:"_id" json:"id" yaml:"id"`
	Name             string     `bson:"name" json:"name" yaml:"name" validate:"required"`
	Description      string     `bson:"description" json:"description" yaml:"description"`
	CreatedDate      time.Time  `bson:"created_date" json:"createdDate" yaml:"createdDate"`
	RulesUpdatedDate *time.Time `bson:"rules_updated_date,omitempty" json:"rulesUpdatedDate,omitempty" yaml:"rulesUpdatedDate,omitempty"`
	Host             string     `bson:"host" json:"host" yaml:"host" validate:"required"`
	OSID             string     `bson:"os_id" json:"osId" yaml:"osId"`
	Type             string     `bson:"type" json:"type" yaml:"type" validate:"required"`
	Subtype          string     `bson:"subtype,omitempty" json:"subtype,omitempty" yaml:"subtype,omitempty"`
	SecureDeployment bool       `bson:"secure_deployment" json:"secureDeployment" yaml:"secureDeployment"`
	ScheduledEnabled bool       `bson:"scheduled_enabled" json:"scheduledEnabled" yaml:"scheduledEnabled"`
	ScheduledCrontab string     `bson:"scheduled_crontab,omitempty" json:"scheduledCrontab,omitempty" yaml:"scheduledCrontab,omitempty"`
	RemoteUser       string     `bson:"remote_user" json:"remoteUser" yaml:"remoteUser" validate:"required"`
	RemotePort       int        `bson:"remote_port" json:"remotePort" yaml:"remotePort" validate:"min=1,max=65535"`
	SSHKeyID         string     `bson:"ssh_key_id" json:"sshKeyId" yaml:"sshKeyId"`
	Become           bool       `bson:"become" json:"become" yaml:"become"`
	BecomeMethod     string     `bson:"become_method" json:"becomeMethod" yaml:"becomeMethod"`
	BecomeUser       string     `bson:"become_user" json:"becomeUser" yaml:"becomeUser"`
	BecomePass       string     `bson:"become_pass,omitempty" json:"-" yaml:"becomePass,omitempty"`
	ConfigurationID  string     `bson:"configuration_id,omitempty" json:"configurationId,omitempty" yaml:"configurationId,omitempty"`
	Rules            string     `bson:"rules,omitempty" json:"-" yaml:"rules,omitempty"`

	OS            *OSSupported         `bson:"-" json:"os,omitempty" yaml:"-"`
	SSHKey        *SSHKey              `bson:"-" json:"-" yaml:"-"`
	Configuration *ConfigurationRecord `bson:"-" json:"configuration,omitempty" yaml:"-"`
}

// NewRecord returns a record carrying the documented defaults.
// Decoding into it keeps every default the document does not set.
func NewRecord() Record {
	return Record{
		SecureDeployment: true,
		RemoteUser:       DefaultRemoteUser,
		RemotePort:       DefaultRemotePort,
		BecomeMethod:     DefaultBecomeMethod,
		BecomeUser:       DefaultBecomeUser,
	}
}

// Key is the registry key this record resolves to.
func (r *Record) Key() string { return Key(r.Type, r.Subtype) }

func (r *Record) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid probe %q: %w", r.Name, err)
	}
	return nil
}

// Target builds the remote target. It fails if the record is invalid or its
// ssh key reference was not loaded.
func (r *Record) Target() (executor.Target, error) {
	if err := r.Validate(); err != nil {
		return executor.Target{}, err
	}
	t := executor.Target{
		Host: r.Host,
		Port: r.RemotePort,
		User: r.RemoteUser,
		Become: executor.Become{
			Enabled:  r.Become,
			Method:   r.BecomeMethod,
			User:     r.BecomeUser,
			Password: r.BecomePass,
		},
	}
	if r.SSHKeyID != "" {
		if r.SSHKey == nil {
			return executor.Target{}, fmt.Errorf("ssh key %s of probe %q: %w", r.SSHKeyID, r.Name, ErrNotHydrated)
		}
		t.KeyFile = r.SSHKey.File
	}
	if err := t.Validate(); err != nil {
		return executor.Target{}, err
	}
	return t, nil
}

// HelperPackage returns the package-manager helper for the probe's OS.
// A record without OS reference is assumed to run debian.
func (r *Record) HelperPackage() (string, error) {
	name := "debian"
	if r.OS != nil {
		name = strings.ToLower(r.OS.Name)
	}
	helper, ok := helperPackages[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOS, name)
	}
	return helper, nil
}
