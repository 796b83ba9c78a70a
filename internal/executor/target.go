package executor

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Become holds privilege escalation parameters. Password is a sealed secret
// and is only opened by the executor right before use.
type Become struct {
	Enabled  bool   `json:"enabled"`
	Method   string `json:"method,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"-"`
}

// Target is the host and credentials a remote operation runs against.
type Target struct {
	Host    string `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port    int    `json:"port" validate:"required,min=1,max=65535"`
	User    string `json:"user" validate:"required"`
	KeyFile string `json:"-"`
	Become  Become `json:"become"`
}

// Validate checks the host/user/port triple.
func (t Target) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid target %s@%s:%d: %w", t.User, t.Host, t.Port, err)
	}
	return nil
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.User + "@" + t.Addr()
}

// wrap applies privilege escalation to cmd. The returned stdin carries the
// become password, if any.
func (b Become) wrap(cmd, password string) (string, string, error) {
	if !b.Enabled {
		return cmd, "", nil
	}
	method := strings.ToLower(b.Method)
	if method == "" {
		method = "sudo"
	}
	if method != "sudo" {
		return "", "", fmt.Errorf("unsupported become method %q", b.Method)
	}
	user := b.User
	if user == "" {
		user = "root"
	}
	wrapped := fmt.Sprintf("sudo -S -p '' -u %s sh -c %s", Quote(user), Quote(cmd))
	if password == "" {
		return wrapped, "", nil
	}
	return wrapped, password + "\n", nil
}
