package executor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Operation is one declarative remote action rendered to a POSIX shell command.
type Operation interface {
	Kind() string
	Describe() string
	Render() (string, error)
}

// Inputter is implemented by operations that stream data to the command's
// stdin. The data follows the become password line, if any.
type Inputter interface {
	Input() string
}

var (
	ErrInvalidName  = errors.New("invalid service or package name")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidPath  = errors.New("invalid path")
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9@._+-]*$`)

// ServiceState is the desired state of a system service.
type ServiceState string

const (
	Started   ServiceState = "started"
	Stopped   ServiceState = "stopped"
	Restarted ServiceState = "restarted"
	Reloaded  ServiceState = "reloaded"
)

// PackageState is the desired state of a system package.
type PackageState string

const (
	Present PackageState = "present"
	Latest  PackageState = "latest"
)

// Shell runs a raw command.
type Shell struct {
	Command string
}

func (s Shell) Kind() string     { return "shell" }
func (s Shell) Describe() string { return "shell " + s.Command }
func (s Shell) Render() (string, error) {
	if strings.TrimSpace(s.Command) == "" {
		return "", errors.New("empty shell command")
	}
	return s.Command, nil
}

// Service ensures a service is in the requested state.
type Service struct {
	Name  string
	State ServiceState
}

func (s Service) Kind() string     { return "service" }
func (s Service) Describe() string { return fmt.Sprintf("service %s %s", s.Name, s.State) }
func (s Service) Render() (string, error) {
	if !nameRe.MatchString(s.Name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, s.Name)
	}
	n := s.Name
	switch s.State {
	case Started:
		return fmt.Sprintf("service %s status >/dev/null 2>&1 || service %s start", n, n), nil
	case Stopped:
		return fmt.Sprintf("if service %s status >/dev/null 2>&1; then service %s stop; fi", n, n), nil
	case Restarted:
		return fmt.Sprintf("service %s restart", n), nil
	case Reloaded:
		return fmt.Sprintf("service %s reload", n), nil
	default:
		return "", fmt.Errorf("%w: service state %q", ErrInvalidState, s.State)
	}
}

// Package ensures an apt package is installed or at its latest version.
type Package struct {
	Name        string
	State       PackageState
	UpdateCache bool
}

const aptInstall = "DEBIAN_FRONTEND=noninteractive apt-get install -y -q "

func (p Package) Kind() string { return "package" }
func (p Package) Describe() string {
	d := fmt.Sprintf("package %s %s", p.Name, p.State)
	if p.UpdateCache {
		d += " (update cache)"
	}
	return d
}
func (p Package) Render() (string, error) {
	if !nameRe.MatchString(p.Name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, p.Name)
	}
	var cmd string
	switch p.State {
	case Present:
		cmd = fmt.Sprintf("dpkg -s %s >/dev/null 2>&1 || %s%s", p.Name, aptInstall, p.Name)
	case Latest:
		cmd = aptInstall + p.Name
	default:
		return "", fmt.Errorf("%w: package state %q", ErrInvalidState, p.State)
	}
	if p.UpdateCache {
		cmd = "apt-get update -q && " + cmd
	}
	return cmd, nil
}

// File writes Content to Path atomically, creating parent directories. The
// content is streamed on stdin after a marker line, so its size is not bound
// by the command line length. Lines before the marker, such as a become
// password sudo did not ask for, are discarded.
type File struct {
	Path    string
	Content string
	Mode    uint32
}

const fileMarker = "--probemanager-file--"

// base64 lines are wrapped at this width on stdin.
const base64LineWidth = 76

func (f File) Kind() string     { return "file" }
func (f File) Describe() string { return "file " + f.Path }
func (f File) Render() (string, error) {
	if !path.IsAbs(f.Path) || path.Clean(f.Path) != f.Path {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, f.Path)
	}
	mode := f.Mode
	if mode == 0 {
		mode = 0644
	}
	tmp := f.Path + ".tmp"
	skip := Quote("f;/^" + fileMarker + "$/{f=1}")
	return fmt.Sprintf("mkdir -p %s && awk %s | base64 -d > %s && chmod %04o %s && mv -f %s %s",
		Quote(path.Dir(f.Path)), skip, Quote(tmp), mode, Quote(tmp), Quote(tmp), Quote(f.Path)), nil
}

func (f File) Input() string {
	encoded := base64.StdEncoding.EncodeToString([]byte(f.Content))
	var b strings.Builder
	b.Grow(len(fileMarker) + len(encoded) + len(encoded)/base64LineWidth + 2)
	b.WriteString(fileMarker + "\n")
	for len(encoded) > base64LineWidth {
		b.WriteString(encoded[:base64LineWidth] + "\n")
		encoded = encoded[base64LineWidth:]
	}
	b.WriteString(encoded + "\n")
	return b.String()
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
