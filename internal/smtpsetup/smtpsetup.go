// Package smtpsetup records the SMTP server used for notifications: it adds
// an smtp section to conf.yaml and stores the password sealed next to it.
package smtpsetup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andrej220/probemanager/internal/secret"
	"github.com/andrej220/probemanager/pkg/config"
	"github.com/andrej220/probemanager/pkg/config/filestore"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	ConfFile     = "conf.yaml"
	PasswordFile = "password_email.txt"
	KeyFile      = "secret.key"
)

var ErrAlreadyConfigured = errors.New("smtp section already present")

var validate = validator.New()

// Prompter asks the operator for the SMTP settings.
type Prompter struct {
	In       *bufio.Reader
	Out      io.Writer
	Password func() (string, error)
}

func (p *Prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.Out, "%s : ", label)
	line, err := p.In.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return strings.TrimSpace(line), nil
}

// Ask prompts for every setting. The password is returned separately so it
// never reaches conf.yaml.
func (p *Prompter) Ask() (config.SMTPConfig, string, error) {
	var smtp config.SMTPConfig
	fmt.Fprintln(p.Out, "Server SMTP :")
	var err error
	if smtp.Host, err = p.ask("host"); err != nil {
		return smtp, "", err
	}
	port, err := p.ask("port")
	if err != nil {
		return smtp, "", err
	}
	if smtp.Port, err = strconv.Atoi(port); err != nil {
		return smtp, "", fmt.Errorf("port %q: %w", port, err)
	}
	if smtp.User, err = p.ask("user"); err != nil {
		return smtp, "", err
	}
	fmt.Fprint(p.Out, "password : ")
	password, err := p.Password()
	fmt.Fprintln(p.Out)
	if err != nil {
		return smtp, "", fmt.Errorf("read password: %w", err)
	}
	if smtp.From, err = p.ask("default from email"); err != nil {
		return smtp, "", err
	}
	tls, err := p.ask("The SMTP host use TLS ? (true/false)")
	if err != nil {
		return smtp, "", err
	}
	if smtp.TLS, err = strconv.ParseBool(tls); err != nil {
		return smtp, "", fmt.Errorf("tls %q: %w", tls, err)
	}
	return smtp, password, nil
}

// Write validates smtp, seals password with the key in dir (created when
// missing) and appends the smtp section to dir/conf.yaml.
func Write(dir string, smtp config.SMTPConfig, password string) error {
	confPath := filepath.Join(dir, ConfFile)
	smtp.PasswordFile = filepath.Join(dir, PasswordFile)
	if err := validate.Struct(smtp); err != nil {
		return fmt.Errorf("smtp settings: %w", err)
	}

	existing, err := os.ReadFile(confPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(existing, &top); err != nil {
		return fmt.Errorf("parse %s: %w", confPath, err)
	}
	if _, ok := top["smtp"]; ok {
		return fmt.Errorf("%s: %w", confPath, ErrAlreadyConfigured)
	}

	box, err := loadOrCreateKey(filepath.Join(dir, KeyFile))
	if err != nil {
		return err
	}
	if err := box.WriteSealedFile(smtp.PasswordFile, password); err != nil {
		return err
	}

	section, err := yaml.Marshal(struct {
		SMTP config.SMTPConfig `yaml:"smtp"`
	}{smtp})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(confPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		section = append([]byte("\n"), section...)
	}
	_, err = f.Write(section)
	return err
}

func loadOrCreateKey(path string) (*secret.Box, error) {
	box, err := secret.FromFile(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return box, err
	}
	key, err := secret.NewKey()
	if err != nil {
		return nil, err
	}
	if err := filestore.WriteSecureFile(path, []byte(key+"\n")); err != nil {
		return nil, fmt.Errorf("write key %s: %w", path, err)
	}
	return secret.New(key)
}
