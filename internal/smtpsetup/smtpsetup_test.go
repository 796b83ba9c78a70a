package smtpsetup_test

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andrej220/probemanager/internal/secret"
	"github.com/andrej220/probemanager/internal/smtpsetup"
	"github.com/andrej220/probemanager/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func prompter(input string) *smtpsetup.Prompter {
	return &smtpsetup.Prompter{
		In:       bufio.NewReader(strings.NewReader(input)),
		Out:      io.Discard,
		Password: func() (string, error) { return "s3cret", nil },
	}
}

func TestAsk(t *testing.T) {
	smtp, password, err := prompter("smtp.example.com\n587\nalerts\nalerts@example.com\ntrue\n").Ask()
	require.NoError(t, err)
	assert.Equal(t, config.SMTPConfig{Host: "smtp.example.com", Port: 587, User: "alerts", From: "alerts@example.com", TLS: true}, smtp)
	assert.Equal(t, "s3cret", password)
}

func TestAskRejectsBadInput(t *testing.T) {
	_, _, err := prompter("smtp.example.com\nnot-a-port\n").Ask()
	assert.ErrorContains(t, err, "not-a-port")

	_, _, err = prompter("smtp.example.com\n25\n\nme@example.com\nmaybe\n").Ask()
	assert.ErrorContains(t, err, "maybe")
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, smtpsetup.ConfFile)
	require.NoError(t, os.WriteFile(conf, []byte("server:\n  addr: \":9000\"\n"), 0o600))

	smtp := config.SMTPConfig{Host: "smtp.example.com", Port: 25, From: "pm@example.com"}
	require.NoError(t, smtpsetup.Write(dir, smtp, "s3cret"))

	cfg := config.Default()
	data, err := os.ReadFile(conf)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, ":9000", cfg.Server.Addr)
	require.NotNil(t, cfg.SMTP)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.NotContains(t, string(data), "s3cret")

	info, err := os.Stat(cfg.SMTP.PasswordFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	box, err := secret.FromFile(filepath.Join(dir, smtpsetup.KeyFile))
	require.NoError(t, err)
	plain, err := box.ReadSealedFile(cfg.SMTP.PasswordFile)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	assert.ErrorIs(t, smtpsetup.Write(dir, smtp, "again"), smtpsetup.ErrAlreadyConfigured)
}

func TestWriteValidates(t *testing.T) {
	err := smtpsetup.Write(t.TempDir(), config.SMTPConfig{Host: "smtp.example.com", Port: 25, From: "not-an-email"}, "x")
	assert.Error(t, err)
}
