package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures SSHDialer.
type SSHConfig struct {
	KnownHostsFile  string        `yaml:"knownHostsFile" json:"knownHostsFile"`
	DialTimeout     time.Duration `yaml:"dialTimeout" json:"dialTimeout"`
	BreakerFailures uint32        `yaml:"breakerFailures" json:"breakerFailures"`
	BreakerTimeout  time.Duration `yaml:"breakerTimeout" json:"breakerTimeout"`
}

// SSHDialer dials probe hosts with public key auth. Each host address has its
// own circuit breaker so a dead host fails fast without hammering it.
type SSHDialer struct {
	cfg      SSHConfig
	hostKeys ssh.HostKeyCallback
	readFile func(string) ([]byte, error)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewSSHDialer(cfg SSHConfig) (*SSHDialer, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKeys = cb
	}
	return &SSHDialer{
		cfg:      cfg,
		hostKeys: hostKeys,
		readFile: os.ReadFile,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}, nil
}

func (d *SSHDialer) breaker(addr string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[addr]
	if !ok {
		failures := d.cfg.BreakerFailures
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ssh-" + addr,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     d.cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
		})
		d.breakers[addr] = cb
	}
	return cb
}

func (d *SSHDialer) publicKeyAuth(keyFile string) (ssh.AuthMethod, error) {
	if keyFile == "" {
		return nil, errors.New("no ssh private key configured for target")
	}
	key, err := d.readFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func (d *SSHDialer) Dial(ctx context.Context, t Target) (Conn, error) {
	auth, err := d.publicKeyAuth(t.KeyFile)
	if err != nil {
		return nil, err
	}
	clientConfig := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: d.hostKeys,
		Timeout:         d.cfg.DialTimeout,
		BannerCallback:  func(string) error { return nil },
	}
	addr := t.Addr()
	res, err := d.breaker(addr).Execute(func() (any, error) {
		return dialContext(ctx, addr, clientConfig)
	})
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	return &sshConn{client: res.(*ssh.Client)}, nil
}

func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: cfg.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Run(ctx context.Context, cmd string, stdin io.Reader) (Output, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}
	if err := sess.Start(cmd); err != nil {
		return Output{}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return Output{}, ctx.Err()
	case err := <-done:
		out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("wait command: %w", err)
		}
		return out, nil
	}
}

func (c *sshConn) Close() error {
	return c.client.Close()
}
