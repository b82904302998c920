package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/olimci/tenkai/pkg/utils/fileutils"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const envAuthSock = "SSH_AUTH_SOCK"

// SSHConfig describes how to reach a remote host.
type SSHConfig struct {
	Host Host
	// KeyFile is a private key used for public key auth. When empty the
	// ssh-agent at $SSH_AUTH_SOCK is used.
	KeyFile string
	// KnownHosts is the known_hosts file used to verify the host key.
	KnownHosts string
	// Insecure skips host key verification.
	Insecure bool
	// DialTimeout bounds connection setup.
	DialTimeout time.Duration
	// Timeout bounds each command; zero means DefaultTimeout.
	Timeout time.Duration
}

// SSH runs commands over a single SSH connection, one session per command.
type SSH struct {
	host    Host
	client  *ssh.Client
	agent   net.Conn
	timeout time.Duration
}

func DialSSH(ctx context.Context, cfg SSHConfig) (*SSH, error) {
	if cfg.Host.IsLocal() {
		return nil, fmt.Errorf("ssh: host is empty")
	}

	user := cfg.Host.User
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		return nil, fmt.Errorf("ssh %s: no user given and $USER is empty", cfg.Host)
	}

	auth, agentConn, err := authMethods(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", cfg.Host, err)
	}

	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		closeQuietly(agentConn)
		return nil, fmt.Errorf("ssh %s: %w", cfg.Host, err)
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         dialTimeout,
	}

	addr := cfg.Host.Addr()
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeQuietly(agentConn)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		closeQuietly(agentConn)
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &SSH{
		host:    cfg.Host,
		client:  ssh.NewClient(c, chans, reqs),
		agent:   agentConn,
		timeout: cfg.Timeout,
	}, nil
}

func (s *SSH) Run(ctx context.Context, command string) (string, error) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session on %s: %w", s.host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = runUntilDone(ctx, func() error {
		return session.Run(command)
	}, func() {
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
	})
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timeout after %v", timeout)
	}

	if err != nil {
		code := -1
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitStatus()
		}
		return "", &CommandError{
			Command:  command,
			Output:   stderr.String(),
			ExitCode: code,
			Err:      err,
		}
	}

	return strings.TrimRight(stdout.String(), "\n"), nil
}

// runUntilDone calls run and returns its error. If ctx ends first, stop is
// called to interrupt run and the context error is returned once run has
// exited, so run's output buffers are no longer written to.
func runUntilDone(ctx context.Context, run func() error, stop func()) error {
	done := make(chan error, 1)
	go func() {
		done <- run()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		stop()
		<-done
		return ctx.Err()
	}
}

func (s *SSH) Close() error {
	closeQuietly(s.agent)
	return s.client.Close()
}

func (s *SSH) String() string {
	return s.host.String()
}

func authMethods(keyFile string) ([]ssh.AuthMethod, net.Conn, error) {
	if path := strings.TrimSpace(keyFile); path != "" {
		abs, err := fileutils.AbsPath(path)
		if err != nil {
			return nil, nil, err
		}
		pem, err := os.ReadFile(abs)
		if err != nil {
			return nil, nil, fmt.Errorf("read key %s: %w", abs, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, nil, fmt.Errorf("parse key %s: %w", abs, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
	}

	sock := os.Getenv(envAuthSock)
	if sock == "" {
		return nil, nil, fmt.Errorf("no key file configured and %s is not set", envAuthSock)
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to ssh-agent: %w", err)
	}
	client := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)}, conn, nil
}

func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := strings.TrimSpace(cfg.KnownHosts)
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	abs, err := fileutils.AbsPath(path)
	if err != nil {
		return nil, err
	}

	callback, err := knownhosts.New(abs)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", abs, err)
	}
	return callback, nil
}

func closeQuietly(c net.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
