package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Executor runs a shell command on a target host and returns its stdout.
type Executor interface {
	Run(ctx context.Context, command string) (string, error)
}

// CommandError reports a command that ran but did not succeed.
type CommandError struct {
	Command  string
	Output   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	detail := strings.TrimSpace(e.Output)
	if detail == "" {
		return fmt.Sprintf("run %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("run %q: %v: %s", e.Command, e.Err, detail)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError reports whether err came from a command exiting non-zero.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// Host is a parsed "user@host:port" address.
type Host struct {
	User string
	Name string
	Port int
}

func (h Host) IsLocal() bool {
	return h.Name == ""
}

func (h Host) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Name, strconv.Itoa(port))
}

func (h Host) String() string {
	if h.IsLocal() {
		return "local"
	}
	var b strings.Builder
	if h.User != "" {
		b.WriteString(h.User)
		b.WriteByte('@')
	}
	b.WriteString(h.Name)
	if h.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(h.Port))
	}
	return b.String()
}

// ParseHost parses "[user@]host[:port]". An empty string or "local" selects
// the local machine.
func ParseHost(raw string) (Host, error) {
	value := strings.TrimSpace(raw)
	if value == "" || value == "local" {
		return Host{}, nil
	}

	var h Host
	if at := strings.LastIndex(value, "@"); at >= 0 {
		h.User = value[:at]
		value = value[at+1:]
		if h.User == "" {
			return Host{}, fmt.Errorf("invalid host %q: empty user", raw)
		}
	}

	if colon := strings.LastIndex(value, ":"); colon >= 0 {
		port, err := strconv.Atoi(value[colon+1:])
		if err != nil || port <= 0 || port > 65535 {
			return Host{}, fmt.Errorf("invalid host %q: bad port", raw)
		}
		h.Port = port
		value = value[:colon]
	}

	if value == "" {
		return Host{}, fmt.Errorf("invalid host %q: empty hostname", raw)
	}
	h.Name = value
	return h, nil
}

// Quote returns s quoted for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./:@%+=,", r):
		default:
			return false
		}
	}
	return true
}

// QuoteAll quotes each argument and joins them with spaces.
func QuoteAll(args ...string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, Quote(a))
	}
	return strings.Join(quoted, " ")
}

// Conn is an Executor holding a connection that must be closed.
type Conn interface {
	Executor
	Close() error
}

// Dial returns a Local executor for local hosts and an SSH connection
// otherwise.
func Dial(ctx context.Context, cfg SSHConfig) (Conn, error) {
	if cfg.Host.IsLocal() {
		return Local{Timeout: cfg.Timeout}, nil
	}
	conn, err := DialSSH(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
