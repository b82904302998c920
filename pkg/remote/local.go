package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Minute

// Local runs commands with sh on the current machine.
type Local struct {
	// Shell defaults to /bin/sh.
	Shell string
	// Timeout bounds each command; zero means DefaultTimeout.
	Timeout time.Duration
}

func (l Local) Run(ctx context.Context, command string) (string, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell, "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timeout after %v", timeout)
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
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

func (Local) Close() error {
	return nil
}

func (Local) String() string {
	return "local"
}
