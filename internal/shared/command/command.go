// Package command runs short-lived helper programs (xdotool, xclip, import)
// against the host display with a bounded wait.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a helper invocation when none is configured
const DefaultTimeout = 5 * time.Second

// Runner executes a program and returns its stdout
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

// ExecRunner runs programs with os/exec
type ExecRunner struct {
	Display string
	Timeout time.Duration
}

// NewExecRunner creates a runner bound to an X display
func NewExecRunner(display string, timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRunner{Display: display, Timeout: timeout}
}

// Run executes name with args, feeding stdin when non-nil
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	if r.Display != "" {
		cmd.Env = append(cmd.Env, "DISPLAY="+r.Display)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out after %v: %w", name, r.Timeout, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	return stdout.Bytes(), nil
}

// Available reports whether name resolves on PATH
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
