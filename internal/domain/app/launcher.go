package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

const ptyDrainTimeout = 2 * time.Second

// Process is a running child launched by a Launcher
type Process interface {
	Pid() int
	// Wait blocks until the process exits. A process killed by a signal
	// reports 128+signal with a nil error; err is set only when the exit
	// status could not be read.
	Wait() (exitCode int, err error)
	Signal(sig os.Signal) error
	Kill() error
	// Output returns the most recent combined stdout/stderr
	Output() []byte
}

// Launcher spawns application processes
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec, env []string) (Process, error)
}

// ExecLauncher starts programs with os/exec, optionally attached to a
// pseudo-terminal for programs that refuse to run without one
type ExecLauncher struct {
	WorkDir string
	UsePTY  bool
	LogSize int
	logger  *zap.Logger
}

// NewExecLauncher creates a launcher rooted at workDir
func NewExecLauncher(workDir string, usePTY bool, logSize int, logger *zap.Logger) *ExecLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecLauncher{
		WorkDir: workDir,
		UsePTY:  usePTY,
		LogSize: logSize,
		logger:  logger,
	}
}

// Launch starts the program. The child outlives ctx; only the spawn
// itself is bounded by it.
func (l *ExecLauncher) Launch(ctx context.Context, spec LaunchSpec, env []string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	program, err := exec.LookPath(spec.Program)
	if err != nil {
		return nil, fmt.Errorf("program not found: %w", err)
	}

	if l.WorkDir != "" {
		if err := os.MkdirAll(l.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare working directory: %w", err)
		}
	}

	cmd := exec.Command(program, spec.Args...)
	cmd.Dir = l.WorkDir
	cmd.Env = env
	cmd.WaitDelay = 2 * time.Second

	out := NewLogBuffer(l.LogSize)
	proc := &execProcess{cmd: cmd, out: out, group: !l.UsePTY}

	if l.UsePTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start PTY: %w", err)
		}
		proc.ptmx = ptmx
		proc.copied = make(chan struct{})
		go proc.readPTY(l.logger)
	} else {
		cmd.Stdout = out
		cmd.Stderr = out
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
	}

	return proc, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	copied chan struct{}
	out    *LogBuffer

	// group is set when the child leads its own process group
	group bool
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if p.ptmx != nil {
		// Drain what the child left in the terminal. Descendants may keep
		// it open, so the wait is bounded.
		select {
		case <-p.copied:
		case <-time.After(ptyDrainTimeout):
		}
		p.ptmx.Close()
	}

	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
	}
	return -1, err
}

// Signal delivers sig to the whole process group when there is one, so
// helper processes spawned by the application go down with it
func (p *execProcess) Signal(sig os.Signal) error {
	if s, ok := sig.(syscall.Signal); ok && p.group {
		return syscall.Kill(-p.cmd.Process.Pid, s)
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

func (p *execProcess) Output() []byte {
	return p.out.Bytes()
}

// readPTY drains the terminal into the log buffer until the child exits
func (p *execProcess) readPTY(logger *zap.Logger) {
	defer close(p.copied)

	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.out.Write(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				logger.Debug("pty read ended", zap.Error(err))
			}
			return
		}
	}
}
