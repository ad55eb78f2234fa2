package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/GriffinCanCode/appshare/internal/shared/command"
)

// ErrNoWindow is returned when an instance has no visible window yet
var ErrNoWindow = errors.New("no visible window")

// Target is what a streamer captures. A zero PID means the whole display.
type Target struct {
	Room string
	PID  int
}

// Grabber takes one still image of a target
type Grabber interface {
	Grab(ctx context.Context, target Target, quality int) ([]byte, error)
}

// X11Grabber captures through ImageMagick's import, locating application
// windows with xdotool
type X11Grabber struct {
	runner command.Runner
	format string
}

// NewX11Grabber creates a grabber producing images in format (jpeg, png)
func NewX11Grabber(runner command.Runner, format string) *X11Grabber {
	if format == "" {
		format = "jpeg"
	}
	return &X11Grabber{runner: runner, format: format}
}

func (g *X11Grabber) Grab(ctx context.Context, target Target, quality int) ([]byte, error) {
	window := "root"
	if target.PID > 0 {
		w, err := g.window(ctx, target.PID)
		if err != nil {
			return nil, err
		}
		window = w
	}

	args := []string{"-window", window, "-quality", strconv.Itoa(quality), g.format + ":-"}
	img, err := g.runner.Run(ctx, "import", args, nil)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", window, err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("capture %s: empty image", window)
	}
	return img, nil
}

// window returns the first visible window owned by pid
func (g *X11Grabber) window(ctx context.Context, pid int) (string, error) {
	out, err := g.runner.Run(ctx, "xdotool", []string{"search", "--onlyvisible", "--pid", strconv.Itoa(pid)}, nil)
	if err != nil {
		// xdotool exits 1 when nothing matches
		return "", fmt.Errorf("%w for pid %d: %v", ErrNoWindow, pid, err)
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		if w := string(bytes.TrimSpace(line)); w != "" {
			return w, nil
		}
	}
	return "", fmt.Errorf("%w for pid %d", ErrNoWindow, pid)
}
