// Package input injects client input into the X display with xdotool and
// sets the clipboard with xclip.
package input

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/command"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
	"github.com/GriffinCanCode/appshare/internal/shared/utils"
)

// Scroll buttons in X11
const (
	buttonScrollUp   = 4
	buttonScrollDown = 5
)

// Injector is the input sink for one room. When bound to a process it
// addresses that process's window; otherwise it drives the whole display.
type Injector struct {
	runner    command.Runner
	pid       int
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
}

// Factory creates injectors sharing one runner
type Factory struct {
	runner    command.Runner
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
}

// NewFactory creates an injector factory
func NewFactory(runner command.Runner, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		runner:    runner,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger,
	}
}

// ForProcess returns an injector targeting the window of pid; 0 targets
// the whole display
func (f *Factory) ForProcess(pid int) *Injector {
	return &Injector{
		runner:    f.runner,
		pid:       pid,
		sanitizer: f.sanitizer,
		logger:    f.logger,
	}
}

// Inject delivers one input event
func (i *Injector) Inject(ctx context.Context, e types.InputEvent) error {
	var (
		args []string
		err  error
	)
	switch e.Kind {
	case types.InputMouse:
		args, err = i.mouseArgs(ctx, e)
	case types.InputKeyboard:
		args, err = i.keyArgs(ctx, e)
	case types.InputScroll:
		args, err = i.scrollArgs(ctx, e)
	case types.InputClipboard:
		return i.setClipboard(ctx, e)
	default:
		return apperr.Invalid("input", string(e.Kind), errors.New("unknown input kind"))
	}
	if err != nil {
		return err
	}

	if _, err := i.runner.Run(ctx, "xdotool", args, nil); err != nil {
		return fmt.Errorf("inject %s: %w", e.Kind, err)
	}
	return nil
}

func (i *Injector) mouseArgs(ctx context.Context, e types.InputEvent) ([]string, error) {
	if e.X < 0 || e.Y < 0 {
		return nil, apperr.Invalid("input", "mouse", errors.New("negative coordinates"))
	}
	button := e.Button
	if button == 0 {
		button = 1
	}
	if button < 1 || button > 9 {
		return nil, apperr.Invalid("input", "mouse", fmt.Errorf("button %d out of range", button))
	}

	move, err := i.moveArgs(ctx, e.X, e.Y)
	if err != nil {
		return nil, err
	}
	btn := strconv.Itoa(button)

	switch e.Action {
	case "", "click":
		return append(move, "click", btn), nil
	case "move", "mousemove":
		return move, nil
	case "down", "mousedown":
		return append(move, "mousedown", btn), nil
	case "up", "mouseup":
		return append(move, "mouseup", btn), nil
	default:
		return nil, apperr.Invalid("input", "mouse", fmt.Errorf("unknown action %q", e.Action))
	}
}

func (i *Injector) keyArgs(ctx context.Context, e types.InputEvent) ([]string, error) {
	if err := utils.ValidateKey(e.Key, e.Modifiers); err != nil {
		return nil, apperr.Invalid("input", "keyboard", err)
	}

	chord := make([]string, 0, len(e.Modifiers)+1)
	for _, m := range e.Modifiers {
		chord = append(chord, strings.ToLower(m))
	}
	chord = append(chord, e.Key)

	args := []string{"key", "--clearmodifiers"}
	if i.pid > 0 {
		window, err := i.window(ctx)
		if err != nil {
			return nil, err
		}
		args = append(args, "--window", window)
	}
	return append(args, strings.Join(chord, "+")), nil
}

func (i *Injector) scrollArgs(ctx context.Context, e types.InputEvent) ([]string, error) {
	if e.DeltaY == 0 {
		return nil, apperr.Invalid("input", "scroll", errors.New("zero delta"))
	}
	move, err := i.moveArgs(ctx, e.X, e.Y)
	if err != nil {
		return nil, err
	}
	button := buttonScrollDown
	if e.DeltaY < 0 {
		button = buttonScrollUp
	}
	return append(move, "click", strconv.Itoa(button)), nil
}

// moveArgs positions the pointer, relative to the window when bound
func (i *Injector) moveArgs(ctx context.Context, x, y int) ([]string, error) {
	args := []string{"mousemove"}
	if i.pid > 0 {
		window, err := i.window(ctx)
		if err != nil {
			return nil, err
		}
		args = append(args, "--window", window)
	}
	return append(args, strconv.Itoa(x), strconv.Itoa(y)), nil
}

func (i *Injector) window(ctx context.Context) (string, error) {
	out, err := i.runner.Run(ctx, "xdotool", []string{"search", "--onlyvisible", "--pid", strconv.Itoa(i.pid)}, nil)
	if err != nil {
		return "", fmt.Errorf("no window for pid %d: %w", i.pid, err)
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		if w := string(bytes.TrimSpace(line)); w != "" {
			return w, nil
		}
	}
	return "", fmt.Errorf("no window for pid %d", i.pid)
}

// setClipboard writes text to the display clipboard. HTML is sanitized
// before it reaches any application.
func (i *Injector) setClipboard(ctx context.Context, e types.InputEvent) error {
	if err := utils.ValidateClipboard(e.Text); err != nil {
		return apperr.Invalid("input", "clipboard", err)
	}

	mime := e.MIME
	if mime == "" {
		mime = mimetype.Detect([]byte(e.Text)).String()
	}

	text := e.Text
	target := "UTF8_STRING"
	if strings.HasPrefix(mime, "text/html") {
		text = i.sanitizer.Sanitize(text)
		target = "text/html"
	}

	args := []string{"-selection", "clipboard", "-t", target}
	if _, err := i.runner.Run(ctx, "xclip", args, []byte(text)); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}

	i.logger.Debug("Clipboard updated",
		zap.Int("pid", i.pid),
		zap.String("mime", mime),
		zap.Int("bytes", len(text)))
	return nil
}
