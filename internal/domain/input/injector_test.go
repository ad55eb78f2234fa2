package input

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

type call struct {
	name  string
	args  []string
	stdin string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	window string
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args, stdin: string(stdin)})
	if len(args) > 0 && args[0] == "search" {
		return []byte(r.window + "\n"), nil
	}
	return nil, r.err
}

func (r *fakeRunner) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func TestDesktopMouse(t *testing.T) {
	tests := []struct {
		name  string
		event types.InputEvent
		want  []string
	}{
		{"click defaults to left button", types.InputEvent{Kind: types.InputMouse, X: 10, Y: 20},
			[]string{"mousemove", "10", "20", "click", "1"}},
		{"right click", types.InputEvent{Kind: types.InputMouse, Action: "click", X: 1, Y: 2, Button: 3},
			[]string{"mousemove", "1", "2", "click", "3"}},
		{"move", types.InputEvent{Kind: types.InputMouse, Action: "mousemove", X: 5, Y: 6},
			[]string{"mousemove", "5", "6"}},
		{"down", types.InputEvent{Kind: types.InputMouse, Action: "down", X: 5, Y: 6},
			[]string{"mousemove", "5", "6", "mousedown", "1"}},
		{"up", types.InputEvent{Kind: types.InputMouse, Action: "mouseup", X: 5, Y: 6},
			[]string{"mousemove", "5", "6", "mouseup", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			inj := NewFactory(runner, nil).ForProcess(0)

			require.NoError(t, inj.Inject(context.Background(), tt.event))
			assert.Equal(t, call{name: "xdotool", args: tt.want}, runner.last())
		})
	}
}

func TestWindowTargeting(t *testing.T) {
	runner := &fakeRunner{window: "41943047"}
	inj := NewFactory(runner, nil).ForProcess(1234)
	ctx := context.Background()

	require.NoError(t, inj.Inject(ctx, types.InputEvent{Kind: types.InputMouse, X: 3, Y: 4}))
	assert.Equal(t, []string{"search", "--onlyvisible", "--pid", "1234"}, runner.calls[0].args)
	assert.Equal(t, []string{"mousemove", "--window", "41943047", "3", "4", "click", "1"}, runner.last().args)

	require.NoError(t, inj.Inject(ctx, types.InputEvent{Kind: types.InputKeyboard, Key: "s", Modifiers: []string{"Ctrl"}}))
	assert.Equal(t, []string{"key", "--clearmodifiers", "--window", "41943047", "ctrl+s"}, runner.last().args)
}

func TestKeyboard(t *testing.T) {
	runner := &fakeRunner{}
	inj := NewFactory(runner, nil).ForProcess(0)
	ctx := context.Background()

	require.NoError(t, inj.Inject(ctx, types.InputEvent{Kind: types.InputKeyboard, Key: "Return"}))
	assert.Equal(t, []string{"key", "--clearmodifiers", "Return"}, runner.last().args)

	require.NoError(t, inj.Inject(ctx, types.InputEvent{Kind: types.InputKeyboard, Key: "t", Modifiers: []string{"ctrl", "shift"}}))
	assert.Equal(t, []string{"key", "--clearmodifiers", "ctrl+shift+t"}, runner.last().args)

	err := inj.Inject(ctx, types.InputEvent{Kind: types.InputKeyboard, Key: "a;rm -rf"})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))

	err = inj.Inject(ctx, types.InputEvent{Kind: types.InputKeyboard, Key: "a", Modifiers: []string{"hyper"}})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestScroll(t *testing.T) {
	runner := &fakeRunner{}
	inj := NewFactory(runner, nil).ForProcess(0)
	ctx := context.Background()

	require.NoError(t, inj.Inject(ctx, types.InputEvent{Kind: types.InputScroll, X: 7, Y: 8, DeltaY: -120}))
	assert.Equal(t, []string{"mousemove", "7", "8", "click", "4"}, runner.last().args)

	require.NoError(t, inj.Inject(ctx, types.InputEvent{Kind: types.InputScroll, X: 7, Y: 8, DeltaY: 3}))
	assert.Equal(t, []string{"mousemove", "7", "8", "click", "5"}, runner.last().args)

	err := inj.Inject(ctx, types.InputEvent{Kind: types.InputScroll})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestClipboard(t *testing.T) {
	runner := &fakeRunner{}
	inj := NewFactory(runner, nil).ForProcess(0)
	ctx := context.Background()

	require.NoError(t, inj.Inject(ctx, types.InputEvent{Kind: types.InputClipboard, Text: "hello world"}))
	c := runner.last()
	assert.Equal(t, "xclip", c.name)
	assert.Equal(t, []string{"-selection", "clipboard", "-t", "UTF8_STRING"}, c.args)
	assert.Equal(t, "hello world", c.stdin)

	html := `<html><body><p>hi</p><script>alert(1)</script></body></html>`
	require.NoError(t, inj.Inject(ctx, types.InputEvent{Kind: types.InputClipboard, Text: html}))
	c = runner.last()
	assert.Equal(t, []string{"-selection", "clipboard", "-t", "text/html"}, c.args)
	assert.Contains(t, c.stdin, "<p>hi</p>")
	assert.NotContains(t, c.stdin, "script")
}

func TestInjectErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("xdotool: cannot open display")}
	inj := NewFactory(runner, nil).ForProcess(0)
	ctx := context.Background()

	err := inj.Inject(ctx, types.InputEvent{Kind: types.InputMouse, X: 1, Y: 1})
	assert.ErrorContains(t, err, "cannot open display")

	err = inj.Inject(ctx, types.InputEvent{Kind: "gamepad"})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))

	err = inj.Inject(ctx, types.InputEvent{Kind: types.InputMouse, X: -1, Y: 0})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}
