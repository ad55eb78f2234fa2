package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/domain/stream"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	outputs map[string][]byte
	errs    map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})
	if err := r.errs[name]; err != nil {
		return nil, err
	}
	return r.outputs[name], nil
}

type fakeGrabber struct {
	mu     sync.Mutex
	frames [][]byte
	calls  int
	block  chan struct{}
	err    error
}

func (g *fakeGrabber) Grab(ctx context.Context, target Target, quality int) ([]byte, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	if len(g.frames) == 0 {
		return pngHeader, nil
	}
	return g.frames[(n-1)%len(g.frames)], nil
}

func (g *fakeGrabber) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeHub struct {
	mu   sync.Mutex
	msgs []types.Message
	cfg  types.RoomConfig
}

func (h *fakeHub) Publish(ctx context.Context, room string, msg types.Message) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg.Room = room
	h.msgs = append(h.msgs, msg)
	return 1, nil
}

func (h *fakeHub) RoomConfig(ctx context.Context, room string) (types.RoomConfig, error) {
	return h.cfg, nil
}

func (h *fakeHub) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Message(nil), h.msgs...)
}

func TestX11GrabberRootWindow(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{"import": pngHeader}}
	g := NewX11Grabber(runner, "png")

	img, err := g.Grab(context.Background(), Target{Room: types.LiveDesktopRoom}, 70)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, img)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, call{"import", []string{"-window", "root", "-quality", "70", "png:-"}}, runner.calls[0])
}

func TestX11GrabberApplicationWindow(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{
		"xdotool": []byte("\n41943047\n41943050\n"),
		"import":  pngHeader,
	}}
	g := NewX11Grabber(runner, "")

	_, err := g.Grab(context.Background(), Target{Room: "inst_a", PID: 4242}, 80)
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"search", "--onlyvisible", "--pid", "4242"}, runner.calls[0].args)
	assert.Equal(t, []string{"-window", "41943047", "-quality", "80", "jpeg:-"}, runner.calls[1].args)
}

func TestX11GrabberNoWindow(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"xdotool": errors.New("exit status 1")}}
	g := NewX11Grabber(runner, "jpeg")

	_, err := g.Grab(context.Background(), Target{PID: 7}, 80)
	assert.ErrorIs(t, err, ErrNoWindow)
}

func TestEncoders(t *testing.T) {
	_, err := NewEncoder("h264")
	assert.Error(t, err)

	pass, err := NewEncoder("")
	require.NoError(t, err)
	frame, err := pass.Encode(pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", frame.MIME)
	assert.Empty(t, frame.Encoding)

	enc, err := NewEncoder("zstd")
	require.NoError(t, err)
	frame, err = enc.Encode(pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "zstd", frame.Encoding)
	assert.Equal(t, "image/png", frame.MIME)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(frame.Data, nil)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, plain)
}

func TestStreamerSkipsUnchangedFrames(t *testing.T) {
	other := append(append([]byte(nil), pngHeader...), 0x01)
	grabber := &fakeGrabber{frames: [][]byte{pngHeader, pngHeader, other}}
	hub := &fakeHub{}
	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())

	s := NewStreamer(Target{Room: "inst_a"}, types.RoomConfig{FrameRate: 10, Quality: 80}, StreamerOptions{
		Grabber:       grabber,
		Publisher:     hub,
		SkipUnchanged: true,
		Metrics:       metrics,
	})

	ctx := context.Background()
	assert.True(t, s.Capture(ctx))
	assert.False(t, s.Capture(ctx))
	assert.True(t, s.Capture(ctx))

	msgs := hub.Messages()
	require.Len(t, msgs, 2)
	first := msgs[0].Data.(types.StreamPayload)
	second := msgs[1].Data.(types.StreamPayload)
	assert.Equal(t, types.MsgFrame, msgs[0].Type)
	assert.Equal(t, "video", first.Kind)
	assert.Equal(t, "image/png", first.MIME)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CaptureSkipped.WithLabelValues("unchanged")))
}

func TestStreamerReportsGrabErrors(t *testing.T) {
	grabber := &fakeGrabber{err: ErrNoWindow}
	hub := &fakeHub{}

	s := NewStreamer(Target{Room: "inst_a", PID: 1}, types.DefaultRoomConfig(), StreamerOptions{
		Grabber:   grabber,
		Publisher: hub,
		Logger:    zap.NewNop(),
	})

	assert.False(t, s.Capture(context.Background()))
	assert.Empty(t, hub.Messages())
}

func TestStreamerSkipsTickWhileBusy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	grabber := &fakeGrabber{block: make(chan struct{})}
	hub := &fakeHub{}
	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())

	s := NewStreamer(Target{Room: "inst_a"}, types.RoomConfig{FrameRate: 10, Quality: 80}, StreamerOptions{
		Grabber:   grabber,
		Publisher: hub,
		Timeout:   time.Minute,
		Clock:     clock,
		Metrics:   metrics,
	})
	assert.Equal(t, 100*time.Millisecond, s.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(s.Interval())
	require.Eventually(t, func() bool { return grabber.Calls() == 1 }, 5*time.Second, time.Millisecond)

	clock.Advance(s.Interval())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.CaptureSkipped.WithLabelValues("busy")) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, grabber.Calls())

	close(grabber.block)
	require.Eventually(t, func() bool { return len(hub.Messages()) == 1 }, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("streamer did not stop")
	}
}

type fakeAudio struct {
	data []byte
}

func (a *fakeAudio) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(a.data)), nil
}

func (a *fakeAudio) MIME() string { return "audio/L16;rate=44100;channels=2" }

func TestAudioStreamerChunks(t *testing.T) {
	hub := &fakeHub{}
	a := NewAudioStreamer(types.LiveDesktopRoom, 4, &fakeAudio{data: []byte("0123456789")}, hub, nil, nil, nil)

	require.NoError(t, a.Run(context.Background()))

	msgs := hub.Messages()
	require.Len(t, msgs, 3)
	var got []string
	for i, m := range msgs {
		assert.Equal(t, types.MsgAudio, m.Type)
		p := m.Data.(types.StreamPayload)
		assert.Equal(t, uint64(i+1), p.Seq)
		assert.Equal(t, "audio", p.Kind)
		got = append(got, string(p.Data))
	}
	assert.Equal(t, []string{"0123", "4567", "89"}, got)
}

func TestParecSourceMIME(t *testing.T) {
	src := &ParecSource{Rate: 48000}
	assert.Equal(t, "audio/L16;rate=48000;channels=2", src.MIME())
}

func newTestManager(t *testing.T, resolver Resolver, audio AudioSource) (*Manager, *fakeHub, *fakeGrabber) {
	t.Helper()
	hub := &fakeHub{cfg: types.RoomConfig{FrameRate: 50, Quality: 60}}
	grabber := &fakeGrabber{}
	m := NewManager(Config{Timeout: time.Second}, grabber, PassthroughEncoder{}, hub, resolver, audio, nil, zap.NewNop())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, hub, grabber
}

func TestManagerFollowsRoomOccupancy(t *testing.T) {
	var resolved atomic.Int32
	resolver := func(ctx context.Context, room string) (Target, error) {
		resolved.Add(1)
		return Target{PID: 99}, nil
	}
	m, hub, _ := newTestManager(t, resolver, nil)

	m.HandleRoomEvent(stream.RoomEvent{Room: "inst_a", Active: true, Seq: 1})
	require.Eventually(t, func() bool { return len(hub.Messages()) > 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"inst_a"}, m.Active())

	// duplicate and stale events change nothing
	m.HandleRoomEvent(stream.RoomEvent{Room: "inst_a", Active: true, Seq: 1})
	m.HandleRoomEvent(stream.RoomEvent{Room: "inst_a", Active: false, Seq: 0})
	assert.Equal(t, []string{"inst_a"}, m.Active())
	assert.Equal(t, int32(1), resolved.Load())

	m.HandleRoomEvent(stream.RoomEvent{Room: "inst_a", Active: false, Seq: 2})
	assert.Empty(t, m.Active())

	m.HandleRoomEvent(stream.RoomEvent{Room: "inst_a", Active: true, Seq: 1})
	assert.Empty(t, m.Active(), "a late activation must not restart capture")
}

func TestManagerDropsUnresolvableRoom(t *testing.T) {
	resolver := func(ctx context.Context, room string) (Target, error) {
		return Target{}, errors.New("instance not found")
	}
	m, _, grabber := newTestManager(t, resolver, nil)

	m.HandleRoomEvent(stream.RoomEvent{Room: "inst_gone", Active: true, Seq: 1})
	require.Eventually(t, func() bool { return len(m.Active()) == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Zero(t, grabber.Calls())
}

func TestManagerStreamsAudioOnLiveDesktop(t *testing.T) {
	resolver := func(ctx context.Context, room string) (Target, error) { return Target{}, nil }
	m, hub, _ := newTestManager(t, resolver, &fakeAudio{data: []byte("pcm-samples")})

	m.HandleRoomEvent(stream.RoomEvent{Room: types.LiveDesktopRoom, Active: true, Seq: 1})

	require.Eventually(t, func() bool {
		for _, msg := range hub.Messages() {
			if msg.Type == types.MsgAudio {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}
