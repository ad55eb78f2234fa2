package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

// AudioSource opens a raw PCM stream
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// MIME describes the samples the source produces
	MIME() string
}

// ParecSource records from PulseAudio with parec as 16-bit stereo PCM
type ParecSource struct {
	Device string
	Rate   int
}

func (p *ParecSource) MIME() string {
	return fmt.Sprintf("audio/L16;rate=%d;channels=2", p.Rate)
}

// Open starts parec. The process stops when ctx is done or the reader is
// closed.
func (p *ParecSource) Open(ctx context.Context) (io.ReadCloser, error) {
	args := []string{"--format=s16le", "--channels=2", "--rate=" + strconv.Itoa(p.Rate)}
	if p.Device != "" {
		args = append(args, "--device="+p.Device)
	}

	cmd := exec.CommandContext(ctx, "parec", args...)
	cmd.Env = os.Environ()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start parec: %w", err)
	}
	return &processReader{ReadCloser: stdout, cmd: cmd}, nil
}

type processReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (r *processReader) Close() error {
	_ = r.cmd.Process.Kill()
	r.ReadCloser.Close()
	return r.cmd.Wait()
}

// AudioStreamer publishes fixed-size PCM chunks to a room
type AudioStreamer struct {
	room      string
	chunk     int
	source    AudioSource
	publisher Publisher
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewAudioStreamer creates an audio streamer
func NewAudioStreamer(room string, chunk int, source AudioSource, publisher Publisher, clock clockwork.Clock, logger *zap.Logger, metrics *monitoring.Metrics) *AudioStreamer {
	if chunk <= 0 {
		chunk = 8192
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioStreamer{
		room:      room,
		chunk:     chunk,
		source:    source,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run streams until ctx is done or the source ends
func (a *AudioStreamer) Run(ctx context.Context) error {
	rc, err := a.source.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	mime := a.source.MIME()
	buf := make([]byte, a.chunk)
	var seq uint64
	for {
		start := a.clock.Now()
		n, err := io.ReadFull(rc, buf)
		if n > 0 {
			seq++
			data := make([]byte, n)
			copy(data, buf[:n])
			now := a.clock.Now()
			if a.metrics != nil {
				a.metrics.ObserveCapture("audio", now.Sub(start))
			}
			if _, perr := a.publisher.Publish(ctx, a.room, types.Message{
				Type: types.MsgAudio,
				Data: types.StreamPayload{
					Room:      a.room,
					Kind:      "audio",
					MIME:      mime,
					Data:      data,
					Seq:       seq,
					Timestamp: now,
				},
				Timestamp: now,
			}); perr != nil {
				return nil
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("audio read: %w", err)
		}
	}
}
