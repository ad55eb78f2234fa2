package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
	"github.com/GriffinCanCode/appshare/internal/shared/utils"
)

// Publisher delivers stream messages to a room
type Publisher interface {
	Publish(ctx context.Context, room string, msg types.Message) (int, error)
}

// Streamer captures one target at a fixed rate and publishes the frames.
// A tick that arrives while the previous capture is still running is
// skipped.
type Streamer struct {
	target    Target
	cfg       types.RoomConfig
	timeout   time.Duration
	grabber   Grabber
	encoder   Encoder
	publisher Publisher
	detector  *utils.ChangeDetector
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	busy atomic.Bool
	seq  atomic.Uint64
}

// StreamerOptions carries the streamer's collaborators
type StreamerOptions struct {
	Grabber       Grabber
	Encoder       Encoder
	Publisher     Publisher
	Timeout       time.Duration
	SkipUnchanged bool
	Clock         clockwork.Clock
	Logger        *zap.Logger
	Metrics       *monitoring.Metrics
}

// NewStreamer creates a streamer for target
func NewStreamer(target Target, cfg types.RoomConfig, opts StreamerOptions) *Streamer {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = types.DefaultRoomConfig().FrameRate
	}
	if cfg.Quality <= 0 {
		cfg.Quality = types.DefaultRoomConfig().Quality
	}
	if opts.Encoder == nil {
		opts.Encoder = PassthroughEncoder{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}

	s := &Streamer{
		target:    target,
		cfg:       cfg,
		timeout:   opts.Timeout,
		grabber:   opts.Grabber,
		encoder:   opts.Encoder,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if opts.SkipUnchanged {
		s.detector = utils.NewChangeDetector(nil)
	}
	return s
}

// Interval is the time between ticks
func (s *Streamer) Interval() time.Duration {
	return time.Second / time.Duration(s.cfg.FrameRate)
}

// Run captures until ctx is done and waits for the last capture to finish
func (s *Streamer) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.Interval())
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !s.busy.CompareAndSwap(false, true) {
				s.skip("busy")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer s.busy.Store(false)
				s.Capture(ctx)
			}()
		}
	}
}

// Capture grabs, encodes and publishes one frame. It reports whether a
// frame was published.
func (s *Streamer) Capture(ctx context.Context) bool {
	captureCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.clock.Now()
	raw, err := s.grabber.Grab(captureCtx, s.target, s.cfg.Quality)
	if s.metrics != nil {
		s.metrics.ObserveCapture("video", s.clock.Since(start))
	}
	if err != nil {
		if ctx.Err() == nil {
			s.skip("error")
			if errors.Is(err, ErrNoWindow) {
				s.logger.Debug("Nothing to capture yet", zap.String("room", s.target.Room))
			} else {
				s.logger.Warn("Capture failed", zap.String("room", s.target.Room), zap.Error(err))
			}
		}
		return false
	}

	if s.detector != nil && !s.detector.Changed(raw) {
		s.skip("unchanged")
		return false
	}

	frame, err := s.encoder.Encode(raw)
	if err != nil {
		s.skip("error")
		s.logger.Warn("Encode failed", zap.String("room", s.target.Room), zap.Error(err))
		return false
	}

	payload := types.StreamPayload{
		Room:      s.target.Room,
		Kind:      "video",
		MIME:      frame.MIME,
		Encoding:  frame.Encoding,
		Data:      frame.Data,
		Seq:       s.seq.Add(1),
		Timestamp: s.clock.Now(),
	}
	if _, err := s.publisher.Publish(ctx, s.target.Room, types.Message{
		Type:      types.MsgFrame,
		Data:      payload,
		Timestamp: payload.Timestamp,
	}); err != nil {
		return false
	}
	return true
}

func (s *Streamer) skip(reason string) {
	if s.metrics != nil {
		s.metrics.RecordCaptureSkipped(reason)
	}
}
