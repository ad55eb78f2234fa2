package capture

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/domain/stream"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

// Hub is the part of the stream hub the capture manager needs
type Hub interface {
	Publisher
	RoomConfig(ctx context.Context, room string) (types.RoomConfig, error)
}

// Resolver maps a room to the target to capture
type Resolver func(ctx context.Context, room string) (Target, error)

// Config configures the capture manager
type Config struct {
	Timeout       time.Duration
	SkipUnchanged bool
	AudioChunk    int
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs one streamer per occupied room. It follows the hub's room
// occupancy events: the first subscriber starts capture, the last one
// leaving stops it.
type Manager struct {
	cfg      Config
	grabber  Grabber
	encoder  Encoder
	hub      Hub
	resolver Resolver
	audio    AudioSource
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu      sync.Mutex
	base    context.Context
	stop    context.CancelFunc
	streams map[string]*running
	lastSeq map[string]uint64
}

// NewManager creates a capture manager. audio may be nil.
func NewManager(cfg Config, grabber Grabber, encoder Encoder, hub Hub, resolver Resolver, audio AudioSource, clock clockwork.Clock, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		grabber:  grabber,
		encoder:  encoder,
		hub:      hub,
		resolver: resolver,
		audio:    audio,
		clock:    clock,
		logger:   logger,
		base:     base,
		stop:     stop,
		streams:  make(map[string]*running),
		lastSeq:  make(map[string]uint64),
	}
}

// WithMetrics attaches metrics collection
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// HandleRoomEvent starts or stops capture for a room. Events older than
// the last one seen for the room are ignored. It never blocks on capture.
func (m *Manager) HandleRoomEvent(e stream.RoomEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Seq <= m.lastSeq[e.Room] {
		return
	}
	m.lastSeq[e.Room] = e.Seq

	if !e.Active {
		if r, ok := m.streams[e.Room]; ok {
			r.cancel()
			delete(m.streams, e.Room)
		}
		return
	}

	if _, ok := m.streams[e.Room]; ok || m.base.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.base)
	r := &running{cancel: cancel, done: make(chan struct{})}
	m.streams[e.Room] = r
	go m.run(ctx, e.Room, r)
}

// Active lists rooms currently being captured
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]string, 0, len(m.streams))
	for room := range m.streams {
		rooms = append(rooms, room)
	}
	return rooms
}

func (m *Manager) run(ctx context.Context, room string, r *running) {
	defer close(r.done)

	target, err := m.resolver(ctx, room)
	if err != nil {
		m.logger.Warn("Cannot capture room", zap.String("room", room), zap.Error(err))
		m.forget(room, r)
		return
	}
	target.Room = room

	cfg, err := m.hub.RoomConfig(ctx, room)
	if err != nil {
		m.forget(room, r)
		return
	}

	m.logger.Info("Capture started",
		zap.String("room", room),
		zap.Int("pid", target.PID),
		zap.Int("frame_rate", cfg.FrameRate))

	var wg sync.WaitGroup
	if room == types.LiveDesktopRoom && m.audio != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := NewAudioStreamer(room, m.cfg.AudioChunk, m.audio, m.hub, m.clock, m.logger, m.metrics)
			if err := a.Run(ctx); err != nil {
				m.logger.Warn("Audio capture ended", zap.Error(err))
			}
		}()
	}

	NewStreamer(target, cfg, StreamerOptions{
		Grabber:       m.grabber,
		Encoder:       m.encoder,
		Publisher:     m.hub,
		Timeout:       m.cfg.Timeout,
		SkipUnchanged: m.cfg.SkipUnchanged,
		Clock:         m.clock,
		Logger:        m.logger,
		Metrics:       m.metrics,
	}).Run(ctx)

	wg.Wait()
	m.logger.Info("Capture stopped", zap.String("room", room))
}

// forget drops r if it is still the room's streamer
func (m *Manager) forget(room string, r *running) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streams[room] == r {
		delete(m.streams, room)
	}
}

// Shutdown stops every streamer and waits for them to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stop()
	all := make([]*running, 0, len(m.streams))
	for room, r := range m.streams {
		all = append(all, r)
		delete(m.streams, room)
	}
	m.mu.Unlock()

	for _, r := range all {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
