package stream

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/loop"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

const (
	DefaultQueueSize    = 16
	DefaultSendTimeout  = 5 * time.Second
	DefaultInputTimeout = 2 * time.Second
)

// Conn is a connected client channel
type Conn interface {
	ID() string
	UserID() string
	// Send writes one message; it must give up when ctx expires
	Send(ctx context.Context, msg types.Message) error
	Close() error
}

// InputSink receives the input events of one room
type InputSink interface {
	Inject(ctx context.Context, event types.InputEvent) error
}

// RoomEvent reports a room gaining its first subscriber or losing its
// last. Seq grows with every change so late deliveries can be discarded.
type RoomEvent struct {
	Room   string
	Active bool
	Seq    uint64
}

// Config configures the hub
type Config struct {
	QueueSize    int
	SendTimeout  time.Duration
	InputTimeout time.Duration
	// Room is used for rooms without their own configuration
	Room types.RoomConfig
}

type subscriber struct {
	conn  Conn
	room  string
	queue chan types.Message
	quit  chan struct{}
}

// Hub fans stream messages out to subscribed channels. Every channel has
// its own bounded queue and writer goroutine, so one slow client never
// delays another. All routing state is owned by the hub's loop.
type Hub struct {
	cfg     Config
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *monitoring.Metrics
	loop    *loop.Loop

	onRoom func(RoomEvent)

	conns   map[string]*subscriber
	rooms   map[string]map[string]*subscriber
	users   map[string]map[string]*subscriber
	sinks   map[string]InputSink
	configs map[string]types.RoomConfig
	seq     uint64
	pending []RoomEvent
}

// NewHub creates a hub
func NewHub(cfg Config, clock clockwork.Clock, logger *zap.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.InputTimeout <= 0 {
		cfg.InputTimeout = DefaultInputTimeout
	}
	if cfg.Room.FrameRate <= 0 || cfg.Room.Quality <= 0 {
		cfg.Room = types.DefaultRoomConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		loop:    loop.New(256),
		conns:   make(map[string]*subscriber),
		rooms:   make(map[string]map[string]*subscriber),
		users:   make(map[string]map[string]*subscriber),
		sinks:   make(map[string]InputSink),
		configs: make(map[string]types.RoomConfig),
	}
}

// WithMetrics attaches metrics collection
func (h *Hub) WithMetrics(m *monitoring.Metrics) *Hub {
	h.metrics = m
	return h
}

// OnRoomChange registers the room occupancy hook. Set it before use.
func (h *Hub) OnRoomChange(fn func(RoomEvent)) {
	h.onRoom = fn
}

// do runs fn on the loop, then delivers room changes it produced
func (h *Hub) do(ctx context.Context, fn func() error) error {
	var (
		opErr   error
		changes []RoomEvent
	)
	if err := h.loop.Do(ctx, func() {
		opErr = fn()
		changes, h.pending = h.pending, nil
	}); err != nil {
		return err
	}
	h.dispatch(changes)
	return opErr
}

func (h *Hub) dispatch(changes []RoomEvent) {
	if h.onRoom == nil {
		return
	}
	for _, c := range changes {
		h.onRoom(c)
	}
}

// Connect registers a channel and starts its writer
func (h *Hub) Connect(ctx context.Context, conn Conn) error {
	return h.do(ctx, func() error {
		if _, exists := h.conns[conn.ID()]; exists {
			return apperr.Invalid("channel", conn.ID(), errors.New("already connected"))
		}
		sub := &subscriber{
			conn:  conn,
			queue: make(chan types.Message, h.cfg.QueueSize),
			quit:  make(chan struct{}),
		}
		h.conns[conn.ID()] = sub
		if h.users[conn.UserID()] == nil {
			h.users[conn.UserID()] = make(map[string]*subscriber)
		}
		h.users[conn.UserID()][conn.ID()] = sub
		go h.write(sub)
		return nil
	})
}

// Disconnect drops a channel. It leaves its room but does not touch any
// session membership.
func (h *Hub) Disconnect(ctx context.Context, channelID string) error {
	return h.do(ctx, func() error {
		sub, ok := h.conns[channelID]
		if !ok {
			return apperr.NotFound("channel", channelID)
		}
		h.removeLocked(sub)
		return nil
	})
}

// Subscribe moves a channel into room, leaving its previous room. The
// joined acknowledgement is queued ahead of any later frame.
func (h *Hub) Subscribe(ctx context.Context, channelID, room string) (types.RoomConfig, error) {
	var cfg types.RoomConfig
	err := h.do(ctx, func() error {
		sub, ok := h.conns[channelID]
		if !ok {
			return apperr.NotFound("channel", channelID)
		}
		if sub.room != room {
			h.leaveLocked(sub)
			h.joinLocked(sub, room)
		}
		cfg = h.roomConfigLocked(room)
		h.enqueueLocked(sub, types.Message{Type: types.MsgJoined, Room: room, Data: cfg})
		return nil
	})
	return cfg, err
}

// Unsubscribe removes a channel from its room and returns the room it left
func (h *Hub) Unsubscribe(ctx context.Context, channelID string) (string, error) {
	var left string
	err := h.do(ctx, func() error {
		sub, ok := h.conns[channelID]
		if !ok {
			return apperr.NotFound("channel", channelID)
		}
		left = sub.room
		if left != "" {
			h.leaveLocked(sub)
			h.enqueueLocked(sub, types.Message{Type: types.MsgLeft, Room: left})
		}
		return nil
	})
	return left, err
}

// Room returns the room a channel is subscribed to
func (h *Hub) Room(ctx context.Context, channelID string) (string, error) {
	var room string
	err := h.do(ctx, func() error {
		sub, ok := h.conns[channelID]
		if !ok {
			return apperr.NotFound("channel", channelID)
		}
		room = sub.room
		return nil
	})
	return room, err
}

// UserRooms returns the rooms the user's channels are subscribed to
func (h *Hub) UserRooms(ctx context.Context, user string) ([]string, error) {
	var rooms []string
	err := h.do(ctx, func() error {
		for _, sub := range h.users[user] {
			if sub.room != "" && !slices.Contains(rooms, sub.room) {
				rooms = append(rooms, sub.room)
			}
		}
		return nil
	})
	slices.Sort(rooms)
	return rooms, err
}

// UnsubscribeUser removes every channel of user from room and returns how
// many were removed. Each of them is sent a left message.
func (h *Hub) UnsubscribeUser(ctx context.Context, user, room string) (int, error) {
	var removed int
	err := h.do(ctx, func() error {
		for _, sub := range h.users[user] {
			if sub.room != room {
				continue
			}
			h.leaveLocked(sub)
			h.enqueueLocked(sub, types.Message{Type: types.MsgLeft, Room: room})
			removed++
		}
		return nil
	})
	return removed, err
}

// Publish queues msg for every subscriber of room and returns how many
// accepted it. Subscribers whose queue is full are evicted.
func (h *Hub) Publish(ctx context.Context, room string, msg types.Message) (int, error) {
	msg.Room = room
	var accepted int
	err := h.do(ctx, func() error {
		for _, sub := range h.rooms[room] {
			if h.enqueueLocked(sub, msg) {
				accepted++
			}
		}
		return nil
	})
	return accepted, err
}

// Notify queues msg for every channel of the given users, whatever room
// they are in
func (h *Hub) Notify(ctx context.Context, userIDs []string, msg types.Message) (int, error) {
	var accepted int
	err := h.do(ctx, func() error {
		for _, user := range userIDs {
			for _, sub := range h.users[user] {
				if h.enqueueLocked(sub, msg) {
					accepted++
				}
			}
		}
		return nil
	})
	return accepted, err
}

// Fanout queues msg once for every channel that is either subscribed to
// room or belongs to one of userIDs
func (h *Hub) Fanout(ctx context.Context, room string, userIDs []string, msg types.Message) (int, error) {
	msg.Room = room
	var accepted int
	err := h.do(ctx, func() error {
		seen := make(map[string]bool)
		deliver := func(sub *subscriber) {
			if seen[sub.conn.ID()] {
				return
			}
			seen[sub.conn.ID()] = true
			if h.enqueueLocked(sub, msg) {
				accepted++
			}
		}
		for _, sub := range h.rooms[room] {
			deliver(sub)
		}
		for _, user := range userIDs {
			for _, sub := range h.users[user] {
				deliver(sub)
			}
		}
		return nil
	})
	return accepted, err
}

// CloseRoom sends final to every subscriber (when non-nil), unsubscribes
// them all and forgets the room's sink and configuration
func (h *Hub) CloseRoom(ctx context.Context, room string, final *types.Message) error {
	return h.do(ctx, func() error {
		for _, sub := range h.rooms[room] {
			h.leaveLocked(sub)
			if final != nil {
				msg := *final
				msg.Room = room
				h.enqueueLocked(sub, msg)
			}
		}
		delete(h.sinks, room)
		delete(h.configs, room)
		return nil
	})
}

// ConfigureRoom sets a room's stream parameters
func (h *Hub) ConfigureRoom(ctx context.Context, room string, cfg types.RoomConfig) error {
	return h.do(ctx, func() error {
		h.configs[room] = cfg
		return nil
	})
}

// RoomConfig returns a room's stream parameters
func (h *Hub) RoomConfig(ctx context.Context, room string) (types.RoomConfig, error) {
	return loop.Call(ctx, h.loop, func() types.RoomConfig {
		return h.roomConfigLocked(room)
	})
}

// RegisterInputSink makes sink the single input target of room
func (h *Hub) RegisterInputSink(ctx context.Context, room string, sink InputSink) error {
	return h.do(ctx, func() error {
		h.sinks[room] = sink
		return nil
	})
}

// UnregisterInputSink removes the input target of room
func (h *Hub) UnregisterInputSink(ctx context.Context, room string) error {
	return h.do(ctx, func() error {
		delete(h.sinks, room)
		return nil
	})
}

// Authorizer decides whether user may send input to room
type Authorizer func(ctx context.Context, userID, room string) error

// ForwardInput routes an input event from a channel to its room's sink.
// It reports false without error when the channel has no room or the room
// has no sink. authorize, when set, runs before every injection.
func (h *Hub) ForwardInput(ctx context.Context, channelID string, event types.InputEvent, authorize Authorizer) (bool, error) {
	var (
		userID string
		room   string
		sink   InputSink
	)
	if err := h.do(ctx, func() error {
		sub, ok := h.conns[channelID]
		if !ok {
			return apperr.NotFound("channel", channelID)
		}
		userID, room = sub.conn.UserID(), sub.room
		if room != "" {
			sink = h.sinks[room]
		}
		return nil
	}); err != nil {
		return false, err
	}

	if sink == nil {
		h.recordInput(event.Kind, "dropped")
		return false, nil
	}
	if authorize != nil {
		if err := authorize(ctx, userID, room); err != nil {
			h.recordInput(event.Kind, "denied")
			return false, err
		}
	}

	injectCtx, cancel := context.WithTimeout(ctx, h.cfg.InputTimeout)
	defer cancel()
	if err := sink.Inject(injectCtx, event); err != nil {
		h.recordInput(event.Kind, "failed")
		return false, err
	}
	h.recordInput(event.Kind, "ok")
	return true, nil
}

// Stats returns hub statistics
func (h *Hub) Stats(ctx context.Context) (types.StreamStats, error) {
	return loop.Call(ctx, h.loop, func() types.StreamStats {
		stats := types.StreamStats{
			Connections: len(h.conns),
			Rooms:       make(map[string]int, len(h.rooms)),
			InputSinks:  len(h.sinks),
		}
		for room, subs := range h.rooms {
			stats.Rooms[room] = len(subs)
			stats.Subscribers += len(subs)
		}
		return stats
	})
}

// Shutdown drops and closes every channel and stops the loop
func (h *Hub) Shutdown(ctx context.Context) error {
	err := h.do(ctx, func() error {
		for _, sub := range h.conns {
			h.removeLocked(sub)
			go sub.conn.Close()
		}
		return nil
	})
	h.loop.Stop()
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}

// write delivers queued messages to one channel until it is removed
func (h *Hub) write(sub *subscriber) {
	for {
		select {
		case <-sub.quit:
			return
		case msg := <-sub.queue:
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SendTimeout)
			err := sub.conn.Send(ctx, msg)
			cancel()
			if err != nil {
				h.logger.Debug("Send failed, evicting channel",
					zap.String("channel_id", sub.conn.ID()),
					zap.Error(err))
				h.loop.Post(func() {
					if h.evictLocked(sub) {
						changes := h.pending
						h.pending = nil
						go h.dispatch(changes)
					}
				})
				return
			}
			if h.metrics != nil {
				h.metrics.RecordDelivered(msg.Type)
			}
		}
	}
}

// enqueueLocked must run on the loop. A full queue evicts the subscriber.
func (h *Hub) enqueueLocked(sub *subscriber, msg types.Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.clock.Now()
	}
	select {
	case sub.queue <- msg:
		return true
	default:
		h.logger.Warn("Channel queue full, evicting",
			zap.String("channel_id", sub.conn.ID()),
			zap.String("room", sub.room))
		h.evictLocked(sub)
		return false
	}
}

// evictLocked must run on the loop. It removes sub and closes its
// connection, and reports false if sub was already gone.
func (h *Hub) evictLocked(sub *subscriber) bool {
	if h.conns[sub.conn.ID()] != sub {
		return false
	}
	h.removeLocked(sub)
	go sub.conn.Close()
	if h.metrics != nil {
		h.metrics.IncStreamEvictions()
	}
	return true
}

// removeLocked must run on the loop
func (h *Hub) removeLocked(sub *subscriber) {
	h.leaveLocked(sub)
	delete(h.conns, sub.conn.ID())
	if byUser := h.users[sub.conn.UserID()]; byUser != nil {
		delete(byUser, sub.conn.ID())
		if len(byUser) == 0 {
			delete(h.users, sub.conn.UserID())
		}
	}
	close(sub.quit)
}

// joinLocked must run on the loop
func (h *Hub) joinLocked(sub *subscriber, room string) {
	subs := h.rooms[room]
	if subs == nil {
		subs = make(map[string]*subscriber)
		h.rooms[room] = subs
		h.roomChangedLocked(room, true)
	}
	subs[sub.conn.ID()] = sub
	sub.room = room
	h.updateGauge()
}

// leaveLocked must run on the loop
func (h *Hub) leaveLocked(sub *subscriber) {
	if sub.room == "" {
		return
	}
	room := sub.room
	sub.room = ""
	if subs := h.rooms[room]; subs != nil {
		delete(subs, sub.conn.ID())
		if len(subs) == 0 {
			delete(h.rooms, room)
			h.roomChangedLocked(room, false)
		}
	}
	h.updateGauge()
}

func (h *Hub) roomChangedLocked(room string, active bool) {
	h.seq++
	h.pending = append(h.pending, RoomEvent{Room: room, Active: active, Seq: h.seq})
}

func (h *Hub) roomConfigLocked(room string) types.RoomConfig {
	if cfg, ok := h.configs[room]; ok {
		return cfg
	}
	return h.cfg.Room
}

func (h *Hub) updateGauge() {
	if h.metrics == nil {
		return
	}
	n := 0
	for _, subs := range h.rooms {
		n += len(subs)
	}
	h.metrics.SetStreamSubscribers(n)
}

func (h *Hub) recordInput(kind types.InputKind, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordInput(string(kind), outcome)
	}
}
