package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/domain/app"
	"github.com/GriffinCanCode/appshare/internal/domain/capture"
	"github.com/GriffinCanCode/appshare/internal/domain/events"
	"github.com/GriffinCanCode/appshare/internal/domain/stream"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
	"github.com/GriffinCanCode/appshare/internal/shared/utils"
)

const (
	DefaultSweepInterval  = time.Minute
	DefaultSessionTimeout = time.Hour

	// eventTimeout bounds the component calls made while republishing
	eventTimeout = 5 * time.Second
)

// SinkFactory builds the input sink for a process
type SinkFactory func(pid int) stream.InputSink

// Config configures the coordinator
type Config struct {
	SweepInterval  time.Duration
	SessionTimeout time.Duration
}

// Supervisor is the process supervisor as seen by the coordinator
type Supervisor interface {
	Catalog() *app.Catalog
	Start(ctx context.Context, name, requester string) (types.InstanceView, error)
	Stop(ctx context.Context, instanceID, requester string) error
	Status(ctx context.Context, instanceID string) (types.InstanceView, error)
	List(ctx context.Context, owner string) ([]types.InstanceView, error)
	Logs(ctx context.Context, instanceID string) ([]byte, error)
	Stats(ctx context.Context) (types.SupervisorStats, error)
	OnExit(fn func(events.InstanceEvent))
	Shutdown(ctx context.Context) error
}

// Sessions is the session registry as seen by the coordinator
type Sessions interface {
	Create(ctx context.Context, owner, name string) (types.SessionView, error)
	Join(ctx context.Context, sessionID, user string) (types.SessionView, error)
	Leave(ctx context.Context, user string) (types.LeaveResult, error)
	Close(ctx context.Context, sessionID, requester string) error
	BindApplication(ctx context.Context, sessionID, instanceID, user string) (types.SessionView, error)
	UnbindApplication(ctx context.Context, sessionID, instanceID, user string) (types.SessionView, error)
	ReleaseInstance(ctx context.Context, instanceID string) ([]string, error)
	SweepExpired(ctx context.Context, now time.Time, timeout time.Duration) ([]string, error)
	Get(ctx context.Context, sessionID, user string) (types.SessionView, error)
	UserSession(ctx context.Context, user string) (types.SessionView, bool, error)
	List(ctx context.Context, user string) ([]types.SessionView, error)
	UpdateSettings(ctx context.Context, sessionID, user string, patch types.SettingsPatch) (types.SessionView, error)
	Stats(ctx context.Context) (types.SessionStats, error)
	Shutdown()
}

// Hub is the stream hub as seen by the coordinator
type Hub interface {
	Connect(ctx context.Context, conn stream.Conn) error
	Disconnect(ctx context.Context, channelID string) error
	Subscribe(ctx context.Context, channelID, room string) (types.RoomConfig, error)
	Unsubscribe(ctx context.Context, channelID string) (string, error)
	UserRooms(ctx context.Context, user string) ([]string, error)
	UnsubscribeUser(ctx context.Context, user, room string) (int, error)
	Notify(ctx context.Context, userIDs []string, msg types.Message) (int, error)
	Fanout(ctx context.Context, room string, userIDs []string, msg types.Message) (int, error)
	CloseRoom(ctx context.Context, room string, final *types.Message) error
	RegisterInputSink(ctx context.Context, room string, sink stream.InputSink) error
	UnregisterInputSink(ctx context.Context, room string) error
	ForwardInput(ctx context.Context, channelID string, event types.InputEvent, authorize stream.Authorizer) (bool, error)
	Stats(ctx context.Context) (types.StreamStats, error)
	Shutdown(ctx context.Context) error
}

// Coordinator puts the supervisor, session registry and stream hub under
// one authorization umbrella. It owns no tables of its own: every check is
// a read through a component's public contract, and every mutation is
// delegated to the component that owns the entity.
type Coordinator struct {
	cfg        Config
	supervisor Supervisor
	sessions   Sessions
	hub        Hub
	sinks      SinkFactory
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// NewCoordinator creates a coordinator and registers it for the
// supervisor's exit hooks. sinks may be nil, in which case no instance
// room accepts input.
func NewCoordinator(cfg Config, supervisor Supervisor, sessions Sessions, hub Hub, sinks SinkFactory, clock clockwork.Clock, logger *zap.Logger) *Coordinator {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		cfg:        cfg,
		supervisor: supervisor,
		sessions:   sessions,
		hub:        hub,
		sinks:      sinks,
		clock:      clock,
		logger:     logger,
	}
	supervisor.OnExit(c.handleExit)
	return c
}

// WithMetrics attaches metrics collection
func (c *Coordinator) WithMetrics(m *monitoring.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// ============================================================================
// Applications
// ============================================================================

// ListApplications returns the catalogue. With availableOnly set, entries
// whose program is not on PATH are left out.
func (c *Coordinator) ListApplications(availableOnly bool) []types.Application {
	if availableOnly {
		return c.supervisor.Catalog().Available()
	}
	return c.supervisor.Catalog().Entries()
}

// StartApplication launches name for user. The new instance is not bound
// to any session.
func (c *Coordinator) StartApplication(ctx context.Context, user, name string) (types.InstanceView, error) {
	timer := monitoring.NewTimer(c.metrics, "gateway", "start_application")
	view, err := c.supervisor.Start(ctx, name, user)
	timer.StopErr(err)
	if err != nil {
		return types.InstanceView{}, err
	}

	if c.sinks != nil {
		if err := c.hub.RegisterInputSink(ctx, view.ID, c.sinks(view.PID)); err != nil {
			c.logger.Warn("Failed to register input sink",
				zap.String("instance_id", view.ID),
				zap.Error(err))
		} else if _, err := c.supervisor.Status(ctx, view.ID); errors.Is(err, apperr.ErrNotFound) {
			// Exited before the sink landed; the cleanup already ran
			_ = c.hub.UnregisterInputSink(ctx, view.ID)
		}
	}
	return view, nil
}

// EnableLiveDesktopInput registers the input sink of the whole display.
// Without it live desktop viewers are watch-only.
func (c *Coordinator) EnableLiveDesktopInput(ctx context.Context) error {
	if c.sinks == nil {
		return nil
	}
	return c.hub.RegisterInputSink(ctx, types.LiveDesktopRoom, c.sinks(0))
}

// StopApplication stops an instance owned by user and waits for the
// process to exit. Session bindings and the room are released before it
// returns.
func (c *Coordinator) StopApplication(ctx context.Context, user, instanceID string) error {
	if user == "" {
		return apperr.Forbidden("instance", instanceID)
	}
	timer := monitoring.NewTimer(c.metrics, "gateway", "stop_application")
	err := c.supervisor.Stop(ctx, instanceID, user)
	timer.StopErr(err)
	return err
}

// ListInstances returns the instances user owns together with those bound
// to the user's current session
func (c *Coordinator) ListInstances(ctx context.Context, user string) ([]types.InstanceView, error) {
	all, err := c.supervisor.List(ctx, "")
	if err != nil {
		return nil, err
	}
	current, inSession, err := c.sessions.UserSession(ctx, user)
	if err != nil {
		return nil, err
	}

	visible := make([]types.InstanceView, 0, len(all))
	for _, v := range all {
		if v.Owner == user || (inSession && current.HasApplication(v.ID)) {
			visible = append(visible, v)
		}
	}
	return visible, nil
}

// InstanceStatus returns an instance the user may access
func (c *Coordinator) InstanceStatus(ctx context.Context, user, instanceID string) (types.InstanceView, error) {
	view, err := c.supervisor.Status(ctx, instanceID)
	if err != nil {
		return types.InstanceView{}, err
	}
	if err := c.checkInstance(ctx, user, view); err != nil {
		return types.InstanceView{}, err
	}
	return view, nil
}

// InstanceLogs returns the captured output of an instance the user owns
func (c *Coordinator) InstanceLogs(ctx context.Context, user, instanceID string) ([]byte, error) {
	view, err := c.supervisor.Status(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if view.Owner != user {
		return nil, apperr.Forbidden("instance", instanceID)
	}
	return c.supervisor.Logs(ctx, instanceID)
}

// ============================================================================
// Sessions
// ============================================================================

// CreateSession creates a session owned by user, leaving any current one
func (c *Coordinator) CreateSession(ctx context.Context, user, name string) (types.SessionView, error) {
	if name != "" {
		if err := utils.ValidateSessionName(name); err != nil {
			return types.SessionView{}, apperr.Invalid("session", "", err)
		}
	}
	return c.sessions.Create(ctx, user, name)
}

// JoinSession makes user a participant. Joining does not subscribe any of
// the user's channels to a stream.
func (c *Coordinator) JoinSession(ctx context.Context, user, sessionID string) (types.SessionView, error) {
	return c.sessions.Join(ctx, sessionID, user)
}

// LeaveSession removes user from their current session. The user's
// channels leave the instance rooms they can no longer watch.
func (c *Coordinator) LeaveSession(ctx context.Context, user string) (types.LeaveResult, error) {
	res, err := c.sessions.Leave(ctx, user)
	if err != nil {
		return res, err
	}
	c.revokeStale(ctx, []string{user})
	return res, nil
}

// CloseSession closes a session owned by user. Bound instances keep
// running, but former participants stop watching them.
func (c *Coordinator) CloseSession(ctx context.Context, user, sessionID string) error {
	if user == "" {
		return apperr.Forbidden("session", sessionID)
	}
	view, err := c.sessions.Get(ctx, sessionID, user)
	if err != nil {
		return err
	}
	if err := c.sessions.Close(ctx, sessionID, user); err != nil {
		return err
	}
	c.revokeStale(ctx, view.Participants)
	return nil
}

// UpdateSessionSettings applies patch to a session owned by user
func (c *Coordinator) UpdateSessionSettings(ctx context.Context, user, sessionID string, patch types.SettingsPatch) (types.SessionView, error) {
	return c.sessions.UpdateSettings(ctx, sessionID, user, patch)
}

// BindApplication shares an instance with a session. user must own the
// instance and be a participant of the session.
func (c *Coordinator) BindApplication(ctx context.Context, user, sessionID, instanceID string) (types.SessionView, error) {
	view, err := c.supervisor.Status(ctx, instanceID)
	if err != nil {
		return types.SessionView{}, err
	}
	if view.Owner != user {
		return types.SessionView{}, apperr.Forbidden("instance", instanceID)
	}
	bound, err := c.sessions.BindApplication(ctx, sessionID, instanceID, user)
	if err != nil {
		return types.SessionView{}, err
	}
	if _, err := c.supervisor.Status(ctx, instanceID); errors.Is(err, apperr.ErrNotFound) {
		// Exited before the binding landed; the exit cleanup may have missed it
		if _, rerr := c.sessions.ReleaseInstance(ctx, instanceID); rerr != nil {
			c.logger.Warn("Failed to release session bindings",
				zap.String("instance_id", instanceID),
				zap.Error(rerr))
		}
		return types.SessionView{}, err
	}
	return bound, nil
}

// UnbindApplication stops sharing an instance with a session. Participants
// other than the owner stop watching it.
func (c *Coordinator) UnbindApplication(ctx context.Context, user, sessionID, instanceID string) (types.SessionView, error) {
	view, err := c.sessions.UnbindApplication(ctx, sessionID, instanceID, user)
	if err != nil {
		return types.SessionView{}, err
	}
	c.revokeStale(ctx, view.Participants)
	return view, nil
}

// GetSession returns a session as seen by user
func (c *Coordinator) GetSession(ctx context.Context, user, sessionID string) (types.SessionView, error) {
	return c.sessions.Get(ctx, sessionID, user)
}

// CurrentSession returns the session user participates in, if any
func (c *Coordinator) CurrentSession(ctx context.Context, user string) (types.SessionView, bool, error) {
	return c.sessions.UserSession(ctx, user)
}

// ListSessions returns the active sessions as seen by user
func (c *Coordinator) ListSessions(ctx context.Context, user string) ([]types.SessionView, error) {
	return c.sessions.List(ctx, user)
}

// ============================================================================
// Streams
// ============================================================================

// Connect registers a transport channel
func (c *Coordinator) Connect(ctx context.Context, conn stream.Conn) error {
	return c.hub.Connect(ctx, conn)
}

// Disconnect drops a transport channel. Session membership is kept so the
// user can reconnect and carry on.
func (c *Coordinator) Disconnect(ctx context.Context, channelID string) error {
	err := c.hub.Disconnect(ctx, channelID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

// JoinStream subscribes a channel to room after checking that user may
// watch it
func (c *Coordinator) JoinStream(ctx context.Context, channelID, user, room string) (types.RoomConfig, error) {
	if err := c.Authorize(ctx, user, room); err != nil {
		return types.RoomConfig{}, err
	}
	return c.hub.Subscribe(ctx, channelID, room)
}

// LeaveStream unsubscribes a channel from its room
func (c *Coordinator) LeaveStream(ctx context.Context, channelID string) (string, error) {
	return c.hub.Unsubscribe(ctx, channelID)
}

// SendInput forwards an input event to the channel's room. Access is
// checked again for every event, so input stops as soon as the user loses
// access.
func (c *Coordinator) SendInput(ctx context.Context, channelID string, event types.InputEvent) (bool, error) {
	return c.hub.ForwardInput(ctx, channelID, event, c.Authorize)
}

// Authorize reports whether user may watch and drive room: any
// authenticated user for the live desktop; the owner, or a participant of
// a session the instance is bound to, for an instance room.
func (c *Coordinator) Authorize(ctx context.Context, user, room string) error {
	if user == "" {
		return apperr.Forbidden("room", room)
	}
	if room == types.LiveDesktopRoom {
		return nil
	}
	view, err := c.supervisor.Status(ctx, room)
	if err != nil {
		return err
	}
	return c.checkInstance(ctx, user, view)
}

func (c *Coordinator) checkInstance(ctx context.Context, user string, view types.InstanceView) error {
	if view.Owner == user {
		return nil
	}
	current, ok, err := c.sessions.UserSession(ctx, user)
	if err != nil {
		return err
	}
	if ok && current.HasApplication(view.ID) {
		return nil
	}
	return apperr.Forbidden("instance", view.ID)
}

// ResolveCapture maps a room to the process whose window is captured. The
// live desktop captures the whole display.
func (c *Coordinator) ResolveCapture(ctx context.Context, room string) (capture.Target, error) {
	if room == types.LiveDesktopRoom {
		return capture.Target{Room: room}, nil
	}
	view, err := c.supervisor.Status(ctx, room)
	if err != nil {
		return capture.Target{}, err
	}
	return capture.Target{Room: room, PID: view.PID}, nil
}

// ============================================================================
// Republishing
// ============================================================================

// HandleEvent republishes lifecycle events to connected channels and drops
// subscriptions that lost access. It is meant to be subscribed to the
// event dispatcher, which may drop events under load; teardown of exited
// instances does not depend on it.
func (c *Coordinator) HandleEvent(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch ev := e.(type) {
	case events.InstanceEvent:
		c.handleInstance(ctx, ev)
	case events.SessionEvent:
		c.handleSession(ctx, ev)
	}
}

func (c *Coordinator) handleInstance(ctx context.Context, e events.InstanceEvent) {
	msg := types.Message{Type: types.MsgInstanceState, Data: e, Timestamp: e.Timestamp}
	if _, err := c.hub.Fanout(ctx, e.InstanceID, []string{e.Owner}, msg); err != nil {
		c.logger.Debug("Failed to republish instance event",
			zap.String("instance_id", e.InstanceID),
			zap.Error(err))
	}
}

func (c *Coordinator) handleSession(ctx context.Context, e events.SessionEvent) {
	if len(e.Audience) == 0 {
		return
	}
	msg := types.Message{Type: types.MsgSessionUpdate, Data: e, Timestamp: e.Timestamp}
	if _, err := c.hub.Notify(ctx, e.Audience, msg); err != nil {
		c.logger.Debug("Failed to republish session event",
			zap.String("session_id", e.SessionID),
			zap.Error(err))
	}

	switch e.Kind {
	case events.SessionLeft, events.SessionAppUnbound, events.SessionClosed, events.SessionExpired:
		c.revokeStale(ctx, e.Audience)
	}
}

// revokeStale unsubscribes the users' channels from every instance room
// they may no longer watch
func (c *Coordinator) revokeStale(ctx context.Context, users []string) {
	for _, user := range users {
		rooms, err := c.hub.UserRooms(ctx, user)
		if err != nil {
			c.logger.Debug("Failed to list user rooms",
				zap.String("user_id", user),
				zap.Error(err))
			continue
		}
		for _, room := range rooms {
			err := c.Authorize(ctx, user, room)
			if err == nil || !isRevoked(err) {
				continue
			}
			n, err := c.hub.UnsubscribeUser(ctx, user, room)
			if err != nil {
				c.logger.Warn("Failed to revoke stream access",
					zap.String("user_id", user),
					zap.String("room", room),
					zap.Error(err))
				continue
			}
			if n > 0 {
				c.logger.Info("Revoked stream access",
					zap.String("user_id", user),
					zap.String("room", room),
					zap.Int("channels", n))
			}
		}
	}
}

func isRevoked(err error) bool {
	return errors.Is(err, apperr.ErrForbidden) || errors.Is(err, apperr.ErrNotFound)
}

// handleExit runs for every instance once its record is gone
func (c *Coordinator) handleExit(e events.InstanceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	c.releaseInstance(ctx, e.InstanceID, &e)
}

// releaseInstance drops everything that refers to a finished instance. It
// is safe to run more than once for the same instance.
func (c *Coordinator) releaseInstance(ctx context.Context, instanceID string, final *events.InstanceEvent) {
	released, err := c.sessions.ReleaseInstance(ctx, instanceID)
	if err != nil {
		c.logger.Warn("Failed to release session bindings",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}

	closing := &types.Message{Type: types.MsgRoomClosed}
	if final != nil {
		closing.Data = *final
	}
	if err := c.hub.CloseRoom(ctx, instanceID, closing); err != nil {
		c.logger.Warn("Failed to close instance room",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}

	if len(released) > 0 {
		c.logger.Info("Released instance from sessions",
			zap.String("instance_id", instanceID),
			zap.Strings("sessions", released))
	}
}

// ============================================================================
// Background work
// ============================================================================

// RunSweeper closes idle sessions every SweepInterval until ctx is done
func (c *Coordinator) RunSweeper(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns the closed session ids
func (c *Coordinator) Sweep(ctx context.Context) []string {
	expired, err := c.sessions.SweepExpired(ctx, c.clock.Now(), c.cfg.SessionTimeout)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("Session sweep failed", zap.Error(err))
		}
		return nil
	}
	return expired
}

// Stats gathers the statistics of every component
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		errs  []error
		err   error
	)
	stats.Instances, err = c.supervisor.Stats(ctx)
	errs = append(errs, err)
	stats.Sessions, err = c.sessions.Stats(ctx)
	errs = append(errs, err)
	stats.Streams, err = c.hub.Stats(ctx)
	errs = append(errs, err)
	return stats, errors.Join(errs...)
}

// Stats is the combined gateway statistics
type Stats struct {
	Instances types.SupervisorStats `json:"instances"`
	Sessions  types.SessionStats    `json:"sessions"`
	Streams   types.StreamStats     `json:"streams"`
}

// StopApplications stops every instance and waits for them to exit.
// Lifecycle events it causes still flow through the dispatcher, so call it
// before closing the dispatcher.
func (c *Coordinator) StopApplications(ctx context.Context) error {
	return c.supervisor.Shutdown(ctx)
}

// Shutdown stops every instance, then the hub and the session registry
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var errs []error
	if err := c.supervisor.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.hub.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	c.sessions.Shutdown()
	return errors.Join(errs...)
}
