package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/domain/events"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/loop"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
	"github.com/GriffinCanCode/appshare/internal/shared/utils"
)

// Close reasons reported to metrics
const (
	reasonEmpty   = "empty"
	reasonClosed  = "closed"
	reasonExpired = "expired"
)

// Config configures the registry
type Config struct {
	// MaxParticipants is the limit new sessions start with
	MaxParticipants int
}

type session struct {
	id           string
	name         string
	owner        string
	status       types.SessionStatus
	createdAt    time.Time
	lastActivity time.Time
	closedAt     *time.Time
	participants []string
	apps         map[string]types.BoundApplication
	settings     types.SessionSettings
}

func (s *session) active() bool {
	return s.status == types.SessionActive
}

func (s *session) isParticipant(user string) bool {
	for _, p := range s.participants {
		if p == user {
			return true
		}
	}
	return false
}

func (s *session) removeParticipant(user string) bool {
	for i, p := range s.participants {
		if p == user {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			return true
		}
	}
	return false
}

func (s *session) view(user string) types.SessionView {
	apps := make([]types.BoundApplication, 0, len(s.apps))
	for _, a := range s.apps {
		apps = append(apps, a)
	}
	sort.Slice(apps, func(i, j int) bool {
		if !apps[i].AddedAt.Equal(apps[j].AddedAt) {
			return apps[i].AddedAt.Before(apps[j].AddedAt)
		}
		return apps[i].InstanceID < apps[j].InstanceID
	})

	v := types.SessionView{
		ID:           s.id,
		Name:         s.name,
		Owner:        s.owner,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Participants: append([]string(nil), s.participants...),
		Applications: apps,
		Settings:     s.settings,
	}
	if s.closedAt != nil {
		closed := *s.closedAt
		v.ClosedAt = &closed
	}
	v.CanJoin = s.active() && (s.isParticipant(user) || len(s.participants) < s.settings.MaxParticipants)
	return v
}

// Registry tracks collaborative sessions and which session each user is in.
// All state is owned by the registry's loop.
type Registry struct {
	cfg       Config
	clock     clockwork.Clock
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	loop      *loop.Loop

	sessions    map[string]*session
	userSession map[string]string

	// pending collects events emitted by the op running on the loop
	pending []events.Event
}

// NewRegistry creates a session registry
func NewRegistry(cfg Config, publisher events.Publisher, clock clockwork.Clock, logger *zap.Logger) *Registry {
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = types.DefaultSessionSettings().MaxParticipants
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		cfg:         cfg,
		clock:       clock,
		publisher:   publisher,
		logger:      logger,
		loop:        loop.New(64),
		sessions:    make(map[string]*session),
		userSession: make(map[string]string),
	}
}

// WithMetrics attaches metrics collection
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// do runs fn on the loop, then publishes whatever it emitted
func (r *Registry) do(ctx context.Context, fn func() error) error {
	var (
		opErr   error
		emitted []events.Event
	)
	if err := r.loop.Do(ctx, func() {
		opErr = fn()
		emitted, r.pending = r.pending, nil
		r.updateGauge()
	}); err != nil {
		return err
	}
	for _, e := range emitted {
		r.publisher.Publish(e)
	}
	return opErr
}

// Create opens a session owned by owner. An owner already in a session
// leaves it first.
func (r *Registry) Create(ctx context.Context, owner, name string) (types.SessionView, error) {
	var view types.SessionView
	err := r.do(ctx, func() error {
		now := r.clock.Now()
		r.leaveLocked(owner, now)

		settings := types.DefaultSessionSettings()
		settings.MaxParticipants = r.cfg.MaxParticipants

		sessionID := uuid.NewString()
		if name == "" {
			name = fmt.Sprintf("Session %s", sessionID[:8])
		}

		s := &session{
			id:           sessionID,
			name:         name,
			owner:        owner,
			status:       types.SessionActive,
			createdAt:    now,
			lastActivity: now,
			participants: []string{owner},
			apps:         make(map[string]types.BoundApplication),
			settings:     settings,
		}
		r.sessions[sessionID] = s
		r.userSession[owner] = sessionID

		r.emit(s, events.SessionCreated, owner, "", 1, nil, now)
		if r.metrics != nil {
			r.metrics.IncSessionsCreated()
		}
		view = s.view(owner)
		return nil
	})
	if err == nil {
		r.logger.Info("Session created",
			zap.String("session_id", view.ID),
			zap.String("owner", owner))
	}
	return view, err
}

// Join adds user to an active session. Joining a session the user is
// already in is a no-op; a user in another session leaves it first.
func (r *Registry) Join(ctx context.Context, sessionID, user string) (types.SessionView, error) {
	var view types.SessionView
	err := r.do(ctx, func() error {
		s, ok := r.sessions[sessionID]
		if !ok || !s.active() {
			return apperr.NotFound("session", sessionID)
		}

		now := r.clock.Now()
		if s.isParticipant(user) {
			s.lastActivity = now
			view = s.view(user)
			return nil
		}
		if len(s.participants) >= s.settings.MaxParticipants {
			return apperr.CapacityExceeded("session", sessionID, s.settings.MaxParticipants)
		}

		r.leaveLocked(user, now)

		s.participants = append(s.participants, user)
		s.lastActivity = now
		r.userSession[user] = sessionID

		r.emit(s, events.SessionJoined, user, "", 1, nil, now)
		view = s.view(user)
		return nil
	})
	return view, err
}

// Leave removes user from their current session. A user with no session
// gets an empty result.
func (r *Registry) Leave(ctx context.Context, user string) (types.LeaveResult, error) {
	var result types.LeaveResult
	err := r.do(ctx, func() error {
		result = r.leaveLocked(user, r.clock.Now())
		return nil
	})
	return result, err
}

// leaveLocked must run on the loop
func (r *Registry) leaveLocked(user string, now time.Time) types.LeaveResult {
	sessionID, ok := r.userSession[user]
	if !ok {
		return types.LeaveResult{}
	}
	delete(r.userSession, user)

	s, ok := r.sessions[sessionID]
	if !ok || !s.active() || !s.removeParticipant(user) {
		return types.LeaveResult{SessionID: sessionID}
	}

	result := types.LeaveResult{SessionID: sessionID, Left: true}
	s.lastActivity = now

	if len(s.participants) == 0 {
		r.emit(s, events.SessionLeft, user, "", -1, []string{user}, now)
		r.closeLocked(s, events.SessionClosed, reasonEmpty, []string{user}, now)
		result.Closed = true
		return result
	}

	r.emit(s, events.SessionLeft, user, "", -1, []string{user}, now)
	if s.owner == user {
		s.owner = s.participants[0]
		result.NewOwner = s.owner
		r.emit(s, events.SessionOwnerChanged, s.owner, "", 0, nil, now)
	}
	return result
}

// Close ends a session. Only the owner may close it; an empty requester
// is the system. Instances bound to the session keep running.
func (r *Registry) Close(ctx context.Context, sessionID, requester string) error {
	return r.do(ctx, func() error {
		s, ok := r.sessions[sessionID]
		if !ok || !s.active() {
			return apperr.NotFound("session", sessionID)
		}
		if requester != "" && requester != s.owner {
			return apperr.Forbidden("session", sessionID)
		}
		r.closeLocked(s, events.SessionClosed, reasonClosed, nil, r.clock.Now())
		return nil
	})
}

// closeLocked must run on the loop. extra lists former participants who
// should still hear about the close.
func (r *Registry) closeLocked(s *session, kind events.SessionEventKind, reason string, extra []string, now time.Time) {
	audience := append(append([]string(nil), s.participants...), extra...)
	delta := -len(s.participants)

	for _, p := range s.participants {
		if r.userSession[p] == s.id {
			delete(r.userSession, p)
		}
	}
	s.participants = nil
	s.status = types.SessionClosed
	s.closedAt = &now

	r.emit(s, kind, "", "", delta, audience, now)
	if r.metrics != nil {
		r.metrics.RecordSessionClosed(reason)
	}
}

// BindApplication attaches an instance to a session the user belongs to
func (r *Registry) BindApplication(ctx context.Context, sessionID, instanceID, user string) (types.SessionView, error) {
	var view types.SessionView
	err := r.do(ctx, func() error {
		s, ok := r.sessions[sessionID]
		if !ok || !s.active() {
			return apperr.NotFound("session", sessionID)
		}
		if !s.isParticipant(user) {
			return apperr.Forbidden("session", sessionID)
		}

		now := r.clock.Now()
		s.lastActivity = now
		if _, bound := s.apps[instanceID]; !bound {
			s.apps[instanceID] = types.BoundApplication{
				InstanceID: instanceID,
				AddedBy:    user,
				AddedAt:    now,
			}
			r.emit(s, events.SessionAppBound, user, instanceID, 0, nil, now)
		}
		view = s.view(user)
		return nil
	})
	return view, err
}

// UnbindApplication detaches an instance from a session
func (r *Registry) UnbindApplication(ctx context.Context, sessionID, instanceID, user string) (types.SessionView, error) {
	var view types.SessionView
	err := r.do(ctx, func() error {
		s, ok := r.sessions[sessionID]
		if !ok || !s.active() {
			return apperr.NotFound("session", sessionID)
		}
		if !s.isParticipant(user) {
			return apperr.Forbidden("session", sessionID)
		}
		if _, bound := s.apps[instanceID]; !bound {
			return apperr.NotFound("instance", instanceID)
		}

		now := r.clock.Now()
		delete(s.apps, instanceID)
		s.lastActivity = now
		r.emit(s, events.SessionAppUnbound, user, instanceID, 0, nil, now)
		view = s.view(user)
		return nil
	})
	return view, err
}

// ReleaseInstance unbinds an instance from every active session, returning
// the affected session ids
func (r *Registry) ReleaseInstance(ctx context.Context, instanceID string) ([]string, error) {
	var released []string
	err := r.do(ctx, func() error {
		now := r.clock.Now()
		for _, s := range r.sessions {
			if _, bound := s.apps[instanceID]; !bound || !s.active() {
				continue
			}
			delete(s.apps, instanceID)
			s.lastActivity = now
			r.emit(s, events.SessionAppUnbound, "", instanceID, 0, nil, now)
			released = append(released, s.id)
		}
		return nil
	})
	sort.Strings(released)
	return released, err
}

// SweepExpired closes every active session idle for longer than timeout
// and forgets sessions that were closed more than timeout ago. It returns
// the ids of the sessions it closed.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time, timeout time.Duration) ([]string, error) {
	var expired []string
	err := r.do(ctx, func() error {
		for sessionID, s := range r.sessions {
			switch {
			case s.active() && now.Sub(s.lastActivity) > timeout:
				r.closeLocked(s, events.SessionExpired, reasonExpired, nil, now)
				expired = append(expired, sessionID)
			case !s.active() && s.closedAt != nil && now.Sub(*s.closedAt) > timeout:
				delete(r.sessions, sessionID)
			}
		}
		return nil
	})
	sort.Strings(expired)

	if len(expired) > 0 {
		r.logger.Info("Expired idle sessions", zap.Strings("session_ids", expired))
	}
	return expired, err
}

// Get returns a session snapshot as seen by user
func (r *Registry) Get(ctx context.Context, sessionID, user string) (types.SessionView, error) {
	var view types.SessionView
	err := r.do(ctx, func() error {
		s, ok := r.sessions[sessionID]
		if !ok {
			return apperr.NotFound("session", sessionID)
		}
		view = s.view(user)
		return nil
	})
	return view, err
}

// UserSession returns the session user currently belongs to
func (r *Registry) UserSession(ctx context.Context, user string) (types.SessionView, bool, error) {
	var (
		view  types.SessionView
		found bool
	)
	err := r.do(ctx, func() error {
		if sessionID, ok := r.userSession[user]; ok {
			if s, ok := r.sessions[sessionID]; ok {
				view, found = s.view(user), true
			}
		}
		return nil
	})
	return view, found, err
}

// SessionsWithInstance returns snapshots of the active sessions an instance
// is bound to
func (r *Registry) SessionsWithInstance(ctx context.Context, instanceID string) ([]types.SessionView, error) {
	var views []types.SessionView
	err := r.do(ctx, func() error {
		for _, s := range r.sessions {
			if _, bound := s.apps[instanceID]; bound && s.active() {
				views = append(views, s.view(""))
			}
		}
		return nil
	})
	return views, err
}

// List returns active sessions, oldest first, with CanJoin computed for user
func (r *Registry) List(ctx context.Context, user string) ([]types.SessionView, error) {
	var views []types.SessionView
	err := r.do(ctx, func() error {
		for _, s := range r.sessions {
			if s.active() {
				views = append(views, s.view(user))
			}
		}
		return nil
	})
	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.Before(views[j].CreatedAt)
		}
		return views[i].ID < views[j].ID
	})
	return views, err
}

// UpdateSettings applies a partial settings change. Owner only.
func (r *Registry) UpdateSettings(ctx context.Context, sessionID, user string, patch types.SettingsPatch) (types.SessionView, error) {
	var view types.SessionView
	err := r.do(ctx, func() error {
		s, ok := r.sessions[sessionID]
		if !ok || !s.active() {
			return apperr.NotFound("session", sessionID)
		}
		if s.owner != user {
			return apperr.Forbidden("session", sessionID)
		}

		next := s.settings
		if patch.MaxParticipants != nil {
			if err := utils.ValidateMaxParticipants(*patch.MaxParticipants); err != nil {
				return apperr.Invalid("session", sessionID, err)
			}
			if *patch.MaxParticipants < len(s.participants) {
				return apperr.Invalid("session", sessionID,
					fmt.Errorf("max_participants below current participant count %d", len(s.participants)))
			}
			next.MaxParticipants = *patch.MaxParticipants
		}
		if patch.AllowGuests != nil {
			next.AllowGuests = *patch.AllowGuests
		}
		if patch.RecordingEnabled != nil {
			next.RecordingEnabled = *patch.RecordingEnabled
		}
		if patch.ChatEnabled != nil {
			next.ChatEnabled = *patch.ChatEnabled
		}

		now := r.clock.Now()
		s.settings = next
		s.lastActivity = now
		r.emit(s, events.SessionSettingsChanged, user, "", 0, nil, now)
		view = s.view(user)
		return nil
	})
	return view, err
}

// Stats returns registry statistics
func (r *Registry) Stats(ctx context.Context) (types.SessionStats, error) {
	return loop.Call(ctx, r.loop, func() types.SessionStats {
		stats := types.SessionStats{
			TotalSessions:   len(r.sessions),
			UsersInSessions: len(r.userSession),
		}
		for _, s := range r.sessions {
			if s.active() {
				stats.ActiveSessions++
				stats.TotalParticipants += len(s.participants)
			}
		}
		return stats
	})
}

// Shutdown stops the registry loop
func (r *Registry) Shutdown() {
	r.loop.Stop()
}

// emit queues an event for publication after the current op. Audience is
// the session's participants plus extra.
func (r *Registry) emit(s *session, kind events.SessionEventKind, user, instanceID string, delta int, extra []string, now time.Time) {
	participants := append([]string(nil), s.participants...)
	audience := append(append([]string(nil), participants...), extra...)

	r.pending = append(r.pending, events.SessionEvent{
		SessionID:        s.id,
		Kind:             kind,
		UserID:           user,
		InstanceID:       instanceID,
		Owner:            s.owner,
		ParticipantDelta: delta,
		Participants:     participants,
		Timestamp:        now,
		Audience:         dedupe(audience),
	})
}

// updateGauge must run on the loop
func (r *Registry) updateGauge() {
	if r.metrics == nil {
		return
	}
	active := 0
	for _, s := range r.sessions {
		if s.active() {
			active++
		}
	}
	r.metrics.SetSessionsActive(active)
}

func dedupe(users []string) []string {
	seen := make(map[string]bool, len(users))
	out := users[:0]
	for _, u := range users {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
