package events

import (
	"time"

	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

// Topics
const (
	TopicInstance = "instance"
	TopicSession  = "session"
)

// Event is a lifecycle notification
type Event interface {
	Topic() string
	// Subject is the id of the entity the event is about
	Subject() string
}

// Publisher accepts lifecycle events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// InstanceEvent reports an application instance state change
type InstanceEvent struct {
	InstanceID string              `json:"instance_id"`
	Name       string              `json:"name"`
	Owner      string              `json:"owner"`
	State      types.InstanceState `json:"state"`
	PID        int                 `json:"pid,omitempty"`
	ExitCode   *int                `json:"exit_code,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

func (InstanceEvent) Topic() string     { return TopicInstance }
func (e InstanceEvent) Subject() string { return e.InstanceID }

// SessionEventKind classifies a session change
type SessionEventKind string

const (
	SessionCreated         SessionEventKind = "created"
	SessionJoined          SessionEventKind = "joined"
	SessionLeft            SessionEventKind = "left"
	SessionOwnerChanged    SessionEventKind = "owner_changed"
	SessionClosed          SessionEventKind = "closed"
	SessionExpired         SessionEventKind = "expired"
	SessionAppBound        SessionEventKind = "app_bound"
	SessionAppUnbound      SessionEventKind = "app_unbound"
	SessionSettingsChanged SessionEventKind = "settings_updated"
)

// SessionEvent reports a session membership or configuration change
type SessionEvent struct {
	SessionID        string           `json:"session_id"`
	Kind             SessionEventKind `json:"kind"`
	UserID           string           `json:"user_id,omitempty"`
	InstanceID       string           `json:"instance_id,omitempty"`
	Owner            string           `json:"owner"`
	ParticipantDelta int              `json:"participant_delta"`
	Participants     []string         `json:"participants"`
	Timestamp        time.Time        `json:"timestamp"`

	// Audience is everyone who should hear about the change: current
	// participants plus users who just left or were dropped by a close.
	Audience []string `json:"-"`
}

func (SessionEvent) Topic() string     { return TopicSession }
func (e SessionEvent) Subject() string { return e.SessionID }

// Envelope is the wire form used by remote sinks
type Envelope struct {
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}

// Discard drops every event
type Discard struct{}

func (Discard) Publish(Event) {}
