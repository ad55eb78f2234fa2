package types

import "time"

// SessionStatus represents session lifecycle states
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// SessionSettings configures a collaborative session
type SessionSettings struct {
	MaxParticipants  int  `json:"max_participants"`
	AllowGuests      bool `json:"allow_guests"`
	RecordingEnabled bool `json:"recording_enabled"`
	ChatEnabled      bool `json:"chat_enabled"`
}

// DefaultSessionSettings returns the settings new sessions start with
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		MaxParticipants:  10,
		AllowGuests:      true,
		RecordingEnabled: false,
		ChatEnabled:      true,
	}
}

// SettingsPatch carries a partial settings update; nil fields are left alone
type SettingsPatch struct {
	MaxParticipants  *int  `json:"max_participants,omitempty"`
	AllowGuests      *bool `json:"allow_guests,omitempty"`
	RecordingEnabled *bool `json:"recording_enabled,omitempty"`
	ChatEnabled      *bool `json:"chat_enabled,omitempty"`
}

// BoundApplication records an instance attached to a session
type BoundApplication struct {
	InstanceID string    `json:"instance_id"`
	AddedBy    string    `json:"added_by"`
	AddedAt    time.Time `json:"added_at"`
}

// SessionView is a read-only snapshot of a session
type SessionView struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Owner        string             `json:"owner"`
	Status       SessionStatus      `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
	ClosedAt     *time.Time         `json:"closed_at,omitempty"`
	Participants []string           `json:"participants"`
	Applications []BoundApplication `json:"applications"`
	Settings     SessionSettings    `json:"settings"`
	CanJoin      bool               `json:"can_join"`
}

// IsParticipant reports whether user is a member of the session
func (s SessionView) IsParticipant(user string) bool {
	for _, p := range s.Participants {
		if p == user {
			return true
		}
	}
	return false
}

// HasApplication reports whether the instance is bound to the session
func (s SessionView) HasApplication(instanceID string) bool {
	for _, a := range s.Applications {
		if a.InstanceID == instanceID {
			return true
		}
	}
	return false
}

// SessionStats contains session registry statistics
type SessionStats struct {
	TotalSessions     int `json:"total_sessions"`
	ActiveSessions    int `json:"active_sessions"`
	TotalParticipants int `json:"total_participants"`
	UsersInSessions   int `json:"users_in_sessions"`
}
