package types

import "time"

// InstanceState represents application instance lifecycle states
type InstanceState string

const (
	StateStarting InstanceState = "starting"
	StateRunning  InstanceState = "running"
	StateStopping InstanceState = "stopping"
	StateStopped  InstanceState = "stopped"
	StateCrashed  InstanceState = "crashed"
)

// Terminal reports whether no further transition is possible
func (s InstanceState) Terminal() bool {
	return s == StateStopped || s == StateCrashed
}

// Application is a launchable catalogue entry
type Application struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Program     string `json:"program"`
	Available   bool   `json:"available"`
}

// InstanceView is a read-only snapshot of a running application instance
type InstanceView struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Program     string        `json:"program"`
	Args        []string      `json:"args,omitempty"`
	Owner       string        `json:"owner"`
	PID         int           `json:"pid"`
	State       InstanceState `json:"state"`
	StartedAt   time.Time     `json:"started_at"`
	StoppedAt   *time.Time    `json:"stopped_at,omitempty"`
	ExitCode    *int          `json:"exit_code,omitempty"`
}

// SupervisorStats contains process supervisor statistics
type SupervisorStats struct {
	Running      int `json:"running"`
	Starting     int `json:"starting"`
	Stopping     int `json:"stopping"`
	MaxInstances int `json:"max_instances"`
}
