package types

// StartRequest is the body of an application start call
type StartRequest struct {
	Name string `json:"name"`
}

// CreateSessionRequest is the body of a session create call
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// BindRequest attaches an instance to a session
type BindRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
}

// LeaveResult reports what a leave did
type LeaveResult struct {
	SessionID string `json:"session_id,omitempty"`
	Left      bool   `json:"left"`
	NewOwner  string `json:"new_owner,omitempty"`
	Closed    bool   `json:"closed"`
}
