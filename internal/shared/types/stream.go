package types

import "time"

// LiveDesktopRoom is the room carrying the whole display
const LiveDesktopRoom = "live-desktop"

// Outbound message types
const (
	MsgJoined        = "joined"
	MsgLeft          = "left"
	MsgFrame         = "frame"
	MsgAudio         = "audio"
	MsgInstanceState = "instance_state"
	MsgSessionUpdate = "session_update"
	MsgRoomClosed    = "room_closed"
	MsgError         = "error"
	MsgPong          = "pong"
)

// RoomConfig describes a room's stream parameters
type RoomConfig struct {
	FrameRate int `json:"frame_rate"`
	Quality   int `json:"quality"`
}

// DefaultRoomConfig returns the configuration rooms start with
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{FrameRate: 30, Quality: 80}
}

// StreamPayload is one captured frame or audio chunk.
// Data is emitted as base64 by encoding/json compatible codecs.
type StreamPayload struct {
	Room      string    `json:"room"`
	Kind      string    `json:"kind"`
	MIME      string    `json:"mime"`
	Encoding  string    `json:"encoding,omitempty"`
	Data      []byte    `json:"data"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is the envelope delivered to a connected channel
type Message struct {
	Type      string    `json:"type"`
	Room      string    `json:"room,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorBody is the data of an error message
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// InputKind identifies the class of an input event
type InputKind string

const (
	InputMouse     InputKind = "mouse"
	InputKeyboard  InputKind = "keyboard"
	InputScroll    InputKind = "scroll"
	InputClipboard InputKind = "clipboard"
)

// InputEvent is a user input event headed for the display
type InputEvent struct {
	Kind      InputKind `json:"kind"`
	Action    string    `json:"action,omitempty"` // click, move, down, up for mouse
	X         int       `json:"x,omitempty"`
	Y         int       `json:"y,omitempty"`
	Button    int       `json:"button,omitempty"`
	Key       string    `json:"key,omitempty"`
	Modifiers []string  `json:"modifiers,omitempty"`
	DeltaY    int       `json:"delta_y,omitempty"`
	Text      string    `json:"text,omitempty"`
	MIME      string    `json:"mime,omitempty"`
}

// StreamStats contains stream hub statistics
type StreamStats struct {
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
	Subscribers int            `json:"subscribers"`
	InputSinks  int            `json:"input_sinks"`
}
