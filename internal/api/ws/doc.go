// Package ws serves the stream protocol over WebSocket.
//
// A connection is authenticated before the upgrade (bearer header or
// ?token=) and becomes one hub channel. All frames are JSON text.
//
// Message Types (Client → Server):
//   - join_stream {instance_id}: watch and control an application
//   - join_live_stream: watch and control the whole display
//   - leave_stream, leave_live_stream: leave the current room
//   - mouse, keyboard, scroll, clipboard: input for the current room
//   - ping: answered with pong
//
// Message Types (Server → Client):
//   - joined, left: room acknowledgements
//   - frame, audio: captured media
//   - instance_state, session_update, room_closed: notifications
//   - error: a rejected request, with kind and message
//   - pong
//
// Example Usage:
//
//	handler := ws.NewHandler(cfg, coordinator, authenticator, tracer, logger)
//	router.GET("/ws", handler.HandleConnection)
package ws
