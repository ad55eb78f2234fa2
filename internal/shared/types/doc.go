// Package types provides shared data structures for the gateway.
//
// Views returned by the core components are snapshots: the owning component
// never hands out its internal records.
//
// Core Types:
//   - InstanceView, InstanceState: supervised application instances
//   - Application: catalogue entry
//   - SessionView, SessionSettings, BoundApplication: collaborative sessions
//   - Message, StreamPayload, RoomConfig: stream hub envelopes
//   - InputEvent: input forwarded to the display
package types
