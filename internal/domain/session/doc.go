// Package session tracks collaborative sessions: who is in which session,
// who owns it, and which application instances are bound to it.
//
// Rules:
//   - A user is in at most one session; creating or joining another one
//     leaves the current one first
//   - The owner is always a participant; when the owner leaves, ownership
//     passes to the earliest-joined remaining participant
//   - A session with no participants is closed immediately
//   - Closing a session never stops its bound instances
//
// Sessions live in memory only. The only time-based cleanup is
// SweepExpired, driven by the gateway's sweeper.
//
// Example Usage:
//
//	registry := session.NewRegistry(session.Config{MaxParticipants: 10}, dispatcher, nil, logger)
//	s, err := registry.Create(ctx, "alice", "Pairing")
//	_, err = registry.Join(ctx, s.ID, "bob")
//	result, err := registry.Leave(ctx, "alice") // bob becomes owner
package session
