// Package events carries lifecycle notifications out of the core.
//
// The supervisor publishes InstanceEvent and the session registry publishes
// SessionEvent through the Publisher interface. A Dispatcher delivers them in
// order to in-process handlers (the gateway coordinator republishes them to
// connected clients) and to sinks: a structured log, Redis pub/sub and an
// HTTP webhook. Remote sinks are wrapped with Guard so a dead endpoint trips
// a circuit breaker instead of backing up its queue.
package events
