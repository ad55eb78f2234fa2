/*
Package resilience provides a circuit breaker for remote dependencies.

# Overview

Lifecycle events leave the process through remote sinks (Redis, webhooks).
Each remote sink is wrapped in a Breaker so an unreachable endpoint fails
fast instead of stalling its delivery queue.

# Usage

	breaker := resilience.New("webhook", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state", zap.String("name", name), zap.Stringer("to", to))
		},
	})

	err := breaker.Execute(func() error {
		return sink.Send(ctx, event)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
