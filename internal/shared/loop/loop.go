// Package loop provides a single-owner event loop.
//
// A Loop runs closures one at a time on its own goroutine. A component that
// owns a table (processes, sessions, subscriptions) touches it only from
// closures submitted to its loop, so the table needs no lock. Blocking work
// must run outside the loop and post its result back.
//
// Do must never be called from a closure already running on the same loop.
package loop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when work is submitted to a stopped loop
var ErrStopped = errors.New("loop stopped")

// Loop executes submitted closures serially
type Loop struct {
	cmds     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New starts a loop with the given command buffer
func New(buffer int) *Loop {
	if buffer < 0 {
		buffer = 0
	}
	l := &Loop{
		cmds: make(chan func(), buffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.cmds:
			fn()
		case <-l.quit:
			return
		}
	}
}

// Do runs fn on the loop and waits for it to finish.
// ctx bounds only the enqueue; once accepted, fn always runs to completion
// before Do returns so the caller observes its effects.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.cmds <- wrapped:
	case <-l.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Post enqueues fn without waiting for it to run.
// It blocks while the buffer is full and reports false if the loop stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case l.cmds <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Stop terminates the loop after the closure currently running, if any.
// Queued closures that have not started are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
	<-l.done
}

// Done is closed once the loop goroutine has exited
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Call runs fn on the loop and returns its result
func Call[T any](ctx context.Context, l *Loop, fn func() T) (T, error) {
	var out T
	err := l.Do(ctx, func() {
		out = fn()
	})
	return out, err
}
