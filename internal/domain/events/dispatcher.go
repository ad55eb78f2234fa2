package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
)

const (
	defaultBuffer      = 1024
	defaultSinkBuffer  = 256
	defaultSinkTimeout = 10 * time.Second
)

// Handler receives events on the dispatcher goroutine. It must not block
// for long; slow work belongs in a Sink.
type Handler func(Event)

// Dispatcher fans lifecycle events out to in-process handlers and sinks.
// Publish never blocks: when the queue is full the event is dropped and
// counted. Handlers see events in publish order.
type Dispatcher struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	in   chan Event
	quit chan struct{}
	done chan struct{}

	mu       sync.RWMutex
	handlers []Handler
	sinks    []*sinkWorker

	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher with the given queue size
func NewDispatcher(logger *zap.Logger, buffer int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		logger: logger,
		in:     make(chan Event, buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// WithMetrics adds metrics tracking to the dispatcher
func (d *Dispatcher) WithMetrics(metrics *monitoring.Metrics) *Dispatcher {
	d.metrics = metrics
	return d
}

// Subscribe registers an in-process handler
func (d *Dispatcher) Subscribe(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// AddSink attaches a sink with its own bounded delivery queue
func (d *Dispatcher) AddSink(sink Sink, buffer int, timeout time.Duration) {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	w := &sinkWorker{
		sink:    sink,
		queue:   make(chan Event, buffer),
		timeout: timeout,
		logger:  d.logger.With(zap.String("sink", sink.Name())),
		metrics: d.metrics,
		done:    make(chan struct{}),
	}
	go w.run()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, w)
}

// Publish enqueues e for delivery
func (d *Dispatcher) Publish(e Event) {
	select {
	case <-d.quit:
		return
	default:
	}

	select {
	case d.in <- e:
		if d.metrics != nil {
			d.metrics.RecordEventPublished(e.Topic())
		}
	default:
		d.logger.Warn("event queue full, dropping event",
			zap.String("topic", e.Topic()),
			zap.String("subject", e.Subject()),
		)
		if d.metrics != nil {
			d.metrics.RecordEventDropped(e.Topic())
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case e := <-d.in:
			d.deliver(e)
		case <-d.quit:
			// Drain what was accepted before Close
			for {
				select {
				case e := <-d.in:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	d.mu.RLock()
	handlers := d.handlers
	sinks := d.sinks
	d.mu.RUnlock()

	for _, h := range handlers {
		d.invoke(h, e)
	}
	for _, s := range sinks {
		s.enqueue(e)
	}
}

func (d *Dispatcher) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				zap.String("topic", e.Topic()),
				zap.Any("panic", r),
			)
		}
	}()
	h(e)
}

// Close delivers queued events, then stops every sink after its queue drains
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		<-d.done

		d.mu.RLock()
		sinks := d.sinks
		d.mu.RUnlock()
		for _, s := range sinks {
			s.stop()
		}
	})
}

type sinkWorker struct {
	sink     Sink
	queue    chan Event
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	done     chan struct{}
	stopOnce sync.Once
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.sink.Send(ctx, e); err != nil {
			w.logger.Warn("event sink delivery failed",
				zap.String("topic", e.Topic()),
				zap.String("subject", e.Subject()),
				zap.Error(err),
			)
			if w.metrics != nil {
				w.metrics.RecordSinkError(w.sink.Name())
			}
		}
		cancel()
	}
}

func (w *sinkWorker) enqueue(e Event) {
	select {
	case w.queue <- e:
	default:
		w.logger.Warn("sink queue full, dropping event", zap.String("topic", e.Topic()))
		if w.metrics != nil {
			w.metrics.RecordEventDropped(e.Topic())
		}
	}
}

func (w *sinkWorker) stop() {
	w.stopOnce.Do(func() {
		close(w.queue)
	})
	<-w.done
}
