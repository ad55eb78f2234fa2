package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/resilience"
)

// Sink delivers events outside the process
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Marshal encodes an event in its envelope
func Marshal(e Event) ([]byte, error) {
	return sonic.Marshal(Envelope{Topic: e.Topic(), Event: e})
}

// ============================================================================
// Log sink
// ============================================================================

// LogSink writes every event to a structured log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, e Event) error {
	switch ev := e.(type) {
	case InstanceEvent:
		fields := []zap.Field{
			zap.String("instance_id", ev.InstanceID),
			zap.String("name", ev.Name),
			zap.String("owner", ev.Owner),
			zap.String("state", string(ev.State)),
			zap.Time("timestamp", ev.Timestamp),
		}
		if ev.ExitCode != nil {
			fields = append(fields, zap.Int("exit_code", *ev.ExitCode))
		}
		s.logger.Info("instance lifecycle", fields...)
	case SessionEvent:
		s.logger.Info("session lifecycle",
			zap.String("session_id", ev.SessionID),
			zap.String("kind", string(ev.Kind)),
			zap.String("user_id", ev.UserID),
			zap.String("owner", ev.Owner),
			zap.Int("participant_delta", ev.ParticipantDelta),
			zap.Time("timestamp", ev.Timestamp),
		)
	default:
		s.logger.Info("lifecycle event", zap.String("topic", e.Topic()), zap.String("subject", e.Subject()))
	}
	return nil
}

// ============================================================================
// Redis sink
// ============================================================================

// RedisSink publishes events on Redis pub/sub channels "<prefix>:<topic>"
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink connects to the Redis instance at url (redis://host:port/db)
func NewRedisSink(url, prefix string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisSink{client: redis.NewClient(opts), prefix: prefix}, nil
}

// NewRedisSinkWithClient wraps an existing client
func NewRedisSinkWithClient(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel for a topic
func (s *RedisSink) Channel(topic string) string {
	return s.prefix + ":" + topic
}

func (s *RedisSink) Send(ctx context.Context, e Event) error {
	payload, err := Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := s.client.Publish(ctx, s.Channel(e.Topic()), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// ============================================================================
// Webhook sink
// ============================================================================

// WebhookSink POSTs each event as JSON, retrying transient failures
type WebhookSink struct {
	client *retryablehttp.Client
	url    string
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(url string, timeout time.Duration, retries int, logger *zap.Logger) *WebhookSink {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	if logger != nil {
		client.Logger = leveledLogger{logger.Sugar()}
	} else {
		client.Logger = nil
	}
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, e Event) error {
	payload, err := Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Topic", e.Topic())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

// ============================================================================
// Circuit breaker guard
// ============================================================================

// GuardedSink fails fast while its breaker is open
type GuardedSink struct {
	Sink
	breaker *resilience.Breaker
}

// Guard wraps sink in a circuit breaker
func Guard(sink Sink, clock clockwork.Clock, logger *zap.Logger, metrics *monitoring.Metrics) *GuardedSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := resilience.New(sink.Name(), resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		Clock:       clock,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("event sink breaker state changed",
				zap.String("sink", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			if metrics != nil {
				metrics.SetBreakerState(name, int(to))
			}
		},
	})
	return &GuardedSink{Sink: sink, breaker: breaker}
}

func (g *GuardedSink) Send(ctx context.Context, e Event) error {
	return g.breaker.Execute(func() error {
		return g.Sink.Send(ctx, e)
	})
}

// State exposes the breaker state
func (g *GuardedSink) State() resilience.State {
	return g.breaker.State()
}
