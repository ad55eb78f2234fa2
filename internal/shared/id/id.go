// Package id provides centralized ID generation for the gateway.
//
// Identifiers are prefixed ULIDs:
//   - Lexicographic sortability: instance and channel ids order by creation time
//   - Prefixed types: inst_*, conn_*, req_*, span_* make logs readable
//   - Type safety: separate types prevent passing a channel id where an
//     instance id is expected
//
// Session ids are UUIDs and are generated by the session registry, not here.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// InstanceID identifies one launched application process
type InstanceID string

// ChannelID identifies one connected transport channel
type ChannelID string

// RequestID identifies an API request
type RequestID string

// SpanID identifies a tracing span
type SpanID string

// ============================================================================
// ID Prefixes
// ============================================================================

const (
	InstancePrefix = "inst"
	ChannelPrefix  = "conn"
	RequestPrefix  = "req"
	SpanPrefix     = "span"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewInstanceID generates a new application instance ID
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateWithPrefix(InstancePrefix))
}

// NewChannelID generates a new transport channel ID
func NewChannelID() ChannelID {
	return ChannelID(Default().GenerateWithPrefix(ChannelPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

func (i InstanceID) String() string { return string(i) }
func (i ChannelID) String() string  { return string(i) }
func (i RequestID) String() string  { return string(i) }
func (i SpanID) String() string     { return string(i) }

// ============================================================================
// Validation
// ============================================================================

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID or a prefixed ULID
func Timestamp(id string) (time.Time, error) {
	if _, rest, ok := strings.Cut(id, "_"); ok {
		id = rest
	}
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// HasPrefix reports whether s is a well-formed prefixed ULID of the given kind
func HasPrefix(s, prefix string) bool {
	p, rest, ok := strings.Cut(s, "_")
	return ok && p == prefix && IsValid(rest)
}

// IsInstanceID reports whether s looks like an instance id
func IsInstanceID(s string) bool {
	return HasPrefix(s, InstancePrefix)
}
