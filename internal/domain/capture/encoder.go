package capture

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zstd"
)

// Frame is an encoded capture ready for publishing
type Frame struct {
	Data     []byte
	MIME     string
	Encoding string
}

// Encoder turns a raw capture into a publishable frame
type Encoder interface {
	Encode(raw []byte) (Frame, error)
	Name() string
}

// NewEncoder returns the encoder registered under name
func NewEncoder(name string) (Encoder, error) {
	switch name {
	case "", "passthrough":
		return PassthroughEncoder{}, nil
	case "zstd":
		return NewZstdEncoder()
	default:
		return nil, fmt.Errorf("unknown encoder %q", name)
	}
}

// PassthroughEncoder publishes the captured image as is
type PassthroughEncoder struct{}

func (PassthroughEncoder) Name() string { return "passthrough" }

func (PassthroughEncoder) Encode(raw []byte) (Frame, error) {
	return Frame{Data: raw, MIME: mimetype.Detect(raw).String()}, nil
}

// ZstdEncoder compresses frames with zstd. MIME still names the image
// inside so clients know what to decode to.
type ZstdEncoder struct {
	enc *zstd.Encoder
}

// NewZstdEncoder creates a zstd encoder tuned for latency
func NewZstdEncoder() (*ZstdEncoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &ZstdEncoder{enc: enc}, nil
}

func (e *ZstdEncoder) Name() string { return "zstd" }

func (e *ZstdEncoder) Encode(raw []byte) (Frame, error) {
	return Frame{
		Data:     e.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)),
		MIME:     mimetype.Detect(raw).String(),
		Encoding: "zstd",
	}, nil
}
