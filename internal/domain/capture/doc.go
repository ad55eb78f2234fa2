// Package capture turns the shared display into stream frames.
//
// A Manager listens to the stream hub's room occupancy events and runs one
// Streamer per occupied room. Streamers tick at the room's frame rate,
// grab a still image (ImageMagick import, windows found with xdotool),
// drop it when nothing changed, encode it and publish it to the room.
// The live desktop room additionally carries PulseAudio PCM chunks.
//
// Encoders:
//   - passthrough: the captured image as is
//   - zstd: zstd-compressed image, MIME still names the inner format
package capture
