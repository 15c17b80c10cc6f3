package assets

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionKind selects which asset classes a compression policy covers.
type CompressionKind string

const (
	CompressionNone    CompressionKind = "none"
	CompressionTexture CompressionKind = "texture"
	CompressionAudio   CompressionKind = "audio"
	CompressionGeneral CompressionKind = "general"
)

// ParseCompressionKind validates a compression kind token.
func ParseCompressionKind(token string) (CompressionKind, error) {
	switch CompressionKind(token) {
	case CompressionNone, CompressionTexture, CompressionAudio, CompressionGeneral:
		return CompressionKind(token), nil
	default:
		return "", fmt.Errorf("assets: unknown compression kind %q", token)
	}
}

// CompressionStats summarizes codec activity since construction or the last
// reset.
type CompressionStats struct {
	BytesIn  int64
	BytesOut int64
}

// Ratio returns output/input; 1.0 when nothing has been compressed.
func (s CompressionStats) Ratio() float64 {
	if s.BytesIn == 0 {
		return 1.0
	}
	return float64(s.BytesOut) / float64(s.BytesIn)
}

// SpaceSaved returns the cumulative byte reduction.
func (s CompressionStats) SpaceSaved() int64 {
	return s.BytesIn - s.BytesOut
}

// codec implements the compression policy with a real zstd round trip. Kinds
// that are not enabled pass bytes through unchanged; the passthrough is part
// of the contract, not a silent pretend-compression.
type codec struct {
	mu      sync.Mutex
	enabled map[CompressionKind]bool
	stats   CompressionStats

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec() (*codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("assets: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("assets: zstd decoder: %w", err)
	}
	return &codec{
		enabled: make(map[CompressionKind]bool),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (c *codec) enable(kind CompressionKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == CompressionNone {
		// Enabling "none" is an explicit opt-out of every class.
		c.enabled = make(map[CompressionKind]bool)
		return
	}
	c.enabled[kind] = true
}

func (c *codec) isEnabled(kind CompressionKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled[kind]
}

// compress runs zstd over data when the kind's policy is enabled, otherwise
// returns data unchanged.
func (c *codec) compress(data []byte, kind CompressionKind) []byte {
	if !c.isEnabled(kind) {
		return data
	}
	out := c.encoder.EncodeAll(data, nil)
	c.mu.Lock()
	c.stats.BytesIn += int64(len(data))
	c.stats.BytesOut += int64(len(out))
	c.mu.Unlock()
	return out
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// decompress inverts compress. Bytes without the zstd frame magic pass
// through, so decompression is safe to apply to mixed payloads.
func (c *codec) decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrDecodeFailure, err)
	}
	return out, nil
}

func (c *codec) statsSnapshot() CompressionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *codec) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = CompressionStats{}
}
