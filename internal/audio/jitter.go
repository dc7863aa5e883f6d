package audio

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/sonavoice/voice-client/internal/observability"
)

// JitterConfig bounds the playback jitter buffer. A large buffer hides
// network jitter, a small one keeps perceived latency down; the min/max pair
// makes that trade-off explicit and tunable.
type JitterConfig struct {
	MinBufferSamples int // flush threshold (3.0s at 24kHz by default)
	MaxBufferSamples int // forced-flush ceiling (5.0s at 24kHz by default)
}

// JitterBuffer decouples the arrival jitter of inbound agent frames from the
// playback cadence. Frames are appended from the network context; flushes
// and clears happen from the playback and interrupt paths, so all access is
// mutex-protected.
type JitterBuffer struct {
	cfg     JitterConfig
	playing func() bool
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	samples []float32
}

// NewJitterBuffer creates a jitter buffer. playing reports whether playback
// is currently in flight; while true, flushes are deferred until the forced
// ceiling is reached.
func NewJitterBuffer(cfg JitterConfig, playing func() bool, logger zerolog.Logger, metrics *observability.Metrics) *JitterBuffer {
	return &JitterBuffer{
		cfg:     cfg,
		playing: playing,
		logger:  logger.With().Str("component", "jitter_buffer").Logger(),
		metrics: metrics,
		samples: make([]float32, 0, cfg.MinBufferSamples),
	}
}

// Append decodes a PCM16 wire frame and appends its samples to the
// accumulator. If the accumulator would exceed the ceiling, the oldest
// excess samples are dropped; overflow is recovered locally and never fails
// the call.
func (b *JitterBuffer) Append(frame []byte) error {
	decoded, err := DecodePCM16(frame)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, decoded...)
	if over := len(b.samples) - b.cfg.MaxBufferSamples; over > 0 {
		b.samples = append(b.samples[:0], b.samples[over:]...)
		b.logger.Warn().Int("dropped_samples", over).Msg("Jitter buffer overflow, dropped oldest samples")
		if b.metrics != nil {
			b.metrics.RecordBufferOverflow(int64(over))
		}
	}
	if b.metrics != nil {
		b.metrics.RecordBufferDepth(len(b.samples))
	}
	return nil
}

// TryFlush extracts up to MinBufferSamples from the front of the accumulator
// for scheduling. It returns nothing while fewer than MinBufferSamples are
// buffered or while playback is in flight, except that hitting the
// MaxBufferSamples ceiling forces a flush to bound end-to-end latency.
func (b *JitterBuffer) TryFlush() ([]float32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.samples)
	if n == 0 {
		return nil, false
	}

	forced := n >= b.cfg.MaxBufferSamples
	if !forced {
		if n < b.cfg.MinBufferSamples {
			return nil, false
		}
		if b.playing != nil && b.playing() {
			return nil, false
		}
	}

	take := b.cfg.MinBufferSamples
	if n < take {
		take = n
	}

	out := make([]float32, take)
	copy(out, b.samples[:take])
	b.samples = append(b.samples[:0], b.samples[take:]...)

	if b.metrics != nil {
		b.metrics.RecordFlush(take)
		b.metrics.RecordBufferDepth(len(b.samples))
	}
	return out, true
}

// Clear drops all buffered samples. Called by the barge-in interrupt path
// and on session teardown; safe to call when already empty.
func (b *JitterBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = b.samples[:0]
	if b.metrics != nil {
		b.metrics.RecordBufferDepth(0)
	}
}

// Len returns the number of buffered samples.
func (b *JitterBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}
