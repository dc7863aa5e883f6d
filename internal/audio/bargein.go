package audio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sonavoice/voice-client/internal/observability"
)

// BargeInConfig holds tuning for interrupt detection.
type BargeInConfig struct {
	Threshold float64       // RMS above which the user counts as speaking
	Debounce  time.Duration // minimum spacing between fired interrupts
}

// BargeIn watches the capture energy stream and fires an interrupt when the
// user speaks over the agent. This is deliberately a local energy-threshold
// heuristic, not a semantic VAD model: it can false-positive on loud ambient
// noise but adds zero inference latency.
type BargeIn struct {
	cfg     BargeInConfig
	playing func() bool
	fire    func()
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	lastFired time.Time

	now func() time.Time
}

// NewBargeIn creates a detector. playing reports whether the agent is
// audible; fire runs the interrupt side effects (stop playback, clear the
// jitter buffer, send the cancel control message) and must be idempotent.
func NewBargeIn(cfg BargeInConfig, playing func() bool, fire func(), logger zerolog.Logger, metrics *observability.Metrics) *BargeIn {
	return &BargeIn{
		cfg:     cfg,
		playing: playing,
		fire:    fire,
		logger:  logger.With().Str("component", "barge_in").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Observe consumes one capture energy reading. An interrupt fires when the
// energy exceeds the threshold while the agent is speaking and the debounce
// window since the last interrupt has elapsed; the side effects run exactly
// once per firing.
func (d *BargeIn) Observe(energy float64) {
	if energy <= d.cfg.Threshold {
		return
	}
	if !d.playing() {
		return
	}

	d.mu.Lock()
	now := d.now()
	if now.Sub(d.lastFired) < d.cfg.Debounce {
		d.mu.Unlock()
		return
	}
	d.lastFired = now
	d.mu.Unlock()

	d.logger.Info().Float64("energy", energy).Msg("Barge-in detected, interrupting agent")
	if d.metrics != nil {
		d.metrics.RecordInterrupt()
	}
	d.fire()
}
