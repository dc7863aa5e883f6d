package audio

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sonavoice/voice-client/internal/observability"
)

// FrameSender hands an encoded PCM16 wire frame to the active transport.
// Ownership of the frame transfers to the sender.
type FrameSender func(frame []byte) error

// CaptureConfig holds tuning for the capture unit.
type CaptureConfig struct {
	SampleRate   int           // samples per second (24000)
	BlockSize    int           // samples per processing block (4096)
	VADThreshold float64       // RMS gate on normalized samples; blocks below are dropped
	SendInterval time.Duration // minimum spacing between frame sends
}

// Capture owns the microphone device and runs the periodic processing loop:
// per block it computes RMS energy, reports it to the energy observer, gates
// silent blocks, and sends speech blocks to the transport at a bounded rate.
type Capture struct {
	cfg      CaptureConfig
	dev      InputDevice
	send     FrameSender
	onEnergy func(float64)
	logger   zerolog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	running  bool
	done     chan struct{}
	wg       sync.WaitGroup
	lastSend time.Time

	energy atomic.Uint64 // float64 bits, visualization snapshot

	now func() time.Time
}

// NewCapture creates a capture unit. send receives encoded frames; onEnergy
// is invoked with the block RMS on every processing callback, independent of
// gating and throttling, and may be nil.
func NewCapture(cfg CaptureConfig, dev InputDevice, send FrameSender, onEnergy func(float64), logger zerolog.Logger, metrics *observability.Metrics) *Capture {
	return &Capture{
		cfg:      cfg,
		dev:      dev,
		send:     send,
		onEnergy: onEnergy,
		logger:   logger.With().Str("component", "capture").Logger(),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Start opens the input device and begins the capture loop. Calling Start on
// a running unit is a no-op. Device acquisition failure is returned wrapping
// ErrDeviceUnavailable.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if err := c.dev.Open(); err != nil {
		return err
	}

	c.running = true
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.loop(c.done)

	c.logger.Info().
		Int("block_size", c.cfg.BlockSize).
		Float64("vad_threshold", c.cfg.VADThreshold).
		Dur("send_interval", c.cfg.SendInterval).
		Msg("Capture started")
	return nil
}

// Stop halts the capture loop and releases the device. Idempotent; the unit
// can be started again afterwards.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	c.mu.Unlock()

	c.dev.Close()
	c.wg.Wait()
	c.logger.Info().Msg("Capture stopped")
}

// Energy returns the most recent block RMS for visualization. Read-only and
// non-blocking; never used to drive the audio path.
func (c *Capture) Energy() float64 {
	return math.Float64frombits(c.energy.Load())
}

func (c *Capture) loop(done <-chan struct{}) {
	defer c.wg.Done()

	block := make([]float32, c.cfg.BlockSize)
	// One block's worth of wall time; paces retries when the device errors
	// so a failing input cannot spin the loop hot.
	readBackoff := time.Duration(c.cfg.BlockSize) * time.Second / time.Duration(c.cfg.SampleRate)
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := c.dev.Read(block); err != nil {
			select {
			case <-done:
				return
			default:
			}
			c.logger.Warn().Err(err).Msg("Input block read failed")
			if c.metrics != nil {
				c.metrics.RecordError("capture_read_error", "capture")
			}
			select {
			case <-done:
				return
			case <-time.After(readBackoff):
			}
			continue
		}

		c.processBlock(block)
	}
}

// processBlock runs the per-callback pipeline on one captured block.
func (c *Capture) processBlock(block []float32) {
	rms := RMS(block)
	c.energy.Store(math.Float64bits(rms))

	// Energy is reported on every block so barge-in detection is never
	// gated by the send decision.
	if c.onEnergy != nil {
		c.onEnergy(rms)
	}

	if rms < c.cfg.VADThreshold {
		return
	}

	now := c.now()
	if now.Sub(c.lastSend) < c.cfg.SendInterval {
		return
	}
	c.lastSend = now

	frame := EncodePCM16(block)
	if err := c.send(frame); err != nil {
		c.logger.Warn().Err(err).Msg("Frame send failed")
		if c.metrics != nil {
			c.metrics.RecordError("frame_send_error", "capture")
		}
		return
	}
	if c.metrics != nil {
		c.metrics.RecordFrame("out", int64(len(frame)))
	}
}
