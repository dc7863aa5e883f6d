package audio

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sonavoice/voice-client/internal/observability"
)

// SampleSource supplies the next flushed sample slice, typically
// JitterBuffer.TryFlush. It reports false when not enough data is buffered.
type SampleSource func() ([]float32, bool)

// SchedulerConfig holds tuning for the playback scheduler.
type SchedulerConfig struct {
	SampleRate       int // samples per second (24000)
	BlockSize        int // samples per output device block
	CrossfadeSamples int // overlap between consecutive segments (~10ms)
	RetrySamples     int // backoff before re-polling an empty source (~20ms)
}

// PlaybackSegment is a scheduled unit of audio on the sample clock. Segments
// form a contiguous timeline: each one starts no later than the previous
// segment's end and no earlier than that end minus the crossfade window.
type PlaybackSegment struct {
	start   int64
	samples []float32
}

func (s *PlaybackSegment) end() int64 { return s.start + int64(len(s.samples)) }

// Scheduler converts flushed sample slices into gapless output. Segments are
// scheduled back to back with a short crossfade at boundaries, rendered by
// additive mixing onto the device clock, and refilled from the source as
// each segment completes.
type Scheduler struct {
	cfg     SchedulerConfig
	dev     OutputDevice
	source  SampleSource
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	clock    int64 // samples rendered since Start
	prevEnd  int64 // end of the most recently scheduled segment
	retryAt  int64 // earliest clock position for the next idle source poll
	segments []*PlaybackSegment
	started  bool // first segment of the call has been faded in

	// Segment count mirrored outside the lock so the source can consult
	// Playing() from inside a render poll without deadlocking.
	live atomic.Int32

	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	energy atomic.Uint64 // float64 bits, visualization snapshot
}

// NewScheduler creates a playback scheduler pulling from source.
func NewScheduler(cfg SchedulerConfig, dev OutputDevice, source SampleSource, logger zerolog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		dev:     dev,
		source:  source,
		logger:  logger.With().Str("component", "playback").Logger(),
		metrics: metrics,
	}
}

// Schedule places a sample slice on the timeline. The segment starts at
// max(clock, prevEnd - crossfade) so consecutive segments overlap slightly
// instead of leaving a gap or hard-cutting. Gain ramps are applied only to
// the first segment of a call and to overlap regions; everything else passes
// through unmodified. Ownership of samples transfers to the scheduler.
func (s *Scheduler) Schedule(samples []float32) {
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(samples)
}

func (s *Scheduler) scheduleLocked(samples []float32) {
	start := s.prevEnd - int64(s.cfg.CrossfadeSamples)
	if start < s.clock {
		start = s.clock
	}

	seg := &PlaybackSegment{start: start, samples: samples}

	if !s.started {
		fadeIn(seg.samples, s.cfg.CrossfadeSamples)
		s.started = true
	} else if overlap := s.prevEnd - start; overlap > 0 {
		fadeIn(seg.samples, int(overlap))
		if prev := s.lastSegmentLocked(); prev != nil {
			fadeOut(prev.samples, int(overlap))
		}
	}

	s.prevEnd = seg.end()
	s.segments = append(s.segments, seg)
	s.live.Store(int32(len(s.segments)))
}

func (s *Scheduler) lastSegmentLocked() *PlaybackSegment {
	if len(s.segments) == 0 {
		return nil
	}
	return s.segments[len(s.segments)-1]
}

// Render mixes the scheduled timeline into out and advances the clock by
// len(out). The source is polled at timeline boundaries inside the block:
// when the last segment enters its final crossfade window, so a refill can
// overlap its tail, and when it completes, so the next segment continues at
// the exact end position instead of the next block boundary. An empty
// source backs idle polling off by RetrySamples. Work per call is bounded
// by the jitter buffer ceiling.
func (s *Scheduler) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.clock
	to := s.clock + int64(len(out))
	crossfade := int64(s.cfg.CrossfadeSamples)

	for s.clock < to {
		s.pollSourceLocked(crossfade)

		// Mix up to the next point where a refill decision is due.
		step := to
		if edge := s.prevEnd - crossfade; edge > s.clock && edge < step {
			step = edge
		}
		if s.prevEnd > s.clock && s.prevEnd < step {
			step = s.prevEnd
		}
		if s.retryAt > s.clock && s.retryAt < step {
			step = s.retryAt
		}

		live := s.segments[:0]
		for _, seg := range s.segments {
			lo, hi := seg.start, seg.end()
			if lo < s.clock {
				lo = s.clock
			}
			if hi > step {
				hi = step
			}
			for p := lo; p < hi; p++ {
				out[p-from] += seg.samples[p-seg.start]
			}
			if seg.end() > step {
				live = append(live, seg)
			}
		}
		s.segments = live
		s.live.Store(int32(len(live)))
		s.clock = step
	}

	s.energy.Store(math.Float64bits(RMS(out)))
}

// pollSourceLocked pulls from the source while the timeline is inside its
// final crossfade window or exhausted. The retry backoff applies only to
// idle polling; while a segment is still scheduled, its completion boundary
// re-polls regardless, so audio that becomes flushable the moment playback
// ends continues without a gap.
func (s *Scheduler) pollSourceLocked(crossfade int64) {
	for s.source != nil && s.clock >= s.prevEnd-crossfade {
		idle := s.prevEnd <= s.clock
		if idle && s.clock < s.retryAt {
			return
		}
		next, ok := s.source()
		if !ok || len(next) == 0 {
			if idle {
				s.retryAt = s.clock + int64(s.cfg.RetrySamples)
			}
			return
		}
		s.scheduleLocked(next)
	}
}

// Playing reports whether any segment is active or queued on the timeline.
// Lock-free so the flush source can consult it mid-render.
func (s *Scheduler) Playing() bool {
	return s.live.Load() > 0
}

// StopAll halts every playing and scheduled segment and resets the timeline
// to the current clock so a future Schedule starts immediately instead of
// honoring a stale future timestamp. Idempotent.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segments = nil
	s.live.Store(0)
	s.prevEnd = s.clock
	s.retryAt = s.clock
}

// Energy returns the RMS of the most recently rendered block for
// visualization. Observational only.
func (s *Scheduler) Energy() float64 {
	return math.Float64frombits(s.energy.Load())
}

// Start opens the output device and begins the render pump. Calling Start on
// a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.dev.Open(); err != nil {
		return err
	}

	s.running = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.pump(s.done)

	s.logger.Info().
		Int("block_size", s.cfg.BlockSize).
		Int("crossfade_samples", s.cfg.CrossfadeSamples).
		Msg("Playback started")
	return nil
}

// Stop halts the render pump, drops the timeline and releases the device.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.StopAll()
	s.dev.Close()
	s.wg.Wait()
	s.logger.Info().Msg("Playback stopped")
}

func (s *Scheduler) pump(done <-chan struct{}) {
	defer s.wg.Done()

	retry := time.Duration(s.cfg.RetrySamples) * time.Second / time.Duration(s.cfg.SampleRate)
	block := make([]float32, s.cfg.BlockSize)
	for {
		select {
		case <-done:
			return
		default:
		}

		s.Render(block)
		if err := s.dev.Write(block); err != nil {
			select {
			case <-done:
				return
			default:
			}
			// Scheduling failures are recovered locally: reset the
			// timeline origin and retry the next block.
			s.logger.Warn().Err(err).Msg("Output block rejected, resetting timeline")
			if s.metrics != nil {
				s.metrics.RecordSchedulingFailure()
			}
			s.mu.Lock()
			s.prevEnd = s.clock
			s.mu.Unlock()
			time.Sleep(retry)
		}
	}
}

// fadeIn applies a linear gain ramp from 0 to 1 over the first n samples.
func fadeIn(samples []float32, n int) {
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}
}

// fadeOut applies a linear gain ramp from 1 to 0 over the last n samples.
func fadeOut(samples []float32, n int) {
	if n > len(samples) {
		n = len(samples)
	}
	off := len(samples) - n
	for i := 0; i < n; i++ {
		samples[off+i] *= 1 - float32(i)/float32(n)
	}
}
