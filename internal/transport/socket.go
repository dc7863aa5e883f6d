package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sonavoice/voice-client/internal/audio"
	"github.com/sonavoice/voice-client/internal/config"
	"github.com/sonavoice/voice-client/internal/observability"
	"github.com/sonavoice/voice-client/internal/resilience"
)

// SocketStrategy carries the call over a framed message socket. It owns the
// full pipeline: CaptureUnit -> wire frames -> agent, and agent -> jitter
// buffer -> playback scheduler -> output device.
type SocketStrategy struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	breaker *resilience.CircuitBreaker

	// Device factories, overridable in tests.
	newInput  func() audio.InputDevice
	newOutput func() audio.OutputDevice

	onError func(error)

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	closing   bool

	writeMu sync.Mutex

	capture *audio.Capture
	jitter  *audio.JitterBuffer
	sched   *audio.Scheduler
	bargeIn *audio.BargeIn

	// piping gates inbound audio deltas: the session-lifetime read loop
	// drops them unless a call pipeline is running.
	piping atomic.Bool
}

// NewSocketStrategy creates a socket transport strategy. The circuit breaker
// spans the strategy's lifetime so repeated dial failures across calls fail
// fast.
func NewSocketStrategy(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) *SocketStrategy {
	s := &SocketStrategy{
		cfg:     cfg,
		logger:  logger.With().Str("component", "socket_transport").Logger(),
		metrics: metrics,
		breaker: resilience.NewCircuitBreaker("agent_endpoint",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
	}
	s.newInput = func() audio.InputDevice {
		return audio.NewPortAudioInput(cfg.SampleRate, cfg.BlockSize)
	}
	s.newOutput = func() audio.OutputDevice {
		return audio.NewPortAudioOutput(cfg.SampleRate, cfg.BlockSize)
	}
	return s
}

// OnError sets the callback for fatal transport errors.
func (s *SocketStrategy) OnError(fn func(error)) {
	s.onError = fn
}

// CreateSession dials the agent endpoint, performs the session handshake and
// starts the session-lifetime read loop.
func (s *SocketStrategy) CreateSession(ctx context.Context, agent AgentConfig) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = false
	s.mu.Unlock()

	var conn *websocket.Conn
	dial := func() error {
		retryCfg := &resilience.RetryConfig{
			MaxAttempts:       s.cfg.ConnectMaxAttempts,
			InitialBackoff:    time.Duration(s.cfg.ConnectInitialBackoffMs) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		}
		return resilience.Retry(func() error {
			c, _, err := websocket.DefaultDialer.DialContext(ctx, agent.URL, nil)
			if err != nil {
				return fmt.Errorf("dial agent endpoint: %w", err)
			}
			conn = c
			return nil
		}, retryCfg, resilience.IsRetryableNetworkError)
	}
	if err := s.breaker.Call(dial); err != nil {
		return err
	}

	if err := s.handshake(conn, agent); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)

	s.logger.Info().
		Str("session_id", s.sessionID).
		Str("agent_id", agent.AgentID).
		Msg("Agent session established")
	return nil
}

func (s *SocketStrategy) handshake(conn *websocket.Conn, agent AgentConfig) error {
	if err := conn.WriteJSON(NewSessionStart(agent, s.cfg.SampleRate)); err != nil {
		return fmt.Errorf("send session start: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await session ready: %w", err)
	}
	ev, err := ParseServerEvent(data)
	if err != nil {
		return err
	}
	switch ev.Type {
	case ServerEventSessionReady:
		s.mu.Lock()
		s.sessionID = ev.SessionID
		s.mu.Unlock()
		return nil
	case ServerEventError:
		return fmt.Errorf("agent rejected session: %s (%s)", ev.Message, ev.Code)
	default:
		return fmt.Errorf("unexpected handshake event %q", ev.Type)
	}
}

// InitAudioPipeline constructs the capture unit, jitter buffer, playback
// scheduler and barge-in detector for one call.
func (s *SocketStrategy) InitAudioPipeline() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	schedCfg := audio.SchedulerConfig{
		SampleRate:       s.cfg.SampleRate,
		BlockSize:        s.cfg.BlockSize,
		CrossfadeSamples: s.cfg.CrossfadeSamples(),
		RetrySamples:     s.cfg.FlushRetrySamples(),
	}
	s.sched = audio.NewScheduler(schedCfg, s.newOutput(), func() ([]float32, bool) {
		return s.jitter.TryFlush()
	}, s.logger, s.metrics)

	jitterCfg := audio.JitterConfig{
		MinBufferSamples: s.cfg.MinBufferSamples(),
		MaxBufferSamples: s.cfg.MaxBufferSamples(),
	}
	s.jitter = audio.NewJitterBuffer(jitterCfg, s.sched.Playing, s.logger, s.metrics)

	bargeCfg := audio.BargeInConfig{
		Threshold: s.cfg.VADEnergyThreshold,
		Debounce:  s.cfg.InterruptDebounce(),
	}
	s.bargeIn = audio.NewBargeIn(bargeCfg, s.sched.Playing, s.interrupt, s.logger, s.metrics)

	captureCfg := audio.CaptureConfig{
		SampleRate:   s.cfg.SampleRate,
		BlockSize:    s.cfg.BlockSize,
		VADThreshold: s.cfg.VADEnergyThreshold,
		SendInterval: s.cfg.SendInterval(),
	}
	s.capture = audio.NewCapture(captureCfg, s.newInput(), s.sendFrame, s.bargeIn.Observe, s.logger, s.metrics)

	return nil
}

// StartAudioPipeline begins playback rendering and microphone capture.
func (s *SocketStrategy) StartAudioPipeline() error {
	s.mu.Lock()
	capture, sched := s.capture, s.sched
	s.mu.Unlock()

	if capture == nil || sched == nil {
		return ErrPipelineNotReady
	}

	if err := sched.Start(); err != nil {
		return err
	}
	if err := capture.Start(); err != nil {
		sched.Stop()
		return err
	}
	s.piping.Store(true)
	return nil
}

// StopAudioPipeline gracefully stops capture and playback.
func (s *SocketStrategy) StopAudioPipeline() error {
	s.stopPipeline()
	return nil
}

// StopCallImmediately halts the current call's audio flow while keeping the
// agent session alive so a new call can restart cheaply. Idempotent.
func (s *SocketStrategy) StopCallImmediately() {
	s.stopPipeline()
}

func (s *SocketStrategy) stopPipeline() {
	if !s.piping.Swap(false) {
		return
	}

	s.mu.Lock()
	capture, sched, jitter := s.capture, s.sched, s.jitter
	s.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	if sched != nil {
		sched.StopAll()
		sched.Stop()
	}
	if jitter != nil {
		jitter.Clear()
	}
	s.logger.Info().Msg("Audio pipeline stopped")
}

// Cleanup halts the call and releases the socket. A fresh CreateSession is
// required afterwards.
func (s *SocketStrategy) Cleanup() {
	s.stopPipeline()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.sessionID = ""
	s.closing = true
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		conn.WriteJSON(NewSessionEnd())
		s.writeMu.Unlock()
		conn.Close()
	}
}

// Levels returns capture and playback energy snapshots for visualization.
func (s *SocketStrategy) Levels() (float64, float64) {
	s.mu.Lock()
	capture, sched := s.capture, s.sched
	s.mu.Unlock()

	var in, out float64
	if capture != nil {
		in = capture.Energy()
	}
	if sched != nil {
		out = sched.Energy()
	}
	return in, out
}

// readLoop runs for the lifetime of the agent session, routing inbound
// events through the parsing boundary.
func (s *SocketStrategy) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.isClosing() {
				return
			}
			s.logger.Warn().Err(err).Msg("Agent socket closed unexpectedly")
			s.StopCallImmediately()
			if s.onError != nil {
				s.onError(fmt.Errorf("%w: %v", ErrTransportDisconnected, err))
			}
			return
		}

		ev, err := ParseServerEvent(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Dropping unparseable agent event")
			if s.metrics != nil {
				s.metrics.RecordError("malformed_event", "socket_transport")
			}
			continue
		}

		switch ev.Type {
		case ServerEventAudioDelta:
			s.handleAudioDelta(ev)
		case ServerEventResponseDone:
			s.logger.Debug().Msg("Agent response complete")
		case ServerEventError:
			s.logger.Error().
				Str("code", ev.Code).
				Str("message", ev.Message).
				Msg("Agent reported error")
			if s.metrics != nil {
				s.metrics.RecordError("agent_error", "socket_transport")
			}
		case ServerEventSessionReady:
			// Already handled during the handshake.
		}
	}
}

func (s *SocketStrategy) handleAudioDelta(ev *ServerEvent) {
	if !s.piping.Load() {
		return
	}

	frame, err := ev.DecodeAudio()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping undecodable audio delta")
		return
	}

	s.mu.Lock()
	jitter := s.jitter
	s.mu.Unlock()
	if jitter == nil {
		return
	}

	if err := jitter.Append(frame); err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed audio frame")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordFrame("in", int64(len(frame)))
	}
}

// sendFrame hands one encoded capture frame to the agent.
func (s *SocketStrategy) sendFrame(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(NewAudioInput(frame))
}

// interrupt runs the barge-in side effects: stop playback, drop buffered
// agent audio, tell the agent to cancel the in-flight response. All three
// are idempotent.
func (s *SocketStrategy) interrupt() {
	s.mu.Lock()
	sched, jitter, conn := s.sched, s.jitter, s.conn
	s.mu.Unlock()

	if sched != nil {
		sched.StopAll()
	}
	if jitter != nil {
		jitter.Clear()
	}
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(NewResponseCancel())
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send response cancel")
	}
}

func (s *SocketStrategy) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
