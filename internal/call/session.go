package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sonavoice/voice-client/internal/config"
	"github.com/sonavoice/voice-client/internal/observability"
	"github.com/sonavoice/voice-client/internal/resilience"
	"github.com/sonavoice/voice-client/internal/transport"
)

// Session orchestrates one transport strategy through the call lifecycle:
// idle -> connecting -> connected -> calling -> connected -> ... -> ended.
// Exactly one strategy is driven at a time.
type Session struct {
	cfg      *config.Config
	strategy transport.Strategy
	agent    transport.AgentConfig
	logger   zerolog.Logger
	metrics  *observability.Metrics
	callID   string

	mu          sync.Mutex
	state       transport.CallState
	callStarted bool // a call has run on this session before
	onState     func(transport.CallState)
}

// NewSession creates a call session driving the given strategy.
func NewSession(cfg *config.Config, strategy transport.Strategy) *Session {
	correlationID := observability.NewCorrelationID()
	callID := fmt.Sprintf("call-%s", uuid.New().String())

	logger := observability.WithCorrelationID(correlationID).
		With().
		Str("call_id", callID).
		Logger()

	s := &Session{
		cfg:      cfg,
		strategy: strategy,
		agent: transport.AgentConfig{
			URL:     cfg.AgentURL,
			APIKey:  cfg.AgentAPIKey,
			AgentID: cfg.AgentID,
		},
		logger:  logger,
		metrics: observability.NewCallMetrics(callID),
		callID:  callID,
		state:   transport.StateIdle,
	}
	strategy.OnError(s.handleTransportError)
	return s
}

// OnStateChange sets a callback invoked after each state transition.
func (s *Session) OnStateChange(fn func(transport.CallState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// State returns the current call state.
func (s *Session) State() transport.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the agent session.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.transition(transport.StateIdle, transport.StateConnecting); err != nil {
		return err
	}

	reconnectCfg := &resilience.ReconnectConfig{
		MaxAttempts: s.cfg.ConnectMaxAttempts,
		Backoff:     time.Duration(s.cfg.ConnectInitialBackoffMs) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
	err := resilience.Reconnect(ctx, func() error {
		return s.strategy.CreateSession(ctx, s.agent)
	}, reconnectCfg, s.logger)
	if err != nil {
		s.setState(transport.StateIdle)
		return fmt.Errorf("connect: %w", err)
	}

	s.setState(transport.StateConnected)
	return nil
}

// StartCall initializes and starts the audio pipeline. For consecutive calls
// on the same session the previous call's audio flow is always halted first;
// skipping that step leaks device handles and plays duplicated audio on the
// second call.
func (s *Session) StartCall() error {
	s.mu.Lock()
	if s.state != transport.StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start call in state %q", state)
	}
	restart := s.callStarted
	s.mu.Unlock()

	if restart {
		s.strategy.StopCallImmediately()
	}

	if err := s.strategy.InitAudioPipeline(); err != nil {
		return fmt.Errorf("init audio pipeline: %w", err)
	}
	if err := s.strategy.StartAudioPipeline(); err != nil {
		return fmt.Errorf("start audio pipeline: %w", err)
	}

	s.mu.Lock()
	s.callStarted = true
	s.mu.Unlock()

	s.metrics.RecordCallStart()
	s.setState(transport.StateCalling)
	s.logger.Info().Msg("Call started")
	return nil
}

// EndCall gracefully stops the current call, leaving the session connected
// so another call can start.
func (s *Session) EndCall() error {
	if err := s.transition(transport.StateCalling, transport.StateConnected); err != nil {
		return err
	}

	if err := s.strategy.StopAudioPipeline(); err != nil {
		s.logger.Warn().Err(err).Msg("Audio pipeline stop reported error")
	}
	s.metrics.RecordCallEnd()
	s.logger.Info().Msg("Call ended")
	return nil
}

// Levels returns the strategy's visualization energy snapshots.
func (s *Session) Levels() (capture, playback float64) {
	return s.strategy.Levels()
}

// Cleanup releases every resource held by the session and resets the state
// to idle. The session can be connected again afterwards.
func (s *Session) Cleanup() {
	s.mu.Lock()
	wasCalling := s.state == transport.StateCalling
	s.mu.Unlock()

	s.strategy.StopCallImmediately()
	s.strategy.Cleanup()

	if wasCalling {
		s.metrics.RecordCallEnd()
	}

	s.setState(transport.StateEnded)
	s.logger.Info().Msg("Session cleaned up")

	s.mu.Lock()
	s.state = transport.StateIdle
	s.callStarted = false
	s.mu.Unlock()
}

// handleTransportError reacts to fatal transport errors. Device and
// transport failures end the current call and surface as a state
// transition; nothing at this layer retries them.
func (s *Session) handleTransportError(err error) {
	s.logger.Error().Err(err).Msg("Transport error")
	s.metrics.RecordError("transport_error", "call_session")

	if !errors.Is(err, transport.ErrTransportDisconnected) {
		return
	}

	s.strategy.StopCallImmediately()

	s.mu.Lock()
	if s.state == transport.StateCalling {
		s.metrics.RecordCallEnd()
	}
	s.mu.Unlock()

	s.setState(transport.StateEnded)
}

// transition moves from one expected state to another atomically.
func (s *Session) transition(from, to transport.CallState) error {
	s.mu.Lock()
	if s.state != from {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("invalid state transition from %q (expected %q)", state, from)
	}
	s.state = to
	onState := s.onState
	s.mu.Unlock()

	s.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Call state changed")
	if onState != nil {
		onState(to)
	}
	return nil
}

// setState force-sets the state (error and teardown paths).
func (s *Session) setState(state transport.CallState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	onState := s.onState
	s.mu.Unlock()

	if prev == state {
		return
	}
	s.logger.Info().
		Str("from", prev.String()).
		Str("to", state.String()).
		Msg("Call state changed")
	if onState != nil {
		onState(state)
	}
}
