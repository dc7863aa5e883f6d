package transport

import (
	"context"
	"errors"
)

// Common errors returned by transport strategies.
var (
	// ErrTransportDisconnected is surfaced when the transport layer loses
	// the agent session. The core responds by stopping the call, never by
	// retrying internally.
	ErrTransportDisconnected = errors.New("transport: disconnected")

	// ErrNotConnected is returned when an operation requires an
	// established session.
	ErrNotConnected = errors.New("transport: session not established")

	// ErrPipelineNotReady is returned when the audio pipeline is used
	// before InitAudioPipeline.
	ErrPipelineNotReady = errors.New("transport: audio pipeline not initialized")
)

// CallState is the lifecycle state of a call session.
type CallState int

const (
	StateIdle CallState = iota
	StateConnecting
	StateConnected
	StateCalling
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateCalling:
		return "calling"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// AgentConfig describes the remote conversational agent a session talks to.
type AgentConfig struct {
	URL          string // agent endpoint (ws(s):// for socket, signaling URL for peer)
	APIKey       string
	AgentID      string
	Voice        string
	Instructions string
}

// Strategy is the transport abstraction the call session drives. Exactly one
// strategy is active per call session.
//
// StopCallImmediately halts only the current call's audio flow so a new call
// can restart cheaply; Cleanup releases every held resource (device handles,
// sockets, peer connection) and requires a fresh CreateSession afterwards.
// Both are idempotent.
type Strategy interface {
	// CreateSession establishes a session with the remote agent.
	CreateSession(ctx context.Context, agent AgentConfig) error

	// InitAudioPipeline constructs the audio pipeline for one call.
	InitAudioPipeline() error

	// StartAudioPipeline begins capture and playback.
	StartAudioPipeline() error

	// StopAudioPipeline gracefully stops capture and playback.
	StopAudioPipeline() error

	// StopCallImmediately halts the current call's audio flow. No-op when
	// no call is running.
	StopCallImmediately()

	// Cleanup releases all held resources.
	Cleanup()

	// OnError sets the callback for fatal transport errors
	// (ErrTransportDisconnected and device failures surfaced mid-call).
	OnError(fn func(error))

	// Levels returns the current capture and playback energy snapshots for
	// visualization. Observational only; never drives the audio path.
	Levels() (capture, playback float64)
}
