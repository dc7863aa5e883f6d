package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event types sent by the agent. Every inbound message passes through
// ParseServerEvent so downstream handling is exhaustive over a closed set of
// types instead of probing loosely-shaped payloads.
const (
	ServerEventSessionReady = "session.ready"
	ServerEventAudioDelta   = "audio.delta"
	ServerEventResponseDone = "response.done"
	ServerEventError        = "error"
)

// Message types sent to the agent.
const (
	ClientEventSessionStart   = "session.start"
	ClientEventAudioInput     = "audio.input"
	ClientEventResponseCancel = "response.cancel"
	ClientEventSessionEnd     = "session.end"
)

// ServerEvent is one inbound protocol event from the agent.
type ServerEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Audio     string `json:"audio,omitempty"` // base64 PCM16 payload
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ParseServerEvent is the single parsing boundary for inbound agent
// messages. Unknown or malformed events are rejected here.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed agent event: %w", err)
	}

	switch ev.Type {
	case ServerEventSessionReady:
		if ev.SessionID == "" {
			return nil, fmt.Errorf("%s event missing session_id", ev.Type)
		}
	case ServerEventAudioDelta:
		if ev.Audio == "" {
			return nil, fmt.Errorf("%s event missing audio payload", ev.Type)
		}
	case ServerEventResponseDone:
	case ServerEventError:
		if ev.Message == "" {
			return nil, fmt.Errorf("%s event missing message", ev.Type)
		}
	default:
		return nil, fmt.Errorf("unknown agent event type %q", ev.Type)
	}

	return &ev, nil
}

// DecodeAudio decodes the base64 PCM16 payload of an audio.delta event.
func (e *ServerEvent) DecodeAudio() ([]byte, error) {
	frame, err := base64.StdEncoding.DecodeString(e.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return frame, nil
}

// ClientMessage is one outbound protocol message to the agent.
type ClientMessage struct {
	Type         string `json:"type"`
	Audio        string `json:"audio,omitempty"` // base64 PCM16 payload
	AgentID      string `json:"agent_id,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

// NewSessionStart builds the session handshake message.
func NewSessionStart(agent AgentConfig, sampleRate int) ClientMessage {
	return ClientMessage{
		Type:         ClientEventSessionStart,
		AgentID:      agent.AgentID,
		Voice:        agent.Voice,
		Instructions: agent.Instructions,
		SampleRate:   sampleRate,
	}
}

// NewAudioInput wraps an encoded PCM16 frame for the wire.
func NewAudioInput(frame []byte) ClientMessage {
	return ClientMessage{
		Type:  ClientEventAudioInput,
		Audio: base64.StdEncoding.EncodeToString(frame),
	}
}

// NewResponseCancel builds the barge-in cancellation message.
func NewResponseCancel() ClientMessage {
	return ClientMessage{Type: ClientEventResponseCancel}
}

// NewSessionEnd builds the session teardown message.
func NewSessionEnd() ClientMessage {
	return ClientMessage{Type: ClientEventSessionEnd}
}
