package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
	"github.com/sonavoice/voice-client/internal/audio"
	"github.com/sonavoice/voice-client/internal/config"
	"github.com/sonavoice/voice-client/internal/observability"
	opus "gopkg.in/hraban/opus.v2"
)

// opusClockRate is the RTP clock rate negotiated for the peer audio track.
const opusClockRate = 48000

// Signaler exchanges session descriptions with the remote agent. The
// concrete handshake mechanics (HTTP, websocket signaling, SDP munging) live
// outside this engine.
type Signaler interface {
	Exchange(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// HTTPSignaler exchanges SDP with the agent's signaling endpoint over a
// single HTTP round trip.
type HTTPSignaler struct {
	URL    string
	APIKey string
	Client *http.Client
}

// Exchange posts the local offer and returns the agent's answer.
func (s *HTTPSignaler) Exchange(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	var answer webrtc.SessionDescription

	body, err := json.Marshal(offer)
	if err != nil {
		return answer, fmt.Errorf("marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return answer, fmt.Errorf("build signaling request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return answer, fmt.Errorf("signaling request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return answer, fmt.Errorf("signaling endpoint returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return answer, fmt.Errorf("decode answer: %w", err)
	}
	return answer, nil
}

// PeerStrategy carries the call over a peer-to-peer media connection. The
// peer connection manages capture and playback itself; this engine only
// supplies the out-of-band control channel and read-only visualization taps
// on the inbound track.
type PeerStrategy struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
	signaler Signaler

	onError func(error)

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	control *webrtc.DataChannel
	active  bool

	playbackEnergy atomic.Uint64 // float64 bits, inbound track tap
}

// NewPeerStrategy creates a peer transport strategy.
func NewPeerStrategy(cfg *config.Config, signaler Signaler, logger zerolog.Logger, metrics *observability.Metrics) *PeerStrategy {
	return &PeerStrategy{
		cfg:      cfg,
		logger:   logger.With().Str("component", "peer_transport").Logger(),
		metrics:  metrics,
		signaler: signaler,
	}
}

// OnError sets the callback for fatal transport errors.
func (p *PeerStrategy) OnError(fn func(error)) {
	p.onError = fn
}

// CreateSession negotiates a peer connection with the agent: a
// bidirectional audio transceiver, a control data channel for cancellation
// messages, and the offer/answer exchange through the signaler.
func (p *PeerStrategy) CreateSession(ctx context.Context, agent AgentConfig) error {
	p.mu.Lock()
	if p.pc != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	control, err := pc.CreateDataChannel("control", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create control channel: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go p.tapInboundTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info().Str("state", state.String()).Msg("Peer connection state changed")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			p.StopCallImmediately()
			if p.onError != nil {
				p.onError(fmt.Errorf("%w: peer connection %s", ErrTransportDisconnected, state))
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	answer, err := p.signaler.Exchange(ctx, offer)
	if err != nil {
		pc.Close()
		return fmt.Errorf("signaling exchange: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}

	p.mu.Lock()
	p.pc = pc
	p.control = control
	p.mu.Unlock()

	p.logger.Info().Str("agent_id", agent.AgentID).Msg("Peer session established")
	return nil
}

// InitAudioPipeline verifies the session. Capture and playback are managed
// by the peer connection, so there is no local pipeline to build.
func (p *PeerStrategy) InitAudioPipeline() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc == nil {
		return ErrNotConnected
	}
	return nil
}

// StartAudioPipeline marks the call active. Media flow is driven by the
// peer connection itself.
func (p *PeerStrategy) StartAudioPipeline() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc == nil {
		return ErrNotConnected
	}
	p.active = true
	return nil
}

// StopAudioPipeline gracefully ends the current call's audio flow.
func (p *PeerStrategy) StopAudioPipeline() error {
	p.StopCallImmediately()
	return nil
}

// StopCallImmediately cancels the in-flight agent response and marks the
// call inactive, keeping the peer connection alive for a cheap restart.
// Idempotent.
func (p *PeerStrategy) StopCallImmediately() {
	p.mu.Lock()
	control := p.control
	wasActive := p.active
	p.active = false
	p.mu.Unlock()

	if !wasActive || control == nil {
		return
	}

	msg, err := json.Marshal(NewResponseCancel())
	if err != nil {
		return
	}
	if err := control.SendText(string(msg)); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to send response cancel on control channel")
	}
}

// Cleanup tears the peer connection down. A fresh CreateSession is required
// afterwards.
func (p *PeerStrategy) Cleanup() {
	p.StopCallImmediately()

	p.mu.Lock()
	pc, control := p.pc, p.control
	p.pc = nil
	p.control = nil
	p.mu.Unlock()

	if control != nil {
		control.Close()
	}
	if pc != nil {
		pc.Close()
	}
}

// Levels returns energy snapshots for visualization. Capture level is owned
// by the peer connection and unavailable here; playback level comes from the
// inbound track tap.
func (p *PeerStrategy) Levels() (float64, float64) {
	return 0, math.Float64frombits(p.playbackEnergy.Load())
}

// tapInboundTrack decodes the agent's opus track and keeps a rolling RMS
// snapshot for visualization. Observational only: playback is rendered by
// the peer connection, not from these samples.
func (p *PeerStrategy) tapInboundTrack(track *webrtc.TrackRemote) {
	decoder, err := opus.NewDecoder(opusClockRate, audio.Channels)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Visualization tap unavailable, opus decoder failed")
		return
	}

	// 120ms at 48kHz is the largest opus frame.
	pcm := make([]int16, 5760)
	block := make([]float32, 0, 5760)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}

		block = block[:0]
		for _, s := range pcm[:n] {
			block = append(block, float32(s)/32767)
		}
		p.playbackEnergy.Store(math.Float64bits(audio.RMS(block)))
	}
}
