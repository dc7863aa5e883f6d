package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
)

func TestHTTPSignaler_Exchange(t *testing.T) {
	var gotAuth string
	var gotOffer webrtc.SessionDescription

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotOffer); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  "v=0 answer",
		})
	}))
	defer srv.Close()

	s := &HTTPSignaler{URL: srv.URL, APIKey: "secret"}
	answer, err := s.Exchange(context.Background(), webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0 offer",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
	if gotOffer.SDP != "v=0 offer" {
		t.Errorf("Expected the offer to be posted, got %q", gotOffer.SDP)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP != "v=0 answer" {
		t.Errorf("Unexpected answer: %+v", answer)
	}
}

func TestHTTPSignaler_EndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no agent available", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := &HTTPSignaler{URL: srv.URL}
	if _, err := s.Exchange(context.Background(), webrtc.SessionDescription{}); err == nil {
		t.Error("Expected error for a non-200 signaling response")
	}
}

func TestPeerStrategy_RequiresSession(t *testing.T) {
	p := NewPeerStrategy(testConfig("http://signal.test"), &HTTPSignaler{URL: "http://signal.test"}, zerolog.Nop(), nil)

	if err := p.InitAudioPipeline(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := p.StartAudioPipeline(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	// Teardown paths are safe without a session.
	p.StopCallImmediately()
	if err := p.StopAudioPipeline(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	p.Cleanup()

	capture, playback := p.Levels()
	if capture != 0 || playback != 0 {
		t.Errorf("Expected zero levels before any media, got %f/%f", capture, playback)
	}
}

func TestPeerStrategy_SignalingFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rejected", http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewPeerStrategy(testConfig(srv.URL), &HTTPSignaler{URL: srv.URL}, zerolog.Nop(), nil)
	defer p.Cleanup()

	err := p.CreateSession(context.Background(), AgentConfig{URL: srv.URL})
	if err == nil {
		t.Fatal("Expected error when signaling fails")
	}

	// No half-built session may linger.
	if perr := p.InitAudioPipeline(); !errors.Is(perr, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after failed negotiation, got %v", perr)
	}
}
