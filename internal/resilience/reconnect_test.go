package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastReconnectConfig(maxAttempts int) *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: maxAttempts,
		Backoff:     time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Millisecond,
	}
}

func TestReconnect_EventualSuccess(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, fastReconnectConfig(5), zerolog.Nop())

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	attempts := 0
	refused := errors.New("connection refused")
	err := Reconnect(context.Background(), func() error {
		attempts++
		return refused
	}, fastReconnectConfig(3), zerolog.Nop())

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.Is(err, refused) {
		t.Errorf("Expected terminal error to wrap the last attempt failure, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Reconnect(ctx, func() error {
		attempts++
		return errors.New("connection refused")
	}, fastReconnectConfig(3), zerolog.Nop())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("Expected no attempts on a cancelled context, got %d", attempts)
	}
}

func TestReconnect_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := &ReconnectConfig{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Multiplier:  2.0,
		MaxBackoff:  time.Second,
	}

	done := make(chan error, 1)
	go func() {
		done <- Reconnect(ctx, func() error {
			return errors.New("connection refused")
		}, cfg, zerolog.Nop())
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Expected reconnect to abort during backoff")
	}
}
