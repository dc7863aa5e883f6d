package audio

import (
	"testing"

	"github.com/rs/zerolog"
)

func frameOf(n int, value float32) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	return EncodePCM16(samples)
}

func TestJitterBuffer_FlushBelowMinimum(t *testing.T) {
	b := NewJitterBuffer(JitterConfig{MinBufferSamples: 2500, MaxBufferSamples: 5000}, nil, zerolog.Nop(), nil)

	if err := b.Append(frameOf(1000, 0.1)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, ok := b.TryFlush(); ok {
		t.Error("Expected no flush below the minimum threshold")
	}
}

func TestJitterBuffer_FlushExactlyMinimum(t *testing.T) {
	b := NewJitterBuffer(JitterConfig{MinBufferSamples: 2500, MaxBufferSamples: 120000}, nil, zerolog.Nop(), nil)

	// Three 1000-sample frames, 3000 buffered total.
	for i := 0; i < 3; i++ {
		if err := b.Append(frameOf(1000, 0.1)); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	out, ok := b.TryFlush()
	if !ok {
		t.Fatal("Expected a flush with 3000 samples buffered")
	}
	if len(out) != 2500 {
		t.Errorf("Expected exactly 2500 samples, got %d", len(out))
	}
	if b.Len() != 500 {
		t.Errorf("Expected 500 samples left buffered, got %d", b.Len())
	}

	// The 500-sample remainder is below the threshold again.
	if _, ok := b.TryFlush(); ok {
		t.Error("Expected no flush with only the remainder buffered")
	}
}

func TestJitterBuffer_DeferredWhilePlaying(t *testing.T) {
	playing := true
	b := NewJitterBuffer(JitterConfig{MinBufferSamples: 100, MaxBufferSamples: 1000},
		func() bool { return playing }, zerolog.Nop(), nil)

	if err := b.Append(frameOf(200, 0.1)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, ok := b.TryFlush(); ok {
		t.Error("Expected flush deferred while playback is in flight")
	}

	playing = false
	if _, ok := b.TryFlush(); !ok {
		t.Error("Expected flush once playback finished")
	}
}

func TestJitterBuffer_ForcedFlushAtCeiling(t *testing.T) {
	playing := true
	b := NewJitterBuffer(JitterConfig{MinBufferSamples: 100, MaxBufferSamples: 300},
		func() bool { return playing }, zerolog.Nop(), nil)

	if err := b.Append(frameOf(300, 0.1)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	out, ok := b.TryFlush()
	if !ok {
		t.Fatal("Expected forced flush at the ceiling even while playing")
	}
	if len(out) != 100 {
		t.Errorf("Expected forced flush of 100 samples, got %d", len(out))
	}
	if b.Len() != 200 {
		t.Errorf("Expected 200 samples left, got %d", b.Len())
	}
}

func TestJitterBuffer_OverflowDropsOldest(t *testing.T) {
	b := NewJitterBuffer(JitterConfig{MinBufferSamples: 100, MaxBufferSamples: 400}, nil, zerolog.Nop(), nil)

	if err := b.Append(frameOf(300, 0.1)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// Pushes the buffer to 600, 200 over the ceiling.
	if err := b.Append(frameOf(300, 0.9)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if b.Len() != 400 {
		t.Errorf("Expected buffer trimmed to the 400-sample ceiling, got %d", b.Len())
	}

	out, ok := b.TryFlush()
	if !ok {
		t.Fatal("Expected a flush from the trimmed buffer")
	}
	// The oldest 200 samples were dropped, so the flush starts 100 samples
	// into the first frame's remainder.
	if out[0] < 0.05 || out[0] > 0.15 {
		t.Errorf("Expected flush to start inside the first frame's remainder, got %f", out[0])
	}
	if last := out[len(out)-1]; last < 0.05 || last > 0.15 {
		t.Errorf("Expected flush to end before the second frame, got %f", last)
	}
}

func TestJitterBuffer_AppendRejectsOddFrame(t *testing.T) {
	b := NewJitterBuffer(JitterConfig{MinBufferSamples: 100, MaxBufferSamples: 400}, nil, zerolog.Nop(), nil)

	if err := b.Append([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Error("Expected error for odd-length frame")
	}
	if b.Len() != 0 {
		t.Errorf("Expected no samples buffered after a rejected frame, got %d", b.Len())
	}
}

func TestJitterBuffer_Clear(t *testing.T) {
	b := NewJitterBuffer(JitterConfig{MinBufferSamples: 100, MaxBufferSamples: 400}, nil, zerolog.Nop(), nil)

	if err := b.Append(frameOf(200, 0.1)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Expected empty buffer after Clear, got %d samples", b.Len())
	}
	if _, ok := b.TryFlush(); ok {
		t.Error("Expected no flush after Clear")
	}

	// Clear on an empty buffer is a no-op.
	b.Clear()
}
