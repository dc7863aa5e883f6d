package audio

import (
	"math"
	"testing"
)

func TestEncodePCM16_Length(t *testing.T) {
	samples := make([]float32, 480)
	data := EncodePCM16(samples)

	if len(data) != len(samples)*BytesPerSample {
		t.Errorf("Expected %d bytes, got %d", len(samples)*BytesPerSample, len(data))
	}
}

func TestEncodePCM16_Clipping(t *testing.T) {
	data := EncodePCM16([]float32{2.0, -2.0, 1.0, -1.0})

	full := EncodePCM16([]float32{1.0, -1.0})
	if data[0] != full[0] || data[1] != full[1] {
		t.Error("Expected +2.0 to clip to the same bytes as +1.0")
	}
	if data[2] != full[2] || data[3] != full[3] {
		t.Error("Expected -2.0 to clip to the same bytes as -1.0")
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	_, err := DecodePCM16([]byte{0x00, 0x01, 0x02})
	if err == nil {
		t.Error("Expected error for odd-length payload")
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	in := []float32{0.0, 0.5, -0.5, 0.999, -0.999, 0.015, -0.015}

	out, err := DecodePCM16(EncodePCM16(in))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Expected %d samples, got %d", len(in), len(out))
	}

	// One quantization step at 16 bits.
	step := 1.0 / 32767.0
	for i := range in {
		if diff := math.Abs(float64(in[i] - out[i])); diff > step {
			t.Errorf("Sample %d: expected %f within %f, got %f", i, in[i], step, out[i])
		}
	}
}

func TestCodec_LittleEndian(t *testing.T) {
	// 0x0102 = 258 as little-endian bytes.
	samples, err := DecodePCM16([]byte{0x02, 0x01})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := float32(258) / 32767
	if samples[0] != want {
		t.Errorf("Expected %f, got %f", want, samples[0])
	}
}

func TestRMS_Empty(t *testing.T) {
	if rms := RMS(nil); rms != 0.0 {
		t.Errorf("Expected 0.0 for empty input, got %f", rms)
	}
}

func TestRMS_ConstantSignal(t *testing.T) {
	samples := make([]float32, 1024)
	for i := range samples {
		samples[i] = 0.5
	}

	rms := RMS(samples)
	if math.Abs(rms-0.5) > 1e-6 {
		t.Errorf("Expected RMS 0.5, got %f", rms)
	}
}

func TestRMS_Silence(t *testing.T) {
	if rms := RMS(make([]float32, 1024)); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for silence, got %f", rms)
	}
}
