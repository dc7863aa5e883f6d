package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// ErrDeviceUnavailable is returned when the microphone or speaker cannot be
// acquired. It is fatal to the current call and is never retried here.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// InputDevice is the microphone half of the device I/O boundary.
// Implementations hold an opaque platform handle with open/close semantics.
type InputDevice interface {
	// Open acquires the device. Returns an error wrapping
	// ErrDeviceUnavailable if the device cannot be acquired.
	Open() error

	// Read blocks until one full block of normalized samples has been
	// captured into dst. len(dst) must equal the configured block size.
	Read(dst []float32) error

	// Close releases the device handle. Safe to call more than once.
	Close() error
}

// OutputDevice is the speaker half of the device I/O boundary.
type OutputDevice interface {
	Open() error

	// Write blocks until one full block of normalized samples has been
	// handed to the device. len(src) must equal the configured block size.
	Write(src []float32) error

	Close() error
}

// PortAudioInput captures mono float32 blocks from the default input device.
type PortAudioInput struct {
	sampleRate int
	blockSize  int

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
}

// NewPortAudioInput creates an input device for the default microphone.
// portaudio.Initialize must have been called by the host process.
func NewPortAudioInput(sampleRate, blockSize int) *PortAudioInput {
	return &PortAudioInput{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		buf:        make([]float32, blockSize),
	}
}

func (d *PortAudioInput) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return nil
	}
	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(d.sampleRate), d.blockSize, d.buf)
	if err != nil {
		return fmt.Errorf("%w: open input stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: start input stream: %v", ErrDeviceUnavailable, err)
	}
	d.stream = stream
	return nil
}

func (d *PortAudioInput) Read(dst []float32) error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()

	if stream == nil {
		return errors.New("audio: input device not open")
	}
	if err := stream.Read(); err != nil {
		return fmt.Errorf("read input block: %w", err)
	}
	copy(dst, d.buf)
	return nil
}

func (d *PortAudioInput) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}
	d.stream.Stop()
	err := d.stream.Close()
	d.stream = nil
	return err
}

// PortAudioOutput plays mono float32 blocks on the default output device.
type PortAudioOutput struct {
	sampleRate int
	blockSize  int

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
}

// NewPortAudioOutput creates an output device for the default speaker.
func NewPortAudioOutput(sampleRate, blockSize int) *PortAudioOutput {
	return &PortAudioOutput{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		buf:        make([]float32, blockSize),
	}
}

func (d *PortAudioOutput) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return nil
	}
	stream, err := portaudio.OpenDefaultStream(0, Channels, float64(d.sampleRate), d.blockSize, d.buf)
	if err != nil {
		return fmt.Errorf("%w: open output stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: start output stream: %v", ErrDeviceUnavailable, err)
	}
	d.stream = stream
	return nil
}

func (d *PortAudioOutput) Write(src []float32) error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()

	if stream == nil {
		return errors.New("audio: output device not open")
	}
	copy(d.buf, src)
	if err := stream.Write(); err != nil {
		return fmt.Errorf("write output block: %w", err)
	}
	return nil
}

func (d *PortAudioOutput) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}
	d.stream.Stop()
	err := d.stream.Close()
	d.stream = nil
	return err
}
