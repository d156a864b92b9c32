//go:build portaudio

package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"murmur/internal/ports"
)

// PortAudioAvailable reports whether this binary was built with PortAudio.
const PortAudioAvailable = true

// PortAudioFactory opens the default input device through PortAudio.
type PortAudioFactory struct {
	cfg    CaptureConfig
	logger *slog.Logger
	once   sync.Once
	err    error
}

func NewPortAudioFactory(cfg CaptureConfig, logger *slog.Logger) *PortAudioFactory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PortAudioFactory{cfg: cfg.normalized(), logger: logger.With("component", "portaudio")}
}

func (f *PortAudioFactory) NewDevice() (ports.CaptureDevice, error) {
	f.once.Do(func() { f.err = portaudio.Initialize() })
	if f.err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", f.err)
	}
	return &portAudioDevice{cfg: f.cfg, logger: f.logger}, nil
}

// Close releases the PortAudio library.
func (f *PortAudioFactory) Close() error {
	if f.err != nil {
		return nil
	}
	return portaudio.Terminate()
}

type portAudioDevice struct {
	cfg    CaptureConfig
	logger *slog.Logger

	mu      sync.Mutex
	tap     func(ports.AudioBuffer)
	stream  *portaudio.Stream
	running bool
}

func (d *portAudioDevice) Format() ports.AudioFormat {
	return ports.AudioFormat{SampleRate: d.cfg.SampleRate, Channels: d.cfg.Channels}
}

func (d *portAudioDevice) InstallTap(fn func(ports.AudioBuffer)) {
	d.mu.Lock()
	d.tap = fn
	d.mu.Unlock()
}

func (d *portAudioDevice) RemoveTap() {
	d.InstallTap(nil)
}

// SetConfigurationChangeHandler is a no-op. PortAudio does not report route
// changes, so a dead stream is caught by the engine's health check.
func (d *portAudioDevice) SetConfigurationChangeHandler(func()) {}

func (d *portAudioDevice) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *portAudioDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	format := d.Format()
	stream, err := portaudio.OpenDefaultStream(d.cfg.Channels, 0, float64(d.cfg.SampleRate), d.cfg.BlockFrames, func(in []float32) {
		d.mu.Lock()
		tap := d.tap
		d.mu.Unlock()
		if tap != nil {
			tap(ports.AudioBuffer{Samples: in, Format: format})
		}
	})
	if err != nil {
		return fmt.Errorf("open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("start portaudio stream: %w", err)
	}
	d.stream = stream
	d.running = true
	return nil
}

func (d *portAudioDevice) Stop() error {
	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.running = false
	d.mu.Unlock()
	if stream == nil {
		return nil
	}
	stopErr := stream.Stop()
	if err := stream.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}
