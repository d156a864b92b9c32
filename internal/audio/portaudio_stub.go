//go:build !portaudio

package audio

import (
	"errors"
	"log/slog"

	"murmur/internal/ports"
)

// PortAudioAvailable reports whether this binary was built with PortAudio.
const PortAudioAvailable = false

var errNoPortAudio = errors.New("portaudio backend requires building with -tags portaudio")

type PortAudioFactory struct{}

func NewPortAudioFactory(CaptureConfig, *slog.Logger) *PortAudioFactory {
	return &PortAudioFactory{}
}

func (*PortAudioFactory) NewDevice() (ports.CaptureDevice, error) {
	return nil, errNoPortAudio
}

func (*PortAudioFactory) Close() error {
	return nil
}
