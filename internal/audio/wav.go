package audio

import (
	"fmt"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"murmur/internal/ports"
)

const wavBitDepth = 16

// WAVFactory writes recordings as 16-bit PCM WAV files.
type WAVFactory struct{}

func (WAVFactory) Create(path string, format ports.AudioFormat) (ports.AudioFileWriter, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio format %+v", format)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &wavWriter{
		file: f,
		enc:  wav.NewEncoder(f, format.SampleRate, wavBitDepth, format.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: wavBitDepth,
		},
	}, nil
}

type wavWriter struct {
	file *os.File
	enc  *wav.Encoder
	buf  *goaudio.IntBuffer
}

func (w *wavWriter) Write(buf ports.AudioBuffer) error {
	if len(buf.Samples) == 0 {
		return nil
	}
	data := w.buf.Data[:0]
	for _, s := range buf.Samples {
		data = append(data, floatToPCM16(s))
	}
	w.buf.Data = data
	return w.enc.Write(w.buf)
}

// Close finalizes the WAV header and closes the file.
func (w *wavWriter) Close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return fileErr
}

func floatToPCM16(s float32) int {
	if math.IsNaN(float64(s)) {
		return 0
	}
	v := math.Round(float64(s) * math.MaxInt16)
	return int(max(math.MinInt16, min(math.MaxInt16, v)))
}

// WAVDuration reads the duration from a WAV header.
func WAVDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%s is not a valid wav file", path)
	}
	return dec.Duration()
}
