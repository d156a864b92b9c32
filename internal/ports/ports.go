package ports

import (
	"context"
	"time"

	"murmur/internal/domain"
)

// AudioFormat describes the native format a capture device delivers.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// AudioBuffer is one block of interleaved float samples in [-1, 1].
type AudioBuffer struct {
	Samples []float32
	Format  AudioFormat
}

// Frames returns the number of sample frames in the buffer.
func (b AudioBuffer) Frames() int {
	if b.Format.Channels <= 0 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Format.Channels
}

// CaptureDevice is an OS audio input stream. The tap and the configuration
// change handler are invoked on the device's own goroutine.
type CaptureDevice interface {
	InstallTap(fn func(AudioBuffer))
	RemoveTap()
	SetConfigurationChangeHandler(fn func())
	Start() error
	Stop() error
	IsRunning() bool
	Format() AudioFormat
}

// CaptureDeviceFactory creates fresh device instances for engine recreation.
type CaptureDeviceFactory interface {
	NewDevice() (CaptureDevice, error)
}

// AudioFileWriter receives recorded buffers. It is not safe for concurrent use.
type AudioFileWriter interface {
	Write(buf AudioBuffer) error
	Close() error
}

// AudioFileFactory creates recording output files.
type AudioFileFactory interface {
	Create(path string, format AudioFormat) (AudioFileWriter, error)
}

// Recorder is the capture surface the pipeline drives.
type Recorder interface {
	StartRecording() error
	StopRecording() (domain.Recording, error)
	IsRecording() bool
}

// TimeRange selects a slice of a source recording.
type TimeRange struct {
	Start    time.Duration
	Duration time.Duration
}

// Codec compresses recordings into the upload format and probes durations.
type Codec interface {
	// IsCompact reports whether path is already in the upload container format.
	IsCompact(path string) bool
	// Extension is the file extension (with dot) Compress produces.
	Extension() string
	// Compress writes src (or the given range of it) to dst in the upload format.
	Compress(ctx context.Context, src string, dst string, r *TimeRange) error
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Transcriber converts one upload-ready audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Translator translates text into the target language.
type Translator interface {
	Translate(ctx context.Context, text string, target domain.Language) (string, error)
}

// LanguageDetector guesses the language of transcribed text.
type LanguageDetector interface {
	DetectLanguage(text string) (domain.Language, bool)
}

// TextInserter types text into the focused application.
type TextInserter interface {
	InsertText(ctx context.Context, text string) error
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// Permissions reports OS-level capabilities.
type Permissions interface {
	HasMicrophoneAccess() bool
	HasAccessibilityAccess() bool
}

// ForegroundApp identifies the application receiving inserted text.
type ForegroundApp interface {
	Current() domain.AppIdentity
}

// Preferences exposes user switches.
type Preferences interface {
	Get() domain.Preferences
}

// HistoryStore persists delivered transcripts.
type HistoryStore interface {
	Add(ctx context.Context, item domain.TranscriptItem) error
	List(ctx context.Context, page, pageSize int) ([]domain.TranscriptItem, error)
	Search(ctx context.Context, query string, page, pageSize int) ([]domain.TranscriptItem, error)
	Count(ctx context.Context, query string) (int, error)
	ClearAll(ctx context.Context) error
}

// RetryStore durably keeps audio of failed jobs.
type RetryStore interface {
	AddFromTemporaryFile(ctx context.Context, sourcePath string, lastError string) (domain.FailedRecording, error)
	List(ctx context.Context) ([]domain.FailedRecording, error)
	UpdateFailure(ctx context.Context, id string, lastError string) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	Path(ctx context.Context, id string) (string, error)
	MarkResolved(ctx context.Context, id string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	StatusChanged(state domain.PipelineStatus, reason domain.StatusReason)
	FinalTranscript(text string)
	Advisory(message string)
	SessionError(code domain.ErrorCode, detail string)
}
