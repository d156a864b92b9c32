// Package notify mirrors pipeline errors and advisories as desktop
// notifications.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

const appName = "Murmur"

// NotifyFunc posts one desktop notification.
type NotifyFunc func(title, message string) error

// DesktopNotify posts through the platform notification service.
func DesktopNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Sink forwards every event to the wrapped sink and additionally posts
// session errors and advisories.
type Sink struct {
	inner  ports.EventSink
	notify NotifyFunc
	logger *slog.Logger
}

func NewSink(inner ports.EventSink, notify NotifyFunc, logger *slog.Logger) *Sink {
	if notify == nil {
		notify = DesktopNotify
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	beeep.AppName = appName
	return &Sink{inner: inner, notify: notify, logger: logger.With("component", "notify")}
}

func (s *Sink) StatusChanged(state domain.PipelineStatus, reason domain.StatusReason) {
	if s.inner != nil {
		s.inner.StatusChanged(state, reason)
	}
}

func (s *Sink) FinalTranscript(text string) {
	if s.inner != nil {
		s.inner.FinalTranscript(text)
	}
}

func (s *Sink) Advisory(message string) {
	if s.inner != nil {
		s.inner.Advisory(message)
	}
	s.post(appName, message)
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	if s.inner != nil {
		s.inner.SessionError(code, detail)
	}
	s.post(errorTitle(code), detail)
}

// post runs outside the caller's goroutine; callers may hold locks.
func (s *Sink) post(title, message string) {
	if message == "" {
		return
	}
	go func() {
		if err := s.notify(title, message); err != nil {
			s.logger.Debug("desktop notification failed", "err", err)
		}
	}()
}

func errorTitle(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Murmur failed to start"
	case domain.ErrorCodeRecording:
		return "Recording failed"
	case domain.ErrorCodeTranscription:
		return "Transcription failed"
	case domain.ErrorCodeTranslation:
		return "Translation failed"
	case domain.ErrorCodeInsertion:
		return "Insertion failed"
	case domain.ErrorCodePersistence:
		return "History not saved"
	case domain.ErrorCodeRetryStore:
		return "Failed recording not saved"
	default:
		return appName
	}
}
