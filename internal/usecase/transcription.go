package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"murmur/internal/chunker"
	"murmur/internal/domain"
	"murmur/internal/ports"
)

// SegmentSeparator joins per-segment transcripts.
const SegmentSeparator = "\n\n"

// SegmentPreparer splits a recording into upload-ready segments.
type SegmentPreparer interface {
	Prepare(ctx context.Context, src string) ([]chunker.Segment, error)
	Release(segments []chunker.Segment)
}

// TranscriptionService transcribes a recording of any size.
type TranscriptionService struct {
	segments    SegmentPreparer
	transcriber ports.Transcriber
	detector    ports.LanguageDetector
	logger      *slog.Logger
}

func NewTranscriptionService(
	segments SegmentPreparer,
	transcriber ports.Transcriber,
	detector ports.LanguageDetector,
	logger *slog.Logger,
) *TranscriptionService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TranscriptionService{
		segments:    segments,
		transcriber: transcriber,
		detector:    detector,
		logger:      logger.With("component", "transcription"),
	}
}

// Transcribe uploads each segment in chronological order and merges the texts.
func (s *TranscriptionService) Transcribe(ctx context.Context, audioPath string) (domain.TranscriptionResult, error) {
	segments, err := s.segments.Prepare(ctx, audioPath)
	if err != nil {
		return domain.TranscriptionResult{}, err
	}
	defer s.segments.Release(segments)

	texts := make([]string, 0, len(segments))
	for i, seg := range segments {
		text, err := s.transcriber.Transcribe(ctx, seg.Path)
		if err != nil {
			if len(segments) > 1 {
				return domain.TranscriptionResult{}, fmt.Errorf("segment %d of %d: %w", i+1, len(segments), err)
			}
			return domain.TranscriptionResult{}, err
		}
		if err := ctx.Err(); err != nil {
			return domain.TranscriptionResult{}, err
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}

	merged := strings.Join(texts, SegmentSeparator)
	if merged == "" {
		return domain.TranscriptionResult{}, ErrNoSpeech
	}

	lang := domain.English
	if s.detector != nil {
		if detected, ok := s.detector.DetectLanguage(merged); ok {
			lang = detected
		}
	}
	s.logger.Debug("transcription merged", "segments", len(segments), "language", lang.Code)
	return domain.TranscriptionResult{Text: merged, InputLanguage: lang}, nil
}
