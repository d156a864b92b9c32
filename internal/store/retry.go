package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"murmur/internal/domain"
	"murmur/internal/kv"
)

// DurationProbe measures audio length.
type DurationProbe interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

var failedPrefix = kv.Key{"failed"}

// FailedRecordings keeps audio of failed jobs in an audio directory with
// metadata in kv.
type FailedRecordings struct {
	kv       kv.Store
	audioDir string
	probe    DurationProbe
	now      func() time.Time

	mu sync.Mutex
}

func NewFailedRecordings(store kv.Store, audioDir string, probe DurationProbe) (*FailedRecordings, error) {
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create failed recordings dir: %w", err)
	}
	return &FailedRecordings{kv: store, audioDir: audioDir, probe: probe, now: time.Now}, nil
}

func failedKey(id string) kv.Key {
	return kv.Key{"failed", id}
}

// AddFromTemporaryFile moves src into the audio directory and records lastError.
func (s *FailedRecordings) AddFromTemporaryFile(ctx context.Context, src string, lastError string) (domain.FailedRecording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seconds float64
	if s.probe != nil {
		d, err := s.probe.Duration(ctx, src)
		if err != nil {
			return domain.FailedRecording{}, fmt.Errorf("probe duration: %w", err)
		}
		seconds = d.Seconds()
	}

	id := uuid.NewString()
	ext := filepath.Ext(src)
	if ext == "" {
		ext = ".m4a"
	}
	name := id + ext
	dst := filepath.Join(s.audioDir, name)
	if err := moveFile(src, dst); err != nil {
		return domain.FailedRecording{}, err
	}

	var size int64
	if info, err := os.Stat(dst); err == nil {
		size = info.Size()
	}
	now := s.now().UTC()
	rec := domain.FailedRecording{
		ID:              id,
		CreatedAt:       now,
		UpdatedAt:       now,
		AudioFileName:   name,
		SizeBytes:       size,
		DurationSeconds: seconds,
		LastError:       lastError,
	}
	if err := s.putLocked(ctx, rec); err != nil {
		// Put the audio back so the caller still owns it.
		_ = moveFile(dst, src)
		return domain.FailedRecording{}, err
	}
	return rec, nil
}

// List returns records most recently updated first.
func (s *FailedRecordings) List(ctx context.Context) ([]domain.FailedRecording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.allLocked(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(records, func(a, b domain.FailedRecording) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return records, nil
}

func (s *FailedRecordings) UpdateFailure(ctx context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	rec.LastError = lastError
	rec.UpdatedAt = s.now().UTC()
	rec.RetryCount++
	return s.putLocked(ctx, rec)
}

func (s *FailedRecordings) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(s.audioDir, rec.AudioFileName))
	return s.kv.Delete(ctx, failedKey(id))
}

func (s *FailedRecordings) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.allLocked(ctx)
	if err != nil {
		return err
	}
	keys := make([]kv.Key, 0, len(records))
	for _, rec := range records {
		_ = os.Remove(filepath.Join(s.audioDir, rec.AudioFileName))
		keys = append(keys, failedKey(rec.ID))
	}
	if len(keys) == 0 {
		return nil
	}
	return s.kv.BatchDelete(ctx, keys)
}

// Path resolves the stored audio file for id.
func (s *FailedRecordings) Path(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.audioDir, rec.AudioFileName), nil
}

// MarkResolved deletes the record and its audio.
func (s *FailedRecordings) MarkResolved(ctx context.Context, id string) error {
	return s.Delete(ctx, id)
}

func (s *FailedRecordings) getLocked(ctx context.Context, id string) (domain.FailedRecording, error) {
	data, err := s.kv.Get(ctx, failedKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return domain.FailedRecording{}, ErrNotFound
	}
	if err != nil {
		return domain.FailedRecording{}, err
	}
	var rec domain.FailedRecording
	if err := decode(data, &rec); err != nil {
		return domain.FailedRecording{}, err
	}
	return rec, nil
}

func (s *FailedRecordings) putLocked(ctx context.Context, rec domain.FailedRecording) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, failedKey(rec.ID), data); err != nil {
		return fmt.Errorf("save failed recording: %w", err)
	}
	return nil
}

func (s *FailedRecordings) allLocked(ctx context.Context) ([]domain.FailedRecording, error) {
	var records []domain.FailedRecording
	for entry, err := range s.kv.List(ctx, failedPrefix) {
		if err != nil {
			return nil, err
		}
		var rec domain.FailedRecording
		if err := decode(entry.Value, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("move audio: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("move audio: %w", err)
	}
	return os.Remove(src)
}
