package chunker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"murmur/internal/metrics"
	"murmur/internal/ports"
)

const (
	DefaultMaxUploadBytes    int64 = 25 * 1024 * 1024
	DefaultTargetUploadBytes int64 = 24 * 1024 * 1024
	DefaultMinChunkDuration        = 10 * time.Second
)

var ErrRecordingTooLarge = errors.New("recording is too large to upload")

// Config bounds upload segments.
type Config struct {
	MaxUploadBytes    int64
	TargetUploadBytes int64
	MinChunkDuration  time.Duration
	TempDir           string
}

// Segment is one upload-ready slice of a recording. Segments are returned in
// chronological order.
type Segment struct {
	Path     string
	Start    time.Duration
	Duration time.Duration
	Size     int64
	// Cleanup is true when Path is a derived temp file owned by the caller.
	Cleanup bool
}

// Chunker turns a recording into upload-sized segments.
type Chunker struct {
	codec   ports.Codec
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(codec ports.Codec, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Chunker {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.TargetUploadBytes <= 0 || cfg.TargetUploadBytes > cfg.MaxUploadBytes {
		cfg.TargetUploadBytes = min(DefaultTargetUploadBytes, cfg.MaxUploadBytes)
	}
	if cfg.MinChunkDuration <= 0 {
		cfg.MinChunkDuration = DefaultMinChunkDuration
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chunker{
		codec:   codec,
		cfg:     cfg,
		logger:  logger.With("component", "chunker"),
		metrics: m,
	}
}

// Prepare produces upload segments for src. On error every temp file created
// during the call has already been removed.
func (c *Chunker) Prepare(ctx context.Context, src string) ([]Segment, error) {
	var temps tempFiles
	segments, err := c.prepare(ctx, src, &temps)
	if err != nil {
		temps.removeAll()
		return nil, err
	}

	sizes := make([]int64, 0, len(segments))
	for _, seg := range segments {
		sizes = append(sizes, seg.Size)
	}
	c.metrics.Segments(len(segments), sizes)
	return segments, nil
}

// Release removes derived segment files. The original recording is never touched.
func (c *Chunker) Release(segments []Segment) {
	for _, seg := range segments {
		if !seg.Cleanup {
			continue
		}
		if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("remove upload segment", "path", seg.Path, "err", err)
		}
	}
}

func (c *Chunker) prepare(ctx context.Context, src string, temps *tempFiles) ([]Segment, error) {
	if c.codec.IsCompact(src) {
		size, err := fileSize(src)
		if err != nil {
			return nil, err
		}
		if size <= c.cfg.TargetUploadBytes {
			return []Segment{{Path: src, Size: size}}, nil
		}
	}

	whole := c.tempPath()
	temps.add(whole)
	if err := c.codec.Compress(ctx, src, whole, nil); err != nil {
		return nil, fmt.Errorf("compress recording: %w", err)
	}
	size, err := fileSize(whole)
	if err != nil {
		return nil, err
	}
	if size <= c.cfg.TargetUploadBytes {
		return []Segment{{Path: whole, Size: size, Cleanup: true}}, nil
	}

	total, err := c.codec.Duration(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("probe recording duration: %w", err)
	}
	temps.remove(whole)

	c.logger.Info("splitting recording", "compressed_bytes", size, "duration", total)
	return c.split(ctx, src, ports.TimeRange{Start: 0, Duration: total}, size, temps)
}

func (c *Chunker) split(ctx context.Context, src string, r ports.TimeRange, compressed int64, temps *tempFiles) ([]Segment, error) {
	count := ChunkCount(compressed, c.cfg.TargetUploadBytes)
	var out []Segment
	for _, sub := range SplitRange(r, count) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := c.tempPath()
		temps.add(path)
		if err := c.codec.Compress(ctx, src, path, &sub); err != nil {
			return nil, fmt.Errorf("compress segment at %s: %w", sub.Start, err)
		}
		size, err := fileSize(path)
		if err != nil {
			return nil, err
		}
		if size <= c.cfg.MaxUploadBytes {
			out = append(out, Segment{Path: path, Start: sub.Start, Duration: sub.Duration, Size: size, Cleanup: true})
			continue
		}
		temps.remove(path)

		childCount := ChunkCount(size, c.cfg.TargetUploadBytes)
		if sub.Duration < c.cfg.MinChunkDuration || sub.Duration/time.Duration(childCount) < c.cfg.MinChunkDuration {
			return nil, fmt.Errorf("%w: %s segment compresses to %d bytes", ErrRecordingTooLarge, sub.Duration, size)
		}
		c.logger.Debug("segment oversized, subdividing", "start", sub.Start, "duration", sub.Duration, "bytes", size, "parts", childCount)
		children, err := c.split(ctx, src, sub, size, temps)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func (c *Chunker) tempPath() string {
	return filepath.Join(c.cfg.TempDir, "murmur-upload-"+uuid.NewString()+c.codec.Extension())
}

// ChunkCount returns max(2, ceil(size/target)).
func ChunkCount(size, target int64) int {
	if target <= 0 {
		return 2
	}
	n := int((size + target - 1) / target)
	return max(2, n)
}

// SplitRange divides r into count equal parts; the last absorbs the remainder.
func SplitRange(r ports.TimeRange, count int) []ports.TimeRange {
	if count < 1 {
		count = 1
	}
	step := r.Duration / time.Duration(count)
	out := make([]ports.TimeRange, 0, count)
	for i := 0; i < count; i++ {
		start := r.Start + time.Duration(i)*step
		d := step
		if i == count-1 {
			d = r.Start + r.Duration - start
		}
		out = append(out, ports.TimeRange{Start: start, Duration: d})
	}
	return out
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	return info.Size(), nil
}

// tempFiles tracks derived files created during one Prepare call.
type tempFiles struct {
	paths []string
}

func (t *tempFiles) add(path string) {
	t.paths = append(t.paths, path)
}

func (t *tempFiles) remove(path string) {
	_ = os.Remove(path)
	for i, p := range t.paths {
		if p == path {
			t.paths = append(t.paths[:i], t.paths[i+1:]...)
			return
		}
	}
}

func (t *tempFiles) removeAll() {
	for _, p := range t.paths {
		_ = os.Remove(p)
	}
	t.paths = nil
}
