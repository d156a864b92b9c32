package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"murmur/internal/ports"
)

// commandResult is one finished subprocess.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// CodecConfig selects the upload container and encoder tools.
type CodecConfig struct {
	FFMPEG  string
	FFProbe string
	// Format is the upload container extension without a dot, e.g. "m4a".
	Format  string
	Bitrate string
}

// FFMPEGCodec compresses recordings with ffmpeg and probes with ffprobe.
// WAV durations are read from the header without a subprocess.
type FFMPEGCodec struct {
	cfg    CodecConfig
	runner commandRunner
}

var _ ports.Codec = (*FFMPEGCodec)(nil)

func NewFFMPEGCodec(cfg CodecConfig) *FFMPEGCodec {
	return newFFMPEGCodec(cfg, execRunner{})
}

func newFFMPEGCodec(cfg CodecConfig, runner commandRunner) *FFMPEGCodec {
	if cfg.FFMPEG == "" {
		cfg.FFMPEG = "ffmpeg"
	}
	if cfg.FFProbe == "" {
		cfg.FFProbe = "ffprobe"
	}
	cfg.Format = strings.TrimPrefix(strings.ToLower(cfg.Format), ".")
	if cfg.Format == "" {
		cfg.Format = "m4a"
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "64k"
	}
	return &FFMPEGCodec{cfg: cfg, runner: runner}
}

func (c *FFMPEGCodec) Extension() string {
	return "." + c.cfg.Format
}

func (c *FFMPEGCodec) IsCompact(path string) bool {
	return strings.EqualFold(filepath.Ext(path), c.Extension())
}

func (c *FFMPEGCodec) encoderArgs() []string {
	switch c.cfg.Format {
	case "mp3":
		return []string{"-c:a", "libmp3lame", "-b:a", c.cfg.Bitrate}
	case "ogg", "opus", "webm":
		return []string{"-c:a", "libopus", "-b:a", c.cfg.Bitrate}
	case "flac":
		return []string{"-c:a", "flac"}
	default:
		return []string{"-c:a", "aac", "-b:a", c.cfg.Bitrate}
	}
}

// Compress encodes src, or the range r of it, into dst.
func (c *FFMPEGCodec) Compress(ctx context.Context, src string, dst string, r *ports.TimeRange) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	if r != nil {
		args = append(args, "-ss", formatSeconds(r.Start))
	}
	args = append(args, "-i", src)
	if r != nil {
		args = append(args, "-t", formatSeconds(r.Duration))
	}
	args = append(args, "-vn", "-ac", "1")
	args = append(args, c.encoderArgs()...)
	args = append(args, dst)

	res, err := c.runner.Run(ctx, c.cfg.FFMPEG, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg compress failed (exit %d): %s", res.ExitCode, stringsTrimSpaceSafe(res.Stderr))
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("ffmpeg completed but output file is missing: %w", err)
	}
	return nil
}

func (c *FFMPEGCodec) Duration(ctx context.Context, path string) (time.Duration, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if d, err := WAVDuration(path); err == nil {
			return d, nil
		}
	}

	res, err := c.runner.Run(ctx, c.cfg.FFProbe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed (exit %d): %s", res.ExitCode, stringsTrimSpaceSafe(res.Stderr))
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(res.Stdout), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
