package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"murmur/internal/ports"
)

const drainGrace = 500 * time.Millisecond

// CaptureConfig selects the ffmpeg input.
type CaptureConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	// BlockFrames is the number of frames delivered per tap callback.
	BlockFrames int
}

func (c CaptureConfig) normalized() CaptureConfig {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	if c.BlockFrames <= 0 {
		c.BlockFrames = c.SampleRate / 10
	}
	return c
}

// FFMPEGFactory creates ffmpeg-backed capture devices.
type FFMPEGFactory struct {
	cfg    CaptureConfig
	logger *slog.Logger
}

func NewFFMPEGFactory(cfg CaptureConfig, logger *slog.Logger) *FFMPEGFactory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FFMPEGFactory{cfg: cfg.normalized(), logger: logger.With("component", "ffmpeg_capture")}
}

func (f *FFMPEGFactory) NewDevice() (ports.CaptureDevice, error) {
	if _, err := exec.LookPath(f.cfg.Command); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}
	return &FFMPEGCapture{cfg: f.cfg, logger: f.logger}, nil
}

// FFMPEGCapture streams microphone PCM from an ffmpeg child process. An
// unexpected process exit is reported through the configuration change handler.
type FFMPEGCapture struct {
	cfg    CaptureConfig
	logger *slog.Logger

	mu       sync.Mutex
	tap      func(ports.AudioBuffer)
	onChange func()
	proc     *ffmpegProcess
}

func NewFFMPEGCapture(cfg CaptureConfig, logger *slog.Logger) *FFMPEGCapture {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FFMPEGCapture{cfg: cfg.normalized(), logger: logger}
}

func (c *FFMPEGCapture) Format() ports.AudioFormat {
	return ports.AudioFormat{SampleRate: c.cfg.SampleRate, Channels: c.cfg.Channels}
}

func (c *FFMPEGCapture) InstallTap(fn func(ports.AudioBuffer)) {
	c.mu.Lock()
	c.tap = fn
	c.mu.Unlock()
}

func (c *FFMPEGCapture) RemoveTap() {
	c.InstallTap(nil)
}

func (c *FFMPEGCapture) SetConfigurationChangeHandler(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *FFMPEGCapture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc != nil && !c.proc.exited()
}

func (c *FFMPEGCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != nil && !c.proc.exited() {
		return nil
	}

	proc, err := startFFMPEG(c.cfg)
	if err != nil {
		return err
	}
	c.proc = proc
	go c.readLoop(proc)
	return nil
}

func (c *FFMPEGCapture) Stop() error {
	c.mu.Lock()
	proc := c.proc
	c.proc = nil
	c.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.stop()
}

func (c *FFMPEGCapture) readLoop(proc *ffmpegProcess) {
	defer close(proc.readDone)

	frameBytes := 2 * c.cfg.Channels
	raw := make([]byte, c.cfg.BlockFrames*frameBytes)
	format := c.Format()
	for {
		n, err := io.ReadFull(proc.stdout, raw)
		if n >= frameBytes {
			n -= n % frameBytes
			buf := ports.AudioBuffer{Samples: pcm16ToFloat(raw[:n]), Format: format}
			c.mu.Lock()
			tap := c.tap
			c.mu.Unlock()
			if tap != nil {
				tap(buf)
			}
		}
		if err != nil {
			break
		}
	}
	_ = proc.stdout.Close()

	c.mu.Lock()
	stopping := proc.stopping()
	onChange := c.onChange
	if c.proc == proc {
		c.proc = nil
	}
	c.mu.Unlock()

	if !stopping {
		c.logger.Warn("ffmpeg capture exited unexpectedly", "stderr", proc.stderrText())
		if onChange != nil {
			// The handler takes the engine lock, which Stop callers may hold.
			go onChange()
		}
	}
}

type ffmpegProcess struct {
	cmd      *exec.Cmd
	stdout   *os.File
	stderr   *lockedBuffer
	waitErr  chan error
	readDone chan struct{}

	mu       sync.Mutex
	done     bool
	stopFlag bool
	stopOnce sync.Once
	stopErr  error
}

func startFFMPEG(cfg CaptureConfig) (*ffmpegProcess, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.Command(cfg.Command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	// The pipe is owned here rather than by exec so Wait never closes it
	// while the read loop is still draining trailing PCM.
	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	_ = pw.Close()

	p := &ffmpegProcess{
		cmd:      cmd,
		stdout:   stdout,
		stderr:   stderr,
		waitErr:  make(chan error, 1),
		readDone: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.done = true
		p.mu.Unlock()
		p.waitErr <- err
		close(p.waitErr)
	}()

	select {
	case err := <-p.waitErr:
		_ = stdout.Close()
		close(p.readDone)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}
	return p, nil
}

func (p *ffmpegProcess) exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *ffmpegProcess) stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopFlag
}

func (p *ffmpegProcess) stderrText() string {
	return stringsTrimSpaceSafe(p.stderr.String())
}

func (p *ffmpegProcess) stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopFlag = true
		p.mu.Unlock()

		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		// The read loop normally ends on EOF once the process is gone. A
		// lingering writer is cut off after the grace period.
		select {
		case <-p.readDone:
		case <-time.After(drainGrace):
		}
		if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if p.stopErr == nil {
				p.stopErr = closeErr
			}
		}
		<-p.readDone

		if p.stopErr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, p.stderrText())
		}
	})
	return p.stopErr
}

func pcm16ToFloat(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		out[i] = float32(v) / float32(math.MaxInt16+1)
	}
	return out
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// lockedBuffer is written by exec's stderr copier and read by the read loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
