package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"murmur/internal/domain"
	"murmur/internal/metrics"
	"murmur/internal/ports"
)

var (
	ErrEngineNotReady    = errors.New("audio engine is not ready")
	ErrEngineStartFailed = errors.New("audio engine failed to start")
	ErrNotRecording      = errors.New("no active recording")
	ErrAlreadyRecording  = errors.New("recording already in progress")
	ErrClosed            = errors.New("audio engine is closed")
)

// Config controls supervisor timing. A zero IdleTimeout disables the nap.
type Config struct {
	HealthTimeout  time.Duration
	CheckInterval  time.Duration
	ConfigDebounce time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RetryStep      time.Duration
	FallbackDelay  time.Duration
	IdleTimeout    time.Duration
	PreRoll        time.Duration
	TempDir        string
	QueueSize      int
}

// DefaultConfig returns the production timing values.
func DefaultConfig() Config {
	return Config{
		HealthTimeout:  2 * time.Second,
		CheckInterval:  3 * time.Second,
		ConfigDebounce: 800 * time.Millisecond,
		RetryAttempts:  6,
		RetryDelay:     time.Second,
		RetryStep:      500 * time.Millisecond,
		FallbackDelay:  30 * time.Second,
		IdleTimeout:    15 * time.Second,
		PreRoll:        time.Second,
		QueueSize:      256,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = def.HealthTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.ConfigDebounce <= 0 {
		c.ConfigDebounce = def.ConfigDebounce
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.RetryStep < 0 {
		c.RetryStep = def.RetryStep
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = def.FallbackDelay
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.PreRoll < 0 {
		c.PreRoll = 0
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	return c
}

// tapped is one buffer copied off the device callback, stamped with the
// generation of the device instance that produced it.
type tapped struct {
	gen uint64
	at  time.Time
	buf ports.AudioBuffer
}

type recordingSession struct {
	path      string
	startedAt time.Time
	writer    ports.AudioFileWriter
	err       error
}

// Supervisor owns one capture device at a time, keeps it alive, and records
// from it on demand.
type Supervisor struct {
	factory ports.CaptureDeviceFactory
	files   ports.AudioFileFactory
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	queue  chan tapped
	levels chan float64
	done   chan struct{}
	wg     sync.WaitGroup

	mu            sync.Mutex
	device        ports.CaptureDevice
	generation    uint64
	started       bool
	napping       bool
	recovering    bool
	closed        bool
	deviceStarted time.Time
	lastBuffer    time.Time
	preRoll       *preRoll
	session       *recordingSession
	handled       uint64

	healthSeq   uint64
	debounceSeq uint64
	napSeq      uint64

	healthTimer   Timer
	debounceTimer Timer
	napTimer      Timer
	retryTimer    Timer
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

func WithClock(clock Clock) Option {
	return func(s *Supervisor) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// NewSupervisor constructs a supervisor and starts its buffer worker. The
// device itself is not opened until StartEngine or StartRecording.
func NewSupervisor(factory ports.CaptureDeviceFactory, files ports.AudioFileFactory, cfg Config, opts ...Option) *Supervisor {
	cfg = cfg.normalized()
	s := &Supervisor{
		factory: factory,
		files:   files,
		clock:   SystemClock(),
		logger:  slog.New(slog.DiscardHandler),
		cfg:     cfg,
		queue:   make(chan tapped, cfg.QueueSize),
		levels:  make(chan float64, 1),
		done:    make(chan struct{}),
		preRoll: newPreRoll(cfg.PreRoll),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "engine")

	s.wg.Add(1)
	go s.drainBuffers()
	return s
}

// Levels streams input levels in [0, 1]. Only the latest value is retained.
func (s *Supervisor) Levels() <-chan float64 {
	return s.levels
}

// Generation returns the current device generation.
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// IsHealthy reports whether the device is running and delivered audio recently.
func (s *Supervisor) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthyLocked()
}

// IsRecording reports whether a recording session is active.
func (s *Supervisor) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// IsNapping reports whether the device was stopped because of inactivity.
func (s *Supervisor) IsNapping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.napping
}

// StartEngine opens and starts the capture device. It is idempotent while
// the device is running.
func (s *Supervisor) StartEngine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startEngineLocked()
}

// StopEngine stops health checks, the idle timer, and the device.
func (s *Supervisor) StopEngine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopEngineLocked()
}

// Close stops the engine, releases the device, and stops the buffer worker.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.stopEngineLocked()
	s.teardownLocked()
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// StartRecording opens a new output file and flushes the pre-roll into it.
func (s *Supervisor) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.session != nil {
		return ErrAlreadyRecording
	}
	s.cancelNapLocked()

	if !s.started || s.napping || s.device == nil || !s.device.IsRunning() {
		if err := s.startEngineLocked(); err != nil {
			return fmt.Errorf("%w: %v", ErrEngineNotReady, err)
		}
	} else if !s.healthyLocked() && !s.warmingLocked() {
		s.logger.Warn("recording refused, engine unhealthy", "gen", s.generation)
		return ErrEngineNotReady
	}

	format := s.device.Format()
	path := filepath.Join(s.cfg.TempDir, "murmur-"+uuid.NewString()+".wav")
	writer, err := s.files.Create(path, format)
	if err != nil {
		return fmt.Errorf("create recording file: %w", err)
	}

	session := &recordingSession{
		path:      path,
		startedAt: s.clock.Now(),
		writer:    writer,
	}
	for _, buf := range s.preRoll.drain() {
		if err := writer.Write(buf); err != nil {
			session.err = err
			break
		}
	}
	s.session = session
	s.logger.Info("recording started", "gen", s.generation, "path", path)
	return nil
}

// StopRecording finishes the active session and schedules the idle nap.
func (s *Supervisor) StopRecording() (domain.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session
	if session == nil {
		return domain.Recording{}, ErrNotRecording
	}
	s.session = nil
	s.scheduleNapLocked()

	err := errors.Join(session.err, session.writer.Close())
	if err != nil {
		_ = os.Remove(session.path)
		return domain.Recording{}, fmt.Errorf("finish recording: %w", err)
	}

	rec := domain.Recording{
		Path:      session.path,
		StartedAt: session.startedAt,
		Duration:  s.clock.Now().Sub(session.startedAt),
	}
	s.logger.Info("recording stopped", "gen", s.generation, "duration", rec.Duration)
	return rec, nil
}

func (s *Supervisor) startEngineLocked() error {
	if s.closed {
		return ErrClosed
	}
	s.started = true
	s.napping = false
	s.cancelNapLocked()

	if s.device != nil && s.device.IsRunning() {
		if s.healthTimer == nil {
			s.scheduleHealthCheckLocked()
		}
		return nil
	}
	if err := s.startDeviceLocked(); err != nil {
		s.teardownLocked()
		s.logger.Error("engine start failed", "gen", s.generation, "err", err)
		return fmt.Errorf("%w: %v", ErrEngineStartFailed, err)
	}
	s.recovering = false
	s.scheduleHealthCheckLocked()
	s.logger.Info("engine started", "gen", s.generation)
	return nil
}

func (s *Supervisor) stopEngineLocked() {
	s.started = false
	s.napping = false
	s.recovering = false
	s.healthSeq++
	s.debounceSeq++
	s.napSeq++
	stopTimer(s.healthTimer)
	stopTimer(s.debounceTimer)
	stopTimer(s.napTimer)
	stopTimer(s.retryTimer)
	s.healthTimer, s.debounceTimer, s.napTimer, s.retryTimer = nil, nil, nil, nil

	if s.session != nil {
		_ = s.session.writer.Close()
		_ = os.Remove(s.session.path)
		s.logger.Warn("recording aborted by engine stop", "path", s.session.path)
		s.session = nil
	}
	if s.device != nil {
		s.device.RemoveTap()
		if err := s.device.Stop(); err != nil {
			s.logger.Warn("device stop failed", "gen", s.generation, "err", err)
		}
	}
	s.preRoll.reset()
	s.lastBuffer = time.Time{}
}

// startDeviceLocked starts the current device, creating one for the current
// generation when none exists.
func (s *Supervisor) startDeviceLocked() error {
	if s.device == nil {
		device, err := s.factory.NewDevice()
		if err != nil {
			return err
		}
		s.device = device
		gen := s.generation
		device.SetConfigurationChangeHandler(func() { s.handleConfigurationChange(gen) })
	}
	s.device.InstallTap(s.tapFor(s.generation))
	if err := s.device.Start(); err != nil {
		return err
	}
	s.deviceStarted = s.clock.Now()
	s.lastBuffer = time.Time{}
	return nil
}

func (s *Supervisor) teardownLocked() {
	if s.device == nil {
		return
	}
	s.device.RemoveTap()
	s.device.SetConfigurationChangeHandler(nil)
	if err := s.device.Stop(); err != nil {
		s.logger.Debug("device teardown stop failed", "gen", s.generation, "err", err)
	}
	s.device = nil
	s.lastBuffer = time.Time{}
}

// tapFor builds the device callback. It copies and enqueues only.
func (s *Supervisor) tapFor(gen uint64) func(ports.AudioBuffer) {
	return func(buf ports.AudioBuffer) {
		copied := ports.AudioBuffer{
			Samples: append([]float32(nil), buf.Samples...),
			Format:  buf.Format,
		}
		select {
		case s.queue <- tapped{gen: gen, at: s.clock.Now(), buf: copied}:
		default:
			s.metrics.BufferDropped()
		}
	}
}

func (s *Supervisor) drainBuffers() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case t := <-s.queue:
			s.handleBuffer(t)
		}
	}
}

func (s *Supervisor) handleBuffer(t tapped) {
	level := Level(t.buf.Samples)

	s.mu.Lock()
	s.handled++
	if t.gen != s.generation || s.device == nil || !s.started || s.napping {
		s.mu.Unlock()
		return
	}
	s.lastBuffer = t.at
	if session := s.session; session != nil {
		if session.err == nil {
			session.err = session.writer.Write(t.buf)
		}
	} else {
		s.preRoll.push(t.buf)
	}
	s.mu.Unlock()

	s.publishLevel(level)
}

func (s *Supervisor) publishLevel(level float64) {
	s.metrics.Level(level)
	select {
	case s.levels <- level:
		return
	default:
	}
	select {
	case <-s.levels:
	default:
	}
	select {
	case s.levels <- level:
	default:
	}
}

func (s *Supervisor) healthyLocked() bool {
	if s.device == nil || !s.device.IsRunning() || s.lastBuffer.IsZero() {
		return false
	}
	return s.clock.Now().Sub(s.lastBuffer) < s.cfg.HealthTimeout
}

// warmingLocked reports a freshly started device that has not had time to
// deliver its first buffer.
func (s *Supervisor) warmingLocked() bool {
	return s.device != nil && s.lastBuffer.IsZero() &&
		s.clock.Now().Sub(s.deviceStarted) < s.cfg.HealthTimeout
}

func (s *Supervisor) scheduleHealthCheckLocked() {
	stopTimer(s.healthTimer)
	s.healthSeq++
	seq := s.healthSeq
	s.healthTimer = s.clock.AfterFunc(s.cfg.CheckInterval, func() { s.checkHealth(seq) })
}

func (s *Supervisor) checkHealth(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.healthSeq || !s.started || s.closed {
		return
	}
	defer s.scheduleHealthCheckLocked()

	if s.napping || s.recovering || s.healthyLocked() {
		return
	}
	s.logger.Warn("engine unhealthy, recovering", "gen", s.generation, "last_buffer", s.lastBuffer)
	s.recoverLocked()
}

// recoverLocked restarts the device in place and falls back to recreating it.
func (s *Supervisor) recoverLocked() {
	if s.device != nil {
		if err := s.device.Stop(); err != nil {
			s.logger.Debug("device stop before restart failed", "gen", s.generation, "err", err)
		}
		err := s.startDeviceLocked()
		s.metrics.RestartAttempt(err == nil)
		if err == nil {
			s.logger.Info("engine restarted in place", "gen", s.generation)
			return
		}
		s.logger.Warn("in-place restart failed", "gen", s.generation, "err", err)
	}
	s.recreateLocked()
}

func (s *Supervisor) recreateLocked() {
	s.teardownLocked()
	s.generation++
	s.recovering = true
	s.metrics.SetGeneration(s.generation)
	s.metrics.Recreated()
	s.logger.Info("engine recreating", "gen", s.generation)
	s.scheduleRetryLocked(s.generation, 1)
}

func (s *Supervisor) scheduleRetryLocked(gen uint64, attempt int) {
	delay := s.cfg.RetryDelay + time.Duration(attempt-1)*s.cfg.RetryStep
	stopTimer(s.retryTimer)
	s.retryTimer = s.clock.AfterFunc(delay, func() { s.retryStart(gen, attempt) })
}

func (s *Supervisor) retryStart(gen uint64, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.retryCurrentLocked(gen) {
		return
	}

	err := s.startDeviceLocked()
	if err == nil {
		s.recovering = false
		s.logger.Info("engine recreated", "gen", gen, "attempt", attempt)
		return
	}
	s.teardownLocked()
	s.logger.Warn("engine recreate attempt failed", "gen", gen, "attempt", attempt, "err", err)

	if attempt < s.cfg.RetryAttempts {
		s.scheduleRetryLocked(gen, attempt+1)
		return
	}
	s.logger.Error("engine recreate retries exhausted", "gen", gen, "fallback", s.cfg.FallbackDelay)
	s.retryTimer = s.clock.AfterFunc(s.cfg.FallbackDelay, func() { s.fallbackRecreate(gen) })
}

func (s *Supervisor) fallbackRecreate(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.retryCurrentLocked(gen) {
		return
	}
	s.recreateLocked()
}

// retryCurrentLocked reports whether a retry scheduled against gen may still
// act. A running device means recovery already happened through another path.
func (s *Supervisor) retryCurrentLocked(gen uint64) bool {
	if gen != s.generation || !s.started || s.napping || s.closed {
		return false
	}
	if s.device != nil && s.device.IsRunning() {
		s.recovering = false
		return false
	}
	return true
}

func (s *Supervisor) handleConfigurationChange(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.started || s.closed {
		return
	}

	s.lastBuffer = time.Time{}
	if s.device != nil {
		s.device.RemoveTap()
	}
	if s.napping {
		return
	}
	s.recovering = true
	s.logger.Info("device configuration changed", "gen", gen)

	stopTimer(s.debounceTimer)
	s.debounceSeq++
	seq := s.debounceSeq
	s.debounceTimer = s.clock.AfterFunc(s.cfg.ConfigDebounce, func() { s.recoverAfterDebounce(gen, seq) })
}

func (s *Supervisor) recoverAfterDebounce(gen uint64, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.debounceSeq || gen != s.generation || !s.started || s.napping || s.closed {
		return
	}
	s.recovering = false
	s.recoverLocked()
}

func (s *Supervisor) scheduleNapLocked() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	s.cancelNapLocked()
	seq := s.napSeq
	s.napTimer = s.clock.AfterFunc(s.cfg.IdleTimeout, func() { s.nap(seq) })
}

func (s *Supervisor) cancelNapLocked() {
	s.napSeq++
	stopTimer(s.napTimer)
	s.napTimer = nil
}

func (s *Supervisor) nap(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.napSeq || !s.started || s.napping || s.session != nil || s.closed {
		return
	}
	s.napping = true
	if s.device != nil {
		s.device.RemoveTap()
		if err := s.device.Stop(); err != nil {
			s.logger.Warn("device stop for nap failed", "gen", s.generation, "err", err)
		}
	}
	s.preRoll.reset()
	s.lastBuffer = time.Time{}
	s.metrics.Napped()
	s.logger.Info("engine napping", "gen", s.generation, "idle", s.cfg.IdleTimeout)
}
