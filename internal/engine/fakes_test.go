package engine

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"murmur/internal/ports"
)

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	seq     int
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn, seq: c.seq}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in order on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.when.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].when.Equal(due[j].when) {
				return due[i].seq < due[j].seq
			}
			return due[i].when.Before(due[j].when)
		})
		next := due[0]
		next.fired = true
		c.now = next.when
		c.mu.Unlock()

		next.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeDevice struct {
	mu        sync.Mutex
	id        int
	running   bool
	startErr  error
	starts    int
	stops     int
	tap       func(ports.AudioBuffer)
	onChange  func()
	format    ports.AudioFormat
	removeTap int
}

func (d *fakeDevice) InstallTap(fn func(ports.AudioBuffer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tap = fn
}

func (d *fakeDevice) RemoveTap() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tap = nil
	d.removeTap++
}

func (d *fakeDevice) SetConfigurationChangeHandler(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	if d.startErr != nil {
		return d.startErr
	}
	d.running = true
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	d.running = false
	return nil
}

func (d *fakeDevice) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *fakeDevice) Format() ports.AudioFormat {
	return d.format
}

func (d *fakeDevice) failStarts(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startErr = err
}

// emit delivers one buffer of the given duration and amplitude through the tap.
func (d *fakeDevice) emit(duration time.Duration, amplitude float32) bool {
	d.mu.Lock()
	tap := d.tap
	format := d.format
	d.mu.Unlock()
	if tap == nil {
		return false
	}
	frames := int(duration * time.Duration(format.SampleRate) / time.Second)
	samples := make([]float32, frames*format.Channels)
	for i := range samples {
		samples[i] = amplitude
	}
	tap(ports.AudioBuffer{Samples: samples, Format: format})
	return true
}

func (d *fakeDevice) changeConfiguration() {
	d.mu.Lock()
	fn := d.onChange
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDevice) snapshot() (starts, stops int, running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.running
}

type fakeFactory struct {
	mu      sync.Mutex
	devices []*fakeDevice
	failN   int
}

func (f *fakeFactory) NewDevice() (ports.CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev := &fakeDevice{
		id:     len(f.devices) + 1,
		format: ports.AudioFormat{SampleRate: 1000, Channels: 1},
	}
	if f.failN > 0 {
		f.failN--
		dev.startErr = errors.New("hal not ready")
	}
	f.devices = append(f.devices, dev)
	return dev, nil
}

func (f *fakeFactory) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failN = n
}

func (f *fakeFactory) last() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devices) == 0 {
		return nil
	}
	return f.devices[len(f.devices)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

type fakeWriter struct {
	mu      sync.Mutex
	path    string
	buffers []ports.AudioBuffer
	closed  bool
}

func (w *fakeWriter) Write(buf ports.AudioBuffer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("write after close")
	}
	w.buffers = append(w.buffers, buf)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total time.Duration
	for _, buf := range w.buffers {
		total += bufferDuration(buf)
	}
	return total
}

type fakeFiles struct {
	mu      sync.Mutex
	writers []*fakeWriter
}

func (f *fakeFiles) Create(path string, _ ports.AudioFormat) (ports.AudioFileWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWriter{path: path}
	f.writers = append(f.writers, w)
	return w, nil
}

func (f *fakeFiles) last() *fakeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writers) == 0 {
		return nil
	}
	return f.writers[len(f.writers)-1]
}

type harness struct {
	clock   *fakeClock
	factory *fakeFactory
	files   *fakeFiles
	sup     *Supervisor
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		clock:   newFakeClock(),
		factory: &fakeFactory{},
		files:   &fakeFiles{},
	}
	h.sup = NewSupervisor(h.factory, h.files, cfg, WithClock(h.clock))
	t.Cleanup(func() { _ = h.sup.Close() })
	return h
}

// feed emits a buffer on the current device and waits for the worker to see it.
func (h *harness) feed(t *testing.T, duration time.Duration, amplitude float32) {
	t.Helper()
	h.feedDevice(t, h.factory.last(), duration, amplitude)
}

func (h *harness) feedDevice(t *testing.T, dev *fakeDevice, duration time.Duration, amplitude float32) {
	t.Helper()
	before := h.handled()
	if dev == nil || !dev.emit(duration, amplitude) {
		t.Fatalf("no tap installed on device")
	}
	waitFor(t, func() bool { return h.handled() > before })
}

func (h *harness) handled() uint64 {
	h.sup.mu.Lock()
	defer h.sup.mu.Unlock()
	return h.sup.handled
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
