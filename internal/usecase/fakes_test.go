package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"murmur/internal/chunker"
	"murmur/internal/domain"
)

type fakeRecorder struct {
	mu        sync.Mutex
	dir       string
	duration  time.Duration
	startErr  error
	recording bool
	starts    int
	stops     int
}

func (f *fakeRecorder) StartRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.recording = true
	f.starts++
	return nil
}

func (f *fakeRecorder) StopRecording() (domain.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return domain.Recording{}, errors.New("not recording")
	}
	f.recording = false
	f.stops++
	path := filepath.Join(f.dir, fmt.Sprintf("recording-%d.wav", f.stops))
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		return domain.Recording{}, err
	}
	return domain.Recording{Path: path, StartedAt: time.Now(), Duration: f.duration}, nil
}

func (f *fakeRecorder) IsRecording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *fakeRecorder) snapshot() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakePreparer struct {
	mu       sync.Mutex
	segments []chunker.Segment
	err      error
	released int
}

func (f *fakePreparer) Prepare(_ context.Context, src string) ([]chunker.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.segments != nil {
		return f.segments, nil
	}
	return []chunker.Segment{{Path: src}}, nil
}

func (f *fakePreparer) Release([]chunker.Segment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

type fakeTranscriber struct {
	mu        sync.Mutex
	text      string
	byPath    map[string]string
	delays    map[string]time.Duration
	err       error
	gate      chan struct{}
	entered   chan struct{}
	ignoreCtx bool
	calls     int
	order     []string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.order = append(f.order, path)
	text := f.text
	if t, ok := f.byPath[path]; ok {
		text = t
	}
	delay := f.delays[path]
	err := f.err
	gate := f.gate
	entered := f.entered
	ignoreCtx := f.ignoreCtx
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func (f *fakeTranscriber) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTranscriber) snapshotCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDetector struct {
	lang domain.Language
}

func (f fakeDetector) DetectLanguage(string) (domain.Language, bool) {
	if f.lang.Code == "" {
		return domain.Language{}, false
	}
	return f.lang, true
}

type fakeTranslator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeTranslator) Translate(_ context.Context, text string, _ domain.Language) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return text, nil
}

func (f *fakeTranslator) snapshotCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeInserter struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeInserter) InsertText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeInserter) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeClipboard struct {
	mu       sync.Mutex
	lastText string
	err      error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = text
	return f.err
}

func (f *fakeClipboard) snapshot() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastText
}

type fakePermissions struct {
	microphoneDenied bool
	accessibility    bool
}

func (f fakePermissions) HasMicrophoneAccess() bool    { return !f.microphoneDenied }
func (f fakePermissions) HasAccessibilityAccess() bool { return f.accessibility }

type fakeForeground struct{}

func (fakeForeground) Current() domain.AppIdentity {
	return domain.AppIdentity{ID: "org.example.editor", Name: "Editor"}
}

type fakePrefs struct {
	prefs domain.Preferences
}

func (f fakePrefs) Get() domain.Preferences {
	return f.prefs
}

type fakeHistory struct {
	mu    sync.Mutex
	items []domain.TranscriptItem
	err   error
}

func (f *fakeHistory) Add(_ context.Context, item domain.TranscriptItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeHistory) List(context.Context, int, int) ([]domain.TranscriptItem, error) {
	return f.snapshot(), nil
}

func (f *fakeHistory) Search(context.Context, string, int, int) ([]domain.TranscriptItem, error) {
	return f.snapshot(), nil
}

func (f *fakeHistory) Count(context.Context, string) (int, error) {
	return len(f.snapshot()), nil
}

func (f *fakeHistory) ClearAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
	return nil
}

func (f *fakeHistory) snapshot() []domain.TranscriptItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TranscriptItem(nil), f.items...)
}

var errRecordNotFound = errors.New("failed recording not found")

type fakeRetryStore struct {
	mu      sync.Mutex
	dir     string
	records map[string]domain.FailedRecording
	addErr  error
	nextID  int
}

func newFakeRetryStore(dir string) *fakeRetryStore {
	return &fakeRetryStore{dir: dir, records: map[string]domain.FailedRecording{}}
}

func (f *fakeRetryStore) AddFromTemporaryFile(_ context.Context, src string, lastError string) (domain.FailedRecording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return domain.FailedRecording{}, f.addErr
	}
	f.nextID++
	id := fmt.Sprintf("failed-%d", f.nextID)
	name := id + filepath.Ext(src)
	if err := os.Rename(src, filepath.Join(f.dir, name)); err != nil {
		return domain.FailedRecording{}, err
	}
	rec := domain.FailedRecording{ID: id, AudioFileName: name, LastError: lastError, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.records[id] = rec
	return rec, nil
}

func (f *fakeRetryStore) seed(t *testing.T, id string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	name := id + ".wav"
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("seed audio: %v", err)
	}
	f.records[id] = domain.FailedRecording{ID: id, AudioFileName: name, LastError: "original failure"}
	return path
}

func (f *fakeRetryStore) List(context.Context) ([]domain.FailedRecording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.FailedRecording, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeRetryStore) UpdateFailure(_ context.Context, id string, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return errRecordNotFound
	}
	rec.LastError = lastError
	rec.RetryCount++
	f.records[id] = rec
	return nil
}

func (f *fakeRetryStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return errRecordNotFound
	}
	_ = os.Remove(filepath.Join(f.dir, rec.AudioFileName))
	delete(f.records, id)
	return nil
}

func (f *fakeRetryStore) DeleteAll(ctx context.Context) error {
	f.mu.Lock()
	ids := make([]string, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	for _, id := range ids {
		_ = f.Delete(ctx, id)
	}
	return nil
}

func (f *fakeRetryStore) Path(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return "", errRecordNotFound
	}
	return filepath.Join(f.dir, rec.AudioFileName), nil
}

func (f *fakeRetryStore) MarkResolved(ctx context.Context, id string) error {
	return f.Delete(ctx, id)
}

func (f *fakeRetryStore) snapshot() map[string]domain.FailedRecording {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.FailedRecording, len(f.records))
	for id, rec := range f.records {
		out[id] = rec
	}
	return out
}

type fakeEventSink struct {
	mu sync.Mutex

	states     []stateEvent
	finals     []string
	advisories []string
	errors     []errEvent
}

type stateEvent struct {
	state  domain.PipelineStatus
	reason domain.StatusReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) StatusChanged(state domain.PipelineStatus, reason domain.StatusReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) FinalTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, text)
}

func (f *fakeEventSink) Advisory(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advisories = append(f.advisories, message)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotAdvisories() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.advisories...)
}

func (f *fakeEventSink) lastReason() domain.StatusReason {
	states := f.snapshotStates()
	if len(states) == 0 {
		return ""
	}
	return states[len(states)-1].reason
}

func (f *fakeEventSink) sawStatus(status domain.PipelineStatus) bool {
	for _, s := range f.snapshotStates() {
		if s.state == status {
			return true
		}
	}
	return false
}

// pipelineFixture wires a Controller to fakes with working defaults.
type pipelineFixture struct {
	recorder    *fakeRecorder
	preparer    *fakePreparer
	transcriber *fakeTranscriber
	translator  *fakeTranslator
	inserter    *fakeInserter
	clipboard   *fakeClipboard
	history     *fakeHistory
	retry       *fakeRetryStore
	events      *fakeEventSink
	permissions fakePermissions
	prefs       domain.Preferences
	detected    domain.Language
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	return &pipelineFixture{
		recorder:    &fakeRecorder{dir: t.TempDir(), duration: 3 * time.Second},
		preparer:    &fakePreparer{},
		transcriber: &fakeTranscriber{text: "hello world"},
		translator:  &fakeTranslator{},
		inserter:    &fakeInserter{},
		clipboard:   &fakeClipboard{},
		history:     &fakeHistory{},
		retry:       newFakeRetryStore(t.TempDir()),
		events:      &fakeEventSink{},
		permissions: fakePermissions{accessibility: true},
		prefs:       domain.Preferences{TargetLanguage: domain.English},
		detected:    domain.English,
	}
}

func (f *pipelineFixture) build(t *testing.T) *Controller {
	t.Helper()
	c := NewController(Dependencies{
		Recorder:      f.recorder,
		Transcription: NewTranscriptionService(f.preparer, f.transcriber, fakeDetector{lang: f.detected}, nil),
		Translation:   NewTranslationUseCase(f.translator),
		Inserter:      f.inserter,
		Clipboard:     f.clipboard,
		Permissions:   f.permissions,
		Foreground:    fakeForeground{},
		History:       f.history,
		Retry:         f.retry,
		Preferences:   fakePrefs{prefs: f.prefs},
		Events:        f.events,
	}, Config{})
	t.Cleanup(c.Close)
	return c
}

func entered(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("transcriber was not called")
	}
}
