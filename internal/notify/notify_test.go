package notify

import (
	"sync"
	"testing"
	"time"

	"murmur/internal/domain"
)

type posted struct {
	title   string
	message string
}

type fakeNotifier struct {
	mu    sync.Mutex
	posts []posted
	ch    chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan struct{}, 8)}
}

func (f *fakeNotifier) notify(title, message string) error {
	f.mu.Lock()
	f.posts = append(f.posts, posted{title: title, message: message})
	f.mu.Unlock()
	f.ch <- struct{}{}
	return nil
}

func (f *fakeNotifier) snapshot() []posted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]posted(nil), f.posts...)
}

func (f *fakeNotifier) waitPost(t *testing.T) {
	t.Helper()
	select {
	case <-f.ch:
	case <-time.After(time.Second):
		t.Fatalf("expected notification")
	}
}

type fakeSink struct {
	mu       sync.Mutex
	states   []domain.PipelineStatus
	finals   []string
	errors   []domain.ErrorCode
	advisory []string
}

func (f *fakeSink) StatusChanged(state domain.PipelineStatus, _ domain.StatusReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

func (f *fakeSink) FinalTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, text)
}

func (f *fakeSink) Advisory(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advisory = append(f.advisory, message)
}

func (f *fakeSink) SessionError(code domain.ErrorCode, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, code)
}

func TestSinkPostsSessionErrors(t *testing.T) {
	t.Parallel()

	inner := &fakeSink{}
	n := newFakeNotifier()
	sink := NewSink(inner, n.notify, nil)

	sink.SessionError(domain.ErrorCodeTranscription, "bad gateway")
	n.waitPost(t)

	posts := n.snapshot()
	if len(posts) != 1 || posts[0].title != "Transcription failed" || posts[0].message != "bad gateway" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	if len(inner.errors) != 1 {
		t.Fatalf("expected inner sink to receive error")
	}
}

func TestSinkPostsAdvisories(t *testing.T) {
	t.Parallel()

	inner := &fakeSink{}
	n := newFakeNotifier()
	sink := NewSink(inner, n.notify, nil)

	sink.Advisory("Copied to clipboard")
	n.waitPost(t)

	if posts := n.snapshot(); posts[0].title != appName {
		t.Fatalf("unexpected title: %+v", posts)
	}
	if len(inner.advisory) != 1 {
		t.Fatalf("expected inner advisory")
	}
}

func TestSinkDoesNotPostStatusOrTranscripts(t *testing.T) {
	t.Parallel()

	inner := &fakeSink{}
	n := newFakeNotifier()
	sink := NewSink(inner, n.notify, nil)

	sink.StatusChanged(domain.StatusRecording, domain.ReasonRecordingStarted)
	sink.FinalTranscript("hello")
	sink.SessionError(domain.ErrorCodeRecording, "")

	time.Sleep(50 * time.Millisecond)
	if posts := n.snapshot(); len(posts) != 0 {
		t.Fatalf("expected no notifications, got %+v", posts)
	}
	if len(inner.states) != 1 || len(inner.finals) != 1 || len(inner.errors) != 1 {
		t.Fatalf("expected events forwarded to inner sink")
	}
}

func TestSinkWithoutInner(t *testing.T) {
	t.Parallel()

	n := newFakeNotifier()
	sink := NewSink(nil, n.notify, nil)
	sink.FinalTranscript("ignored")
	sink.Advisory("still posted")
	n.waitPost(t)
}
