package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{})
	if p.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", p.cfg.APIBaseURL)
	}
	if p.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", p.cfg.Model)
	}
	if p.cfg.ChunkSize != defaultChunkSize || p.cfg.FinalizeTimeout != defaultFinalizeTimeout {
		t.Fatalf("unexpected stream defaults: %+v", p.cfg)
	}
}

func TestProviderTranscribeRequiresAPIKey(t *testing.T) {
	t.Parallel()

	path := writeAudio(t, []byte("audio"))
	p := NewProvider(Config{APIKey: ""})
	if _, err := p.Transcribe(context.Background(), path); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestBuildListenURLOmitsEncodingForContainers(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"}, streamFormat{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, "wss://api.deepgram.com/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	if strings.Contains(url, "encoding=") {
		t.Fatalf("expected no raw encoding for container audio: %s", url)
	}
	if !strings.Contains(url, "interim_results=false") {
		t.Fatalf("expected finals only: %s", url)
	}
}

func TestBuildListenURLRawFormat(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(
		Config{APIBaseURL: "http://localhost:8080/v1", Model: "m", Language: "en-US", SmartFormat: true},
		streamFormat{Encoding: "linear16"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, "ws://localhost:8080/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	for _, want := range []string{"encoding=linear16", "sample_rate=16000", "channels=1", "language=en-US", "smart_format=true"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %s in url: %s", want, url)
		}
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	_, err := buildListenURL(Config{APIBaseURL: ":// bad"}, streamFormat{})
	if err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestExtractTranscript(t *testing.T) {
	t.Parallel()

	r1 := deepgramResponse{}
	r1.Channel.Alternatives = append(r1.Channel.Alternatives, struct {
		Transcript string "json:\"transcript\""
	}{Transcript: " channel "})
	if got := extractTranscript(r1); got != "channel" {
		t.Fatalf("unexpected transcript from channel: %q", got)
	}

	if got := extractTranscript(deepgramResponse{}); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestStreamingSessionSendAudioClosed(t *testing.T) {
	t.Parallel()

	s := &streamingSession{sendClosed: true}
	if err := s.SendAudio([]byte("x")); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestStreamingSessionCloseSendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := &streamingSession{audio: make(chan []byte, 1)}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected second error: %v", err)
	}
}

func TestStreamingSessionSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &streamingSession{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.waitErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.waitErr() == nil || s.waitErr().Error() != "first" {
		t.Fatalf("expected first error to win")
	}
}

func TestTranscriptAggregatorKeepsFinalsOnly(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(transcriptEvent{text: "hello"})
	agg.Add(transcriptEvent{text: "hello world", final: true})
	agg.Add(transcriptEvent{text: "   ", final: true})
	agg.Add(transcriptEvent{text: "again", final: true})

	if got := agg.Raw(); got != "hello world again" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestPumpAudioReportsSendError(t *testing.T) {
	t.Parallel()

	stream := &sendErrStream{err: errors.New("send failed")}
	err := pumpAudio(context.Background(), strings.NewReader("abc"), stream, 256)
	if err == nil || !strings.Contains(err.Error(), "send failed") {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestPumpAudioSendsWholeReader(t *testing.T) {
	t.Parallel()

	stream := &sendErrStream{}
	payload := strings.Repeat("x", 700)
	if err := pumpAudio(context.Background(), strings.NewReader(payload), stream, 256); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stream.total() != 700 || stream.chunks() != 3 {
		t.Fatalf("unexpected chunks: count=%d bytes=%d", stream.chunks(), stream.total())
	}
}

func TestWaitForStreamTimeoutClosesSession(t *testing.T) {
	t.Parallel()

	stream := &blockingWaitStream{done: make(chan struct{}), waitErr: errors.New("closed")}
	err := waitForStream(stream, 10*time.Millisecond)
	if err == nil || err.Error() != "closed" {
		t.Fatalf("expected closed error, got %v", err)
	}
	if stream.closeCalls == 0 {
		t.Fatalf("expected close to be called on timeout")
	}
}

func TestProviderTranscribeStreamsFileAndJoinsFinals(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received int
		auth     string
	)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				mu.Lock()
				received += len(payload)
				mu.Unlock()
				continue
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"speech_final":true,"channel":{"alternatives":[{"transcript":"world"}]}}`))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}))
	defer server.Close()

	path := writeAudio(t, []byte(strings.Repeat("a", 1000)))
	p := NewProvider(Config{APIKey: "key", APIBaseURL: server.URL, ChunkSize: 256})

	got, err := p.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if received != 1000 {
		t.Fatalf("expected all audio bytes streamed, got %d", received)
	}
	if auth != "Token key" {
		t.Fatalf("unexpected authorization header: %q", auth)
	}
}

func TestProviderTranscribeSurfacesProviderError(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","message":"insufficient credits"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	path := writeAudio(t, []byte("audio"))
	p := NewProvider(Config{APIKey: "key", APIBaseURL: server.URL})
	if _, err := p.Transcribe(context.Background(), path); err == nil || !strings.Contains(err.Error(), "insufficient credits") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestProviderTranscribeCancelledMidUpload(t *testing.T) {
	t.Parallel()

	stop := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never read so the client's writes back up.
		<-stop
	}))
	defer server.Close()
	defer close(stop)

	path := writeAudio(t, make([]byte, 16<<20))
	p := NewProvider(Config{APIKey: "key", APIBaseURL: server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Transcribe(ctx, path)
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("transcribe did not return after cancellation")
	}
}

func TestStreamingSessionSendAfterCloseDoesNotPanic(t *testing.T) {
	t.Parallel()

	s := &streamingSession{
		audio:   make(chan []byte),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	sent := make(chan error, 1)
	go func() {
		sent <- s.SendAudio([]byte("chunk"))
	}()

	time.Sleep(20 * time.Millisecond)
	close(s.closing)
	if err := <-sent; err == nil {
		t.Fatalf("expected closed session error")
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
}

func writeAudio(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.m4a")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

type sendErrStream struct {
	mu    sync.Mutex
	err   error
	sizes []int
}

func (s *sendErrStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sizes = append(s.sizes, len(chunk))
	return nil
}

func (s *sendErrStream) chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sizes)
}

func (s *sendErrStream) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, size := range s.sizes {
		n += size
	}
	return n
}

type blockingWaitStream struct {
	done       chan struct{}
	waitErr    error
	closeCalls int
	once       sync.Once
}

func (s *blockingWaitStream) Wait() error {
	<-s.done
	return s.waitErr
}

func (s *blockingWaitStream) Close() error {
	s.closeCalls++
	s.once.Do(func() { close(s.done) })
	return nil
}
