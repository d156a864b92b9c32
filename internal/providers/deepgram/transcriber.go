package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Transcribe streams one upload-ready file and returns the joined final transcripts.
func (p *Provider) Transcribe(ctx context.Context, audioPath string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	session, err := p.startStreaming(ctx, streamFormat{})
	if err != nil {
		return "", err
	}

	aggregator := newTranscriptAggregator()
	consumed := make(chan struct{})
	go consumeTranscripts(session, aggregator, consumed)

	pumpErr := pumpAudio(ctx, file, session, p.cfg.ChunkSize)
	_ = session.CloseSend()
	waitErr := waitForStream(session, p.cfg.FinalizeTimeout)
	<-consumed

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if pumpErr != nil {
		return "", pumpErr
	}
	if waitErr != nil {
		return "", waitErr
	}
	return aggregator.Raw(), nil
}

type audioSender interface {
	SendAudio(chunk []byte) error
}

func pumpAudio(ctx context.Context, r io.Reader, stream audioSender, chunkSize int) error {
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return fmt.Errorf("failed to stream audio: %w", sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read audio: %w", err)
		}
	}
}

type waitCloser interface {
	Wait() error
	Close() error
}

func waitForStream(session waitCloser, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}

type eventSource interface {
	Events() <-chan transcriptEvent
}

func consumeTranscripts(session eventSource, aggregator *transcriptAggregator, done chan struct{}) {
	defer close(done)
	for event := range session.Events() {
		aggregator.Add(event)
	}
}

type transcriptAggregator struct {
	mu     sync.Mutex
	finals []string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event transcriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.text)
	if text == "" || !event.final {
		return
	}
	a.finals = append(a.finals, text)
}

func (a *transcriptAggregator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(strings.Join(a.finals, " "))
}
