package main

import (
	"fmt"
	"io"
	"sync"

	"murmur/internal/domain"
)

// printSink writes pipeline events for a terminal.
type printSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *printSink) StatusChanged(state domain.PipelineStatus, reason domain.StatusReason) {
	s.printf("status: %s (%s)\n", state, reason)
}

func (s *printSink) FinalTranscript(text string) {
	s.printf("%s\n", text)
}

func (s *printSink) Advisory(message string) {
	s.printf("note: %s\n", message)
}

func (s *printSink) SessionError(code domain.ErrorCode, detail string) {
	s.printf("error [%s]: %s\n", code, detail)
}

func (s *printSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
