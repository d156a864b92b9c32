package usecase

import (
	"context"
)

type recordingMode int

const (
	modeNone recordingMode = iota
	modeHold
	modeToggle
)

func (m recordingMode) String() string {
	switch m {
	case modeHold:
		return "hold"
	case modeToggle:
		return "toggle"
	default:
		return "none"
	}
}

// processingJob is one in-flight transcribe/translate/insert/persist run.
type processingJob struct {
	id      uint64
	ctx     context.Context
	cancel  context.CancelFunc
	retryID string
	done    chan struct{}
	err     error
}

type jobOutput struct {
	text     string
	delivery delivery
}
