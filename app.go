package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"murmur/internal/bootstrap"
	"murmur/internal/domain"
)

const (
	eventSession  = "murmur:session"
	eventLevel    = "murmur:level"
	eventFinal    = "murmur:final"
	eventError    = "murmur:error"
	eventAdvisory = "murmur:advisory"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	bootErr  error

	levelsDone chan struct{}
	closeOnce  sync.Once
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, bootstrap.Options{Clipboard: &wailsClipboard{ctx: ctx}})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services

	a.levelsDone = make(chan struct{})
	go a.forwardLevels(services.Engine.Levels(), a.levelsDone)

	go func() {
		if err := services.Engine.StartEngine(); err != nil {
			services.Logger.Warn("engine warmup failed", "err", err)
		}
	}()
	a.StatusChanged(domain.StatusIdle, domain.ReasonEngineCold)
}

func (a *App) shutdown(context.Context) {
	a.closeOnce.Do(func() {
		if a.levelsDone != nil {
			close(a.levelsDone)
		}
		if a.services != nil {
			if err := a.services.Close(); err != nil {
				a.services.Logger.Warn("shutdown incomplete", "err", err)
			}
		}
	})
}

func (a *App) forwardLevels(levels <-chan float64, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case level, ok := <-levels:
			if !ok {
				return
			}
			if a.ctx != nil {
				runtime.EventsEmit(a.ctx, eventLevel, map[string]float64{"level": level})
			}
		}
	}
}

// StartHold begins a hold-to-talk recording.
func (a *App) StartHold() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.StartHold(); err != nil {
		return a.services.Controller.Status(), err
	}
	return a.services.Controller.Status(), nil
}

// StopHold ends a hold-to-talk recording and starts processing.
func (a *App) StopHold() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.StopHold(); err != nil {
		return a.services.Controller.Status(), err
	}
	return a.services.Controller.Status(), nil
}

// Toggle starts or stops a toggle recording.
func (a *App) Toggle() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.Toggle(); err != nil {
		return a.services.Controller.Status(), err
	}
	return a.services.Controller.Status(), nil
}

// Cancel aborts processing, or discards the recording when one is active.
func (a *App) Cancel() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if a.services.Engine.IsRecording() {
		return a.services.Controller.AbortRecording()
	}
	a.services.Controller.Cancel()
	return nil
}

// Retry reprocesses a stored failed recording.
func (a *App) Retry(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Controller.RetryFailedRecording(a.ctx, id)
}

// ListFailed returns failed recordings, most recently updated first.
func (a *App) ListFailed() ([]domain.FailedRecording, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Failed.List(a.ctx)
}

// DeleteFailed removes a failed recording and its audio.
func (a *App) DeleteFailed(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Failed.Delete(a.ctx, id)
}

// ListHistory returns one 0-based page of history, newest first.
func (a *App) ListHistory(page, pageSize int) ([]domain.TranscriptItem, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.History.List(a.ctx, page, pageSize)
}

// SearchHistory filters history by case-insensitive substring.
func (a *App) SearchHistory(query string, page, pageSize int) ([]domain.TranscriptItem, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.History.Search(a.ctx, query, page, pageSize)
}

func (a *App) ClearHistory() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.History.ClearAll(a.ctx)
}

// InsertLastOutput pastes the last delivered text again.
func (a *App) InsertLastOutput() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Controller.InsertLastOutput(a.ctx)
}

// GetStatus returns the current pipeline status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.StatusError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.StatusIdle, Active: false}
	}
	return a.services.Controller.Status()
}

func (a *App) GetPreferences() (domain.Preferences, error) {
	if err := a.requireReady(); err != nil {
		return domain.Preferences{}, err
	}
	return a.services.Preferences.Get(), nil
}

// SetPreferences applies to the next job. The stored value is returned.
func (a *App) SetPreferences(prefs domain.Preferences) (domain.Preferences, error) {
	if err := a.requireReady(); err != nil {
		return domain.Preferences{}, err
	}
	return a.services.Preferences.Set(prefs), nil
}

// GetLanguages lists the translation targets.
func (a *App) GetLanguages() []domain.Language {
	return domain.CommonLanguages
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	model := cfg.OpenAI.TranscriptionModel
	if cfg.Provider == "deepgram" {
		model = cfg.Deepgram.Model
	}
	return map[string]string{
		"provider":         cfg.Provider,
		"model":            model,
		"translationModel": cfg.OpenAI.TranslationModel,
		"audioBackend":     cfg.Audio.Backend,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"dataDir":          cfg.Storage.DataDir,
		"configFile":       cfg.File,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StatusChanged emits pipeline lifecycle updates to the frontend.
func (a *App) StatusChanged(state domain.PipelineStatus, reason domain.StatusReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": statusReasonMessage(reason),
	})
}

// FinalTranscript emits the delivered text.
func (a *App) FinalTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFinal, map[string]string{"text": text})
}

// Advisory emits a non-error notice that stays visible after success.
func (a *App) Advisory(message string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAdvisory, map[string]string{"message": message})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func statusReasonMessage(reason domain.StatusReason) string {
	switch reason {
	case domain.ReasonEngineCold:
		return "Mic cold"
	case domain.ReasonRecordingStarted:
		return "Recording..."
	case domain.ReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.ReasonTranscribing:
		return "Transcribing..."
	case domain.ReasonTranslating:
		return "Translating..."
	case domain.ReasonInserting:
		return "Inserting text..."
	case domain.ReasonTextInserted:
		return "Text inserted"
	case domain.ReasonTextCopied:
		return "Text copied to clipboard"
	case domain.ReasonCancelled:
		return "Cancelled"
	case domain.ReasonRecordingFailed:
		return "Recording failed"
	case domain.ReasonProcessingFailed:
		return "Processing failed"
	case domain.ReasonRetryFailed:
		return "Retry failed"
	case domain.ReasonRetrySucceeded:
		return "Retry succeeded"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeRecording:
		return "Recording issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeTranslation:
		return "Translation error"
	case domain.ErrorCodeInsertion:
		return "Text insertion failed"
	case domain.ErrorCodePersistence:
		return "History write failed"
	case domain.ErrorCodeRetryStore:
		return "Failed recording could not be saved"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct {
	ctx context.Context
}

// SetText uses the app context; the job context is not a Wails context.
func (c *wailsClipboard) SetText(_ context.Context, text string) error {
	return runtime.ClipboardSetText(c.ctx, text)
}
