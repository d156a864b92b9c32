package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"murmur/internal/domain"
	"murmur/internal/metrics"
	"murmur/internal/ports"
)

// DefaultMinRecordingDuration is the shortest recording that reaches transcription.
const DefaultMinRecordingDuration = 1000 * time.Millisecond

// Transcription turns a recording into merged text with a detected language.
type Transcription interface {
	Transcribe(ctx context.Context, audioPath string) (domain.TranscriptionResult, error)
}

// Translation optionally translates transcribed text.
type Translation interface {
	TranslateIfNeeded(ctx context.Context, text string, input, output domain.Language) (domain.TranslationResult, error)
}

// Config controls pipeline behavior.
type Config struct {
	MinRecordingDuration time.Duration
}

// Dependencies are the collaborators a Controller drives.
type Dependencies struct {
	Recorder      ports.Recorder
	Transcription Transcription
	Translation   Translation
	Inserter      ports.TextInserter
	Clipboard     ports.Clipboard
	Permissions   ports.Permissions
	Foreground    ports.ForegroundApp
	History       ports.HistoryStore
	Retry         ports.RetryStore
	Preferences   ports.Preferences
	Events        ports.EventSink
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Controller orchestrates recording and the single-flight processing job.
// Event sink callbacks run while the controller lock is held and must not
// call back into the controller.
type Controller struct {
	recorder      ports.Recorder
	transcription Transcription
	translation   Translation
	finalizer     textFinalizer
	inserter      ports.TextInserter
	permissions   ports.Permissions
	foreground    ports.ForegroundApp
	history       ports.HistoryStore
	retry         ports.RetryStore
	prefs         ports.Preferences
	events        ports.EventSink
	logger        *slog.Logger
	metrics       *metrics.Metrics
	cfg           Config

	root     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	mode       recordingMode
	processing *processingJob
	nextJobID  uint64
	status     domain.PipelineStatus
	message    string
	lastOutput string
}

func NewController(deps Dependencies, cfg Config) *Controller {
	if cfg.MinRecordingDuration <= 0 {
		cfg.MinRecordingDuration = DefaultMinRecordingDuration
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	root, shutdown := context.WithCancel(context.Background())
	return &Controller{
		recorder:      deps.Recorder,
		transcription: deps.Transcription,
		translation:   deps.Translation,
		finalizer:     newTextFinalizer(deps.Inserter, deps.Clipboard, deps.Permissions),
		inserter:      deps.Inserter,
		permissions:   deps.Permissions,
		foreground:    deps.Foreground,
		history:       deps.History,
		retry:         deps.Retry,
		prefs:         deps.Preferences,
		events:        deps.Events,
		logger:        logger.With("component", "pipeline"),
		metrics:       deps.Metrics,
		cfg:           cfg,
		root:          root,
		shutdown:      shutdown,
		status:        domain.StatusIdle,
	}
}

// StartHold begins a hold-to-talk recording.
func (c *Controller) StartHold() error {
	return c.startRecording(modeHold)
}

// StopHold stops a hold-started recording. Toggle sessions are left running.
func (c *Controller) StopHold() error {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	if mode != modeHold {
		c.logger.Debug("stop hold ignored", "mode", mode.String())
		return nil
	}
	return c.StopAndProcess()
}

// Toggle starts a toggle recording, or stops one that toggle started.
func (c *Controller) Toggle() error {
	c.mu.Lock()
	recording := c.recorder.IsRecording()
	mode := c.mode
	c.mu.Unlock()

	if !recording {
		return c.startRecording(modeToggle)
	}
	if mode != modeToggle {
		c.logger.Debug("toggle ignored, hold session active")
		return nil
	}
	return c.StopAndProcess()
}

func (c *Controller) startRecording(mode recordingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder.IsRecording() {
		c.logger.Debug("start ignored, already recording", "mode", mode.String())
		return nil
	}
	if c.processing != nil {
		c.logger.Debug("start ignored, processing in progress", "mode", mode.String())
		return nil
	}
	if c.permissions != nil && !c.permissions.HasMicrophoneAccess() {
		c.failLocked(domain.ReasonRecordingFailed, domain.ErrorCodeRecording, "Microphone access is required to record.")
		return ErrMicrophoneDenied
	}

	if err := c.recorder.StartRecording(); err != nil {
		c.failLocked(domain.ReasonRecordingFailed, domain.ErrorCodeRecording, fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	c.mode = mode
	c.message = ""
	c.setStatusLocked(domain.StatusRecording, domain.ReasonRecordingStarted)
	c.logger.Info("recording started", "mode", mode.String())
	return nil
}

// StopAndProcess stops the recording and hands it to the processing job.
func (c *Controller) StopAndProcess() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recorder.IsRecording() {
		return nil
	}
	if c.processing != nil {
		c.logger.Debug("stop ignored, processing in progress")
		return nil
	}

	rec, err := c.recorder.StopRecording()
	c.mode = modeNone
	if err != nil {
		c.failLocked(domain.ReasonRecordingFailed, domain.ErrorCodeRecording, fmt.Sprintf("Failed to stop recording: %v", err))
		return err
	}

	if rec.Duration < c.cfg.MinRecordingDuration {
		_ = os.Remove(rec.Path)
		c.metrics.Discarded()
		c.logger.Info("recording discarded", "duration_ms", rec.Duration.Milliseconds())
		c.setStatusLocked(domain.StatusIdle, domain.ReasonRecordingDiscarded)
		return nil
	}

	job := c.newJobLocked("")
	c.setStatusLocked(domain.StatusTranscribing, domain.ReasonTranscribing)
	c.wg.Add(1)
	go c.runRecordingJob(job, rec)
	return nil
}

// AbortRecording stops the active recording and deletes it without processing.
func (c *Controller) AbortRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recorder.IsRecording() {
		return nil
	}
	rec, err := c.recorder.StopRecording()
	c.mode = modeNone
	if err == nil {
		_ = os.Remove(rec.Path)
	}
	c.setStatusLocked(domain.StatusIdle, domain.ReasonRecordingDiscarded)
	return nil
}

// Cancel aborts the in-flight job. It is idempotent and persists nothing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := c.processing
	if job == nil {
		return
	}
	job.cancel()
	c.processing = nil
	c.metrics.Cancelled()
	c.logger.Info("processing cancelled", "job", job.id)
	if c.status != domain.StatusRecording {
		c.message = ""
		c.setStatusLocked(domain.StatusIdle, domain.ReasonCancelled)
	}
}

// RetryFailedRecording reprocesses stored audio and waits for the outcome.
func (c *Controller) RetryFailedRecording(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.processing != nil {
		c.mu.Unlock()
		return ErrProcessingInProgress
	}
	if c.recorder.IsRecording() {
		c.mu.Unlock()
		return ErrRecordingInProgress
	}
	job := c.newJobLocked(id)
	c.message = ""
	c.setStatusLocked(domain.StatusTranscribing, domain.ReasonTranscribing)
	c.wg.Add(1)
	go c.runRetryJob(job)
	c.mu.Unlock()

	select {
	case <-job.done:
		return job.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InsertLastOutput pastes the most recent delivered text again.
func (c *Controller) InsertLastOutput(ctx context.Context) error {
	c.mu.Lock()
	text := c.lastOutput
	if text == "" {
		c.mu.Unlock()
		return nil
	}
	if c.processing != nil || c.recorder.IsRecording() {
		c.mu.Unlock()
		return ErrProcessingInProgress
	}
	c.setStatusLocked(domain.StatusInserting, domain.ReasonInserting)
	c.mu.Unlock()

	err := c.inserter.InsertText(ctx, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.StatusInserting || c.processing != nil {
		return err
	}
	if err != nil {
		c.failLocked(domain.ReasonProcessingFailed, domain.ErrorCodeInsertion, fmt.Sprintf("Paste failed: %v", err))
		return err
	}
	c.message = ""
	c.setStatusLocked(domain.StatusIdle, domain.ReasonTextInserted)
	return nil
}

// Status returns the current pipeline status.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{
		State:      c.status,
		Active:     c.status.IsBusy(),
		Message:    c.message,
		LastOutput: c.lastOutput,
	}
}

// Wait blocks until every started job goroutine has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight work and waits for it to finish.
func (c *Controller) Close() {
	c.Cancel()
	c.shutdown()
	c.wg.Wait()
}

func (c *Controller) newJobLocked(retryID string) *processingJob {
	c.nextJobID++
	ctx, cancel := context.WithCancel(c.root)
	job := &processingJob{
		id:      c.nextJobID,
		ctx:     ctx,
		cancel:  cancel,
		retryID: retryID,
		done:    make(chan struct{}),
	}
	c.processing = job
	return job
}

func (c *Controller) runRecordingJob(job *processingJob, rec domain.Recording) {
	defer c.wg.Done()
	defer close(job.done)
	defer job.cancel()

	keepAudio := false
	defer func() {
		if !keepAudio {
			_ = os.Remove(rec.Path)
		}
	}()

	out, err := c.process(job, rec.Path)
	job.err = err
	switch {
	case err == nil:
		c.complete(job, out, domain.ReasonTextInserted)
	case job.ctx.Err() != nil:
		job.err = context.Canceled
		c.cancelled(job)
	default:
		message := failureMessage(err)
		c.logFailure(job, err)
		saved, saveErr := c.retry.AddFromTemporaryFile(context.WithoutCancel(job.ctx), rec.Path, message)
		text := "Processing failed: " + message
		if saveErr != nil {
			keepAudio = true
			text = fmt.Sprintf("Processing failed: %s. Audio file kept at %s", message, rec.Path)
			c.logger.Error("save failed recording", "job", job.id, "err", saveErr)
		} else {
			c.logger.Info("failed recording saved", "job", job.id, "id", saved.ID)
		}
		c.finishFailed(job, domain.ReasonProcessingFailed, errorCodeFor(err), text, saveErr)
	}
}

func (c *Controller) runRetryJob(job *processingJob) {
	defer c.wg.Done()
	defer close(job.done)
	defer job.cancel()

	path, err := c.retry.Path(job.ctx, job.retryID)
	var out jobOutput
	if err == nil {
		out, err = c.process(job, path)
	}
	job.err = err

	storeCtx := context.WithoutCancel(job.ctx)
	switch {
	case err == nil:
		if resolveErr := c.retry.MarkResolved(storeCtx, job.retryID); resolveErr != nil {
			c.logger.Error("resolve failed recording", "id", job.retryID, "err", resolveErr)
			c.events.SessionError(domain.ErrorCodeRetryStore, resolveErr.Error())
		}
		c.metrics.Retry("succeeded")
		c.complete(job, out, domain.ReasonRetrySucceeded)
	case job.ctx.Err() != nil:
		job.err = context.Canceled
		c.cancelled(job)
	default:
		message := failureMessage(err)
		c.logFailure(job, err)
		if updateErr := c.retry.UpdateFailure(storeCtx, job.retryID, message); updateErr != nil {
			c.logger.Error("update failed recording", "id", job.retryID, "err", updateErr)
		}
		c.metrics.Retry("failed")
		c.finishFailed(job, domain.ReasonRetryFailed, errorCodeFor(err), "Retry failed: "+message, nil)
	}
}

// process runs transcribe, translate, insert and persist, checking for
// cancellation after every blocking step.
func (c *Controller) process(job *processingJob, audioPath string) (jobOutput, error) {
	ctx := job.ctx
	prefs := c.prefs.Get()

	started := time.Now()
	transcript, err := c.transcription.Transcribe(ctx, audioPath)
	c.metrics.ObserveStage(string(StageTranscription), time.Since(started).Seconds())
	if err := ctx.Err(); err != nil {
		return jobOutput{}, err
	}
	if err != nil {
		return jobOutput{}, stageFailure(StageTranscription, err)
	}
	c.logger.Info("transcription complete", "job", job.id, "stage", StageTranscription, "language", transcript.InputLanguage.Code)

	text := transcript.Text
	output := transcript.InputLanguage
	if prefs.AutoTranslate {
		if !c.advance(job, domain.StatusTranslating, domain.ReasonTranslating) {
			return jobOutput{}, context.Canceled
		}
		started = time.Now()
		translated, err := c.translation.TranslateIfNeeded(ctx, text, transcript.InputLanguage, prefs.TargetLanguage)
		c.metrics.ObserveStage(string(StageTranslation), time.Since(started).Seconds())
		if err := ctx.Err(); err != nil {
			return jobOutput{}, err
		}
		if err != nil {
			return jobOutput{}, stageFailure(StageTranslation, err)
		}
		if translated.Skipped {
			c.metrics.Translation("skipped_same_language")
		} else {
			c.metrics.Translation("translated")
		}
		text = translated.Text
		output = translated.OutputLanguage
	} else {
		c.metrics.Translation("skipped_disabled")
	}

	if !c.advance(job, domain.StatusInserting, domain.ReasonInserting) {
		return jobOutput{}, context.Canceled
	}
	app := domain.AppIdentity{}
	if c.foreground != nil {
		app = c.foreground.Current()
	}
	delivered, err := c.finalizer.Deliver(ctx, text, prefs.ClipboardOnly)
	if err := ctx.Err(); err != nil {
		return jobOutput{}, err
	}
	if err != nil {
		return jobOutput{}, stageFailure(StageInsertion, err)
	}
	c.metrics.Inserted(delivered.method)

	item := domain.TranscriptItem{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Text:           text,
		InputLanguage:  transcript.InputLanguage,
		OutputLanguage: output,
		AppID:          app.ID,
		AppName:        app.Name,
	}
	if err := c.history.Add(ctx, item); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return jobOutput{}, ctxErr
		}
		return jobOutput{}, stageFailure(StagePersistence, err)
	}
	return jobOutput{text: text, delivery: delivered}, nil
}

// advance moves the owning job to the next stage. It reports false once the
// job has been cancelled or replaced.
func (c *Controller) advance(job *processingJob, status domain.PipelineStatus, reason domain.StatusReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing != job || job.ctx.Err() != nil {
		return false
	}
	c.setStatusLocked(status, reason)
	return true
}

func (c *Controller) complete(job *processingJob, out jobOutput, reason domain.StatusReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastOutput = out.text
	c.metrics.Completed()
	if c.processing != job {
		return
	}
	c.processing = nil
	c.message = out.delivery.advisory
	if reason == domain.ReasonTextInserted && out.delivery.method == methodClipboard {
		reason = domain.ReasonTextCopied
	}
	c.events.FinalTranscript(out.text)
	if out.delivery.advisory != "" {
		c.events.Advisory(out.delivery.advisory)
	}
	c.setStatusLocked(domain.StatusIdle, reason)
	c.logger.Info("processing complete", "job", job.id, "method", out.delivery.method)
}

func (c *Controller) cancelled(job *processingJob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing != job {
		return
	}
	c.processing = nil
	c.metrics.Cancelled()
	if c.status != domain.StatusRecording {
		c.message = ""
		c.setStatusLocked(domain.StatusIdle, domain.ReasonCancelled)
	}
}

func (c *Controller) finishFailed(job *processingJob, reason domain.StatusReason, code domain.ErrorCode, message string, storeErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing != job {
		return
	}
	c.processing = nil
	if storeErr != nil {
		c.events.SessionError(domain.ErrorCodeRetryStore, storeErr.Error())
	}
	c.failLocked(reason, code, message)
}

func (c *Controller) failLocked(reason domain.StatusReason, code domain.ErrorCode, message string) {
	c.message = message
	c.events.SessionError(code, message)
	c.setStatusLocked(domain.StatusError, reason)
}

func (c *Controller) setStatusLocked(status domain.PipelineStatus, reason domain.StatusReason) {
	c.status = status
	c.events.StatusChanged(status, reason)
}

func (c *Controller) logFailure(job *processingJob, err error) {
	stage := stageOf(err)
	c.metrics.StageFailed(string(stage))
	attrs := []any{"job", job.id, "stage", stage, "err", err}
	if job.retryID != "" {
		attrs = append(attrs, "retry_id", job.retryID)
	}
	if errors.Is(err, ErrNoSpeech) {
		c.logger.Warn("processing produced no text", attrs...)
		return
	}
	c.logger.Error("processing failed", attrs...)
}
