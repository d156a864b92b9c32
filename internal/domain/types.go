package domain

import "time"

// PipelineStatus models the dictation job lifecycle.
type PipelineStatus string

const (
	StatusIdle         PipelineStatus = "idle"
	StatusRecording    PipelineStatus = "recording"
	StatusTranscribing PipelineStatus = "transcribing"
	StatusTranslating  PipelineStatus = "translating"
	StatusInserting    PipelineStatus = "inserting"
	StatusError        PipelineStatus = "error"
)

// IsBusy reports whether a job is recording or processing.
func (s PipelineStatus) IsBusy() bool {
	switch s {
	case StatusRecording, StatusTranscribing, StatusTranslating, StatusInserting:
		return true
	default:
		return false
	}
}

// StatusReason provides a structured reason for state transitions.
type StatusReason string

const (
	ReasonEngineCold         StatusReason = "engine_cold"
	ReasonRecordingStarted   StatusReason = "recording_started"
	ReasonRecordingDiscarded StatusReason = "recording_discarded"
	ReasonTranscribing       StatusReason = "transcribing"
	ReasonTranslating        StatusReason = "translating"
	ReasonInserting          StatusReason = "inserting"
	ReasonTextInserted       StatusReason = "text_inserted"
	ReasonTextCopied         StatusReason = "text_copied"
	ReasonCancelled          StatusReason = "cancelled"
	ReasonRecordingFailed    StatusReason = "recording_failed"
	ReasonProcessingFailed   StatusReason = "processing_failed"
	ReasonRetryFailed        StatusReason = "retry_failed"
	ReasonRetrySucceeded     StatusReason = "retry_succeeded"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeRecording     ErrorCode = "recording"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeTranslation   ErrorCode = "translation"
	ErrorCodeInsertion     ErrorCode = "insertion"
	ErrorCodePersistence   ErrorCode = "persistence"
	ErrorCodeRetryStore    ErrorCode = "retry_store"
)

// Recording is a finished capture handed from the engine to the pipeline.
type Recording struct {
	Path      string
	StartedAt time.Time
	Duration  time.Duration
}

// TranscriptionResult is merged text plus the detected source language.
type TranscriptionResult struct {
	Text          string   `json:"text"`
	InputLanguage Language `json:"inputLanguage"`
}

// TranslationResult is the text after the optional translation step.
type TranslationResult struct {
	Text           string   `json:"text"`
	OutputLanguage Language `json:"outputLanguage"`
	Skipped        bool     `json:"skipped"`
}

// TranscriptItem is one delivered dictation kept in history.
type TranscriptItem struct {
	ID             string    `json:"id" msgpack:"id"`
	CreatedAt      time.Time `json:"createdAt" msgpack:"created_at"`
	Text           string    `json:"text" msgpack:"text"`
	InputLanguage  Language  `json:"inputLanguage" msgpack:"input_language"`
	OutputLanguage Language  `json:"outputLanguage" msgpack:"output_language"`
	AppID          string    `json:"appId,omitempty" msgpack:"app_id,omitempty"`
	AppName        string    `json:"appName,omitempty" msgpack:"app_name,omitempty"`
}

// FailedRecording is audio whose processing failed and can be retried.
type FailedRecording struct {
	ID              string    `json:"id" msgpack:"id"`
	CreatedAt       time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" msgpack:"updated_at"`
	AudioFileName   string    `json:"audioFileName" msgpack:"audio_file_name"`
	SizeBytes       int64     `json:"sizeBytes" msgpack:"size_bytes"`
	DurationSeconds float64   `json:"durationSeconds" msgpack:"duration_seconds"`
	LastError       string    `json:"lastError" msgpack:"last_error"`
	RetryCount      int       `json:"retryCount" msgpack:"retry_count"`
}

// AppIdentity identifies the foreground application at insertion time.
type AppIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Preferences are the user-facing switches read at the start of each job.
type Preferences struct {
	AutoTranslate  bool     `json:"autoTranslate"`
	TargetLanguage Language `json:"targetLanguage"`
	ClipboardOnly  bool     `json:"clipboardOnly"`
}

// Status summarizes the current runtime status.
type Status struct {
	State      PipelineStatus `json:"state"`
	Active     bool           `json:"active"`
	Message    string         `json:"message,omitempty"`
	LastOutput string         `json:"lastOutput,omitempty"`
}
