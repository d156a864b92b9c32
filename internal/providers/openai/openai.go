// Package openai implements transcription and translation on the OpenAI HTTP API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"murmur/internal/domain"
)

const (
	DefaultBaseURL            = "https://api.openai.com/v1"
	DefaultTranscriptionModel = "whisper-1"
	DefaultTranslationModel   = "gpt-4o-mini"
	defaultTimeout            = 120 * time.Second
)

// ErrMissingAPIKey is returned before any request when no key is configured.
var ErrMissingAPIKey = errors.New("missing OpenAI API key")

// Config controls the OpenAI client.
type Config struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	TranslationModel   string
	MaxRetries         int
	HTTPClient         *http.Client
}

// Client implements ports.Transcriber and ports.Translator.
type Client struct {
	client openai.Client
	cfg    Config
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = DefaultTranscriptionModel
	}
	if cfg.TranslationModel == "" {
		cfg.TranslationModel = DefaultTranslationModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/"),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	return &Client{client: openai.NewClient(opts...), cfg: cfg}
}

// Transcribe uploads one file to audio/transcriptions with a JSON response.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	name := filepath.Base(audioPath)
	res, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           openai.File(file, name, mimeType(name)),
		Model:          openai.AudioModel(c.cfg.TranscriptionModel),
		ResponseFormat: openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", requestError(err)
	}
	return strings.TrimSpace(res.Text), nil
}

type responsesRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type responsesResponse struct {
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	OutputText string `json:"output_text"`
}

// text prefers structured output_text parts and falls back to the flat field.
func (r responsesResponse) text() string {
	var b strings.Builder
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	if combined := strings.TrimSpace(b.String()); combined != "" {
		return combined
	}
	return strings.TrimSpace(r.OutputText)
}

// Translate asks the responses endpoint for a plain translation.
func (c *Client) Translate(ctx context.Context, text string, target domain.Language) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}
	body := responsesRequest{Model: c.cfg.TranslationModel, Input: translationPrompt(text, target)}

	var res responsesResponse
	if err := c.client.Post(ctx, "responses", body, &res); err != nil {
		return "", requestError(err)
	}
	out := res.text()
	if out == "" {
		return "", errors.New("translation response contained no text")
	}
	return out, nil
}

func translationPrompt(text string, target domain.Language) string {
	return fmt.Sprintf("Translate the following text into %s. Return only the translated text.\n\nText:\n%s", target.DisplayName, text)
}

func requestError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = errorMessage(apiErr.RawJSON())
		}
		if msg != "" {
			return fmt.Errorf("OpenAI request failed (%d): %s", apiErr.StatusCode, msg)
		}
		return fmt.Errorf("OpenAI request failed (%d): %w", apiErr.StatusCode, err)
	}
	return err
}

// errorMessage reads {"error":{"message"}} or a bare {"message"} body.
func errorMessage(raw string) string {
	var body struct {
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return ""
	}
	if body.Error != nil && strings.TrimSpace(body.Error.Message) != "" {
		return strings.TrimSpace(body.Error.Message)
	}
	return strings.TrimSpace(body.Message)
}

func mimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	default:
		return "audio/wav"
	}
}
