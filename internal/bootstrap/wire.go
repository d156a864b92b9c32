package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"murmur/internal/audio"
	"murmur/internal/chunker"
	"murmur/internal/config"
	"murmur/internal/engine"
	"murmur/internal/insert"
	"murmur/internal/kv"
	"murmur/internal/logging"
	"murmur/internal/metrics"
	"murmur/internal/notify"
	"murmur/internal/ports"
	"murmur/internal/providers/deepgram"
	"murmur/internal/providers/langdetect"
	"murmur/internal/providers/openai"
	"murmur/internal/store"
	"murmur/internal/usecase"
)

const languageConfidenceFloor = 0.2

// Options override collaborators that differ per surface.
type Options struct {
	// Clipboard defaults to the system clipboard.
	Clipboard ports.Clipboard
	// Notify defaults to desktop notifications. Set DisableNotifications to
	// skip the decorator entirely.
	Notify               notify.NotifyFunc
	DisableNotifications bool
	// DeviceFactory replaces the configured capture backend.
	DeviceFactory ports.CaptureDeviceFactory
	// Logger replaces the logger built from config.
	Logger *slog.Logger
}

// Stores are the persistent collaborators, usable without the audio graph.
type Stores struct {
	KV      kv.Store
	History *store.History
	Failed  *store.FailedRecordings
	Codec   *audio.FFMPEGCodec
}

// Services is the assembled runtime graph.
type Services struct {
	Stores
	Controller  *usecase.Controller
	Engine      *engine.Supervisor
	Preferences *config.Preferences
	Config      config.Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics

	metricsServer *http.Server
	closers       []io.Closer
}

// Build loads configuration and wires all backend dependencies.
func Build(eventSink ports.EventSink, opts Options) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return BuildWithConfig(cfg, eventSink, opts)
}

// BuildWithConfig wires all backend dependencies for cfg.
func BuildWithConfig(cfg config.Config, eventSink ports.EventSink, opts Options) (*Services, error) {
	logger, logCloser := buildLogger(cfg, opts.Logger)
	s := &Services{Config: cfg, Logger: logger, Metrics: metrics.New()}
	s.closers = append(s.closers, logCloser)

	stores, err := openStores(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Stores = stores
	s.closers = append(s.closers, stores.KV)

	factory := opts.DeviceFactory
	if factory == nil {
		factory, err = buildDeviceFactory(cfg, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		if c, ok := factory.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
	}

	s.Engine = engine.NewSupervisor(factory, audio.WAVFactory{}, engineConfig(cfg),
		engine.WithLogger(logger),
		engine.WithMetrics(s.Metrics),
	)

	segments := chunker.New(stores.Codec, chunker.Config{
		MaxUploadBytes:    cfg.Upload.MaxBytes,
		TargetUploadBytes: cfg.Upload.TargetBytes,
		MinChunkDuration:  cfg.Upload.MinChunkDuration,
	}, logger, s.Metrics)

	openaiClient := openai.New(openai.Config{
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		TranslationModel:   cfg.OpenAI.TranslationModel,
		MaxRetries:         cfg.OpenAI.MaxRetries,
	})

	clipboard := opts.Clipboard
	if clipboard == nil {
		clipboard = insert.NewClipboard()
	}

	var events ports.EventSink = eventSink
	if !opts.DisableNotifications {
		events = notify.NewSink(eventSink, opts.Notify, logger)
	}

	s.Preferences = config.NewPreferences(cfg.Preferences)
	s.Controller = usecase.NewController(usecase.Dependencies{
		Recorder: s.Engine,
		Transcription: usecase.NewTranscriptionService(
			segments,
			buildTranscriber(cfg, openaiClient),
			langdetect.New(languageConfidenceFloor),
			logger,
		),
		Translation: usecase.NewTranslationUseCase(openaiClient),
		Inserter:    insert.NewPaster(logger),
		Clipboard:   clipboard,
		Permissions: insert.NewPermissions(captureCommand(cfg)),
		Foreground:  insert.NewForeground(),
		History:     stores.History,
		Retry:       stores.Failed,
		Preferences: s.Preferences,
		Events:      events,
		Logger:      logger,
		Metrics:     s.Metrics,
	}, usecase.Config{MinRecordingDuration: cfg.Session.MinRecording})

	if cfg.Metrics.ListenAddr != "" {
		s.metricsServer = startMetricsServer(cfg.Metrics.ListenAddr, s.Metrics, logger)
	}

	logger.Info("services ready",
		"provider", cfg.Provider,
		"backend", cfg.Audio.Backend,
		"data_dir", cfg.Storage.DataDir,
		"config_file", cfg.File,
	)
	return s, nil
}

// OpenStores opens history and failed-recording storage only.
func OpenStores(cfg config.Config, logger *slog.Logger) (Stores, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return openStores(cfg, logger)
}

// Close releases every resource in reverse construction order.
func (s *Services) Close() error {
	if s.Controller != nil {
		s.Controller.Close()
	}
	var errs []error
	if s.Engine != nil {
		errs = append(errs, s.Engine.Close())
	}
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, s.metricsServer.Shutdown(ctx))
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s Stores) Close() error {
	if s.KV == nil {
		return nil
	}
	return s.KV.Close()
}

func buildLogger(cfg config.Config, override *slog.Logger) (*slog.Logger, io.Closer) {
	if override != nil {
		return override, nopCloser{}
	}
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
}

func openStores(cfg config.Config, logger *slog.Logger) (Stores, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return Stores{}, fmt.Errorf("create data dir: %w", err)
	}
	db, err := kv.NewBadger(kv.BadgerOptions{
		Dir:    filepath.Join(cfg.Storage.DataDir, "db"),
		Logger: logger,
	})
	if err != nil {
		return Stores{}, fmt.Errorf("open database: %w", err)
	}

	codec := audio.NewFFMPEGCodec(audio.CodecConfig{
		FFMPEG:  cfg.Audio.FFMPEGCommand,
		FFProbe: cfg.Upload.FFProbeCommand,
		Format:  cfg.Upload.Format,
	})
	failed, err := store.NewFailedRecordings(db, filepath.Join(cfg.Storage.DataDir, "failed"), codec)
	if err != nil {
		_ = db.Close()
		return Stores{}, err
	}
	return Stores{
		KV:      db,
		History: store.NewHistory(db, store.DefaultHistoryLimit),
		Failed:  failed,
		Codec:   codec,
	}, nil
}

func buildDeviceFactory(cfg config.Config, logger *slog.Logger) (ports.CaptureDeviceFactory, error) {
	capture := audio.CaptureConfig{
		Command:     cfg.Audio.FFMPEGCommand,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
	}
	switch cfg.Audio.Backend {
	case config.BackendPortAudio:
		if !audio.PortAudioAvailable {
			return nil, errors.New("audio backend portaudio requires a build with -tags portaudio")
		}
		return audio.NewPortAudioFactory(capture, logger), nil
	default:
		return audio.NewFFMPEGFactory(capture, logger), nil
	}
}

func buildTranscriber(cfg config.Config, fallback *openai.Client) ports.Transcriber {
	if cfg.Provider == config.ProviderDeepgram {
		return deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		})
	}
	return fallback
}

func captureCommand(cfg config.Config) string {
	if cfg.Audio.Backend == config.BackendFFMPEG {
		return cfg.Audio.FFMPEGCommand
	}
	return ""
}

func engineConfig(cfg config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.HealthTimeout = cfg.Engine.HealthTimeout
	ec.CheckInterval = cfg.Engine.CheckInterval
	ec.ConfigDebounce = cfg.Engine.ConfigDebounce
	ec.RetryAttempts = cfg.Engine.RetryAttempts
	ec.RetryDelay = cfg.Engine.RetryDelay
	ec.RetryStep = cfg.Engine.RetryStep
	ec.FallbackDelay = cfg.Engine.FallbackDelay
	ec.IdleTimeout = cfg.Engine.IdleTimeout
	ec.PreRoll = cfg.Engine.PreRoll
	return ec
}

func startMetricsServer(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	return server
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
