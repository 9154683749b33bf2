package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/livescribe/internal/archive"
	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/capture"
	"github.com/obiente/translate/livescribe/internal/config"
	serverhttp "github.com/obiente/translate/livescribe/internal/http"
	"github.com/obiente/translate/livescribe/internal/metrics"
	"github.com/obiente/translate/livescribe/internal/model"
	"github.com/obiente/translate/livescribe/internal/session"
	"github.com/obiente/translate/livescribe/internal/translation"
	"github.com/obiente/translate/livescribe/internal/whisper"
	"github.com/obiente/translate/livescribe/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to $"+config.EnvConfigPath+")")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	lvl := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		lvl = l
	}
	log.Logger = log.Level(lvl)
	logger := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cycle, err := cfg.Cycle()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid language cycle")
	}

	engine, err := whisper.New(whisper.Options{
		Backend:        cfg.Engine.Backend,
		Command:        cfg.Engine.Command,
		FallbackToStub: cfg.Engine.FallbackToStub,
		Placeholder:    cfg.Engine.Placeholder,
		NativeOptions: whisper.NativeOptions{
			Threads:         cfg.Engine.Threads,
			StepMillis:      cfg.Engine.StepMillis,
			MaxWindowMillis: cfg.Engine.MaxWindowMillis,
			Timeout:         cfg.Engine.Timeout,
			Logger:          logger,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Engine.Backend).Msg("engine unavailable")
	}

	var (
		opener audio.Opener
		feed   ws.Feeder
	)
	switch cfg.Audio.Source {
	case "stream":
		so := &audio.StreamOpener{
			BufferMillis:      cfg.Audio.BufferMillis,
			MaxBufferedMillis: cfg.Audio.MaxBufferedMillis,
			IdleTimeout:       cfg.Audio.IdleTimeout,
		}
		opener, feed = so, so
	default:
		opener = &audio.MicOpener{
			PeriodMillis:      cfg.Audio.PeriodMillis,
			MaxBufferedMillis: cfg.Audio.MaxBufferedMillis,
			IdleTimeout:       cfg.Audio.IdleTimeout,
			Logger:            logger,
		}
	}

	var models capture.ModelPathProvider
	if p := cfg.Model.Path; p != "" {
		models = capture.ModelPathFunc(func(context.Context) (string, error) { return p, nil })
	} else {
		models = &model.Bootstrapper{
			DataDir:   cfg.DataDir,
			FileName:  cfg.Model.FileName,
			AssetPath: cfg.Model.AssetPath,
			URL:       cfg.Model.URL,
			SHA256:    cfg.Model.SHA256,
			Logger:    logger,
		}
	}

	opts := session.Options{
		Loop: capture.Options{
			Format:   audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels, BitsPerSample: 16},
			Cycle:    cycle,
			Language: cfg.Language.Default,
		},
		CaptureAllowed:   cfg.Audio.CaptureAllowed,
		Separator:        cfg.Transcript.Separator,
		TranslationQueue: cfg.Translation.QueueSize,
		Logger:           logger,
	}
	deps := serverhttp.Deps{MetricsPath: cfg.Metrics.Path}
	var clients ws.ClientObserver

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts.Loop.Recorder = m
		opts.OnTranslation = m.TranslationDone
		deps.Metrics = m.Handler()
		clients = m
	}
	if cfg.Archive.Enabled {
		store, err := archive.Open(ctx, cfg.Archive.Path, logger)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Archive.Path).Msg("archive unavailable")
		}
		defer store.Close()
		opts.Archive = store
		deps.Archive = store
	}
	if cfg.Translation.Enabled {
		opts.Translator = translation.New(cfg.Translation.BaseURL, cfg.Translation.Timeout)
	}

	ctrl := session.New(engine, opener, models, opts)
	go func() {
		// load the model before the first start
		if err := ctrl.Warmup(ctx); err != nil {
			log.Warn().Err(err).Msg("engine warmup failed; retrying on start")
		}
	}()

	deps.Session = ctrl
	deps.WS = http.HandlerFunc(ws.NewServer(ctrl, feed, clients, logger).Handle)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      serverhttp.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("source", cfg.Audio.Source).
			Strs("languages", cycle.Codes()).
			Msg("livescribe server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("capture shutdown")
	}
}
