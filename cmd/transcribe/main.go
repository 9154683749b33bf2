// Command transcribe runs the capture loop over a WAV file and prints the transcript.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/capture"
	"github.com/obiente/translate/livescribe/internal/config"
	"github.com/obiente/translate/livescribe/internal/model"
	"github.com/obiente/translate/livescribe/internal/transcript"
	"github.com/obiente/translate/livescribe/internal/whisper"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (defaults to $"+config.EnvConfigPath+")")
		input      = flag.String("audio", "", "WAV file to transcribe")
		modelPath  = flag.String("model", "", "model file; overrides the configured model")
		backend    = flag.String("backend", "", "engine backend: whispercpp, exec or stub")
		lang       = flag.String("language", "", "recognition language")
		chunkMs    = flag.Int("chunk-ms", 1000, "audio per read")
		realtime   = flag.Bool("realtime", false, "pace reads like a live microphone")
		follow     = flag.Bool("follow", false, "print fragments as they are recognised")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: transcribe -audio file.wav [-model ggml-base.bin] [-language en]")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if l, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		log.Logger = log.Level(l)
	}
	if *backend != "" {
		cfg.Engine.Backend = *backend
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	if *lang != "" {
		cfg.Language.Default = *lang
	}
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
			Logger:          log.Logger,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("engine unavailable")
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
			Logger:    log.Logger,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failure error
	tr := transcript.New(cfg.Transcript.Separator)
	loop := capture.New(engine, &audio.FileOpener{Path: *input, ChunkMillis: *chunkMs, Realtime: *realtime}, capture.Options{
		Cycle:      cycle,
		Language:   cfg.Language.Default,
		Logger:     log.Logger,
		OnTerminal: func(err error) { failure = err },
	})
	if _, err := loop.EnsureReady(ctx, models); err != nil {
		log.Fatal().Err(err).Msg("engine initialization failed")
	}
	printed := make(chan struct{})
	unsubscribe := func() {}
	if *follow {
		var updates <-chan transcript.Update
		updates, unsubscribe = tr.Subscribe(64)
		go func() {
			defer close(printed)
			for u := range updates {
				fmt.Fprintf(os.Stderr, "[%d] %s\n", u.Index+1, u.Fragment)
			}
		}()
	} else {
		close(printed)
	}

	err = loop.Start(ctx, func(f capture.Fragment) { tr.Append(f.Text) })
	if err != nil {
		log.Fatal().Err(err).Str("audio", *input).Msg("cannot read audio")
	}

	go func() {
		<-ctx.Done()
		loop.Stop()
	}()
	if err := loop.Wait(context.Background()); err != nil {
		log.Error().Err(err).Msg("wait")
	}
	_ = loop.Shutdown(context.Background())
	unsubscribe()
	<-printed

	fmt.Println(tr.String())
	if failure != nil {
		log.Error().Err(failure).Msg("capture ended early")
		os.Exit(1)
	}
}
