package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/archive"
	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/capture"
	"github.com/obiente/translate/livescribe/internal/transcript"
	"github.com/obiente/translate/livescribe/internal/translation"
	"github.com/obiente/translate/livescribe/internal/whisper"
)

// Archive persists capture sessions. *archive.Store satisfies it.
type Archive interface {
	BeginSession(ctx context.Context, language string) (string, error)
	AppendFragment(ctx context.Context, f archive.Fragment) error
	EndSession(ctx context.Context, id string, cause error) error
}

type Options struct {
	Loop           capture.Options
	CaptureAllowed bool
	Separator      string
	Archive        Archive
	// Translator, when set, translates every fragment into the other languages of the cycle.
	Translator       translation.Translator
	TranslationQueue int
	OnTranslation    func(err error)
	Logger           zerolog.Logger
}

// Controller is what the UI talks to: start, stop, toggle language, and a
// stream of transcript updates.
type Controller struct {
	loop    *capture.Loop
	models  capture.ModelPathProvider
	tr      *transcript.Transcript
	archive Archive
	allowed bool
	log     zerolog.Logger
	events  bus

	worker       *translation.Worker
	stopWorker   context.CancelFunc
	onTranslated func(error)

	startMu   sync.Mutex
	mu        sync.Mutex
	sessionID string
	lastErr   error
}

func New(engine whisper.Engine, opener audio.Opener, models capture.ModelPathProvider, opts Options) *Controller {
	sep := opts.Separator
	if sep == "" {
		sep = transcript.DefaultSeparator
	}
	c := &Controller{
		models:       models,
		tr:           transcript.New(sep),
		archive:      opts.Archive,
		allowed:      opts.CaptureAllowed,
		log:          opts.Logger.With().Str("component", "session").Logger(),
		onTranslated: opts.OnTranslation,
	}
	lopts := opts.Loop
	lopts.Logger = opts.Logger
	lopts.OnTerminal = c.onTerminal
	c.loop = capture.New(engine, opener, lopts)

	if opts.Translator != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.worker = translation.NewWorker(opts.Translator, opts.TranslationQueue, opts.Logger, c.onTranslation)
		c.stopWorker = cancel
		c.worker.Start(ctx)
	}
	return c
}

// Transcript returns the live transcript.
func (c *Controller) Transcript() *transcript.Transcript { return c.tr }

// Subscribe returns a channel of events; slow readers miss events.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	id, lastErr := c.sessionID, c.lastErr
	c.mu.Unlock()
	s := Status{
		State:     c.loop.State().String(),
		Ready:     c.loop.Ready(),
		Language:  c.loop.Language(),
		Languages: c.loop.Languages().Codes(),
		SessionID: id,
		Fragments: c.tr.Len(),
	}
	if lastErr != nil {
		s.LastError = lastErr.Error()
	}
	return s
}

// Warmup initializes the engine ahead of the first start.
func (c *Controller) Warmup(ctx context.Context) error {
	_, err := c.loop.EnsureReady(ctx, c.models)
	if err != nil {
		c.setErr(err)
	}
	return err
}

// Start initializes the engine if needed and begins capturing. An engine that
// fails to initialize does not prevent capture; its chunks are discarded until
// a later start initializes it.
func (c *Controller) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !c.allowed {
		c.setErr(capture.ErrPermissionDenied)
		c.publishError(capture.ErrPermissionDenied)
		return capture.ErrPermissionDenied
	}
	if c.loop.State() == capture.Capturing {
		return nil
	}
	// the previous session closes its archive row from its own goroutine
	if err := c.loop.Wait(ctx); err != nil {
		return err
	}
	c.setErr(nil)
	if _, err := c.loop.EnsureReady(ctx, c.models); err != nil {
		c.log.Warn().Err(err).Msg("starting capture without a ready engine")
		c.setErr(err)
		c.publishError(err)
	}

	var id string
	if c.archive != nil {
		var err error
		if id, err = c.archive.BeginSession(ctx, c.loop.Language()); err != nil {
			c.log.Warn().Err(err).Msg("archive session not recorded")
			id = ""
		}
	}
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()

	onResult := func(f capture.Fragment) { c.onFragment(id, f) }
	if err := c.loop.Start(ctx, onResult); err != nil {
		c.endArchive(id, err)
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		c.setErr(err)
		c.publishError(err)
		c.publishStatus()
		return err
	}
	c.log.Info().Str("session", id).Msg("session started")
	c.publishStatus()
	return nil
}

func (c *Controller) Stop() {
	c.loop.Stop()
	c.publishStatus()
}

func (c *Controller) ToggleLanguage() (string, error) {
	lang, err := c.loop.ToggleLanguage()
	if err != nil {
		return "", err
	}
	c.publishStatus()
	return lang, nil
}

func (c *Controller) SetLanguage(lang string) error {
	if err := c.loop.SetLanguage(lang); err != nil {
		return err
	}
	c.publishStatus()
	return nil
}

// Wait blocks until the running capture session, if any, has ended.
func (c *Controller) Wait(ctx context.Context) error { return c.loop.Wait(ctx) }

// Shutdown stops capture, releases the engine and stops translation.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.loop.Shutdown(ctx)
	if c.worker != nil {
		c.stopWorker()
		c.worker.Wait()
	}
	return err
}

// onFragment handles a fragment of the session archived as id.
func (c *Controller) onFragment(id string, f capture.Fragment) {
	if !c.tr.Append(f.Text) {
		return
	}
	text := strings.TrimSpace(f.Text)

	if c.archive != nil && id != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.archive.AppendFragment(ctx, archive.Fragment{
			SessionID: id, Seq: f.Seq, Text: text, Language: f.Language, CreatedAt: f.At,
		})
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Uint64("seq", f.Seq).Msg("fragment not archived")
		}
	}
	if c.worker != nil {
		if targets := c.loop.Languages().Others(f.Language); len(targets) > 0 {
			c.worker.Submit(translation.Job{Seq: f.Seq, Text: text, Source: f.Language, Targets: targets})
		}
	}
	c.events.publish(Event{Type: EventFragment, Fragment: &FragmentEvent{
		Seq: f.Seq, Text: text, Language: f.Language, Transcript: c.tr.String(),
	}})
}

func (c *Controller) onTranslation(t translation.Translation, err error) {
	if c.onTranslated != nil {
		c.onTranslated(err)
	}
	if err != nil {
		return
	}
	c.events.publish(Event{Type: EventTranslation, Translation: &t})
}

func (c *Controller) onTerminal(err error) {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.endArchive(id, err)
	if err != nil {
		c.publishError(err)
	}
	c.log.Info().Str("session", id).Err(err).Msg("session ended")
	c.publishStatus()
}

func (c *Controller) endArchive(id string, cause error) {
	if c.archive == nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.archive.EndSession(ctx, id, cause); err != nil {
		c.log.Warn().Err(err).Str("session", id).Msg("archive session not closed")
	}
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Controller) publishStatus() {
	s := c.Status()
	c.events.publish(Event{Type: EventStatus, Status: &s})
}

func (c *Controller) publishError(err error) {
	c.events.publish(Event{Type: EventError, Error: err.Error()})
}
