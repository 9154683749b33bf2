package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/archive"
	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/capture"
	"github.com/obiente/translate/livescribe/internal/translation"
)

type scriptEngine struct {
	mu      sync.Mutex
	initErr error
	texts   []string
	langs   []string
	calls   int
}

func (e *scriptEngine) Initialize(_, lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initErr != nil {
		return e.initErr
	}
	e.langs = append(e.langs, lang)
	return nil
}

func (e *scriptEngine) SetLanguage(lang string) {
	e.mu.Lock()
	e.langs = append(e.langs, lang)
	e.mu.Unlock()
}

func (e *scriptEngine) TranscribeChunk([]byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls >= len(e.texts) {
		return "", nil
	}
	text := e.texts[e.calls]
	e.calls++
	return text, nil
}

func (e *scriptEngine) Shutdown() {}

// pcmOpener serves a fixed buffer in 4-byte reads, then ends.
type pcmOpener struct {
	data    []byte
	openErr error
}

func (o pcmOpener) MinBufferSize(audio.Format) (int, error) { return 4, nil }

func (o pcmOpener) Open(_ context.Context, f audio.Format) (audio.Source, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	return audio.NewPCMSource(o.data, f), nil
}

type echoTranslator struct{}

func (echoTranslator) Translate(_ context.Context, text, _ string, targets []string, _ int) (map[string]translation.Result, error) {
	out := map[string]translation.Result{}
	for _, tgt := range targets {
		out[tgt] = translation.Result{Primary: tgt + ":" + text}
	}
	return out, nil
}

var fixedModel = capture.ModelPathFunc(func(context.Context) (string, error) { return "model.bin", nil })

func newController(t *testing.T, engine *scriptEngine, opener audio.Opener, opts Options) *Controller {
	t.Helper()
	opts.Logger = zerolog.Nop()
	c := New(engine, opener, fixedModel, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("session did not end: %v", err)
	}
}

func TestStartWithoutPermission(t *testing.T) {
	c := newController(t, &scriptEngine{}, pcmOpener{}, Options{})
	events, cancel := c.Subscribe(4)
	defer cancel()

	err := c.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if st := c.Status(); st.State != capture.Idle.String() || st.Ready || st.LastError == "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if e := <-events; e.Type != EventError {
		t.Fatalf("expected error event, got %+v", e)
	}
}

func TestSessionFansOutFragments(t *testing.T) {
	store, err := archive.Open(context.Background(), filepath.Join(t.TempDir(), "a.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer store.Close()

	engine := &scriptEngine{texts: []string{"hola", "", "mundo"}}
	c := newController(t, engine, pcmOpener{data: make([]byte, 12)}, Options{
		CaptureAllowed: true,
		Archive:        store,
		Translator:     echoTranslator{},
	})
	if err := c.SetLanguage("es"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	events, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitIdle(t, c)

	if got := c.Transcript().String(); got != "hola mundo " {
		t.Fatalf("transcript = %q", got)
	}
	st := c.Status()
	if st.State != capture.Idle.String() || !st.Ready || st.Fragments != 2 || st.SessionID != "" {
		t.Fatalf("unexpected status %+v", st)
	}

	sessions, err := store.Sessions(context.Background(), 10)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %v, %v", sessions, err)
	}
	if s := sessions[0]; s.Language != "es" || s.Fragments != 2 || s.EndedAt.IsZero() || s.Error != "" {
		t.Fatalf("unexpected archived session %+v", s)
	}

	var translated []string
	deadline := time.After(2 * time.Second)
	for len(translated) < 2 {
		select {
		case e := <-events:
			if e.Type == EventTranslation {
				translated = append(translated, e.Translation.Targets["en"].Primary)
			}
		case <-deadline:
			t.Fatalf("translations missing, got %v", translated)
		}
	}
	if translated[0] != "en:hola" || translated[1] != "en:mundo" {
		t.Fatalf("translations = %v", translated)
	}
}

func TestStartWithFailedInitStillCaptures(t *testing.T) {
	engine := &scriptEngine{initErr: errors.New("bad model"), texts: []string{"never"}}
	c := newController(t, engine, pcmOpener{data: make([]byte, 8)}, Options{CaptureAllowed: true})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitIdle(t, c)

	st := c.Status()
	if st.Ready || st.Fragments != 0 || st.LastError == "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if engine.calls != 0 {
		t.Fatalf("engine should not see chunks, saw %d", engine.calls)
	}
}

func TestStartOpenFailure(t *testing.T) {
	c := newController(t, &scriptEngine{}, pcmOpener{openErr: errors.New("busy")}, Options{CaptureAllowed: true})
	err := c.Start(context.Background())
	if !errors.Is(err, capture.ErrDevice) {
		t.Fatalf("expected device error, got %v", err)
	}
	if st := c.Status(); st.State != capture.Idle.String() || st.SessionID != "" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestToggleLanguagePublishesStatus(t *testing.T) {
	engine := &scriptEngine{}
	c := newController(t, engine, pcmOpener{}, Options{})
	if err := c.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	events, cancel := c.Subscribe(4)
	defer cancel()

	lang, err := c.ToggleLanguage()
	if err != nil || lang != "es" {
		t.Fatalf("ToggleLanguage = %q, %v", lang, err)
	}
	e := <-events
	if e.Type != EventStatus || e.Status.Language != "es" {
		t.Fatalf("unexpected event %+v", e)
	}
	if err := c.SetLanguage("fr"); !errors.Is(err, capture.ErrUnsupportedLanguage) {
		t.Fatalf("expected unsupported language, got %v", err)
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.langs) != 2 || engine.langs[0] != "en" || engine.langs[1] != "es" {
		t.Fatalf("engine languages = %v", engine.langs)
	}
}

func nextFragment(t *testing.T, events <-chan Event) FragmentEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == EventFragment {
				return *e.Fragment
			}
		case <-deadline:
			t.Fatal("no fragment delivered")
		}
	}
}

func TestRestartRightAfterStopKeepsSessionsApart(t *testing.T) {
	ctx := context.Background()
	store, err := archive.Open(ctx, filepath.Join(t.TempDir(), "a.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer store.Close()

	opener := &audio.StreamOpener{BufferMillis: 100, IdleTimeout: 300 * time.Millisecond}
	engine := &scriptEngine{texts: []string{"uno", "dos"}}
	c := newController(t, engine, opener, Options{CaptureAllowed: true, Archive: store})
	events, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	firstID := c.Status().SessionID
	if err := opener.Push(make([]byte, 3200)); err != nil {
		t.Fatal(err)
	}
	if f := nextFragment(t, events); f.Text != "uno" {
		t.Fatalf("first fragment = %+v", f)
	}

	// the first session is still inside an idle read when the second starts
	c.Stop()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	st := c.Status()
	if st.State != capture.Capturing.String() || st.SessionID == "" || st.SessionID == firstID {
		t.Fatalf("unexpected status after restart %+v (first session %s)", st, firstID)
	}
	secondID := st.SessionID

	if err := opener.Push(make([]byte, 3200)); err != nil {
		t.Fatal(err)
	}
	if f := nextFragment(t, events); f.Text != "dos" {
		t.Fatalf("second fragment = %+v", f)
	}

	sessions, err := store.Sessions(ctx, 10)
	if err != nil || len(sessions) != 2 {
		t.Fatalf("sessions = %v, %v", sessions, err)
	}
	byID := map[string]archive.Session{}
	for _, s := range sessions {
		byID[s.ID] = s
	}
	if s := byID[firstID]; s.EndedAt.IsZero() || s.Fragments != 1 {
		t.Fatalf("first session %+v should be closed with one fragment", s)
	}
	if s := byID[secondID]; !s.EndedAt.IsZero() || s.Fragments != 1 {
		t.Fatalf("second session %+v should be open with one fragment", s)
	}
	frags, err := store.Fragments(ctx, secondID)
	if err != nil || len(frags) != 1 || frags[0].Text != "dos" {
		t.Fatalf("second session fragments = %v, %v", frags, err)
	}
}
