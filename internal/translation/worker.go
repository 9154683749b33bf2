package translation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Translator is satisfied by *Client.
type Translator interface {
	Translate(ctx context.Context, text, source string, targets []string, altLimit int) (map[string]Result, error)
}

// Job is one fragment to translate.
type Job struct {
	Seq     uint64
	Text    string
	Source  string
	Targets []string
}

// Translation is the outcome of a Job.
type Translation struct {
	Seq     uint64            `json:"seq"`
	Source  string            `json:"source"`
	Text    string            `json:"text"`
	Targets map[string]Result `json:"targets"`
}

// Worker translates fragments in order on its own goroutine so the capture
// loop never waits on the network.
type Worker struct {
	tr     Translator
	jobs   chan Job
	onDone func(Translation, error)
	log    zerolog.Logger

	wg sync.WaitGroup
}

func NewWorker(tr Translator, queue int, logger zerolog.Logger, onDone func(Translation, error)) *Worker {
	if queue <= 0 {
		queue = 64
	}
	if onDone == nil {
		onDone = func(Translation, error) {}
	}
	return &Worker{
		tr:     tr,
		jobs:   make(chan Job, queue),
		onDone: onDone,
		log:    logger.With().Str("component", "translation").Logger(),
	}
}

// Submit enqueues j and reports false when the queue is full.
func (w *Worker) Submit(j Job) bool {
	select {
	case w.jobs <- j:
		return true
	default:
		w.log.Warn().Uint64("seq", j.Seq).Msg("translation queue full; fragment skipped")
		return false
	}
}

// Start processes jobs on a new goroutine until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.jobs:
			res, err := w.tr.Translate(ctx, j.Text, j.Source, j.Targets, 0)
			if err != nil {
				w.log.Warn().Err(err).Uint64("seq", j.Seq).Msg("translation failed")
			}
			w.onDone(Translation{Seq: j.Seq, Source: j.Source, Text: j.Text, Targets: res}, err)
		}
	}
}

// Wait blocks until the goroutine started by Start has returned.
func (w *Worker) Wait() { w.wg.Wait() }
