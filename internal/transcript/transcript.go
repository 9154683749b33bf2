package transcript

import (
	"strings"
	"sync"
)

// DefaultSeparator follows every appended fragment.
const DefaultSeparator = " "

// Update is delivered to subscribers after each append.
type Update struct {
	Index    int    // zero-based position of the fragment in the transcript
	Fragment string // trimmed fragment text
	Full     string // whole transcript after the append
}

// Transcript is an append-only text accumulator observed by the UI.
// Blank fragments are never stored.
type Transcript struct {
	sep string

	mu        sync.RWMutex
	text      strings.Builder
	fragments []string
	subs      map[int]chan Update
	nextSub   int
}

// New returns an empty transcript using sep after every fragment.
func New(sep string) *Transcript {
	return &Transcript{
		sep:  sep,
		subs: make(map[int]chan Update),
	}
}

// Append trims fragment and adds it followed by the separator.
// It reports false when the fragment is blank and nothing was appended.
func (t *Transcript) Append(fragment string) bool {
	text := strings.TrimSpace(fragment)
	if text == "" {
		return false
	}

	t.mu.Lock()
	t.text.WriteString(text)
	t.text.WriteString(t.sep)
	t.fragments = append(t.fragments, text)
	u := Update{Index: len(t.fragments) - 1, Fragment: text, Full: t.text.String()}
	for _, ch := range t.subs {
		// slow observers miss intermediate updates; Full always carries the latest text
		select {
		case ch <- u:
		default:
		}
	}
	t.mu.Unlock()
	return true
}

// String returns the accumulated text.
func (t *Transcript) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.text.String()
}

// Fragments returns a copy of the stored fragments in append order.
func (t *Transcript) Fragments() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.fragments...)
}

// Len returns the number of stored fragments.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.fragments)
}

// Subscribe registers an observer. The returned func unregisters it and closes the channel.
func (t *Transcript) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}
