package session

import (
	"sync"

	"github.com/obiente/translate/livescribe/internal/translation"
)

// Event types published to subscribers.
const (
	EventStatus      = "status"
	EventFragment    = "fragment"
	EventTranslation = "translation"
	EventError       = "error"
)

// Status is a snapshot of the controller.
type Status struct {
	State     string   `json:"state"`
	Ready     bool     `json:"ready"`
	Language  string   `json:"language"`
	Languages []string `json:"languages"`
	SessionID string   `json:"session_id,omitempty"`
	Fragments int      `json:"fragments"`
	LastError string   `json:"last_error,omitempty"`
}

type FragmentEvent struct {
	Seq        uint64 `json:"seq"`
	Text       string `json:"text"`
	Language   string `json:"language"`
	Transcript string `json:"transcript"`
}

type Event struct {
	Type        string                   `json:"type"`
	Status      *Status                  `json:"status,omitempty"`
	Fragment    *FragmentEvent           `json:"fragment,omitempty"`
	Translation *translation.Translation `json:"translation,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// bus fans events out to subscribers without blocking the publisher.
type bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
