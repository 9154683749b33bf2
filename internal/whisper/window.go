package whisper

import "sync"

// window batches chunks until at least step bytes are buffered, so the model
// sees a few seconds of speech instead of one read-buffer at a time.
type window struct {
	mu   sync.Mutex
	buf  []byte
	step int
	max  int
}

func newWindow(stepBytes, maxBytes int) *window {
	if maxBytes > 0 && stepBytes > maxBytes {
		stepBytes = maxBytes
	}
	return &window{step: stepBytes, max: maxBytes}
}

// push appends pcm and returns the batch to decode, or nil while still accumulating.
func (w *window) push(pcm []byte) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step <= 0 {
		return w.clip(append([]byte(nil), pcm...))
	}
	w.buf = append(w.buf, pcm...)
	if len(w.buf) < w.step {
		return nil
	}
	out := w.clip(w.buf)
	w.buf = nil
	return out
}

// flush returns whatever is buffered.
func (w *window) flush() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	out := w.clip(w.buf)
	w.buf = nil
	return out
}

func (w *window) reset() {
	w.mu.Lock()
	w.buf = nil
	w.mu.Unlock()
}

func (w *window) clip(b []byte) []byte {
	if w.max > 0 && len(b) > w.max {
		b = b[len(b)-w.max:]
	}
	if len(b)%2 != 0 {
		b = b[1:]
	}
	return b
}
