package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/obiente/translate/livescribe/internal/capture"
)

var _ capture.Recorder = (*Metrics)(nil)

func TestRecorderCounts(t *testing.T) {
	m := New()
	m.ChunkRead(3200)
	m.ChunkRead(3200)
	m.ChunkDropped()
	m.ChunkTranscribed(20*time.Millisecond, nil)
	m.ChunkTranscribed(time.Second, errors.New("boom"))
	m.FragmentDelivered()

	if got := testutil.ToFloat64(m.chunksRead); got != 2 {
		t.Fatalf("chunks read = %v", got)
	}
	if got := testutil.ToFloat64(m.bytesRead); got != 6400 {
		t.Fatalf("bytes read = %v", got)
	}
	if got := testutil.ToFloat64(m.chunksDropped); got != 1 {
		t.Fatalf("dropped = %v", got)
	}
	if got := testutil.ToFloat64(m.transcribeErrors); got != 1 {
		t.Fatalf("errors = %v", got)
	}
	if got := testutil.ToFloat64(m.fragments); got != 1 {
		t.Fatalf("fragments = %v", got)
	}
}

func TestStateGauge(t *testing.T) {
	m := New()
	m.StateChanged(capture.Capturing)
	if testutil.ToFloat64(m.capturing) != 1 || testutil.ToFloat64(m.sessions) != 1 {
		t.Fatal("expected capturing gauge and session counter set")
	}
	m.StateChanged(capture.Idle)
	if testutil.ToFloat64(m.capturing) != 0 {
		t.Fatal("expected capturing gauge cleared")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.TranslationDone(nil)
	m.ClientConnected()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"livescribe_translations_total", "livescribe_ws_clients 1", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %q", name)
		}
	}
}
