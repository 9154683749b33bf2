package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/session"
	"github.com/obiente/translate/livescribe/internal/transcript"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 25 * time.Second
	writeTimeout        = 10 * time.Second
)

// Controller is the capture session driven by connected clients.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	ToggleLanguage() (string, error)
	SetLanguage(lang string) error
	Status() session.Status
	Transcript() *transcript.Transcript
	Subscribe(buffer int) (<-chan session.Event, func())
}

// Feeder accepts client audio when capture reads from a stream rather than a microphone.
// *audio.StreamOpener satisfies it.
type Feeder interface {
	Push(pcm []byte) error
	End()
	Format() audio.Format
}

// ClientObserver is told about connections coming and going.
type ClientObserver interface {
	ClientConnected()
	ClientDisconnected()
}

type Server struct {
	// ReadTimeout closes a connection that sends nothing, pongs included, for this long.
	ReadTimeout time.Duration
	// PingInterval paces server pings; it should stay below ReadTimeout.
	PingInterval time.Duration

	ctrl     Controller
	feed     Feeder
	obs      ClientObserver
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a websocket endpoint for ctrl. feed may be nil, in which case
// chunk messages are refused. obs may be nil.
func NewServer(ctrl Controller, feed Feeder, obs ClientObserver, logger zerolog.Logger) *Server {
	return &Server{
		ReadTimeout:  defaultReadTimeout,
		PingInterval: defaultPingInterval,
		ctrl:         ctrl,
		feed:         feed,
		obs:          obs,
		log:          logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024 * 16,
		},
	}
}

// client serialises writes; gorilla connections allow a single concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(payload)
}

func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *client) fail(detail string) {
	_ = c.send(map[string]any{"type": "error", "detail": detail})
}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	if s.obs != nil {
		s.obs.ClientConnected()
		defer s.obs.ClientDisconnected()
	}

	readTimeout := s.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	pingInterval := s.PingInterval
	if pingInterval <= 0 || pingInterval >= readTimeout {
		pingInterval = readTimeout * 9 / 10
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(readTimeout)); return nil })

	c := &client{conn: conn}
	events, unsubscribe := s.ctrl.Subscribe(64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		// pings keep listen-only clients past the read deadline
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := c.send(eventPayload(e)); err != nil {
					s.log.Debug().Err(err).Msg("dropping subscriber after write failure")
					return
				}
			case <-ticker.C:
				if err := c.ping(); err != nil {
					s.log.Debug().Err(err).Msg("ping failed")
					return
				}
			}
		}
	}()
	defer func() {
		unsubscribe()
		<-forwarded
	}()

	tr := s.ctrl.Transcript()
	_ = c.send(map[string]any{
		"type":       "hello",
		"status":     s.ctrl.Status(),
		"transcript": tr.String(),
		"fragments":  tr.Fragments(),
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("ws read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if mt == websocket.BinaryMessage {
			// raw PCM16 at the capture rate
			s.push(c, data, "audio/pcm", 0)
			continue
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			c.fail("invalid json")
			continue
		}
		s.dispatch(r.Context(), c, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, msg map[string]any) {
	switch msg["type"] {
	case "ping":
		_ = c.send(map[string]any{"type": "pong", "ts": msg["ts"]})
	case "start":
		if lang, ok := msg["language"].(string); ok && lang != "" {
			if err := s.ctrl.SetLanguage(lang); err != nil {
				c.fail(err.Error())
				return
			}
		}
		if err := s.ctrl.Start(ctx); err != nil {
			s.log.Warn().Err(err).Msg("start refused")
			c.fail(err.Error())
			return
		}
		_ = c.send(map[string]any{"type": "started", "status": s.ctrl.Status()})
	case "stop":
		s.ctrl.Stop()
		_ = c.send(map[string]any{"type": "stopped"})
	case "toggle_language":
		lang, err := s.ctrl.ToggleLanguage()
		if err != nil {
			c.fail(err.Error())
			return
		}
		_ = c.send(map[string]any{"type": "language", "language": lang})
	case "set_language":
		lang, _ := msg["language"].(string)
		if err := s.ctrl.SetLanguage(lang); err != nil {
			c.fail(err.Error())
			return
		}
		_ = c.send(map[string]any{"type": "language", "language": s.ctrl.Status().Language})
	case "chunk":
		b64, _ := msg["data"].(string)
		if b64 == "" {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			c.fail("invalid base64 audio")
			return
		}
		mime, _ := msg["mime_type"].(string)
		s.push(c, raw, mime, int(asFloat(msg["sample_rate"])))
	case "end":
		if s.feed == nil {
			c.fail("audio input is not accepted by this server")
			return
		}
		s.feed.End()
		_ = c.send(map[string]any{"type": "ended"})
	default:
		c.fail("unknown message type")
	}
}

func (s *Server) push(c *client, raw []byte, mime string, sampleRate int) {
	if s.feed == nil {
		c.fail("audio input is not accepted by this server")
		return
	}
	pcm, err := audio.NormalizeChunk(raw, mime, sampleRate, s.feed.Format().SampleRate)
	if err != nil {
		s.log.Warn().Err(err).Msg("audio decode failed")
		c.fail("decode audio failed")
		return
	}
	if err := s.feed.Push(pcm); err != nil {
		if errors.Is(err, audio.ErrNoStream) || errors.Is(err, audio.ErrClosed) {
			c.fail("not capturing")
			return
		}
		c.fail(err.Error())
	}
}

func eventPayload(e session.Event) map[string]any {
	switch e.Type {
	case session.EventFragment:
		f := e.Fragment
		return map[string]any{
			"type":     "transcript",
			"text":     f.Text,
			"fullText": f.Transcript,
			"language": f.Language,
			"sequence": f.Seq,
		}
	case session.EventTranslation:
		t := e.Translation
		return map[string]any{
			"type":         "translation",
			"text":         t.Text,
			"language":     t.Source,
			"sequence":     t.Seq,
			"translations": t.Targets,
		}
	case session.EventError:
		return map[string]any{"type": "error", "detail": e.Error}
	default:
		return map[string]any{"type": e.Type, "status": e.Status}
	}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	default:
		return 0
	}
}
