package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/obiente/translate/livescribe/internal/archive"
	"github.com/obiente/translate/livescribe/internal/capture"
	"github.com/obiente/translate/livescribe/internal/ws"
)

// Archive is the read side of the session archive.
type Archive interface {
	Sessions(ctx context.Context, limit int) ([]archive.Session, error)
	Fragments(ctx context.Context, sessionID string) ([]archive.Fragment, error)
}

// Deps are the handlers' collaborators. Archive and Metrics may be nil.
type Deps struct {
	Session     ws.Controller
	WS          http.Handler
	Archive     Archive
	Metrics     http.Handler
	MetricsPath string
}

func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		st := d.Session.Status()
		code := http.StatusOK
		if !st.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, st)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Session.Status())
	})
	mux.HandleFunc("GET /transcript", func(w http.ResponseWriter, r *http.Request) {
		tr := d.Session.Transcript()
		writeJSON(w, http.StatusOK, map[string]any{"text": tr.String(), "fragments": tr.Fragments()})
	})

	mux.HandleFunc("POST /capture/start", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()
		if err := d.Session.Start(ctx); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, capture.ErrPermissionDenied) {
				code = http.StatusForbidden
			}
			writeError(w, code, err)
			return
		}
		writeJSON(w, http.StatusOK, d.Session.Status())
	})
	mux.HandleFunc("POST /capture/stop", func(w http.ResponseWriter, r *http.Request) {
		d.Session.Stop()
		writeJSON(w, http.StatusOK, d.Session.Status())
	})
	mux.HandleFunc("POST /language/toggle", func(w http.ResponseWriter, r *http.Request) {
		if _, err := d.Session.ToggleLanguage(); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, d.Session.Status())
	})
	mux.HandleFunc("PUT /language/{code}", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Session.SetLanguage(r.PathValue("code")); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, d.Session.Status())
	})

	if d.Archive != nil {
		mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			sessions, err := d.Archive.Sessions(r.Context(), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			out := make([]map[string]any, 0, len(sessions))
			for _, s := range sessions {
				item := map[string]any{
					"id":         s.ID,
					"language":   s.Language,
					"started_at": s.StartedAt,
					"fragments":  s.Fragments,
				}
				if !s.EndedAt.IsZero() {
					item["ended_at"] = s.EndedAt
				}
				if s.Error != "" {
					item["error"] = s.Error
				}
				out = append(out, item)
			}
			writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
		})
		mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			frags, err := d.Archive.Fragments(r.Context(), r.PathValue("id"))
			if errors.Is(err, archive.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			out := make([]map[string]any, 0, len(frags))
			for _, f := range frags {
				out = append(out, map[string]any{
					"seq":        f.Seq,
					"text":       f.Text,
					"language":   f.Language,
					"created_at": f.CreatedAt,
				})
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "fragments": out})
		})
	}

	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, d.Metrics)
	}
	// Streaming transcription WebSocket
	if d.WS != nil {
		mux.Handle("/ws/transcribe", d.WS)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
