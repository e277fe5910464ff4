package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/primehr-session/session"
	"github.com/rs/zerolog/log"
)

const heartbeatInterval = 25 * time.Second

// EventsHandler streams state snapshots as Server-Sent Events until the client
// goes away or the instance is disposed.
func (s *Server) EventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		_, _ = w.Write([]byte(": stream started\n\n"))
		flusher.Flush()

		inst := s.instances.Lookup(r)
		if inst == nil {
			// Nothing to follow until a sign-in creates an instance.
			writeStateEvent(w, session.State{})
			flusher.Flush()
			return
		}

		snapshots, cancel := inst.Manager.Subscribe()
		defer cancel()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				_, _ = w.Write([]byte(": ping\n\n"))
				flusher.Flush()
			case st, open := <-snapshots:
				if !open {
					return
				}
				writeStateEvent(w, st)
				flusher.Flush()
			}
		}
	}
}

func writeStateEvent(w http.ResponseWriter, st session.State) {
	payload, err := json.Marshal(st)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode state snapshot")
		return
	}
	_, _ = w.Write([]byte("event: state\ndata: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}
