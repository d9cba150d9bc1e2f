// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.StatusPayload())
}

// handleStreamStart launches relays for every enabled destination. Partial
// failures still leave the successfully started sessions running; the error
// carries one line per destination that failed.
func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.StartAll(); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.StatusPayload())
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s.sup.StopAll()
	writeJSON(w, http.StatusOK, s.StatusPayload())
}

// handleIngestConnect enables the inbound RTMP listener.
func (s *Server) handleIngestConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ing.SetEnabled(r.Context(), true); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.hubStatus()
	writeJSON(w, http.StatusOK, s.ing.Snapshot())
}

// handleIngestDisconnect disables the inbound RTMP listener. Running relay
// sessions are left alone; they reconnect when the listener returns.
func (s *Server) handleIngestDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ing.SetEnabled(r.Context(), false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.hubStatus()
	writeJSON(w, http.StatusOK, s.ing.Snapshot())
}

func (s *Server) hubStatus() {
	if s.hub != nil {
		s.hub.PublishStatus()
	}
}
