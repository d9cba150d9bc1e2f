// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/relay"
)

func (s *Server) handlePlatformList(w http.ResponseWriter, r *http.Request) {
	views, err := s.platformList(includeKeys(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePlatformGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Load()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	d, ok := findByID(cfg, chi.URLParam(r, "id"))
	if !ok {
		s.writeErr(w, r, relay.ErrUnknownDestination)
		return
	}
	writeJSON(w, http.StatusOK, platformView(d, includeKeys(r)))
}

// handlePlatformCreate appends a destination. A missing id is generated;
// everything else is validated against the full document so duplicate names
// and malformed URLs are rejected before anything is persisted.
func (s *Server) handlePlatformCreate(w http.ResponseWriter, r *http.Request) {
	var dest config.Destination
	if !s.decodeBody(w, r, &dest) {
		return
	}
	if dest.ID == "" {
		dest.ID = uuid.NewString()
	}

	cfg, err := s.store.Load()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	next := cfg.Clone()
	next.StreamManager.Destinations = append(next.StreamManager.Destinations, dest)

	if err := s.persist(r.Context(), next); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.hubStatus()
	writeJSON(w, http.StatusCreated, platformView(dest, false))
}

// handlePlatformUpdate merges the request body over the stored destination.
// Absent fields keep their stored values and a masked stream key keeps the
// stored secret.
func (s *Server) handlePlatformUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := s.store.Load()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	stored, ok := findByID(cfg, id)
	if !ok {
		s.writeErr(w, r, relay.ErrUnknownDestination)
		return
	}

	dest := stored.Clone()
	if !s.decodeBody(w, r, &dest) {
		return
	}
	dest.ID = id
	if dest.StreamKey == maskedValue {
		dest.StreamKey = stored.StreamKey
	}

	next := cfg.Clone()
	for i := range next.StreamManager.Destinations {
		if next.StreamManager.Destinations[i].ID == id {
			next.StreamManager.Destinations[i] = dest
			break
		}
	}

	if err := s.persist(r.Context(), next); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.hubStatus()
	writeJSON(w, http.StatusOK, platformView(dest, false))
}

// handlePlatformDelete stops any live relay for the destination, then removes
// it from the document.
func (s *Server) handlePlatformDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := s.store.Load()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if _, ok := findByID(cfg, id); !ok {
		s.writeErr(w, r, relay.ErrUnknownDestination)
		return
	}

	if err := s.sup.Stop(id); err != nil && !errors.Is(err, relay.ErrUnknownDestination) {
		s.writeErr(w, r, err)
		return
	}

	next := cfg.Clone()
	kept := next.StreamManager.Destinations[:0]
	for _, d := range next.StreamManager.Destinations {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	next.StreamManager.Destinations = kept

	if err := s.persist(r.Context(), next); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.hubStatus()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handlePlatformConnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Start(id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.destinationStatus(id))
}

func (s *Server) handlePlatformDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Stop(id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.destinationStatus(id))
}

// destinationStatus returns the supervisor's projection for one destination.
func (s *Server) destinationStatus(idOrName string) relay.DestinationStatus {
	for _, row := range s.sup.Snapshot() {
		if row.ID == idOrName || row.Name == idOrName {
			return row
		}
	}
	return relay.DestinationStatus{ID: idOrName, Status: relay.StateIdle}
}

// decodeBody parses a bounded JSON request body. A false return means the
// response has already been written.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
