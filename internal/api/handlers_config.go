// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
)

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Load()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if includeKeys(r) {
		writeJSON(w, http.StatusOK, cfg.Clone())
		return
	}
	writeJSON(w, http.StatusOK, maskedConfig(cfg))
}

// handleConfigUpdate merges the request body over the current document, so
// partial documents only change what they carry. Masked secrets are restored
// from the stored document before validation; the whole result is validated,
// persisted atomically and applied to the running modules.
func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	current, err := s.store.Load()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	next := current.Clone()
	if !s.decodeBody(w, r, next) {
		return
	}
	restoreMaskedSecrets(next, current)

	if err := s.persist(r.Context(), next); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.hubStatus()
	writeJSON(w, http.StatusOK, maskedConfig(next))
}
