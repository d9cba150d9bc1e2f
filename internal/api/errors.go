// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/streamfan/streamfan/internal/log"
	"github.com/streamfan/streamfan/internal/relay"
	"github.com/streamfan/streamfan/internal/validate"
)

// errorBody is the wire shape of every non-2xx response.
type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// fieldError is one entry of a validation failure's details list.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	writeJSON(w, status, errorBody{Error: message, Details: details})
}

// writeErr maps a module error onto an HTTP status. Validation failures carry
// their per-field breakdown; everything else splits the first line off as the
// summary and keeps the remainder as details.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr validate.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := verr.Errors()
		details := make([]fieldError, 0, len(fields))
		for _, fe := range fields {
			details = append(details, fieldError{Field: fe.Field, Message: fe.Message})
		}
		writeError(w, http.StatusBadRequest, "invalid configuration", details)
	case errors.Is(err, relay.ErrUnknownDestination):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, relay.ErrDestinationDisabled):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, relay.ErrTranscoderMissing):
		summary, details := splitSummary(err)
		writeError(w, http.StatusServiceUnavailable, summary, details)
	default:
		logger := log.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		summary, details := splitSummary(err)
		writeError(w, http.StatusInternalServerError, summary, details)
	}
}

// splitSummary separates a multi-line error into its first line and the rest,
// so install guidance and joined causes land in details instead of the
// top-level message.
func splitSummary(err error) (string, any) {
	msg := err.Error()
	head, rest, found := strings.Cut(msg, "\n")
	if !found {
		return msg, nil
	}
	lines := make([]string, 0, 4)
	for _, line := range strings.Split(rest, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return head, nil
	}
	return head, lines
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message, nil)
}
