// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldClientID      = "client_id"
	FieldDestinationID = "destination_id"
	FieldPlatform      = "platform"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"

	// Stream fields
	FieldStreamPath = "stream_path"
	FieldOldState   = "old_state"
	FieldNewState   = "new_state"

	// Network fields
	FieldAddr = "addr"
	FieldURL  = "url"
)
