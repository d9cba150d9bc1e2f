// SPDX-License-Identifier: MIT

// Package validate accumulates per-field configuration failures into a
// single error value carrying the full field list.
package validate

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Error is one field that failed validation.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e Error) Error() string {
	return e.Field + ": " + e.Message
}

// Validator collects field errors across a whole document before reporting,
// so a response can name every offending field at once.
type Validator struct {
	errs []Error
}

// ValidationError is the aggregate failure produced by Err. It is a value
// type so errors.As works on wrapped copies.
type ValidationError struct {
	errs []Error
}

// New returns an empty validator.
func New() *Validator {
	return &Validator{}
}

// AddError records a failure for field.
func (v *Validator) AddError(field, message string, value any) {
	v.errs = append(v.errs, Error{Field: field, Value: value, Message: message})
}

// IsValid reports whether no failures were recorded.
func (v *Validator) IsValid() bool {
	return len(v.errs) == 0
}

// Errors returns the recorded failures in check order.
func (v *Validator) Errors() []Error {
	return v.errs
}

// Err returns nil when everything passed, otherwise a ValidationError
// holding a private copy of the failures.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return ValidationError{errs: slices.Clone(v.errs)}
}

// Errors returns the individual field failures.
func (e ValidationError) Errors() []Error {
	return e.errs
}

func (e ValidationError) Error() string {
	parts := make([]string, len(e.errs))
	for i, fe := range e.errs {
		parts[i] = fe.Error()
	}
	switch len(parts) {
	case 0:
		return "validation failed"
	case 1:
		return parts[0]
	default:
		return fmt.Sprintf("%d invalid fields: %s", len(parts), strings.Join(parts, "; "))
	}
}

// URL checks that value parses, carries a host, and uses one of the given
// schemes (any scheme passes when schemes is empty).
func (v *Validator) URL(field, value string, schemes []string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "url is required", value)
		return
	}
	u, err := url.Parse(value)
	switch {
	case err != nil:
		v.AddError(field, fmt.Sprintf("malformed url: %v", err), value)
	case u.Host == "":
		v.AddError(field, "url is missing a host", value)
	case len(schemes) > 0 && !slices.Contains(schemes, u.Scheme):
		v.AddError(field,
			fmt.Sprintf("scheme %q not allowed (want %s)", u.Scheme, strings.Join(schemes, " or ")),
			value)
	}
}

// Port checks a TCP port number.
func (v *Validator) Port(field string, port int) {
	if port < 1 || port > 65535 {
		v.AddError(field, fmt.Sprintf("port %d outside 1-65535", port), port)
	}
}

// Range checks an inclusive integer range.
func (v *Validator) Range(field string, value, lo, hi int) {
	if value < lo || value > hi {
		v.AddError(field, fmt.Sprintf("%d outside %d-%d", value, lo, hi), value)
	}
}

// NotEmpty rejects empty and whitespace-only strings.
func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "must not be empty", value)
	}
}

// NonNegative rejects negative integers.
func (v *Validator) NonNegative(field string, value int) {
	if value < 0 {
		v.AddError(field, fmt.Sprintf("must not be negative, got %d", value), value)
	}
}

// Match records describe as the failure when ok rejects value.
func (v *Validator) Match(field, value, describe string, ok func(string) bool) {
	if !ok(value) {
		v.AddError(field, describe, value)
	}
}
