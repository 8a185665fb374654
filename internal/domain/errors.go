package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("application not found")
	ErrDuplicateReference = errors.New("duplicate reference number")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrStoreUnavailable   = errors.New("application store unavailable")
	ErrValidation         = errors.New("validation failed")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every missing or malformed field found in one pass.
type ValidationError struct {
	Missing []string     `json:"missingFields,omitempty"`
	Invalid []FieldError `json:"invalidFields,omitempty"`
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	for _, fe := range e.Invalid {
		parts = append(parts, fe.Field+" "+fe.Message)
	}
	if len(parts) == 0 {
		return ErrValidation.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) AddMissing(field string) {
	e.Missing = append(e.Missing, field)
}

func (e *ValidationError) AddInvalid(field, message string) {
	e.Invalid = append(e.Invalid, FieldError{Field: field, Message: message})
}

// Err returns nil when nothing was recorded.
func (e *ValidationError) Err() error {
	if e == nil || (len(e.Missing) == 0 && len(e.Invalid) == 0) {
		return nil
	}
	return e
}

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid application status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// EnsureTransition permits only the two decisions out of pending.
func EnsureTransition(from, to Status) error {
	switch from {
	case StatusPending:
		if to == StatusApproved || to == StatusRejected {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}
