package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages(), "; ")
}

// Messages returns one "field: message" string per violated rule.
func (e *ValidationError) Messages() []string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return parts
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Has reports whether field is among the violated fields.
func (e *ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// ValidateEvent checks a normalized Event for constraint violations.
// It returns a *ValidationError listing every failed rule, or nil.
func ValidateEvent(e *Event) error {
	var ve ValidationError

	if e.ParticipantID == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "participantId", Message: "is required"})
	}
	if e.SessionID == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "sessionId", Message: "is required"})
	}

	// EventType: required, then closed set.
	switch {
	case e.EventType == "":
		ve.Errors = append(ve.Errors, FieldError{Field: "eventType", Message: "is required"})
	case !e.EventType.IsValid():
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "eventType",
			Message: fmt.Sprintf("invalid value %q", e.EventType),
		})
	}

	if !e.EventCategory.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "eventCategory",
			Message: fmt.Sprintf("invalid value %q", e.EventCategory),
		})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
