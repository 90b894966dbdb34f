package domain

import (
	"fmt"
	"strings"
)

// Error types for consistent error handling across the portal.

// ErrNotFound indicates a resource was not found (e.g. an unknown NIF).
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrIncompleteDeclaration is returned by the validation gate when one or more
// declaration forms have missing or invalid fields.
type ErrIncompleteDeclaration struct {
	Fields []FieldError
}

func (e *ErrIncompleteDeclaration) Error() string {
	paths := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		paths = append(paths, fmt.Sprintf("form %d: %s", f.Form+1, f.Path))
	}
	return fmt.Sprintf("declaration incomplete: %s", strings.Join(paths, ", "))
}

// ErrPaymentFieldsMissing indicates the selected payment method lacks
// some of its auxiliary fields.
type ErrPaymentFieldsMissing struct {
	Method PaymentMethod
	Fields []string
}

func (e *ErrPaymentFieldsMissing) Error() string {
	return fmt.Sprintf("payment method %s requires: %s", e.Method, strings.Join(e.Fields, ", "))
}

// ErrPlateNotFound indicates no historical declaration matches the plate.
type ErrPlateNotFound struct {
	Plate string
}

func (e *ErrPlateNotFound) Error() string {
	return fmt.Sprintf("no declaration found for plate %s", e.Plate)
}

// ErrInvalidTransition indicates an action not allowed at the session's current step.
type ErrInvalidTransition struct {
	Step   Step
	Action string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("action %q not allowed at step %d (%s)", e.Action, e.Step, e.Step)
}

// ErrSessionBusy indicates another request is already in flight for the session.
type ErrSessionBusy struct {
	SessionID string
}

func (e *ErrSessionBusy) Error() string {
	return fmt.Sprintf("session %s is processing another request", e.SessionID)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
