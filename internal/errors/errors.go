package errors

import "fmt"

type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Message string
	Details []ValidationDetail
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string, details ...ValidationDetail) *ValidationError {
	return &ValidationError{
		Message: message,
		Details: details,
	}
}

func IsValidationError(err error) (*ValidationError, bool) {
	if ve, ok := err.(*ValidationError); ok {
		return ve, true
	}
	return nil, false
}

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{Message: message}
}

func IsNotFoundError(err error) (*NotFoundError, bool) {
	if nf, ok := err.(*NotFoundError); ok {
		return nf, true
	}
	return nil, false
}

// ConflictError marks a request that is illegal in the order's current state,
// such as a transition the table does not allow or a move out of a terminal
// status.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

func IsConflictError(err error) (*ConflictError, bool) {
	if ce, ok := err.(*ConflictError); ok {
		return ce, true
	}
	return nil, false
}

type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func NewForbiddenError(message string) *ForbiddenError {
	return &ForbiddenError{Message: message}
}

func IsForbiddenError(err error) (*ForbiddenError, bool) {
	if fe, ok := err.(*ForbiddenError); ok {
		return fe, true
	}
	return nil, false
}

// UnavailableError marks a transient connectivity failure. It is never a
// domain failure: where deferral is permitted the operation lands in the
// offline queue instead of surfacing this error.
type UnavailableError struct {
	Message string
	Cause   error
}

func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

func NewUnavailableError(message string, cause error) *UnavailableError {
	return &UnavailableError{Message: message, Cause: cause}
}

func IsUnavailableError(err error) (*UnavailableError, bool) {
	if ue, ok := err.(*UnavailableError); ok {
		return ue, true
	}
	return nil, false
}

// RequiresConnectivityError marks a deny-listed operation attempted while
// offline. These are never queued blind; the caller must retry when online.
type RequiresConnectivityError struct {
	Operation string
}

func (e *RequiresConnectivityError) Error() string {
	return fmt.Sprintf("%s requires connectivity and cannot be deferred", e.Operation)
}

func NewRequiresConnectivityError(operation string) *RequiresConnectivityError {
	return &RequiresConnectivityError{Operation: operation}
}

func IsRequiresConnectivityError(err error) (*RequiresConnectivityError, bool) {
	if rc, ok := err.(*RequiresConnectivityError); ok {
		return rc, true
	}
	return nil, false
}

type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

func NewInternalError(message string, cause error) *InternalError {
	return &InternalError{Message: message, Cause: cause}
}

func IsInternalError(err error) (*InternalError, bool) {
	if ie, ok := err.(*InternalError); ok {
		return ie, true
	}
	return nil, false
}
