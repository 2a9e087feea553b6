package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeGraphInvalid      = "GRAPH_INVALID"
	ErrCodeInvalidCondition  = "INVALID_CONDITION"
	ErrCodeMutationFailed    = "MUTATION_FAILED"
	ErrCodeNodeValidation    = "NODE_VALIDATION"
	ErrCodeHandler           = "HANDLER_ERROR"
	ErrCodeInputMissing      = "INPUT_MISSING"
	ErrCodeLimitExceeded     = "LIMIT_EXCEEDED"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeComparator        = "COMPARATOR_ERROR"
	ErrCodeStore             = "STORE_ERROR"
)

// FlowError is the structured error type for all flowlab operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// IsInputMissing reports whether the error signals an exhausted Input source.
// InputMissing is a HandlerError subtype, so it is also matched by IsHandlerError.
func (e *FlowError) IsInputMissing() bool {
	return e.Code == ErrCodeInputMissing
}

// IsHandlerError reports whether the error was raised by a node handler.
func (e *FlowError) IsHandlerError() bool {
	return e.Code == ErrCodeHandler || e.Code == ErrCodeInputMissing
}

// CodeOf returns the code of the first FlowError in err's chain, or "".
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries a FlowError with the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// AsFlowError converts any error into a FlowError, wrapping foreign errors
// under the given fallback code.
func AsFlowError(err error, fallback string) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return NewError(fallback, err.Error()).WithCause(err)
}
