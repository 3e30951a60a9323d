package engine

import (
	"errors"
	"fmt"

	"github.com/framegraph/framegraph/pkg/history"
	"github.com/framegraph/framegraph/pkg/script"
)

// ErrorClass groups engine errors by how a caller should react to them.
type ErrorClass string

const (
	// ErrorClassValidation means the request itself is malformed: a bad id,
	// an unknown node type, an expression that does not parse.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassNotFound means a node, property or history entry is missing.
	ErrorClassNotFound ErrorClass = "not-found"

	// ErrorClassConflict means the request clashes with current state, such
	// as a rename onto an existing id or a link that would close a cycle.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassScript means a user script failed. Nothing was committed.
	ErrorClassScript ErrorClass = "script"

	// ErrorClassInternal covers everything else.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError is a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	Class ErrorClass `json:"class"`

	Message string `json:"message"`

	// Code is a stable identifier for programmatic handling.
	Code string `json:"code,omitempty"`

	// Target is the node id or "node:key" the error concerns.
	Target string `json:"target,omitempty"`

	// Operation is the engine call that failed.
	Operation string `json:"operation,omitempty"`

	Err error `json:"-"`

	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Target != "" && e.Operation != "":
		msg += fmt.Sprintf(" (target=%s, operation=%s)", e.Target, e.Operation)
	case e.Target != "":
		msg += fmt.Sprintf(" (target=%s)", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{Class: class, Code: code, Message: message, Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *EngineError {
	return newError(ErrorClassValidation, ErrCodeValidation, message, err)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *EngineError {
	return newError(ErrorClassNotFound, ErrCodeNotFound, message, err)
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, ErrCodeConflict, message, err)
}

// NewScriptError creates a script error.
func NewScriptError(message string, err error) *EngineError {
	return newError(ErrorClassScript, ErrCodeScriptFailed, message, err)
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *EngineError {
	return newError(ErrorClassInternal, ErrCodeInternal, message, err)
}

// WithTarget records the node or property the error concerns.
func (e *EngineError) WithTarget(target string) *EngineError {
	e.Target = target
	return e
}

// WithOperation records the failing engine call.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode replaces the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, classifying errors from the lower layers
// that are not EngineErrors yet.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	var se *script.Error
	switch {
	case errors.As(err, &se):
		return ErrorClassScript
	case errors.Is(err, history.ErrOutOfRange):
		return ErrorClassNotFound
	case errors.Is(err, history.ErrNilCommand):
		return ErrorClassValidation
	}
	return ErrorClassInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return err != nil && ClassOf(err) == ErrorClassValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return err != nil && ClassOf(err) == ErrorClassNotFound }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return err != nil && ClassOf(err) == ErrorClassConflict }

// IsScript reports whether err came from a failed script.
func IsScript(err error) bool { return err != nil && ClassOf(err) == ErrorClassScript }

// Error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeSyntax        = "SYNTAX_ERROR"
	ErrCodeMalformedRef  = "MALFORMED_REF"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeCycle         = "CYCLE"
	ErrCodeScriptFailed  = "SCRIPT_FAILED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)
