package response

import (
	"errors"
	"fmt"

	"github.com/ashiqtasdid/pegasus-interface-sub000/spec"
)

type Error struct {
	StatusCode int
	Message    string
	Messages   []string
	Result     interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) AddMessages(msgs ...string) *Error {
	e.Messages = append(e.Messages, msgs...)
	return e
}

func (e *Error) WithResult(result interface{}) *Error {
	e.Result = result
	return e
}

func makeError(status int) *Error {
	return &Error{
		StatusCode: status,
		Messages:   make([]string, 0),
		Result:     []string{},
	}
}

// -----------------------------------------------

func ErrUnexpected() *Error {
	return makeError(500).
		WithMessage("An unexpected error has occured")
}

func ErrBadRequest() *Error {
	return makeError(400).
		WithMessage("Bad request")
}

func ErrUnauthorized() *Error {
	return makeError(401).
		WithMessage("Unauthorized")
}

func ErrForbidden() *Error {
	return makeError(403).
		WithMessage("Forbidden")
}

func ErrNotFound() *Error {
	return makeError(404).
		WithMessage("Requested resources not found")
}

func ErrMethodNotAllowed() *Error {
	return makeError(405).
		WithMessage("Method not allowed")
}

func ErrConflict() *Error {
	return makeError(409).
		WithMessage("Conflict")
}

func ErrBadGateway() *Error {
	return makeError(502).
		WithMessage("Upstream runtime unavailable")
}

func ErrInvalidJson() *Error {
	return ErrBadRequest().AddMessages("Invalid JSON body")
}

// FromDomain translates the orchestration core's typed errors into HTTP
// error envelopes, so callers see exactly why an action was rejected rather
// than a generic failure.
func FromDomain(err error) *Error {
	switch {
	case errors.Is(err, spec.ErrNotFound):
		return ErrNotFound().AddMessages("Cannot find instance with specific ID")
	case errors.Is(err, spec.ErrAccessDenied):
		return ErrForbidden().AddMessages("You do not own this instance")
	case errors.Is(err, spec.ErrAlreadyExists):
		return ErrConflict().AddMessages("An instance with that name already exists")
	case errors.Is(err, spec.ErrConflictingState):
		return ErrConflict().AddMessages(err.Error())
	case errors.Is(err, spec.ErrRuntimeUnavailable):
		return ErrBadGateway().AddMessages(err.Error())
	case errors.Is(err, spec.ErrUseDedicatedEndpoint):
		return ErrBadRequest().AddMessages("Use the dedicated lifecycle endpoint for this action")
	default:
		return ErrUnexpected()
	}
}
