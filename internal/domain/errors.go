package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for the failures a chat session can surface.
var (
	ErrWriteFailed     = errors.New("message write failed")
	ErrUploadFailed    = errors.New("attachment upload failed")
	ErrNotFound        = errors.New("requested resource not found")
	ErrInvalidDraft    = errors.New("draft must carry text or an attachment")
	ErrNotSignedIn     = errors.New("no signed-in user")
	ErrSessionStarted  = errors.New("session already started")
	ErrSessionNotLive  = errors.New("session has no live message log")
	ErrUnknownReaction = errors.New("reaction is not in the palette")
)

// OpError ties a failure to the operation that produced it. Kind is one of
// the sentinels above; Err is the underlying cause and may be nil.
//
//	var opErr *OpError
//	if errors.As(err, &opErr) && errors.Is(err, ErrNotFound) { ... }
type OpError struct {
	Op   string
	Kind error
	Err  error
}

// NewOpError creates an OpError for the given operation.
func NewOpError(op string, kind, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: err}
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
