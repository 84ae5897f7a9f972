package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Sentinel errors for the job error taxonomy. Wrap them with eris so
// errors.Is keeps working across layers.
var (
	ErrInvalidIdentifier   = eris.New("invalid identifier")
	ErrIdentityNotFound    = eris.New("identity not found")
	ErrProviderUnavailable = eris.New("provider unavailable")
	ErrPersistenceFailure  = eris.New("persistence failure")
	ErrInternal            = eris.New("internal error")
)

// ErrorKind names an entry in the error taxonomy.
type ErrorKind string

const (
	ErrorKindInvalidIdentifier   ErrorKind = "InvalidIdentifier"
	ErrorKindIdentityNotFound    ErrorKind = "IdentityNotFound"
	ErrorKindProviderUnavailable ErrorKind = "ProviderUnavailable"
	ErrorKindPersistenceFailure  ErrorKind = "PersistenceFailure"
	ErrorKindInternal            ErrorKind = "InternalError"
)

// Fatal reports whether the kind flips a job to failed.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrorKindInvalidIdentifier, ErrorKindIdentityNotFound, ErrorKindInternal:
		return true
	default:
		return false
	}
}

// JobError is one entry in a JobOutcome's error list.
type JobError struct {
	Kind     ErrorKind `json:"kind"`
	Provider string    `json:"provider,omitempty"`
	Message  string    `json:"message"`
	Fatal    bool      `json:"fatal"`
}

// Error implements error.
func (e JobError) Error() string {
	if e.Provider != "" {
		return string(e.Kind) + ": " + e.Provider + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

// KindOf maps an error onto the taxonomy. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidIdentifier):
		return ErrorKindInvalidIdentifier
	case errors.Is(err, ErrIdentityNotFound):
		return ErrorKindIdentityNotFound
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorKindProviderUnavailable
	case errors.Is(err, ErrPersistenceFailure):
		return ErrorKindPersistenceFailure
	default:
		return ErrorKindInternal
	}
}

// NewJobError classifies err and builds the outcome entry.
func NewJobError(provider string, err error) JobError {
	kind := KindOf(err)
	return JobError{
		Kind:     kind,
		Provider: provider,
		Message:  err.Error(),
		Fatal:    kind.Fatal(),
	}
}
