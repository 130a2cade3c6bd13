package council

import "fmt"

// ErrorKind is the closed set of error classifications of §4.1/§7.
type ErrorKind string

const (
	ErrNone                  ErrorKind = ""
	ErrModelTimeout          ErrorKind = "ModelTimeout"
	ErrRateLimited           ErrorKind = "RateLimited"
	ErrUpstream4xx           ErrorKind = "Upstream4xx"
	ErrUpstream5xx           ErrorKind = "Upstream5xx"
	ErrNetwork               ErrorKind = "Network"
	ErrMalformedResponse     ErrorKind = "MalformedResponse"
	ErrInsufficientResponders ErrorKind = "InsufficientResponders"
	ErrSynthesisFailed       ErrorKind = "SynthesisFailed"
	ErrTranscriptWriteError  ErrorKind = "TranscriptWriteError"
	ErrCancelled             ErrorKind = "Cancelled"
	ErrConfigInvalid         ErrorKind = "ConfigInvalid"
)

// UpstreamError is the error interface ModelCaller implementations return.
// The engine treats any non-timeout kind as recoverable at the stage level.
type UpstreamError struct {
	Kind  ErrorKind
	Model ModelId
	Err   error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: model %s: %v", e.Kind, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: model %s", e.Kind, e.Model)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// FatalError terminates a deliberation before or during a stage, per the
// fatal rows of §7's policy table.
type FatalError struct {
	Kind    ErrorKind
	Message string
}

func (e *FatalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// IsRecoverable reports whether an ErrorKind degrades gracefully at stage
// level (the model is simply dropped) rather than being fatal to the whole
// request.
func IsRecoverable(kind ErrorKind) bool {
	switch kind {
	case ErrModelTimeout, ErrRateLimited, ErrUpstream4xx, ErrUpstream5xx, ErrNetwork, ErrMalformedResponse:
		return true
	default:
		return false
	}
}
