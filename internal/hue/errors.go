package hue

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Bridge error types from the v1 API error envelope.
const (
	ErrorTypeUnauthorized           = 1
	ErrorTypeInvalidJSON            = 2
	ErrorTypeResourceNotAvailable   = 3
	ErrorTypeMethodNotAvailable     = 4
	ErrorTypeMissingParameter       = 5
	ErrorTypeParameterNotAvailable  = 6
	ErrorTypeInvalidValue           = 7
	ErrorTypeParameterNotModifiable = 8
	ErrorTypeTooManyItems           = 11
	ErrorTypePortalRequired         = 12
	ErrorTypeLinkButtonNotPressed   = 101
	ErrorTypeSceneBufferFull        = 402
)

// MaxDiagnosticLength bounds strings taken from bridge output before they are
// logged or embedded in errors.
const MaxDiagnosticLength = 256

var (
	ErrUnauthorized          = errors.New("credential rejected by bridge")
	ErrLinkButtonNotPressed  = errors.New("link button not pressed")
	ErrResourceNotAvailable  = errors.New("resource not available")
	ErrValidationRejected    = errors.New("request rejected by bridge")
	ErrCapacityExceeded      = errors.New("bridge capacity exceeded")
	ErrUnexpectedResponse    = errors.New("unexpected response from bridge")
	ErrInvalidAddress        = errors.New("invalid bridge address")
	ErrNotABridge            = errors.New("peer is not a hue bridge")
	errEmptySuccessEnvelope  = errors.New("empty success envelope")
	errMissingEnvelopeResult = errors.New("envelope has neither success nor error")
)

// APIError is an application-level error reported inside a bridge response
// envelope. It matches the package sentinels through errors.Is.
type APIError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge error %d at %s: %s",
		e.Type, Truncate(e.Address, MaxDiagnosticLength), Truncate(e.Description, MaxDiagnosticLength))
}

// Is maps bridge error types onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Type == ErrorTypeUnauthorized
	case ErrLinkButtonNotPressed:
		return e.Type == ErrorTypeLinkButtonNotPressed
	case ErrResourceNotAvailable:
		return e.Type == ErrorTypeResourceNotAvailable
	case ErrValidationRejected:
		switch e.Type {
		case ErrorTypeInvalidJSON, ErrorTypeMissingParameter, ErrorTypeParameterNotAvailable,
			ErrorTypeInvalidValue, ErrorTypeParameterNotModifiable:
			return true
		}
	case ErrCapacityExceeded:
		return e.Type == ErrorTypeTooManyItems || e.Type == ErrorTypeSceneBufferFull
	}
	return false
}

// TransportErrorKind classifies failures below the protocol envelope.
type TransportErrorKind int

const (
	// Unreachable means no response was received: no route, refused, reset.
	Unreachable TransportErrorKind = iota
	// Timeout means the per-attempt deadline expired before a response.
	Timeout
	// Malformed means a response arrived but is not a protocol envelope.
	Malformed
)

// String returns a human-readable name for the kind.
func (k TransportErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Timeout:
		return "timeout"
	case Malformed:
		return "malformed response"
	default:
		return "unknown"
	}
}

// TransportError reports a failed exchange with the bridge.
type TransportError struct {
	Kind   TransportErrorKind
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Method, Truncate(e.URL, MaxDiagnosticLength), e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Responded reports whether the peer sent a response before failing.
func (e *TransportError) Responded() bool {
	return e.Kind == Malformed
}

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

// Truncate shortens s to at most n bytes without splitting a rune and marks
// the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
