package app

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/dokzlo13/huestatus/internal/auth"
	"github.com/dokzlo13/huestatus/internal/discovery"
	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/scene"
)

var (
	// ErrNotConfigured means no bridge state has been saved yet.
	ErrNotConfigured = errors.New("huestatus is not configured")
	// ErrAlreadyConfigured means setup would overwrite a saved bridge.
	ErrAlreadyConfigured = errors.New("huestatus is already configured")
	// ErrStorage wraps failures of the local state database.
	ErrStorage = errors.New("state storage failed")
	// ErrUnknownPattern means the requested status has no pattern.
	ErrUnknownPattern = errors.New("unknown status pattern")
	// ErrBridgeMismatch means another bridge answers at the saved address.
	ErrBridgeMismatch = errors.New("bridge at the saved address has changed")
)

const (
	hintSetup   = "run 'huestatus setup' to configure the bridge"
	hintResetup = "run 'huestatus setup --force' to pair and recreate the scenes"
	hintNetwork = "check that the bridge is powered on and reachable, or pass --bridge"
	hintButton  = "press the round link button on the bridge and run setup again"
	hintLights  = "make sure at least one reachable colour light is assigned to the bridge"
)

// SetupError is returned when setup cannot complete.
type SetupError struct {
	Step string
	Err  error
	Hint string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed during %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// StatusError is returned when a status pattern cannot be shown.
type StatusError struct {
	Pattern string
	Err     error
	Hint    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to show %s: %v", e.Pattern, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// DoctorError reports the first failed doctor check.
type DoctorError struct {
	Check string
	Err   error
	Hint  string
}

func (e *DoctorError) Error() string {
	return fmt.Sprintf("doctor check %q failed: %v", e.Check, e.Err)
}

func (e *DoctorError) Unwrap() error { return e.Err }

// Hint returns the remediation hint attached to err, if any.
func Hint(err error) string {
	var setupErr *SetupError
	if errors.As(err, &setupErr) && setupErr.Hint != "" {
		return setupErr.Hint
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Hint != "" {
		return statusErr.Hint
	}
	var doctorErr *DoctorError
	if errors.As(err, &doctorErr) && doctorErr.Hint != "" {
		return doctorErr.Hint
	}
	return ""
}

// Category groups errors by the exit code the CLI reports.
type Category int

const (
	CategoryNone Category = iota
	CategoryConfig
	CategoryNetwork
	CategoryAuth
	CategoryScene
	CategoryIO
	CategoryOther
)

// ExitCode returns the process exit code for the category.
func (c Category) ExitCode() int {
	return int(c)
}

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryConfig:
		return "config"
	case CategoryNetwork:
		return "network"
	case CategoryAuth:
		return "auth"
	case CategoryScene:
		return "scene"
	case CategoryIO:
		return "io"
	default:
		return "other"
	}
}

// Classify maps err to its category. Order matters: the most specific
// sentinels are checked before the generic transport and bridge errors.
func Classify(err error) Category {
	var pathErr *fs.PathError
	var apiErr *hue.APIError

	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrAlreadyConfigured),
		errors.Is(err, ErrBridgeMismatch), errors.Is(err, hue.ErrInvalidAddress):
		return CategoryConfig
	case errors.Is(err, hue.ErrUnauthorized), errors.Is(err, auth.ErrTimedOut), errors.Is(err, auth.ErrRejected):
		return CategoryAuth
	case errors.Is(err, scene.ErrSceneNotFound), errors.Is(err, hue.ErrCapacityExceeded),
		errors.Is(err, hue.ErrValidationRejected), errors.Is(err, scene.ErrInvalidColorState):
		return CategoryScene
	case errors.Is(err, ErrStorage), errors.As(err, &pathErr):
		return CategoryIO
	case errors.Is(err, discovery.ErrAllMethodsFailed), hue.IsTransport(err), errors.As(err, &apiErr):
		return CategoryNetwork
	default:
		return CategoryOther
	}
}
