package thenvoi

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Link and Runtime operations.
var (
	ErrNotConnected   = errors.New("thenvoi: not connected")
	ErrAlreadyRunning = errors.New("thenvoi: runtime already running")
	ErrRuntimeStopped = errors.New("thenvoi: runtime stopped")
)

// ErrorKind classifies a PlatformError at the facade boundary.
type ErrorKind int

const (
	// KindValidation marks errors detected before any network call
	// (missing required field, invalid enum value).
	KindValidation ErrorKind = iota
	// KindTransport marks network-level failures talking to the platform.
	KindTransport
	// KindAuth marks authorization failures (invalid API key, unknown agent).
	KindAuth
	// KindConfig marks unrecoverable configuration errors. These abort startup.
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindConfig:
		return "config"
	}
	return "unknown"
}

// PlatformError carries the operation that failed and its kind so callers
// can branch with errors.As without string matching.
type PlatformError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("thenvoi: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

func validationError(op, format string, args ...any) error {
	return &PlatformError{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func transportError(op string, err error) error {
	return &PlatformError{Kind: KindTransport, Op: op, Err: err}
}

func authError(op string, err error) error {
	return &PlatformError{Kind: KindAuth, Op: op, Err: err}
}

func configError(op, format string, args ...any) error {
	return &PlatformError{Kind: KindConfig, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsValidation reports whether err is a PlatformError of kind KindValidation.
func IsValidation(err error) bool { return errorIsKind(err, KindValidation) }

// IsTransport reports whether err is a PlatformError of kind KindTransport.
func IsTransport(err error) bool { return errorIsKind(err, KindTransport) }

// IsAuth reports whether err is a PlatformError of kind KindAuth.
func IsAuth(err error) bool { return errorIsKind(err, KindAuth) }

func errorIsKind(err error, kind ErrorKind) bool {
	var pe *PlatformError
	return errors.As(err, &pe) && pe.Kind == kind
}
