package vm

import (
	"errors"
	"fmt"
)

// Kind is the stable classification of an orchestrator failure.
type Kind string

// Public kinds. The configuration kinds (UnknownInstanceType through
// ImageNotFound) also match KindInvalidLaunchConfiguration.
const (
	KindInvalidLaunchConfiguration Kind = "InvalidLaunchConfiguration"
	KindUnknownInstanceType        Kind = "UnknownInstanceType"
	KindProfileNotFound            Kind = "ProfileNotFound"
	KindInvalidAddress             Kind = "InvalidAddress"
	KindKeyNotFound                Kind = "KeyNotFound"
	KindImageNotFound              Kind = "ImageNotFound"
	KindLaunchError                Kind = "LaunchError"
	KindConfigurationError         Kind = "ConfigurationError"
	KindNotFound                   Kind = "NotFound"
	KindConflictingOperation       Kind = "ConflictingOperation"
	KindImagePrepError             Kind = "ImagePrepError"
	KindInternal                   Kind = "Internal"
)

// Cause kinds narrow a LaunchError or ConfigurationError.
const (
	CauseImageCopy           Kind = "ImageCopyError"
	CauseDiskResize          Kind = "DiskResizeError"
	CauseBootMediaValidation Kind = "BootMediaValidationError"
	CauseBootMediaCreation   Kind = "BootMediaCreationError"
	CauseDefine              Kind = "DefineError"
	CauseStart               Kind = "StartError"
)

// Sentinels for errors.Is. Every *Error unwraps to exactly one of these.
var (
	ErrInvalidLaunchConfiguration = errors.New("invalid launch configuration")
	ErrUnknownInstanceType        = errors.New("unknown instance type")
	ErrProfileNotFound            = errors.New("network profile not found")
	ErrInvalidAddress             = errors.New("invalid address")
	ErrKeyNotFound                = errors.New("key not found")
	ErrImageNotFound              = errors.New("image not found")
	ErrLaunch                     = errors.New("launch failed")
	ErrConfiguration              = errors.New("vm configuration error")
	ErrNotFound                   = errors.New("vm not found")
	ErrConflictingOperation       = errors.New("conflicting operation")
	ErrImagePrep                  = errors.New("image preparation failed")
	ErrInternal                   = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindInvalidLaunchConfiguration: ErrInvalidLaunchConfiguration,
	KindUnknownInstanceType:        ErrUnknownInstanceType,
	KindProfileNotFound:            ErrProfileNotFound,
	KindInvalidAddress:             ErrInvalidAddress,
	KindKeyNotFound:                ErrKeyNotFound,
	KindImageNotFound:              ErrImageNotFound,
	KindLaunchError:                ErrLaunch,
	KindConfigurationError:         ErrConfiguration,
	KindNotFound:                   ErrNotFound,
	KindConflictingOperation:       ErrConflictingOperation,
	KindImagePrepError:             ErrImagePrep,
	KindInternal:                   ErrInternal,
}

// Error is what every Manager operation returns on failure. Message is a
// readable reason; the underlying library or OS error is folded into it as
// text and is not reachable through Unwrap.
type Error struct {
	Kind    Kind
	Cause   Kind
	Op      string
	VMID    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	kind := string(e.Kind)
	if e.Cause != "" {
		kind += " (" + string(e.Cause) + ")"
	}
	if e.VMID != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Op, e.VMID, kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrInvalidLaunchConfiguration) match every
// configuration kind.
func (e *Error) Is(target error) bool {
	return target == ErrInvalidLaunchConfiguration && isConfigurationKind(e.Kind)
}

// IsKind reports whether err is an *Error of kind, or carries kind as its
// cause.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == kind || e.Cause == kind {
		return true
	}
	return kind == KindInvalidLaunchConfiguration && isConfigurationKind(e.Kind)
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func isConfigurationKind(k Kind) bool {
	switch k {
	case KindInvalidLaunchConfiguration, KindUnknownInstanceType, KindProfileNotFound,
		KindInvalidAddress, KindKeyNotFound, KindImageNotFound:
		return true
	}
	return false
}

func newError(op string, kind Kind, vmID string, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		VMID:    vmID,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinels[kind],
	}
}

func withCause(e *Error, cause Kind) *Error {
	e.Cause = cause
	return e
}
