// Package errors provides error wrapping utilities and the provisioning error
// taxonomy. Every fatal error raised by the pipeline is an *Error carrying a
// Kind, a sentinel Reason usable with errors.Is, the resource involved and an
// optional remediation hint for the operator.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Kind classifies a fatal error by the pipeline stage that raised it.
type Kind int

const (
	KindUnknown Kind = iota
	KindPrecondition
	KindResolution
	KindFetch
	KindWrite
	KindConfig
	KindTimeout
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindResolution:
		return "resolution"
	case KindFetch:
		return "fetch"
	case KindWrite:
		return "write"
	case KindConfig:
		return "config"
	case KindTimeout:
		return "timeout"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Reasons. Match them with errors.Is.
var (
	ErrNoDevice              = stderrors.New("no removable device found")
	ErrAmbiguousDevice       = stderrors.New("more than one removable device found")
	ErrInsufficientCapacity  = stderrors.New("device capacity below minimum")
	ErrInsufficientDiskSpace = stderrors.New("not enough free space in cache directory")
	ErrNetworkUnavailable    = stderrors.New("network unavailable")
	ErrNotRoot               = stderrors.New("root privileges required")
	ErrMissingTool           = stderrors.New("required tool missing")

	ErrCatalogIncomplete = stderrors.New("catalog incomplete")
	ErrNoMatch           = stderrors.New("no matching image")

	ErrDownloadFailed   = stderrors.New("download failed")
	ErrChecksumMismatch = stderrors.New("checksum mismatch")
	ErrDecompressFailed = stderrors.New("decompression failed")

	ErrDeviceWriteFailed = stderrors.New("device write failed")

	ErrMountFailed       = stderrors.New("mount failed")
	ErrUnmountFailed     = stderrors.New("unmount failed")
	ErrConfigWriteFailed = stderrors.New("configuration write failed")

	ErrBootTimeout = stderrors.New("host did not come online")

	ErrDeclined    = stderrors.New("declined by operator")
	ErrInterrupted = stderrors.New("interrupted by operator")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind     Kind
	Reason   error
	Resource string
	Hint     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	if e.Reason != nil {
		b.WriteString(e.Reason.Error())
	} else {
		b.WriteString("failed")
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, " (%s)", e.Resource)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the reason and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Reason != nil {
		errs = append(errs, e.Reason)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WithHint sets the remediation hint and returns e.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func newError(kind Kind, reason error, resource string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Resource: resource, Err: err}
}

// Precondition reports a missing or inadequate device, disk, network or privilege.
func Precondition(reason error, resource string, err error) *Error {
	return newError(KindPrecondition, reason, resource, err)
}

// Resolution reports a failed catalog lookup.
func Resolution(reason error, resource string, err error) *Error {
	return newError(KindResolution, reason, resource, err)
}

// Fetch reports a download, checksum or decompression failure.
func Fetch(reason error, resource string, err error) *Error {
	return newError(KindFetch, reason, resource, err)
}

// Write reports a failed device write. The device state is indeterminate.
func Write(reason error, resource string, err error) *Error {
	return newError(KindWrite, reason, resource, err)
}

// Config reports a mount or configuration file failure.
func Config(reason error, resource string, err error) *Error {
	return newError(KindConfig, reason, resource, err)
}

// Timeout reports an exceeded polling window.
func Timeout(reason error, resource string, err error) *Error {
	return newError(KindTimeout, reason, resource, err)
}

// Aborted reports an operator decision to stop (declined confirmation or interrupt).
func Aborted(reason error, resource string) *Error {
	return newError(KindAborted, reason, resource, nil)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HintOf returns the remediation hint of the first *Error in err's chain.
func HintOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// Exit codes for the command surface.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitInterrupt = 130
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case stderrors.Is(err, ErrInterrupted):
		return ExitInterrupt
	default:
		return ExitFailure
	}
}
