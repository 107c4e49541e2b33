// Package errors provides error wrapping utilities and the classified error
// kinds surfaced to the user by the workflow controller.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Kind classifies a workflow failure.
type Kind string

const (
	KindDetection    Kind = "DetectionError"
	KindSelection    Kind = "InvalidSelection"
	KindInstallation Kind = "InstallationError"
	KindMount        Kind = "MountError"
	KindCopy         Kind = "CopyError"
	KindVerification Kind = "VerificationError"
	KindCancellation Kind = "CancellationError"
)

// Error is a classified failure. Output carries whatever an external tool
// printed so the UI can show it next to the message.
type Error struct {
	Kind        Kind
	Msg         string
	Output      string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a recoverable classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Recoverable: true}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Classify attaches a kind to err. An err that already carries a kind keeps it.
func Classify(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return &Error{Kind: kind, Msg: msg, Recoverable: true, Err: err}
}

// WithOutput returns e with captured tool output attached.
func (e *Error) WithOutput(out string) *Error {
	e.Output = out
	return e
}

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Is and As forward to the standard library so callers only import one
// errors package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
