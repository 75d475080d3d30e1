// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"fmt"

	perrors "github.com/jmgilman/go/errors"

	"github.com/suprsokr/go-storm/mpq"
)

// ErrorKind is the caller-facing category of a failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindInvalidHandle
	KindInvalidArgument
	KindAccessDenied
	KindCorrupt
	KindEndOfStream
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidHandle:
		return "invalid handle"
	case KindInvalidArgument:
		return "invalid argument"
	case KindAccessDenied:
		return "access denied"
	case KindCorrupt:
		return "corrupt"
	case KindEndOfStream:
		return "end of stream"
	case KindExhausted:
		return "no more files"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrUnknown         = &Error{Kind: KindUnknown}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidHandle   = &Error{Kind: KindInvalidHandle}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrAccessDenied    = &Error{Kind: KindAccessDenied}
	ErrCorrupt         = &Error{Kind: KindCorrupt}
	ErrEndOfStream     = &Error{Kind: KindEndOfStream}

	// ErrExhausted ends a directory search. It is a terminal signal, not a failure.
	ErrExhausted = &Error{Kind: KindExhausted}
)

// Error is the structured failure returned by every Storm operation.
type Error struct {
	Kind   ErrorKind
	Op     Op
	Ident  string    // path, member name or handle the operation was given
	Native mpq.Errno // engine code, kept for diagnostics
	Err    error
}

var _ perrors.PlatformError = (*Error)(nil)

func (e *Error) Error() string {
	msg := e.Message()
	if e.Kind == KindUnknown && e.Native != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, uint32(e.Native))
	}
	if e.Err != nil {
		return fmt.Sprintf("storm: %s: %v", msg, e.Err)
	}
	return "storm: " + msg
}

// Message returns the error text without the cause.
func (e *Error) Message() string {
	switch {
	case e.Op == "":
		return e.Kind.String()
	case e.Ident == "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s %s: %s", e.Op, e.Ident, e.Kind)
	}
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Ident == "" && t.Err == nil
}

func (e *Error) Unwrap() error { return e.Err }

// Code maps the kind onto the platform error codes.
func (e *Error) Code() perrors.ErrorCode {
	switch e.Kind {
	case KindNotFound, KindExhausted:
		return perrors.CodeNotFound
	case KindInvalidHandle, KindInvalidArgument:
		return perrors.CodeInvalidInput
	case KindAccessDenied:
		if e.Native == mpq.ErrBusy {
			return perrors.CodeConflict
		}
		return perrors.CodeForbidden
	case KindCorrupt:
		return perrors.CodeInternal
	case KindEndOfStream:
		return perrors.CodeNotFound
	default:
		return perrors.CodeUnknown
	}
}

// Classification reports archives busy with open files as retryable; every
// other failure is permanent.
func (e *Error) Classification() perrors.ErrorClassification {
	if e.Native == mpq.ErrBusy {
		return perrors.ClassificationRetryable
	}
	return perrors.ClassificationPermanent
}

// Context returns the operation details as a map.
func (e *Error) Context() map[string]interface{} {
	ctx := map[string]interface{}{"kind": e.Kind.String()}
	if e.Op != "" {
		ctx["op"] = string(e.Op)
	}
	if e.Ident != "" {
		ctx["ident"] = e.Ident
	}
	if e.Native != 0 {
		ctx["native_code"] = uint32(e.Native)
	}
	return ctx
}

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// newError translates an engine failure for op. Errors that were already
// translated are returned unchanged.
func newError(op Op, ident string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	code := mpq.Code(err)
	return &Error{
		Kind:   Translate(code, op),
		Op:     op,
		Ident:  ident,
		Native: code,
		Err:    err,
	}
}

// codeError builds an error from a bare engine code.
func codeError(op Op, ident string, code mpq.Errno) error {
	return &Error{Kind: Translate(code, op), Op: op, Ident: ident, Native: code}
}
