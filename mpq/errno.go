// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"
)

// Errno is a native failure code reported by the archive engine.
// Values follow StormLib's portable (non-Windows) numbering.
type Errno uint32

const (
	ErrAccessDenied       Errno = 1  // EPERM
	ErrFileNotFound       Errno = 2  // ENOENT
	ErrInvalidHandle      Errno = 9  // EBADF
	ErrNotEnoughMemory    Errno = 12 // ENOMEM
	ErrBusy               Errno = 16 // EBUSY
	ErrAlreadyExists      Errno = 17 // EEXIST
	ErrInvalidParameter   Errno = 22 // EINVAL
	ErrDiskFull           Errno = 28 // ENOSPC
	ErrNotSupported       Errno = 95 // ENOTSUP
	ErrInsufficientBuffer Errno = 105

	ErrBadFormat      Errno = 1000
	ErrNoMoreFiles    Errno = 1001
	ErrHandleEOF      Errno = 1002
	ErrCanNotComplete Errno = 1003
	ErrFileCorrupt    Errno = 1004

	ErrUnknownFileKey   Errno = 10001
	ErrChecksum         Errno = 10002
	ErrMarkedForDelete  Errno = 10005
	ErrUnknownFileNames Errno = 10007
)

var errnoText = map[Errno]string{
	ErrAccessDenied:       "access denied",
	ErrFileNotFound:       "file not found",
	ErrInvalidHandle:      "invalid handle",
	ErrNotEnoughMemory:    "not enough memory",
	ErrBusy:               "archive is busy",
	ErrAlreadyExists:      "already exists",
	ErrInvalidParameter:   "invalid parameter",
	ErrDiskFull:           "disk full",
	ErrNotSupported:       "not supported",
	ErrInsufficientBuffer: "insufficient buffer",
	ErrBadFormat:          "bad archive format",
	ErrNoMoreFiles:        "no more files",
	ErrHandleEOF:          "end of file",
	ErrCanNotComplete:     "operation can not complete",
	ErrFileCorrupt:        "file is corrupt",
	ErrUnknownFileKey:     "unknown file key",
	ErrChecksum:           "checksum mismatch",
	ErrMarkedForDelete:    "file marked for deletion",
	ErrUnknownFileNames:   "archive contains unnamed files",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return fmt.Sprintf("mpq error %d", uint32(e))
}

// Code returns the native code carried by err, or 0 when err is nil.
// Errors that did not originate in the engine report ErrCanNotComplete.
func Code(err error) Errno {
	if err == nil {
		return 0
	}
	var code Errno
	if errors.As(err, &code) {
		return code
	}
	return errnoFor(err)
}

// ioError attaches a native code to an error coming from the os or io packages.
func ioError(err error) error {
	if err == nil {
		return nil
	}
	var code Errno
	if errors.As(err, &code) {
		return err
	}
	return fmt.Errorf("%w: %w", errnoFor(err), err)
}

func errnoFor(err error) Errno {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrAccessDenied
	case errors.Is(err, fs.ErrClosed):
		return ErrInvalidHandle
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrFileCorrupt
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	default:
		return ErrCanNotComplete
	}
}
