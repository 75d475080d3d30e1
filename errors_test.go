// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"fmt"
	"testing"

	perrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"

	"github.com/suprsokr/go-storm/mpq"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		code mpq.Errno
		op   Op
		want ErrorKind
	}{
		{mpq.ErrFileNotFound, OpOpenFile, KindNotFound},
		{mpq.ErrMarkedForDelete, OpOpenFile, KindNotFound},
		{mpq.ErrInvalidHandle, OpRead, KindInvalidHandle},
		{mpq.ErrInvalidParameter, OpSeek, KindInvalidArgument},
		{mpq.ErrNotSupported, OpOpenFile, KindInvalidArgument},
		{mpq.ErrAccessDenied, OpCompact, KindAccessDenied},
		{mpq.ErrBusy, OpCompact, KindAccessDenied},
		{mpq.ErrFileCorrupt, OpRead, KindCorrupt},
		{mpq.ErrBadFormat, OpOpenArchive, KindCorrupt},
		{mpq.ErrChecksum, OpRead, KindCorrupt},
		{mpq.ErrHandleEOF, OpRead, KindEndOfStream},
		{mpq.ErrNoMoreFiles, OpFindNext, KindExhausted},
		{mpq.ErrUnknownFileKey, OpOpenFile, KindUnknown},
		{mpq.ErrDiskFull, OpOpenFile, KindUnknown},
		{mpq.Errno(424242), OpOpenFile, KindUnknown},

		// Flush failures leave the archive suspect
		{mpq.ErrDiskFull, OpFlush, KindCorrupt},
		{mpq.ErrAccessDenied, OpFlush, KindCorrupt},
		{mpq.ErrInvalidHandle, OpFlush, KindInvalidHandle},

		{mpq.ErrFileNotFound, OpCompact, KindUnknown},

		// Convenience operations only report misuse precisely
		{mpq.ErrFileNotFound, OpExtract, KindUnknown},
		{mpq.ErrFileCorrupt, OpExtract, KindUnknown},
		{mpq.ErrInvalidParameter, OpExtract, KindInvalidArgument},
		{mpq.ErrInvalidHandle, OpFileName, KindInvalidHandle},
		{mpq.ErrInsufficientBuffer, OpFileName, KindUnknown},
		{mpq.ErrFileNotFound, OpAddListFile, KindUnknown},
		{mpq.ErrCanNotComplete, OpFileSize, KindUnknown},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s/%d", tc.op, uint32(tc.code)), func(t *testing.T) {
			assert.Equal(t, tc.want, Translate(tc.code, tc.op))
		})
	}
}

func TestErrorMatching(t *testing.T) {
	cause := fmt.Errorf("Data\\a.txt: %w", mpq.ErrFileNotFound)
	err := newError(OpOpenFile, "Data\\a.txt", cause)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, mpq.ErrFileNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	var se *Error
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, OpOpenFile, se.Op)
	assert.Equal(t, mpq.ErrFileNotFound, se.Native)
	assert.Contains(t, err.Error(), "open file Data\\a.txt: not found")

	// Translated errors pass through unchanged
	assert.Same(t, err, newError(OpExtract, "x", err))
	assert.NoError(t, newError(OpRead, "x", nil))
}

func TestErrorPlatformContract(t *testing.T) {
	busy := codeError(OpCompact, "base.mpq", mpq.ErrBusy)
	assert.ErrorIs(t, busy, ErrAccessDenied)
	assert.Equal(t, perrors.CodeConflict, perrors.GetCode(busy))
	assert.True(t, perrors.IsRetryable(busy))

	denied := codeError(OpCompact, "base.mpq", mpq.ErrAccessDenied)
	assert.Equal(t, perrors.CodeForbidden, perrors.GetCode(denied))
	assert.False(t, perrors.IsRetryable(denied))

	missing := codeError(OpOpenFile, "a.txt", mpq.ErrFileNotFound)
	assert.Equal(t, perrors.CodeNotFound, perrors.GetCode(missing))

	unknown := codeError(OpOpenFile, "a.txt", mpq.ErrDiskFull)
	assert.Equal(t, perrors.CodeUnknown, perrors.GetCode(unknown))
	assert.Contains(t, unknown.Error(), "code 28")

	var pe perrors.PlatformError
	assert.True(t, errors.As(missing, &pe))
	ctx := pe.Context()
	assert.Equal(t, "open file", ctx["op"])
	assert.Equal(t, "a.txt", ctx["ident"])
	assert.Equal(t, uint32(mpq.ErrFileNotFound), ctx["native_code"])
	assert.Equal(t, "open file a.txt: not found", pe.Message())
}
