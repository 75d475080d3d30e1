// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import "github.com/suprsokr/go-storm/mpq"

// Op names the operation a failure happened in.
type Op string

const (
	OpOpenArchive   Op = "open archive"
	OpCloseArchive  Op = "close archive"
	OpAttachPatch   Op = "attach patch"
	OpIsPatched     Op = "is patched"
	OpAddListFile   Op = "add listfile"
	OpFlush         Op = "flush"
	OpCompact       Op = "compact"
	OpHasFile       Op = "has file"
	OpArchiveInfo   Op = "archive info"
	OpOpenFile      Op = "open file"
	OpFileSize      Op = "file size"
	OpSeek          Op = "seek"
	OpRead          Op = "read"
	OpFileName      Op = "file name"
	OpFileInfo      Op = "file info"
	OpCloseFile     Op = "close file"
	OpExtract       Op = "extract"
	OpFindFirst     Op = "find first"
	OpListFindFirst Op = "listfile find first"
	OpFindNext      Op = "find next"
	OpFindClose     Op = "find close"
)

var baseKinds = map[mpq.Errno]ErrorKind{
	mpq.ErrFileNotFound:     KindNotFound,
	mpq.ErrMarkedForDelete:  KindNotFound,
	mpq.ErrInvalidHandle:    KindInvalidHandle,
	mpq.ErrInvalidParameter: KindInvalidArgument,
	mpq.ErrNotSupported:     KindInvalidArgument,
	mpq.ErrAccessDenied:     KindAccessDenied,
	mpq.ErrBusy:             KindAccessDenied,
	mpq.ErrFileCorrupt:      KindCorrupt,
	mpq.ErrBadFormat:        KindCorrupt,
	mpq.ErrChecksum:         KindCorrupt,
	mpq.ErrHandleEOF:        KindEndOfStream,
	mpq.ErrNoMoreFiles:      KindExhausted,
}

// Translate maps an engine code to an ErrorKind. Some operations narrow the
// result: a failed flush leaves the archive suspect, and the convenience
// operations report anything but misuse as Unknown.
func Translate(code mpq.Errno, op Op) ErrorKind {
	kind, ok := baseKinds[code]
	if !ok {
		kind = KindUnknown
	}

	switch op {
	case OpFlush:
		if kind != KindInvalidHandle {
			return KindCorrupt
		}
	case OpCompact:
		if kind == KindNotFound {
			return KindUnknown
		}
	case OpExtract, OpAddListFile, OpFileName, OpFileSize:
		if kind != KindInvalidHandle && kind != KindInvalidArgument {
			return KindUnknown
		}
	}
	return kind
}
