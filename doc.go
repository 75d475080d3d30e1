// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package storm is a handle-based access layer over MPQ archives.

A [Storm] hands out opaque handles for open archives, member streams and
directory searches. Every handle is checked on each call, so a handle that
was closed, or whose archive was closed, fails with [ErrInvalidHandle]
instead of touching released state.

	s := storm.New(storm.WithLogger(slog.Default()))
	defer s.Close()

	h, err := s.OpenArchive("data.mpq", 0, 0)
	if err != nil {
		return err
	}
	if err := s.AttachPatch(h, "patch.mpq", "", 0); err != nil {
		return err
	}

	f, err := s.OpenFile(h, "readme.txt", storm.ScopePatched)
	if err != nil {
		return err
	}
	defer s.CloseFile(f)

	data, err := s.Read(f, 4096)

# Patches

Attached patches are searched from the most recently attached down to the
base archive. A deletion marker in a patch hides every lower copy. A patch
prefix maps base names into a subdirectory of the patch.

# Closing

Closing an archive closes every stream and search opened on it. Their
handles become invalid at the same moment.

# Errors

Failures are *[Error] values carrying an [ErrorKind], the operation and the
offending identifier. Match them with errors.Is against the sentinels:

	if errors.Is(err, storm.ErrNotFound) {
		...
	}

Two kinds are signals rather than failures. Read never reports
[ErrEndOfStream]; it returns the bytes that were left. FindFirstFile and
FindNextFile report [ErrExhausted] when a search has no more names.
*Error also implements the platform error contract of
github.com/jmgilman/go/errors.
*/
package storm
