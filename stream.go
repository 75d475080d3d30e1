// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import "github.com/suprsokr/go-storm/mpq"

// stream is the state behind a FileHandle.
type stream struct {
	session *session
	file    *mpq.File
	layer   int  // 0 for the base, i for the i-th patch
	patched bool // resolved in a patch rather than the base
	closed  bool
}

// close releases the engine file. The session lock must be held.
func (st *stream) close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	return st.file.Close()
}

// lockStream resolves h and returns its stream with the owning session
// locked. The caller unlocks.
func (s *Storm) lockStream(op Op, h FileHandle) (*stream, error) {
	st, err := s.files.resolve(h)
	if err != nil {
		return nil, newError(op, fileIdent(h), err)
	}
	st.session.mu.Lock()
	if st.closed || st.session.closed {
		st.session.mu.Unlock()
		return nil, codeError(op, fileIdent(h), mpq.ErrInvalidHandle)
	}
	return st, nil
}

// OpenFile opens a member for reading. With ScopePatched the most recently
// attached patch holding name wins; ScopeFromMPQ reads the base only.
func (s *Storm) OpenFile(h ArchiveHandle, name string, scope Scope) (FileHandle, error) {
	if err := scope.validate(); err != nil {
		return 0, newError(OpOpenFile, name, err)
	}

	sess, err := s.lockSession(OpOpenFile, h)
	if err != nil {
		return 0, err
	}
	defer sess.mu.Unlock()

	entry, layer, err := sess.resolve(name, scope)
	if err != nil {
		return 0, newError(OpOpenFile, name, err)
	}
	f, err := sess.layer(layer).OpenEntry(entry)
	if err != nil {
		return 0, newError(OpOpenFile, name, err)
	}

	st := &stream{session: sess, file: f, layer: layer, patched: layer > 0}
	fh := s.files.register(st)
	sess.files[fh] = st
	return fh, nil
}

// FileSize returns the uncompressed size of an open member.
func (s *Storm) FileSize(h FileHandle) (uint64, error) {
	st, err := s.lockStream(OpFileSize, h)
	if err != nil {
		return 0, err
	}
	defer st.session.mu.Unlock()

	lo, hi, err := st.file.GetFileSize()
	if err != nil {
		return 0, newError(OpFileSize, fileIdent(h), err)
	}
	if lo == mpq.InvalidSize && hi == 0 {
		return 0, codeError(OpFileSize, fileIdent(h), mpq.ErrCanNotComplete)
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// Seek moves the read position and returns the new absolute position. The
// offset is interpreted as a signed distance from whence, so SeekCurrent and
// SeekEnd can move backwards with two's-complement values. Positions past
// the end are allowed; reads there return no data.
func (s *Storm) Seek(h FileHandle, offset uint64, whence Whence) (uint64, error) {
	if err := whence.validate(); err != nil {
		return 0, newError(OpSeek, fileIdent(h), err)
	}

	st, err := s.lockStream(OpSeek, h)
	if err != nil {
		return 0, err
	}
	defer st.session.mu.Unlock()

	lo, hi, err := st.file.SetFilePointer(uint32(offset), uint32(offset>>32), uint32(whence))
	if err != nil {
		return 0, newError(OpSeek, fileIdent(h), err)
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// Read reads up to maxBytes bytes from the current position. At the end of the
// member it returns the bytes that were left, possibly none, without error.
func (s *Storm) Read(h FileHandle, maxBytes int) ([]byte, error) {
	if maxBytes < 0 {
		return nil, codeError(OpRead, fileIdent(h), mpq.ErrInvalidParameter)
	}

	st, err := s.lockStream(OpRead, h)
	if err != nil {
		return nil, err
	}
	defer st.session.mu.Unlock()

	size, pos := uint64(st.file.Entry().FileSize), st.file.Position()
	if pos >= size {
		return []byte{}, nil
	}
	if rest := size - pos; uint64(maxBytes) > rest {
		maxBytes = int(rest)
	}

	buf := make([]byte, maxBytes)
	n, err := st.file.Read(buf)
	if err != nil && mpq.Code(err) != mpq.ErrHandleEOF {
		return nil, newError(OpRead, fileIdent(h), err)
	}
	return buf[:n], nil
}

// FileName returns the name an open member is known by in the archive's
// namespace.
func (s *Storm) FileName(h FileHandle) (string, error) {
	st, err := s.lockStream(OpFileName, h)
	if err != nil {
		return "", err
	}
	defer st.session.mu.Unlock()

	name, err := st.file.Name()
	if err != nil {
		return "", newError(OpFileName, fileIdent(h), err)
	}
	if st.layer > 0 {
		if base, ok := st.session.patches[st.layer-1].baseName(name); ok {
			name = base
		}
	}
	return name, nil
}

// FileInfo returns per-member metadata. Legacy kinds are rejected before the
// handle is looked at.
func (s *Storm) FileInfo(h FileHandle, kind InfoKind) (uint64, error) {
	if kind.Legacy() || !kind.fileLevel() {
		return 0, codeError(OpFileInfo, kind.String(), mpq.ErrInvalidParameter)
	}

	st, err := s.lockStream(OpFileInfo, h)
	if err != nil {
		return 0, err
	}
	defer st.session.mu.Unlock()

	f := st.file
	entry := f.Entry()
	switch kind {
	case InfoHashIndex:
		return uint64(entry.HashIndex), nil
	case InfoCodeName1:
		return uint64(entry.HashA), nil
	case InfoCodeName2:
		return uint64(entry.HashB), nil
	case InfoLocaleID:
		return uint64(entry.Locale), nil
	case InfoBlockIndex:
		return uint64(entry.BlockIndex), nil
	case InfoFileSize:
		return uint64(entry.FileSize), nil
	case InfoCompressedSize:
		return uint64(entry.CompressedSize), nil
	case InfoFlags:
		return uint64(entry.Flags), nil
	case InfoPosition:
		return f.Position(), nil
	case InfoKey:
		return uint64(f.Key()), nil
	case InfoKeyUnfixed:
		return uint64(f.KeyUnfixed()), nil
	case InfoFileTime:
		return f.FileTime(), nil
	}
	return 0, codeError(OpFileInfo, kind.String(), mpq.ErrInvalidParameter)
}

// IsPatchedFile reports whether an open member was resolved in a patch.
func (s *Storm) IsPatchedFile(h FileHandle) (bool, error) {
	st, err := s.lockStream(OpFileInfo, h)
	if err != nil {
		return false, err
	}
	defer st.session.mu.Unlock()
	return st.patched, nil
}

// CloseFile closes an open member.
func (s *Storm) CloseFile(h FileHandle) error {
	st, ok := s.files.revoke(h)
	if !ok {
		return codeError(OpCloseFile, fileIdent(h), mpq.ErrInvalidHandle)
	}

	sess := st.session
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if st.closed {
		return codeError(OpCloseFile, fileIdent(h), mpq.ErrInvalidHandle)
	}
	delete(sess.files, h)
	if err := st.close(); err != nil {
		return newError(OpCloseFile, fileIdent(h), err)
	}
	return nil
}
