// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/util"

	"github.com/suprsokr/go-storm/mpq"
)

// session is the state behind an ArchiveHandle. mu serializes every
// operation on the archive, its patches and its children.
type session struct {
	mu       sync.Mutex
	handle   ArchiveHandle
	path     string
	priority uint32
	flags    OpenFlag
	closed   bool

	base    *mpq.Archive
	patches []*patchLayer

	files map[FileHandle]*stream
	finds map[FindHandle]*cursor

	// External listfiles merged so far, and their names for patches
	// attached later.
	listfiles map[string]struct{}
	listNames []string
}

// OpenArchive opens the archive at path. priority is recorded for the caller
// and has no effect on lookups.
func (s *Storm) OpenArchive(path string, priority uint32, flags OpenFlag) (ArchiveHandle, error) {
	if err := flags.validate(); err != nil {
		return 0, newError(OpOpenArchive, path, err)
	}
	if path == "" {
		return 0, codeError(OpOpenArchive, path, mpq.ErrInvalidParameter)
	}

	archive, err := mpq.OpenArchive(path, s.engineFlags(flags))
	if err != nil {
		return 0, newError(OpOpenArchive, path, err)
	}

	sess := &session{
		path:      path,
		priority:  priority,
		flags:     flags,
		base:      archive,
		files:     make(map[FileHandle]*stream),
		finds:     make(map[FindHandle]*cursor),
		listfiles: make(map[string]struct{}),
	}
	sess.handle = s.archives.register(sess)

	s.log.Debug("opened archive",
		"path", path,
		"handle", uint64(sess.handle),
		"flags", fmt.Sprintf("0x%X", uint32(flags)),
		"files", archive.FileCount(),
	)
	return sess.handle, nil
}

// CloseArchive closes an archive. Every file and search handle opened on it
// is revoked first, then the patches and the base archive are closed.
func (s *Storm) CloseArchive(h ArchiveHandle) error {
	sess, ok := s.archives.revoke(h)
	if !ok {
		return codeError(OpCloseArchive, archiveIdent(h), mpq.ErrInvalidHandle)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.closed = true

	for fh, st := range sess.files {
		s.files.revoke(fh)
		if err := st.close(); err != nil {
			s.log.Warn("closing file with archive", "handle", uint64(fh), "error", err)
		}
	}
	for fh := range sess.finds {
		s.finds.revoke(fh)
	}
	revoked := len(sess.files) + len(sess.finds)
	sess.files = nil
	sess.finds = nil

	for i := len(sess.patches) - 1; i >= 0; i-- {
		if err := sess.patches[i].archive.Close(); err != nil {
			s.log.Warn("closing patch", "path", sess.patches[i].path, "error", err)
		}
	}

	if err := sess.base.Close(); err != nil {
		return newError(OpCloseArchive, sess.path, err)
	}

	s.log.Debug("closed archive", "path", sess.path, "handle", uint64(h), "revoked", revoked)
	return nil
}

// AttachPatch opens patchPath as an overlay with the next higher priority.
// Names looked up through the base are searched as prefix\name in the patch.
// Patches are always opened read-only.
func (s *Storm) AttachPatch(h ArchiveHandle, patchPath, prefix string, flags OpenFlag) error {
	if err := flags.validate(); err != nil {
		return newError(OpAttachPatch, patchPath, err)
	}
	if patchPath == "" {
		return codeError(OpAttachPatch, patchPath, mpq.ErrInvalidParameter)
	}
	prefix, err := normalizePrefix(prefix)
	if err != nil {
		return newError(OpAttachPatch, patchPath, err)
	}

	sess, err := s.lockSession(OpAttachPatch, h)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	archive, err := mpq.OpenArchive(patchPath, s.engineFlags(flags|OpenReadOnly))
	if err != nil {
		return newError(OpAttachPatch, patchPath, err)
	}

	layer := &patchLayer{
		path:     patchPath,
		prefix:   prefix,
		priority: sess.priority + uint32(len(sess.patches)) + 1,
		archive:  archive,
	}
	if len(sess.listNames) > 0 {
		archive.AddListNames(layer.prefixed(sess.listNames))
	}
	sess.patches = append(sess.patches, layer)

	s.log.Debug("attached patch",
		"archive", sess.path,
		"patch", patchPath,
		"prefix", prefix,
		"priority", layer.priority,
	)
	return nil
}

// prefixed maps base-namespace names into the patch.
func (p *patchLayer) prefixed(names []string) []string {
	if p.prefix == "" {
		return names
	}
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = p.localName(normalizeName(name))
	}
	return out
}

// IsPatched reports whether at least one attached patch is open and holds
// any blocks.
func (s *Storm) IsPatched(h ArchiveHandle) (bool, error) {
	sess, err := s.lockSession(OpIsPatched, h)
	if err != nil {
		return false, err
	}
	defer sess.mu.Unlock()

	for _, p := range sess.patches {
		if p.archive.IsOpen() && p.archive.BlockTableSize() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// AddListFile merges the names in an external listfile into the archive and
// its patches. Adding the same listfile twice is a no-op.
func (s *Storm) AddListFile(h ArchiveHandle, listPath string) error {
	if listPath == "" {
		return codeError(OpAddListFile, listPath, mpq.ErrInvalidParameter)
	}

	sess, err := s.lockSession(OpAddListFile, h)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	path, err := s.fsPath(listPath)
	if err != nil {
		return newError(OpAddListFile, listPath, err)
	}
	if _, done := sess.listfiles[strings.ToUpper(path)]; done {
		return nil
	}

	data, err := util.ReadFile(s.cfg.fs, path)
	if err != nil {
		return newError(OpAddListFile, listPath, err)
	}
	names := mpq.ParseListFile(data)

	added := sess.base.AddListNames(names)
	for _, p := range sess.patches {
		p.archive.AddListNames(p.prefixed(names))
	}
	sess.listNames = append(sess.listNames, names...)
	sess.listfiles[strings.ToUpper(path)] = struct{}{}

	s.log.Debug("merged listfile", "archive", sess.path, "listfile", listPath, "names", len(names), "new", added)
	return nil
}

// FlushArchive makes pending changes to the base archive durable. It only
// has work to do after a compaction.
func (s *Storm) FlushArchive(h ArchiveHandle) error {
	sess, err := s.lockSession(OpFlush, h)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	if err := sess.base.Flush(); err != nil {
		return newError(OpFlush, sess.path, err)
	}
	return nil
}

// CompactArchive rewrites the base archive without unreferenced blocks. It
// blocks for as long as the copy takes and is refused while files are open
// on the archive or when it was opened with OpenReadOnly. Names from the
// optional listPath are used to re-key encrypted members that move. If it
// fails, the archive's contents are undefined and it should be reopened.
func (s *Storm) CompactArchive(h ArchiveHandle, listPath string) error {
	sess, err := s.lockSession(OpCompact, h)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	var names []string
	if listPath != "" {
		path, err := s.fsPath(listPath)
		if err != nil {
			return newError(OpCompact, listPath, err)
		}
		data, err := util.ReadFile(s.cfg.fs, path)
		if err != nil {
			return newError(OpCompact, listPath, err)
		}
		names = mpq.ParseListFile(data)
	}

	start := time.Now()
	before := sess.base.ArchiveSize()
	s.log.Info("compacting archive", "path", sess.path, "blocks", sess.base.BlockTableSize())

	if err := sess.base.Compact(names, s.cfg.progress); err != nil {
		return newError(OpCompact, sess.path, err)
	}

	s.log.Info("compacted archive",
		"path", sess.path,
		"blocks", sess.base.BlockTableSize(),
		"size_before", before,
		"size_after", sess.base.ArchiveSize(),
		"duration", time.Since(start),
	)
	return nil
}

// HasFile reports whether name resolves through the archive and its patches.
func (s *Storm) HasFile(h ArchiveHandle, name string) (bool, error) {
	sess, err := s.lockSession(OpHasFile, h)
	if err != nil {
		return false, err
	}
	defer sess.mu.Unlock()

	if _, _, err := sess.resolve(name, ScopePatched); err != nil {
		if errors.Is(err, mpq.ErrFileNotFound) || errors.Is(err, mpq.ErrMarkedForDelete) {
			return false, nil
		}
		return false, newError(OpHasFile, name, err)
	}
	return true, nil
}

// ArchiveInfo returns archive-level metadata. Legacy kinds are rejected
// before the handle is looked at.
func (s *Storm) ArchiveInfo(h ArchiveHandle, kind InfoKind) (uint64, error) {
	if kind.Legacy() || !kind.archiveLevel() {
		return 0, codeError(OpArchiveInfo, kind.String(), mpq.ErrInvalidParameter)
	}

	sess, err := s.lockSession(OpArchiveInfo, h)
	if err != nil {
		return 0, err
	}
	defer sess.mu.Unlock()

	a := sess.base
	switch kind {
	case InfoArchiveSize:
		return a.ArchiveSize(), nil
	case InfoHashTableSize:
		return uint64(a.HashTableSize()), nil
	case InfoBlockTableSize:
		return uint64(a.BlockTableSize()), nil
	case InfoSectorSize:
		return uint64(a.SectorSize()), nil
	case InfoNumFiles:
		return uint64(a.FileCount()), nil
	case InfoStreamFlags:
		return uint64(a.StreamFlags()), nil
	}
	return 0, codeError(OpArchiveInfo, kind.String(), mpq.ErrInvalidParameter)
}
