// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5/util"

	"github.com/suprsokr/go-storm/mpq"
)

// ExtractFile copies a member to dest on the configured filesystem. The data
// goes to a temporary file next to dest which is renamed into place, so dest
// is either untouched or complete. With OpenCheckSectorCRC the member's
// CRC32 from (attributes) is verified before anything is written.
func (s *Storm) ExtractFile(h ArchiveHandle, name, dest string, scope Scope) error {
	if err := scope.validate(); err != nil {
		return newError(OpExtract, name, err)
	}
	if dest == "" {
		return codeError(OpExtract, name, mpq.ErrInvalidParameter)
	}

	sess, err := s.lockSession(OpExtract, h)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	data, err := sess.readAll(name, scope)
	if err != nil {
		return newError(OpExtract, name, err)
	}

	path, err := s.fsPath(dest)
	if err != nil {
		return newError(OpExtract, dest, err)
	}
	if err := s.writeAtomic(path, data); err != nil {
		return newError(OpExtract, dest, err)
	}

	s.log.Debug("extracted file", "archive", sess.path, "name", name, "dest", dest, "bytes", len(data))
	return nil
}

// readAll resolves name and reads the whole member. The engine file is
// closed on every path.
func (sess *session) readAll(name string, scope Scope) ([]byte, error) {
	entry, layer, err := sess.resolve(name, scope)
	if err != nil {
		return nil, err
	}
	f, err := sess.layer(layer).OpenEntry(entry)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return f.ReadAll()
}

// writeAtomic writes data to path through a temporary sibling file.
func (s *Storm) writeAtomic(path string, data []byte) error {
	fs := s.cfg.fs
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := util.TempFile(fs, dir, ".storm-extract-")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
