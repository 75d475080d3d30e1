// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/suprsokr/go-storm/mpq"
)

// Storm owns the handle tables for archives, open members and searches.
// All methods are safe for concurrent use. Operations on one archive and its
// children are serialized; distinct archives proceed independently.
type Storm struct {
	cfg config
	log *slog.Logger

	counter  atomic.Uint64
	archives *handleTable[ArchiveHandle, *session]
	files    *handleTable[FileHandle, *stream]
	finds    *handleTable[FindHandle, *cursor]
}

// New returns a Storm configured by opts.
func New(opts ...Option) *Storm {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Storm{cfg: cfg, log: cfg.logger}
	s.archives = newHandleTable[ArchiveHandle, *session](&s.counter)
	s.files = newHandleTable[FileHandle, *stream](&s.counter)
	s.finds = newHandleTable[FindHandle, *cursor](&s.counter)
	return s
}

// Close closes every archive that is still open.
func (s *Storm) Close() error {
	s.archives.mu.RLock()
	handles := make([]ArchiveHandle, 0, len(s.archives.records))
	for h := range s.archives.records {
		handles = append(handles, h)
	}
	s.archives.mu.RUnlock()

	var errs []error
	for _, h := range handles {
		if err := s.CloseArchive(h); err != nil && !errors.Is(err, ErrInvalidHandle) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// lockSession resolves h and returns its session locked. The caller unlocks.
func (s *Storm) lockSession(op Op, h ArchiveHandle) (*session, error) {
	sess, err := s.archives.resolve(h)
	if err != nil {
		return nil, newError(op, archiveIdent(h), err)
	}
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil, codeError(op, archiveIdent(h), mpq.ErrInvalidHandle)
	}
	return sess, nil
}

// fsPath maps a caller path onto the configured filesystem.
func (s *Storm) fsPath(path string) (string, error) {
	if !s.cfg.localFS {
		return path, nil
	}
	return filepath.Abs(path)
}

func (s *Storm) engineFlags(flags OpenFlag) uint32 {
	if s.cfg.mmap {
		flags |= OpenProviderMap
	}
	return uint32(flags)
}

func archiveIdent(h ArchiveHandle) string { return fmt.Sprintf("archive #%d", uint64(h)) }
func fileIdent(h FileHandle) string       { return fmt.Sprintf("file #%d", uint64(h)) }
func findIdent(h FindHandle) string       { return fmt.Sprintf("search #%d", uint64(h)) }
