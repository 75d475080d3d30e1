// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

//go:build unix

package mpq

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// mappedStorage serves reads from a read-only shared mapping of the archive.
type mappedStorage struct {
	file *os.File
	data []byte
}

func mapFile(file *os.File, size int64) (storage, error) {
	if int64(int(size)) != size {
		return nil, fmt.Errorf("archive too large to map: %d bytes", size)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &mappedStorage{file: file, data: data}, nil
}

func (s *mappedStorage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *mappedStorage) Size() int64 { return int64(len(s.data)) }

func (s *mappedStorage) Sync() error {
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *mappedStorage) Close() error {
	var firstErr error
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			firstErr = err
		}
		s.data = nil
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
