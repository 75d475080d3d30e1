// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
	"os"
)

// storage is the byte source an archive reads from.
type storage interface {
	io.ReaderAt
	Size() int64
	Sync() error
	Close() error
}

// fileStorage reads the archive through positioned reads on an open file.
type fileStorage struct {
	file *os.File
	size int64
}

func (s *fileStorage) ReadAt(p []byte, off int64) (int, error) { return s.file.ReadAt(p, off) }
func (s *fileStorage) Size() int64                              { return s.size }
func (s *fileStorage) Sync() error                              { return s.file.Sync() }
func (s *fileStorage) Close() error                             { return s.file.Close() }

// openStorage opens path read-only. When mapped is set and the platform
// supports it, the file is memory-mapped instead of read with pread.
func openStorage(path string, mapped bool) (storage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}

	if mapped && info.Size() > 0 {
		st, err := mapFile(file, info.Size())
		if err != nil {
			file.Close()
			return nil, err
		}
		return st, nil
	}

	return &fileStorage{file: file, size: info.Size()}, nil
}
