// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

//go:build !unix

package mpq

import "os"

// mapFile falls back to positioned reads where mmap is unavailable.
func mapFile(file *os.File, size int64) (storage, error) {
	return &fileStorage{file: file, size: size}, nil
}
