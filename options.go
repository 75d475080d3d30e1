// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"io"
	"log/slog"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Option configures a Storm.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	fs       billy.Filesystem
	localFS  bool
	mmap     bool
	progress func(done, total uint64)
}

func defaultConfig() config {
	return config{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		fs:      osfs.New("/"),
		localFS: true,
	}
}

// WithLogger sets the logger used for lifecycle events. Logging is
// discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFilesystem sets the filesystem external listfiles are read from and
// extracted members are written to. Archives themselves are always opened
// from the local disk. The default is the host filesystem, with relative
// paths resolved against the working directory.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(c *config) {
		if fs != nil {
			c.fs = fs
			c.localFS = false
		}
	}
}

// WithMemoryMap opens every archive and patch through a read-only memory
// mapping instead of positioned reads.
func WithMemoryMap(enabled bool) Option {
	return func(c *config) {
		c.mmap = enabled
	}
}

// WithCompactProgress registers a callback invoked while CompactArchive
// copies data, with the number of bytes copied so far and the total.
func WithCompactProgress(fn func(done, total uint64)) Option {
	return func(c *config) {
		c.progress = fn
	}
}
