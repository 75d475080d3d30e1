// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprsokr/go-storm/mpq"
)

// member is one file written by writeArchive.
type member struct {
	name  string
	data  []byte
	flags uint32
}

// writeArchive creates name in dir holding members, in order.
func writeArchive(t testing.TB, dir, name string, members ...member) string {
	t.Helper()

	path := filepath.Join(dir, name)
	archive, err := mpq.Create(path, len(members))
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, archive.AddFileWithFlags(m.name, m.data, m.flags))
	}
	require.NoError(t, archive.Close())
	return path
}

func openArchive(t *testing.T, s *Storm, path string, flags OpenFlag) ArchiveHandle {
	t.Helper()

	h, err := s.OpenArchive(path, 0, flags)
	require.NoError(t, err)
	require.NotZero(t, h)
	return h
}

func TestOpenAndCloseArchive(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "base.mpq",
		member{"Data\\a.txt", []byte("alpha"), mpq.FileCompress},
		member{"Data\\b.txt", []byte("bravo"), 0},
	)

	s := New()
	h := openArchive(t, s, path, 0)

	n, err := s.ArchiveInfo(h, InfoNumFiles)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n) // two members plus (listfile) and (attributes)

	ok, err := s.HasFile(h, "data/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.CloseArchive(h))

	err = s.CloseArchive(h)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = s.HasFile(h, "Data\\a.txt")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestOpenArchiveErrors(t *testing.T) {
	dir := t.TempDir()
	s := New()

	tests := []struct {
		name  string
		path  string
		flags OpenFlag
		want  error
	}{
		{"missing file", filepath.Join(dir, "missing.mpq"), 0, ErrNotFound},
		{"empty path", "", 0, ErrInvalidArgument},
		{"unknown flag", filepath.Join(dir, "missing.mpq"), 0x8000, ErrInvalidArgument},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, err := s.OpenArchive(tc.path, 0, tc.flags)
			assert.Zero(t, h)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCloseArchiveRevokesChildren(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "base.mpq",
		member{"a.txt", []byte("alpha"), 0},
		member{"b.txt", []byte("bravo"), 0},
	)

	s := New()
	h := openArchive(t, s, path, 0)

	fh, err := s.OpenFile(h, "a.txt", ScopeFromMPQ)
	require.NoError(t, err)
	sh, _, err := s.FindFirstFile(h, "*.txt")
	require.NoError(t, err)

	require.NoError(t, s.CloseArchive(h))

	_, err = s.Read(fh, 10)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, s.CloseFile(fh), ErrInvalidHandle)
	_, err = s.FindNextFile(sh)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, s.FindClose(sh), ErrInvalidHandle)

	assert.Zero(t, s.files.len())
	assert.Zero(t, s.finds.len())
}

func TestHandlesAreNotReused(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "base.mpq", member{"a.txt", []byte("alpha"), 0})

	s := New()
	seen := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		h := openArchive(t, s, path, 0)
		fh, err := s.OpenFile(h, "a.txt", ScopeFromMPQ)
		require.NoError(t, err)

		for _, v := range []uint64{uint64(h), uint64(fh)} {
			assert.False(t, seen[v], "handle %d issued twice", v)
			seen[v] = true
		}
		require.NoError(t, s.CloseArchive(h))
	}
}

func TestStormCloseClosesArchives(t *testing.T) {
	dir := t.TempDir()
	first := writeArchive(t, dir, "one.mpq", member{"a.txt", []byte("a"), 0})
	second := writeArchive(t, dir, "two.mpq", member{"b.txt", []byte("b"), 0})

	s := New()
	h1 := openArchive(t, s, first, 0)
	h2 := openArchive(t, s, second, OpenProviderMap)
	_, err := s.OpenFile(h2, "b.txt", ScopeFromMPQ)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Zero(t, s.archives.len())
	assert.Zero(t, s.files.len())

	_, err = s.HasFile(h1, "a.txt")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestConcurrentReads(t *testing.T) {
	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	path := writeArchive(t, t.TempDir(), "base.mpq",
		member{"big.bin", data, mpq.FileCompress},
	)

	s := New(WithMemoryMap(true))
	h := openArchive(t, s, path, 0)
	defer s.CloseArchive(h)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fh, err := s.OpenFile(h, "big.bin", ScopeFromMPQ)
			if err != nil {
				errs <- err
				return
			}
			defer s.CloseFile(fh)

			got, err := s.Read(fh, len(data)+1)
			if err != nil {
				errs <- err
				return
			}
			if len(got) != len(data) {
				errs <- assert.AnError
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestArchiveInfo(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "base.mpq", member{"a.txt", []byte("alpha"), 0})

	s := New()
	h := openArchive(t, s, path, OpenReadOnly)
	defer s.CloseArchive(h)

	size, err := s.ArchiveInfo(h, InfoSectorSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), size)

	hashSize, err := s.ArchiveInfo(h, InfoHashTableSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), hashSize)

	blocks, err := s.ArchiveInfo(h, InfoBlockTableSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), blocks)

	archiveSize, err := s.ArchiveInfo(h, InfoArchiveSize)
	require.NoError(t, err)
	assert.NotZero(t, archiveSize)

	streamFlags, err := s.ArchiveInfo(h, InfoStreamFlags)
	require.NoError(t, err)
	assert.Equal(t, uint64(OpenReadOnly), streamFlags)

	_, err = s.ArchiveInfo(h, InfoFileSize)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLegacyInfoKindsRejectedFirst(t *testing.T) {
	s := New()
	for _, kind := range []InfoKind{InfoArchiveName, InfoHashTable, InfoBlockTable} {
		_, err := s.ArchiveInfo(ArchiveHandle(12345), kind)
		assert.ErrorIs(t, err, ErrInvalidArgument, kind.String())

		_, err = s.FileInfo(FileHandle(12345), kind)
		assert.ErrorIs(t, err, ErrInvalidArgument, kind.String())
	}
}
