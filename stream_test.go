// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprsokr/go-storm/mpq"
)

func TestSeekAndRead(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 1000)
	path := writeArchive(t, t.TempDir(), "base.mpq",
		member{"Data\\digits.txt", data, mpq.FileCompress | mpq.FileSectorCRC},
	)

	s := New()
	h := openArchive(t, s, path, OpenCheckSectorCRC)
	defer s.CloseArchive(h)

	fh, err := s.OpenFile(h, "Data\\digits.txt", ScopeFromMPQ)
	require.NoError(t, err)
	defer s.CloseFile(fh)

	size, err := s.FileSize(fh)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	pos, err := s.Seek(fh, 4095, SeekBegin)
	require.NoError(t, err)
	assert.Equal(t, uint64(4095), pos)

	got, err := s.Read(fh, 3)
	require.NoError(t, err)
	assert.Equal(t, data[4095:4098], got)

	// -8 from the current position, as a two's-complement offset
	minus8 := uint64(0xFFFFFFFFFFFFFFF8)
	pos, err = s.Seek(fh, minus8, SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, uint64(4090), pos)

	got, err = s.Read(fh, 10)
	require.NoError(t, err)
	assert.Equal(t, data[4090:4100], got)

	pos, err = s.Seek(fh, uint64(0xFFFFFFFFFFFFFFFF), SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)-1), pos)

	info, err := s.FileInfo(fh, InfoPosition)
	require.NoError(t, err)
	assert.Equal(t, pos, info)
}

func TestReadAtEndOfFile(t *testing.T) {
	data := []byte("short member")
	path := writeArchive(t, t.TempDir(), "base.mpq", member{"a.txt", data, 0})

	s := New()
	h := openArchive(t, s, path, 0)
	defer s.CloseArchive(h)

	fh, err := s.OpenFile(h, "a.txt", ScopeFromMPQ)
	require.NoError(t, err)
	defer s.CloseFile(fh)

	got, err := s.Read(fh, 100)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = s.Read(fh, 100)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Past the end is a valid position that yields no data
	pos, err := s.Seek(fh, 1000, SeekBegin)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), pos)
	got, err = s.Read(fh, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadLargerThanMember(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "base.mpq",
		member{"a.txt", []byte("hello"), 0},
		member{"b.txt", bytes.Repeat([]byte("b"), 9000), mpq.FileCompress},
	)

	s := New()
	h := openArchive(t, s, path, 0)
	defer s.CloseArchive(h)

	fh, err := s.OpenFile(h, "a.txt", ScopeFromMPQ)
	require.NoError(t, err)
	defer s.CloseFile(fh)

	got, err := s.Read(fh, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = s.Read(fh, math.MaxInt)
	require.NoError(t, err)
	assert.Empty(t, got)

	// The request is capped by what is left after the position
	fb, err := s.OpenFile(h, "b.txt", ScopeFromMPQ)
	require.NoError(t, err)
	defer s.CloseFile(fb)

	_, err = s.Seek(fb, 8000, SeekBegin)
	require.NoError(t, err)
	got, err = s.Read(fb, math.MaxInt)
	require.NoError(t, err)
	assert.Len(t, got, 1000)
	assert.Equal(t, 1000, cap(got))
}

func TestSeekErrors(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "base.mpq", member{"a.txt", []byte("abc"), 0})

	s := New()
	h := openArchive(t, s, path, 0)
	defer s.CloseArchive(h)

	fh, err := s.OpenFile(h, "a.txt", ScopeFromMPQ)
	require.NoError(t, err)
	defer s.CloseFile(fh)

	_, err = s.Seek(fh, 0, Whence(7))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Seek(fh, uint64(0xFFFFFFFFFFFFFFFF), SeekBegin)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Read(fh, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Seek(FileHandle(4242), 0, SeekBegin)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestOpenFileErrors(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "base.mpq", member{"a.txt", []byte("abc"), 0})

	s := New()
	h := openArchive(t, s, path, 0)
	defer s.CloseArchive(h)

	_, err := s.OpenFile(h, "missing.txt", ScopePatched)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.OpenFile(h, "a.txt", ScopeByIndex)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.OpenFile(h, "", ScopeFromMPQ)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.OpenFile(ArchiveHandle(777), "a.txt", ScopeFromMPQ)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestFileInfo(t *testing.T) {
	data := []byte("member with metadata")
	path := writeArchive(t, t.TempDir(), "base.mpq",
		member{"Data\\info.txt", data, mpq.FileEncrypted | mpq.FileFixKey},
	)

	s := New()
	h := openArchive(t, s, path, 0)
	defer s.CloseArchive(h)

	fh, err := s.OpenFile(h, "Data\\info.txt", ScopeFromMPQ)
	require.NoError(t, err)
	defer s.CloseFile(fh)

	size, err := s.FileInfo(fh, InfoFileSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	flags, err := s.FileInfo(fh, InfoFlags)
	require.NoError(t, err)
	assert.NotZero(t, flags&mpq.FileEncrypted)
	assert.NotZero(t, flags&mpq.FileExists)

	blockIndex, err := s.FileInfo(fh, InfoBlockIndex)
	require.NoError(t, err)
	assert.Zero(t, blockIndex)

	key, err := s.FileInfo(fh, InfoKey)
	require.NoError(t, err)
	unfixed, err := s.FileInfo(fh, InfoKeyUnfixed)
	require.NoError(t, err)
	assert.NotEqual(t, unfixed, key)

	fileTime, err := s.FileInfo(fh, InfoFileTime)
	require.NoError(t, err)
	assert.NotZero(t, fileTime)

	for _, kind := range []InfoKind{InfoHashIndex, InfoCodeName1, InfoCodeName2, InfoLocaleID, InfoCompressedSize} {
		_, err := s.FileInfo(fh, kind)
		assert.NoError(t, err, kind.String())
	}

	_, err = s.FileInfo(fh, InfoNumFiles)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	got, err := s.Read(fh, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileNameAndSizeOnClosedHandle(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "base.mpq", member{"Data\\a.txt", []byte("abc"), 0})

	s := New()
	h := openArchive(t, s, path, 0)
	defer s.CloseArchive(h)

	fh, err := s.OpenFile(h, "Data/a.txt", ScopeFromMPQ)
	require.NoError(t, err)

	name, err := s.FileName(fh)
	require.NoError(t, err)
	assert.Equal(t, "Data\\a.txt", name)

	require.NoError(t, s.CloseFile(fh))

	_, err = s.FileName(fh)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = s.FileSize(fh)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, s.CloseFile(fh), ErrInvalidHandle)
}

func TestPseudoNameLookup(t *testing.T) {
	dir := t.TempDir()
	archive, err := mpq.Create(dir+"/nameless.mpq", 1)
	require.NoError(t, err)
	archive.OmitSpecialFiles(true, true)
	require.NoError(t, archive.AddFileWithFlags("hidden\\name.bin", []byte("payload"), 0))
	require.NoError(t, archive.Close())

	s := New()
	h := openArchive(t, s, dir+"/nameless.mpq", 0)
	defer s.CloseArchive(h)

	ok, err := s.HasFile(h, mpq.PseudoName(0))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "payload", readMember(t, s, h, mpq.PseudoName(0), ScopePatched))
}
