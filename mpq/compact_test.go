// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteBlocks appends fresh tables to the archive at path and points its
// header at them. edit may append data to f and returns the new block table.
func rewriteBlocks(t *testing.T, path string, edit func(f *os.File, blocks []blockTableEntryEx) []blockTableEntryEx) {
	t.Helper()

	archive, err := Open(path)
	require.NoError(t, err)
	header := *archive.header
	hashTable := append([]hashTableEntry(nil), archive.hashTable...)
	blockTable := append([]blockTableEntryEx(nil), archive.blockTable...)
	require.NoError(t, archive.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	blockTable = edit(f, blockTable)

	shadow := &Archive{header: &header, hashTable: hashTable, blockTable: blockTable, formatVersion: FormatV1}
	require.NoError(t, shadow.writeTables(f))
}

// appendOrphan appends a block that no hash slot references.
func appendOrphan(t *testing.T, path string) {
	t.Helper()

	rewriteBlocks(t, path, func(f *os.File, blocks []blockTableEntryEx) []blockTableEntryEx {
		end, err := f.Seek(0, io.SeekCurrent)
		require.NoError(t, err)
		orphan := []byte("orphaned data nobody points at")
		_, err = f.Write(orphan)
		require.NoError(t, err)

		return append(blocks, blockTableEntryEx{blockTableEntry: blockTableEntry{
			FilePos:        uint32(end),
			CompressedSize: uint32(len(orphan)),
			FileSize:       uint32(len(orphan)),
			Flags:          FileExists | FileSingleUnit,
		}})
	})
}

func TestCompactDropsOrphans(t *testing.T) {
	files := map[string][]byte{
		"a.txt":       sampleData(2000),
		"dir\\b.txt":  sampleData(300),
		"dir\\c.bin":  sampleData(5000),
		"deleted.txt": nil,
	}

	path := filepath.Join(t.TempDir(), "compact.mpq")
	archive, err := Create(path, len(files))
	require.NoError(t, err)
	require.NoError(t, archive.AddFileWithFlags("a.txt", files["a.txt"], FileCompress))
	require.NoError(t, archive.AddFileWithFlags("dir\\b.txt", files["dir\\b.txt"], FileEncrypted|FileFixKey))
	require.NoError(t, archive.AddFileWithFlags("deleted.txt", nil, FileDeleteMarker))
	require.NoError(t, archive.AddFileWithFlags("dir\\c.bin", files["dir\\c.bin"], FileCompress|FileEncrypted|FileFixKey|FileSectorCRC))
	require.NoError(t, archive.Close())

	appendOrphan(t, path)
	before, err := os.Stat(path)
	require.NoError(t, err)

	ar, err := Open(path)
	require.NoError(t, err)
	defer ar.Close()
	require.Equal(t, uint32(7), ar.BlockTableSize())

	var calls int
	var last, total uint64
	require.NoError(t, ar.Compact(nil, func(done, t uint64) {
		calls++
		last, total = done, t
	}))
	assert.Equal(t, 5, calls, "one call per copied block, attributes rebuilt")
	assert.Equal(t, total, last)

	assert.Equal(t, uint32(6), ar.BlockTableSize())
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	for _, name := range []string{"a.txt", "dir\\b.txt", "dir\\c.bin"} {
		data, err := ar.readMember(name)
		require.NoError(t, err, name)
		assert.Equal(t, files[name], data, name)
	}
	assert.False(t, ar.HasFile("deleted.txt"))

	require.NoError(t, ar.Flush())
	require.NoError(t, ar.Flush())

	// Checksums still line up with the new block order
	reopened, err := OpenArchive(path, OpenCheckSectorCRC)
	require.NoError(t, err)
	defer reopened.Close()
	data, err := reopened.readMember("dir\\c.bin")
	require.NoError(t, err)
	assert.Equal(t, files["dir\\c.bin"], data)
}

func TestCompactRequiresNamesForFixedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.mpq")
	archive, err := Create(path, 2)
	require.NoError(t, err)
	archive.OmitSpecialFiles(true, true)
	require.NoError(t, archive.AddFileWithFlags("first.txt", sampleData(100), 0))
	require.NoError(t, archive.AddFileWithFlags("second.txt", sampleData(100), FileEncrypted|FileFixKey))
	require.NoError(t, archive.Close())

	// Orphan the first block so the second one moves
	ar, err := Open(path)
	require.NoError(t, err)
	idx, ok := ar.findHashIndex("first.txt")
	require.True(t, ok)
	ar.hashTable[idx].BlockIndex = hashTableDeleted
	err = ar.Compact(nil, nil)
	assert.Equal(t, ErrUnknownFileKey, Code(err))

	require.NoError(t, ar.Compact([]string{"second.txt"}, nil))
	data, err := ar.readMember("second.txt")
	require.NoError(t, err)
	assert.Equal(t, sampleData(100), data)
	assert.Equal(t, uint32(1), ar.BlockTableSize())
	require.NoError(t, ar.Close())
}

func TestCompactRefusals(t *testing.T) {
	path := buildArchive(t, t.TempDir(), map[string][]byte{"a.txt": []byte("a")}, 0)

	readOnly, err := OpenArchive(path, OpenReadOnly)
	require.NoError(t, err)
	assert.Equal(t, ErrAccessDenied, Code(readOnly.Compact(nil, nil)))
	require.NoError(t, readOnly.Close())

	ar, err := Open(path)
	require.NoError(t, err)
	f, err := ar.OpenFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, ErrBusy, Code(ar.Compact(nil, nil)))
	require.NoError(t, f.Close())
	require.NoError(t, ar.Compact(nil, nil))
	require.NoError(t, ar.Close())

	assert.Equal(t, ErrInvalidHandle, Code(ar.Compact(nil, nil)))
	assert.Equal(t, ErrInvalidHandle, Code(ar.Flush()))
}

func TestSyncDir(t *testing.T) {
	require.NoError(t, syncDir(t.TempDir()))
	assert.Error(t, syncDir(filepath.Join(t.TempDir(), "missing")))
}
