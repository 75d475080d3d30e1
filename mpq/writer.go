// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Flags accepted by AddFileWithFlags.
const addFlagsMask = FileCompress | FileEncrypted | FileFixKey | FilePatchFile |
	FileSingleUnit | FileDeleteMarker | FileSectorCRC

// pendingFile represents a file to be added to the archive.
type pendingFile struct {
	srcPath  string
	mpqPath  string
	data     []byte
	flags    uint32
	fileTime uint64
}

// Create creates a new MPQ archive using V1 format.
// The maxFiles parameter specifies the maximum number of files the archive can hold.
func Create(path string, maxFiles int) (*Archive, error) {
	return CreateWithVersion(path, maxFiles, FormatV1)
}

// CreateV2 creates a new MPQ archive using V2 format.
// V2 format supports archives larger than 4GB and is compatible with
// WoW: The Burning Crusade and later.
func CreateV2(path string, maxFiles int) (*Archive, error) {
	return CreateWithVersion(path, maxFiles, FormatV2)
}

// CreateWithVersion creates a new MPQ archive with the specified format version.
func CreateWithVersion(path string, maxFiles int, version FormatVersion) (*Archive, error) {
	if path == "" || maxFiles < 0 {
		return nil, fmt.Errorf("create %q: %w", path, ErrInvalidParameter)
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", ioError(err))
	}

	// Create temp file in same directory for atomic write
	tempFile, err := os.CreateTemp(filepath.Dir(path), "mpq_*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", ioError(err))
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	// Room for (listfile) and (attributes), with the table at most 2/3 full
	hashTableSize := nextPowerOf2(uint32(float64(maxFiles+2) * 1.5))
	if hashTableSize < 16 {
		hashTableSize = 16
	}

	var headerSize uint32
	var formatVer uint16
	if version == FormatV2 {
		headerSize = headerSizeV2
		formatVer = formatVersion2
	} else {
		headerSize = headerSizeV1
		formatVer = formatVersion1
	}

	header := &archiveHeader{
		baseHeader: baseHeader{
			Magic:           mpqMagic,
			HeaderSize:      headerSize,
			FormatVersion:   formatVer,
			SectorSizeShift: defaultSectorSizeShift,
			HashTableSize:   hashTableSize,
		},
	}

	return &Archive{
		path:          path,
		tempPath:      tempPath,
		mode:          "w",
		header:        header,
		hashTable:     make([]hashTableEntry, hashTableSize),
		pendingFiles:  make([]pendingFile, 0, maxFiles),
		sectorSize:    defaultSectorSize,
		formatVersion: version,
		names:         make(map[uint64]string),
		listSeen:      make(map[string]struct{}),
	}, nil
}

// SetSectorSizeShift sets the sector size of a new archive to 512 << shift.
func (a *Archive) SetSectorSizeShift(shift uint16) error {
	if a.mode != "w" {
		return fmt.Errorf("set sector size: archive not opened for writing: %w", ErrAccessDenied)
	}
	if shift > maxSectorSizeShift {
		return fmt.Errorf("sector size shift %d: %w", shift, ErrInvalidParameter)
	}
	a.header.SectorSizeShift = shift
	a.sectorSize = 512 << shift
	return nil
}

// OmitSpecialFiles controls whether (listfile) and (attributes) are written
// when a new archive is closed. Both are written by default.
func (a *Archive) OmitSpecialFiles(listfile, attributes bool) {
	a.omitListfile = listfile
	a.omitAttributes = attributes
}

// AddFile adds a file to the archive.
// The srcPath is the path to the file on disk.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// This method is only valid for archives opened with Create.
func (a *Archive) AddFile(srcPath, mpqPath string) error {
	if a.mode != "w" {
		return fmt.Errorf("add %s: archive not opened for writing: %w", mpqPath, ErrAccessDenied)
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", srcPath, ioError(err))
	}

	fileTime := toFileTime(time.Now())
	if info, err := os.Stat(srcPath); err == nil {
		fileTime = toFileTime(info.ModTime())
	}

	return a.addPending(pendingFile{
		srcPath:  srcPath,
		mpqPath:  mpqPath,
		data:     data,
		flags:    FileCompress | FileSingleUnit,
		fileTime: fileTime,
	})
}

// AddFileWithFlags adds in-memory data with explicit block flags.
// FileDeleteMarker adds a deletion marker and ignores data.
func (a *Archive) AddFileWithFlags(mpqPath string, data []byte, flags uint32) error {
	if a.mode != "w" {
		return fmt.Errorf("add %s: archive not opened for writing: %w", mpqPath, ErrAccessDenied)
	}
	if flags&^addFlagsMask != 0 {
		return fmt.Errorf("add %s: flags 0x%08X: %w", mpqPath, flags, ErrInvalidParameter)
	}
	if flags&FileDeleteMarker != 0 {
		data = nil
	}

	return a.addPending(pendingFile{
		mpqPath:  mpqPath,
		data:     append([]byte(nil), data...),
		flags:    flags,
		fileTime: toFileTime(time.Now()),
	})
}

// addPending queues a file, replacing an earlier file of the same name.
func (a *Archive) addPending(pf pendingFile) error {
	pf.mpqPath = strings.ReplaceAll(pf.mpqPath, "/", "\\")
	if pf.mpqPath == "" || len(pf.mpqPath) >= MaxPath {
		return fmt.Errorf("add %q: %w", pf.mpqPath, ErrInvalidParameter)
	}

	for i := range a.pendingFiles {
		if strings.EqualFold(a.pendingFiles[i].mpqPath, pf.mpqPath) {
			a.pendingFiles[i] = pf
			return nil
		}
	}
	a.pendingFiles = append(a.pendingFiles, pf)
	return nil
}

// toFileTime converts a time to a Windows FILETIME.
func toFileTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + 116444736000000000
}

// writeArchive writes the complete MPQ archive
func (a *Archive) writeArchive() error {
	file, err := os.Create(a.tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", ioError(err))
	}
	defer file.Close()

	// Initialize hash table with empty entries
	for i := range a.hashTable {
		a.hashTable[i] = hashTableEntry{
			HashA:      0xFFFFFFFF,
			HashB:      0xFFFFFFFF,
			Locale:     0xFFFF,
			Platform:   0xFFFF,
			BlockIndex: hashTableEmpty,
		}
	}

	// Reserve space for header
	if _, err := file.Seek(int64(a.header.HeaderSize), 0); err != nil {
		return fmt.Errorf("seek past header: %w", ioError(err))
	}

	blockCount := len(a.pendingFiles)
	if !a.omitListfile {
		blockCount++
	}
	if !a.omitAttributes {
		blockCount++
	}

	a.blockTable = make([]blockTableEntryEx, 0, blockCount)
	attrs := newAttributesWriter(blockCount)
	var listFile strings.Builder

	for _, pf := range a.pendingFiles {
		if err := a.writeBlock(file, pf.mpqPath, pf.data, pf.flags); err != nil {
			return err
		}
		attrs.setEntry(len(a.blockTable)-1, pf.data, pf.fileTime)
		listFile.WriteString(pf.mpqPath + "\r\n")
	}

	if !a.omitListfile {
		data := []byte(listFile.String())
		if err := a.writeBlock(file, ListFileName, data, FileCompress|FileSingleUnit); err != nil {
			return err
		}
		attrs.setEntry(len(a.blockTable)-1, data, toFileTime(time.Now()))
	}

	if !a.omitAttributes {
		// The (attributes) entry itself carries no checksum
		attrs.setEntry(blockCount-1, nil, 0)
		if err := a.writeBlock(file, AttributesName, attrs.build(), FileCompress|FileSingleUnit); err != nil {
			return err
		}
	}

	return a.writeTables(file)
}

// writeBlock writes one member at the current file position and records its
// block and hash entries.
func (a *Archive) writeBlock(file *os.File, mpqPath string, data []byte, flags uint32) error {
	filePos, err := file.Seek(0, 1)
	if err != nil {
		return fmt.Errorf("get file position: %w", ioError(err))
	}
	pos := uint64(filePos) - a.header.ArchiveOffset

	var stored []byte
	switch {
	case flags&FileDeleteMarker != 0:
		flags = FileDeleteMarker
	case len(data) == 0:
		flags &^= FileCompress | FileSectorCRC
	default:
		stored, flags, err = a.encodeBlock(mpqPath, pos, data, flags)
		if err != nil {
			return err
		}
	}

	if _, err := file.Write(stored); err != nil {
		return fmt.Errorf("write %s: %w", mpqPath, ioError(err))
	}

	blockIndex := uint32(len(a.blockTable))
	block := blockTableEntryEx{
		blockTableEntry: blockTableEntry{
			CompressedSize: uint32(len(stored)),
			FileSize:       uint32(len(data)),
			Flags:          flags | FileExists,
		},
	}
	block.setFilePos64(pos)
	a.blockTable = append(a.blockTable, block)

	if err := a.addToHashTable(mpqPath, blockIndex); err != nil {
		return fmt.Errorf("add %s to hash table: %w", mpqPath, err)
	}
	return nil
}

// encodeBlock produces the stored form of a member's data.
func (a *Archive) encodeBlock(mpqPath string, pos uint64, data []byte, flags uint32) ([]byte, uint32, error) {
	if flags&FileSingleUnit != 0 {
		flags &^= FileSectorCRC
	}
	if flags&FileCompress == 0 {
		flags &^= FileSectorCRC
	}

	var key uint32
	if flags&FileEncrypted != 0 {
		key = getFileKey(mpqPath, pos, uint32(len(data)), flags)
	}

	switch {
	case flags&FileSingleUnit != 0:
		stored := data
		if flags&FileCompress != 0 {
			compressed, err := compressData(data)
			if err != nil {
				return nil, 0, fmt.Errorf("compress file %s: %w", mpqPath, err)
			}
			if len(compressed) < len(data) {
				stored = compressed
			}
		}
		stored = append([]byte(nil), stored...)
		if flags&FileEncrypted != 0 {
			encryptBytes(stored, key)
		}
		return stored, flags, nil

	case flags&FileCompress == 0:
		stored := append([]byte(nil), data...)
		if flags&FileEncrypted != 0 {
			for i, off := uint32(0), 0; off < len(stored); i, off = i+1, off+int(a.sectorSize) {
				end := min(off+int(a.sectorSize), len(stored))
				encryptBytes(stored[off:end], key+i)
			}
		}
		return stored, flags, nil
	}

	stored, err := a.encodeSectors(mpqPath, data, flags, key)
	return stored, flags, err
}

// encodeSectors compresses data sector by sector behind an offset table.
func (a *Archive) encodeSectors(mpqPath string, data []byte, flags uint32, key uint32) ([]byte, error) {
	sectorSize := int(a.sectorSize)
	count := (len(data) + sectorSize - 1) / sectorSize

	tableLen := count + 1
	if flags&FileSectorCRC != 0 {
		tableLen++
	}
	offsets := make([]uint32, tableLen)
	out := make([]byte, tableLen*4)
	var crcs []byte

	for i := 0; i < count; i++ {
		sector := data[i*sectorSize : min((i+1)*sectorSize, len(data))]
		compressed, err := compressData(sector)
		if err != nil {
			return nil, fmt.Errorf("compress file %s: %w", mpqPath, err)
		}
		if len(compressed) >= len(sector) {
			compressed = append([]byte(nil), sector...)
		}
		if flags&FileSectorCRC != 0 {
			crcs = binary.LittleEndian.AppendUint32(crcs, adler32.Checksum(compressed))
		}
		if flags&FileEncrypted != 0 {
			encryptBytes(compressed, key+uint32(i))
		}
		offsets[i] = uint32(len(out))
		out = append(out, compressed...)
	}
	offsets[count] = uint32(len(out))

	if flags&FileSectorCRC != 0 {
		out = append(out, crcs...)
		offsets[count+1] = uint32(len(out))
	}

	wordsToBytes(offsets, out[:tableLen*4])
	if flags&FileEncrypted != 0 {
		encryptBytes(out[:tableLen*4], key-1)
	}
	return out, nil
}

// writeTables writes the hash, block and hi-block tables after the data and
// then the header.
func (a *Archive) writeTables(file *os.File) error {
	base := int64(a.header.ArchiveOffset)

	needsHiBlockTable := false
	for i := range a.blockTable {
		if a.blockTable[i].FilePosHi != 0 {
			needsHiBlockTable = true
		}
	}
	if needsHiBlockTable && a.formatVersion != FormatV2 {
		return fmt.Errorf("archive data exceeds 4GB in V1 format: %w", ErrDiskFull)
	}

	hashTableOffset, err := file.Seek(0, 1)
	if err != nil {
		return fmt.Errorf("get file position: %w", ioError(err))
	}
	if err := writeUint32Array(file, encodeHashTable(a.hashTable)); err != nil {
		return fmt.Errorf("write hash table: %w", ioError(err))
	}

	blockTableOffset, _ := file.Seek(0, 1)
	if err := writeUint32Array(file, encodeBlockTable(a.blockTable)); err != nil {
		return fmt.Errorf("write block table: %w", ioError(err))
	}

	var hiBlockTableOffset int64
	if needsHiBlockTable {
		hiBlockTableOffset, _ = file.Seek(0, 1)

		hiBlockTable := make([]uint16, len(a.blockTable))
		for i, entry := range a.blockTable {
			hiBlockTable[i] = entry.FilePosHi
		}
		if err := writeUint16Array(file, hiBlockTable); err != nil {
			return fmt.Errorf("write hi-block table: %w", ioError(err))
		}
	}

	archiveEnd, _ := file.Seek(0, 1)

	a.header.setHashTableOffset64(uint64(hashTableOffset - base))
	a.header.setBlockTableOffset64(uint64(blockTableOffset - base))
	a.header.HashTableSize = uint32(len(a.hashTable))
	a.header.BlockTableSize = uint32(len(a.blockTable))
	a.header.ArchiveSize = uint32(archiveEnd - base)
	a.header.HiBlockTableOffset64 = 0
	if needsHiBlockTable {
		a.header.HiBlockTableOffset64 = uint64(hiBlockTableOffset - base)
	}

	if _, err := file.Seek(base, 0); err != nil {
		return fmt.Errorf("seek to header: %w", ioError(err))
	}
	if err := writeArchiveHeader(file, a.header); err != nil {
		return fmt.Errorf("write header: %w", ioError(err))
	}

	return nil
}

// addToHashTable adds a file to the hash table
func (a *Archive) addToHashTable(mpqPath string, blockIndex uint32) error {
	size := uint32(len(a.hashTable))
	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % size

	for i := uint32(0); i < size; i++ {
		idx := (startIndex + i) % size
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty || entry.BlockIndex == hashTableDeleted {
			entry.HashA = hashA
			entry.HashB = hashB
			entry.Locale = localeNeutral
			entry.Platform = 0
			entry.BlockIndex = blockIndex
			return nil
		}
	}

	return fmt.Errorf("hash table full: %w", ErrDiskFull)
}
