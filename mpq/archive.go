// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FormatVersion specifies which MPQ format version to use when creating archives.
type FormatVersion int

const (
	// FormatV1 creates archives using the original MPQ format (up to 4GB).
	// Compatible with all games that use MPQ.
	FormatV1 FormatVersion = 0

	// FormatV2 creates archives using the extended format (>4GB support).
	// Compatible with WoW: The Burning Crusade and later.
	FormatV2 FormatVersion = 1
)

// Flags accepted by OpenArchive. The values match StormLib's.
const (
	OpenProviderMap    = 0x0001 // memory-map the archive instead of pread
	OpenNoListfile     = 0x0010 // don't load the internal (listfile)
	OpenNoAttributes   = 0x0020 // don't load the (attributes) file
	OpenForceMPQV1     = 0x0040 // ignore the extended header fields
	OpenCheckSectorCRC = 0x0080 // verify sector checksums while reading
	OpenReadOnly       = 0x0100 // refuse maintenance writes such as Compact

	openFlagsMask = OpenProviderMap | OpenNoListfile | OpenNoAttributes |
		OpenForceMPQV1 | OpenCheckSectorCRC | OpenReadOnly
)

// MaxPath bounds member names returned by the engine.
const MaxPath = 260

// Special member names maintained by the format itself.
const (
	ListFileName   = "(listfile)"
	AttributesName = "(attributes)"
	SignatureName  = "(signature)"
)

// InvalidHashIndex is reported for entries opened without a hash slot.
const InvalidHashIndex = 0xFFFFFFFF

// Archive represents an MPQ archive.
type Archive struct {
	store         storage
	path          string
	tempPath      string
	mode          string // "r" for read, "w" for write
	flags         uint32
	closed        bool
	header        *archiveHeader
	hashTable     []hashTableEntry
	blockTable    []blockTableEntryEx
	pendingFiles  []pendingFile
	sectorSize    uint32
	formatVersion FormatVersion

	names      map[uint64]string // name hashes -> known name
	listfile   []string          // merged listfile, in load order
	listSeen   map[string]struct{}
	attributes *attributes
	openFiles  int
	dirty      bool

	omitListfile   bool
	omitAttributes bool
}

// Entry describes a member located through the hash table or by block index.
type Entry struct {
	Name           string
	HashIndex      uint32
	BlockIndex     uint32
	HashA          uint32
	HashB          uint32
	Locale         uint16
	Platform       uint16
	FilePos        uint64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
}

// Open opens an existing MPQ archive for reading with default flags.
func Open(path string) (*Archive, error) {
	return OpenArchive(path, 0)
}

// OpenArchive opens an existing MPQ archive for reading.
// Supports both V1 and V2 format archives.
func OpenArchive(path string, flags uint32) (*Archive, error) {
	if path == "" || flags&^openFlagsMask != 0 {
		return nil, fmt.Errorf("open archive %q flags 0x%X: %w", path, flags, ErrInvalidParameter)
	}

	store, err := openStorage(path, flags&OpenProviderMap != 0)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", ioError(err))
	}

	a := &Archive{
		store:    store,
		path:     path,
		mode:     "r",
		flags:    flags,
		names:    make(map[uint64]string),
		listSeen: make(map[string]struct{}),
	}
	if err := a.load(); err != nil {
		store.Close()
		return nil, err
	}

	return a, nil
}

// load reads the header and both tables, then the special files.
func (a *Archive) load() error {
	size := a.store.Size()
	header, err := findArchiveHeader(a.store, size, a.flags&OpenForceMPQV1 != 0)
	if err != nil {
		return err
	}

	if header.FormatVersion > formatVersion2 {
		return fmt.Errorf("unsupported MPQ format version %d: %w", header.FormatVersion, ErrBadFormat)
	}
	if header.SectorSizeShift > maxSectorSizeShift {
		return fmt.Errorf("sector size shift %d: %w", header.SectorSizeShift, ErrFileCorrupt)
	}

	base := int64(header.ArchiveOffset)
	avail := size - base

	// Read hash table
	hashTableOffset := int64(header.getHashTableOffset64())
	if hashTableOffset+int64(header.HashTableSize)*16 > avail {
		return fmt.Errorf("hash table out of bounds: %w", ErrFileCorrupt)
	}
	hashTableData := make([]uint32, header.HashTableSize*4)
	if err := readUint32Array(io.NewSectionReader(a.store, base+hashTableOffset, avail-hashTableOffset), hashTableData); err != nil {
		return fmt.Errorf("read hash table: %w", ioError(err))
	}
	decryptBlock(hashTableData, hashTableKey)

	hashTable := make([]hashTableEntry, header.HashTableSize)
	for i := range hashTable {
		hashTable[i] = hashTableEntry{
			HashA:      hashTableData[i*4],
			HashB:      hashTableData[i*4+1],
			Locale:     uint16(hashTableData[i*4+2] & 0xFFFF),
			Platform:   uint16(hashTableData[i*4+2] >> 16),
			BlockIndex: hashTableData[i*4+3],
		}
	}

	// Read block table
	blockTableOffset := int64(header.getBlockTableOffset64())
	if blockTableOffset+int64(header.BlockTableSize)*16 > avail {
		return fmt.Errorf("block table out of bounds: %w", ErrFileCorrupt)
	}
	blockTableData := make([]uint32, header.BlockTableSize*4)
	if err := readUint32Array(io.NewSectionReader(a.store, base+blockTableOffset, avail-blockTableOffset), blockTableData); err != nil {
		return fmt.Errorf("read block table: %w", ioError(err))
	}
	decryptBlock(blockTableData, blockTableKey)

	blockTable := make([]blockTableEntryEx, header.BlockTableSize)
	for i := range blockTable {
		blockTable[i] = blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        blockTableData[i*4],
				CompressedSize: blockTableData[i*4+1],
				FileSize:       blockTableData[i*4+2],
				Flags:          blockTableData[i*4+3],
			},
		}
	}

	// Read extended block table if V2
	if header.FormatVersion >= formatVersion2 && header.HiBlockTableOffset64 != 0 {
		hiOffset := int64(header.HiBlockTableOffset64)
		if hiOffset+int64(header.BlockTableSize)*2 > avail {
			return fmt.Errorf("hi-block table out of bounds: %w", ErrFileCorrupt)
		}
		hiBlockTable := make([]uint16, header.BlockTableSize)
		if err := readUint16Array(io.NewSectionReader(a.store, base+hiOffset, avail-hiOffset), hiBlockTable); err != nil {
			return fmt.Errorf("read hi-block table: %w", ioError(err))
		}
		for i := range blockTable {
			blockTable[i].FilePosHi = hiBlockTable[i]
		}
	}

	a.header = header
	a.hashTable = hashTable
	a.blockTable = blockTable
	a.sectorSize = 512 << header.SectorSizeShift
	a.formatVersion = FormatVersion(header.FormatVersion)

	a.addKnownNames(ListFileName, AttributesName, SignatureName)

	if a.flags&OpenNoListfile == 0 && a.HasFile(ListFileName) {
		data, err := a.readMember(ListFileName)
		if err != nil {
			return fmt.Errorf("read listfile: %w", err)
		}
		a.AddListNames(ParseListFile(data))
	}

	if a.flags&OpenNoAttributes == 0 && a.HasFile(AttributesName) {
		// A damaged (attributes) file is ignored, the members are still readable.
		if data, err := a.readMember(AttributesName); err == nil {
			a.attributes = parseAttributes(data, len(a.blockTable))
		}
	}

	return nil
}

// Close closes the archive.
// For archives opened with Create, this writes the archive to disk.
func (a *Archive) Close() error {
	if a.closed {
		return fmt.Errorf("close %s: %w", a.path, ErrInvalidHandle)
	}
	a.closed = true

	if a.mode == "r" {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("close %s: %w", a.path, ioError(err))
		}
		return nil
	}

	// Write mode
	if err := a.writeArchive(); err != nil {
		os.Remove(a.tempPath)
		return err
	}

	// Move temp file to final path
	os.Remove(a.path)
	if err := os.Rename(a.tempPath, a.path); err != nil {
		if err := copyFile(a.tempPath, a.path); err != nil {
			os.Remove(a.tempPath)
			return fmt.Errorf("save archive: %w", ioError(err))
		}
		os.Remove(a.tempPath)
	}

	return nil
}

// Path returns the path the archive was opened from.
func (a *Archive) Path() string { return a.path }

// Flags returns the flags the archive was opened with.
func (a *Archive) Flags() uint32 { return a.flags }

// IsOpen reports whether the archive has not been closed yet.
func (a *Archive) IsOpen() bool { return !a.closed }

// HasFile returns true if the archive contains the specified file.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// Deletion markers do not count as files.
func (a *Archive) HasFile(mpqPath string) bool {
	if a.mode == "w" {
		mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")
		for _, f := range a.pendingFiles {
			if strings.EqualFold(f.mpqPath, mpqPath) {
				return f.flags&FileDeleteMarker == 0
			}
		}
		return false
	}

	entry, err := a.FindEntry(mpqPath)
	if err != nil {
		entry, err = a.EntryByPseudoName(mpqPath)
	}
	return err == nil && entry.Flags&FileDeleteMarker == 0
}

// FindEntry looks a member up by name in the hash table.
// Deletion markers are returned like any other entry.
func (a *Archive) FindEntry(mpqPath string) (*Entry, error) {
	if a.closed {
		return nil, fmt.Errorf("find %s: %w", mpqPath, ErrInvalidHandle)
	}
	if a.mode != "r" {
		return nil, fmt.Errorf("find %s: archive not opened for reading: %w", mpqPath, ErrAccessDenied)
	}

	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")
	idx, ok := a.findHashIndex(mpqPath)
	if !ok {
		return nil, fmt.Errorf("%s: %w", mpqPath, ErrFileNotFound)
	}

	entry := a.entryAt(idx, a.hashTable[idx].BlockIndex)
	entry.Name = mpqPath
	return entry, nil
}

// findHashIndex returns the hash slot of an existing member.
func (a *Archive) findHashIndex(mpqPath string) (uint32, bool) {
	size := a.header.HashTableSize
	if size == 0 {
		return 0, false
	}

	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % size

	for i := uint32(0); i < size; i++ {
		idx := (startIndex + i) % size
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty {
			break
		}
		if entry.BlockIndex == hashTableDeleted {
			continue
		}
		if entry.HashA == hashA && entry.HashB == hashB && a.blockExists(entry.BlockIndex) {
			return idx, true
		}
	}

	return 0, false
}

func (a *Archive) blockExists(blockIndex uint32) bool {
	return blockIndex < uint32(len(a.blockTable)) && a.blockTable[blockIndex].Flags&FileExists != 0
}

// entryAt builds an Entry for a block, optionally reached through hash slot idx.
func (a *Archive) entryAt(idx uint32, blockIndex uint32) *Entry {
	block := &a.blockTable[blockIndex]
	entry := &Entry{
		HashIndex:      idx,
		BlockIndex:     blockIndex,
		FilePos:        block.getFilePos64(),
		CompressedSize: block.CompressedSize,
		FileSize:       block.FileSize,
		Flags:          block.Flags,
	}
	if idx != InvalidHashIndex {
		slot := &a.hashTable[idx]
		entry.HashA = slot.HashA
		entry.HashB = slot.HashB
		entry.Locale = slot.Locale
		entry.Platform = slot.Platform
	}
	return entry
}

// PseudoName returns the placeholder name used for a block whose real name is unknown.
func PseudoName(blockIndex uint32) string {
	return fmt.Sprintf("File%08d.xxx", blockIndex)
}

// parsePseudoName extracts the block index from a "FileNNNNNNNN.ext" name.
func parsePseudoName(name string) (uint32, bool) {
	if len(name) < 13 || !strings.EqualFold(name[:4], "file") || name[12] != '.' {
		return 0, false
	}
	if strings.ContainsAny(name, "\\/") {
		return 0, false
	}
	n, err := strconv.ParseUint(name[4:12], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// EntryByPseudoName resolves a "FileNNNNNNNN.xxx" placeholder to its block.
func (a *Archive) EntryByPseudoName(name string) (*Entry, error) {
	if a.closed {
		return nil, fmt.Errorf("find %s: %w", name, ErrInvalidHandle)
	}
	blockIndex, ok := parsePseudoName(name)
	if !ok || a.mode != "r" || !a.blockExists(blockIndex) {
		return nil, fmt.Errorf("%s: %w", name, ErrFileNotFound)
	}

	idx := uint32(InvalidHashIndex)
	for i := range a.hashTable {
		if a.hashTable[i].BlockIndex == blockIndex {
			idx = uint32(i)
			break
		}
	}

	entry := a.entryAt(idx, blockIndex)
	entry.Name = name
	if known, ok := a.names[nameKey(entry.HashA, entry.HashB)]; ok && idx != InvalidHashIndex {
		entry.Name = known
	}
	return entry, nil
}

// HashEntries returns every live hash slot in table order.
// Name is the known name of the member, or empty when no listfile names it.
func (a *Archive) HashEntries() ([]Entry, error) {
	if a.closed {
		return nil, fmt.Errorf("enumerate %s: %w", a.path, ErrInvalidHandle)
	}

	var entries []Entry
	for i, slot := range a.hashTable {
		if slot.BlockIndex == hashTableEmpty || slot.BlockIndex == hashTableDeleted {
			continue
		}
		if !a.blockExists(slot.BlockIndex) {
			continue
		}
		entry := a.entryAt(uint32(i), slot.BlockIndex)
		entry.Name = a.names[nameKey(slot.HashA, slot.HashB)]
		entries = append(entries, *entry)
	}
	return entries, nil
}

// HashTableSize returns the number of hash table slots.
func (a *Archive) HashTableSize() uint32 { return a.header.HashTableSize }

// BlockTableSize returns the number of block table entries.
func (a *Archive) BlockTableSize() uint32 { return a.header.BlockTableSize }

// SectorSize returns the size of one file sector.
func (a *Archive) SectorSize() uint32 { return a.sectorSize }

// ArchiveSize returns the size of the archive, excluding data before its header.
func (a *Archive) ArchiveSize() uint64 {
	if a.header.ArchiveSize != 0 {
		return uint64(a.header.ArchiveSize)
	}
	return uint64(a.store.Size()) - a.header.ArchiveOffset
}

// ArchiveOffset returns the file position of the archive header.
func (a *Archive) ArchiveOffset() uint64 { return a.header.ArchiveOffset }

// FileCount returns the number of existing members, deletion markers excluded.
func (a *Archive) FileCount() uint32 {
	var n uint32
	for i := range a.blockTable {
		flags := a.blockTable[i].Flags
		if flags&FileExists != 0 && flags&FileDeleteMarker == 0 {
			n++
		}
	}
	return n
}

// StreamFlags returns the storage provider and read-only bits of the archive.
func (a *Archive) StreamFlags() uint32 {
	return a.flags & (OpenProviderMap | OpenReadOnly)
}

// ExtractFile extracts a file from the archive to the specified destination.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// This method is only valid for archives opened with Open.
func (a *Archive) ExtractFile(mpqPath, destPath string) error {
	data, err := a.readMember(mpqPath)
	if err != nil {
		return err
	}

	// Ensure destination directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", ioError(err))
	}

	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", ioError(err))
	}

	return nil
}

// readMember reads a whole member into memory.
func (a *Archive) readMember(mpqPath string) ([]byte, error) {
	f, err := a.OpenFile(mpqPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return f.ReadAll()
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
