// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
	"hash/adler32"
	"hash/crc32"
	"io"
	"math"
)

// InvalidSize is returned in the low half of a size or position on failure.
const InvalidSize = 0xFFFFFFFF

// Seek origins for SetFilePointer.
const (
	FileBegin   = 0
	FileCurrent = 1
	FileEnd     = 2
)

// File is an open archive member. Reads decode one sector (or the whole
// single-unit file) at a time and keep the last decoded unit cached.
type File struct {
	archive    *Archive
	entry      Entry
	key        uint32
	pos        uint64
	offsets    []uint32
	sectorCRCs []uint32
	cache      []byte
	cacheIndex int64
	closed     bool
}

// OpenFile opens a member by name. Placeholder names of the form
// "FileNNNNNNNN.xxx" open the member by block index.
func (a *Archive) OpenFile(mpqPath string) (*File, error) {
	entry, err := a.FindEntry(mpqPath)
	if err != nil {
		pseudo, perr := a.EntryByPseudoName(mpqPath)
		if perr != nil {
			return nil, err
		}
		entry = pseudo
	}
	return a.OpenEntry(entry)
}

// OpenEntry opens the member an Entry describes.
func (a *Archive) OpenEntry(entry *Entry) (*File, error) {
	if a.closed {
		return nil, fmt.Errorf("open %s: %w", entry.Name, ErrInvalidHandle)
	}
	if a.mode != "r" {
		return nil, fmt.Errorf("open %s: archive not opened for reading: %w", entry.Name, ErrAccessDenied)
	}
	if entry.BlockIndex >= uint32(len(a.blockTable)) {
		return nil, fmt.Errorf("open %s: block %d: %w", entry.Name, entry.BlockIndex, ErrInvalidParameter)
	}
	if entry.Flags&FileDeleteMarker != 0 {
		return nil, fmt.Errorf("open %s: %w", entry.Name, ErrMarkedForDelete)
	}

	f := &File{archive: a, entry: *entry, cacheIndex: -1}

	if entry.Flags&FileEncrypted != 0 {
		if _, pseudo := parsePseudoName(entry.Name); pseudo || entry.Name == "" {
			return nil, fmt.Errorf("open %s: %w", entry.Name, ErrUnknownFileKey)
		}
		f.key = getFileKey(entry.Name, entry.FilePos, entry.FileSize, entry.Flags)
	}

	if f.sectored() && entry.Flags&fileCompressMask != 0 && entry.FileSize > 0 {
		if err := f.loadSectorOffsets(); err != nil {
			return nil, fmt.Errorf("open %s: %w", entry.Name, err)
		}
	}

	a.openFiles++
	return f, nil
}

func (f *File) sectored() bool {
	return f.entry.Flags&FileSingleUnit == 0
}

func (f *File) sectorCount() uint32 {
	size := f.archive.sectorSize
	return (f.entry.FileSize + size - 1) / size
}

// sectorLen returns the uncompressed length of sector i.
func (f *File) sectorLen(i uint32) uint32 {
	size := f.archive.sectorSize
	if rest := f.entry.FileSize - i*size; rest < size {
		return rest
	}
	return size
}

// loadSectorOffsets reads and validates the sector offset table.
func (f *File) loadSectorOffsets() error {
	count := f.sectorCount() + 1
	if f.entry.Flags&FileSectorCRC != 0 {
		count++
	}

	raw, err := f.archive.readRaw(f.entry.FilePos, count*4)
	if err != nil {
		return fmt.Errorf("read sector offsets: %w", err)
	}
	if f.entry.Flags&FileEncrypted != 0 {
		decryptBytes(raw, f.key-1)
	}

	offsets := bytesToWords(raw)
	if offsets[0] != count*4 {
		return fmt.Errorf("sector offset table starts at %d, want %d: %w", offsets[0], count*4, ErrFileCorrupt)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] || offsets[i] > f.entry.CompressedSize {
			return fmt.Errorf("sector offset %d out of range: %w", i, ErrFileCorrupt)
		}
	}
	f.offsets = offsets

	if f.entry.Flags&FileSectorCRC != 0 && f.archive.flags&OpenCheckSectorCRC != 0 {
		return f.loadSectorCRCs()
	}
	return nil
}

// loadSectorCRCs reads the adler32 array that follows the last sector.
func (f *File) loadSectorCRCs() error {
	n := f.sectorCount()
	start, end := f.offsets[n], f.offsets[n+1]
	if end == start {
		return nil
	}

	raw, err := f.archive.readRaw(f.entry.FilePos+uint64(start), end-start)
	if err != nil {
		return fmt.Errorf("read sector checksums: %w", err)
	}
	if uint32(len(raw)) < n*4 {
		raw, err = decompressData(raw, n*4)
		if err != nil {
			return fmt.Errorf("decompress sector checksums: %w", err)
		}
	}
	f.sectorCRCs = bytesToWords(raw[:n*4])
	return nil
}

// readRaw reads n stored bytes at a block-relative position.
func (a *Archive) readRaw(pos uint64, n uint32) ([]byte, error) {
	off := a.header.ArchiveOffset + pos
	if off+uint64(n) > uint64(a.store.Size()) {
		return nil, fmt.Errorf("data past end of archive: %w", ErrFileCorrupt)
	}
	buf := make([]byte, n)
	if _, err := a.store.ReadAt(buf, int64(off)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("data past end of archive: %w", ErrFileCorrupt)
		}
		return nil, ioError(err)
	}
	return buf, nil
}

// loadUnit returns the decoded bytes of sector i (or of the whole file for
// single-unit members).
func (f *File) loadUnit(i uint32) ([]byte, error) {
	if f.cacheIndex == int64(i) {
		return f.cache, nil
	}

	var (
		data []byte
		err  error
	)
	switch {
	case !f.sectored():
		data, err = f.readSingleUnit()
	case f.offsets != nil:
		data, err = f.readCompressedSector(i)
	default:
		data, err = f.readPlainSector(i)
	}
	if err != nil {
		return nil, err
	}

	f.cache = data
	f.cacheIndex = int64(i)
	return data, nil
}

func (f *File) readSingleUnit() ([]byte, error) {
	raw, err := f.archive.readRaw(f.entry.FilePos, f.entry.CompressedSize)
	if err != nil {
		return nil, err
	}
	if f.entry.Flags&FileEncrypted != 0 {
		decryptBytes(raw, f.key)
	}
	return f.decode(raw, f.entry.FileSize)
}

func (f *File) readCompressedSector(i uint32) ([]byte, error) {
	start, end := f.offsets[i], f.offsets[i+1]
	raw, err := f.archive.readRaw(f.entry.FilePos+uint64(start), end-start)
	if err != nil {
		return nil, err
	}
	if f.entry.Flags&FileEncrypted != 0 {
		decryptBytes(raw, f.key+i)
	}
	if f.sectorCRCs != nil && f.sectorCRCs[i] != 0 && adler32.Checksum(raw) != f.sectorCRCs[i] {
		return nil, fmt.Errorf("sector %d of %s: %w", i, f.entry.Name, ErrChecksum)
	}
	return f.decode(raw, f.sectorLen(i))
}

func (f *File) readPlainSector(i uint32) ([]byte, error) {
	raw, err := f.archive.readRaw(f.entry.FilePos+uint64(i)*uint64(f.archive.sectorSize), f.sectorLen(i))
	if err != nil {
		return nil, err
	}
	if f.entry.Flags&FileEncrypted != 0 {
		decryptBytes(raw, f.key+i)
	}
	return raw, nil
}

// decode decompresses one stored unit when it is smaller than its expected size.
func (f *File) decode(raw []byte, want uint32) ([]byte, error) {
	if uint32(len(raw)) >= want {
		return raw[:want], nil
	}
	if f.entry.Flags&fileCompressMask == 0 {
		return nil, fmt.Errorf("%s: stored %d bytes, want %d: %w", f.entry.Name, len(raw), want, ErrFileCorrupt)
	}
	if f.entry.Flags&FileImplode != 0 {
		return nil, fmt.Errorf("imploded data: %w", ErrNotSupported)
	}
	return decompressData(raw, want)
}

// Read reads up to len(p) bytes from the current position. When the end of
// the member is reached before p is filled, the bytes read so far are
// returned together with ErrHandleEOF.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("read: %w", ErrInvalidHandle)
	}

	size := uint64(f.entry.FileSize)
	n := 0
	for n < len(p) && f.pos < size {
		unit, unitStart := uint32(0), uint64(0)
		if f.sectored() {
			unit = uint32(f.pos / uint64(f.archive.sectorSize))
			unitStart = uint64(unit) * uint64(f.archive.sectorSize)
		}

		data, err := f.loadUnit(unit)
		if err != nil {
			return n, fmt.Errorf("read %s: %w", f.entry.Name, err)
		}

		c := copy(p[n:], data[f.pos-unitStart:])
		n += c
		f.pos += uint64(c)
	}

	if n < len(p) {
		return n, ErrHandleEOF
	}
	return n, nil
}

// ReadAll reads from the current position to the end of the member. When the
// archive was opened with OpenCheckSectorCRC and the whole member was read,
// its CRC32 is checked against the (attributes) file.
func (f *File) ReadAll() ([]byte, error) {
	if f.closed {
		return nil, fmt.Errorf("read: %w", ErrInvalidHandle)
	}

	start := f.pos
	var remaining uint64
	if size := uint64(f.entry.FileSize); start < size {
		remaining = size - start
	}

	buf := make([]byte, remaining)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, ErrHandleEOF) {
		return nil, err
	}
	buf = buf[:n]

	if start == 0 && f.archive.flags&OpenCheckSectorCRC != 0 {
		if want, ok := f.archive.attributes.crcOf(f.entry.BlockIndex); ok && want != 0 {
			if got := crc32.ChecksumIEEE(buf); got != want {
				return nil, fmt.Errorf("%s: crc32 0x%08X, want 0x%08X: %w", f.entry.Name, got, want, ErrChecksum)
			}
		}
	}

	return buf, nil
}

// SetFilePointer moves the read position. The distance is passed as two
// 32-bit halves and interpreted as a signed 64-bit value; the new position
// is returned the same way.
func (f *File) SetFilePointer(distLow, distHigh uint32, method uint32) (uint32, uint32, error) {
	if f.closed {
		return InvalidSize, 0, fmt.Errorf("seek: %w", ErrInvalidHandle)
	}

	var base int64
	switch method {
	case FileBegin:
		base = 0
	case FileCurrent:
		base = int64(f.pos)
	case FileEnd:
		base = int64(f.entry.FileSize)
	default:
		return InvalidSize, 0, fmt.Errorf("seek method %d: %w", method, ErrInvalidParameter)
	}

	dist := int64(uint64(distHigh)<<32 | uint64(distLow))
	if (dist > 0 && base > math.MaxInt64-dist) || base+dist < 0 {
		return InvalidSize, 0, fmt.Errorf("seek to %d%+d: %w", base, dist, ErrInvalidParameter)
	}

	f.pos = uint64(base + dist)
	return uint32(f.pos), uint32(f.pos >> 32), nil
}

// GetFileSize returns the uncompressed size as two 32-bit halves.
func (f *File) GetFileSize() (uint32, uint32, error) {
	if f.closed {
		return InvalidSize, 0, fmt.Errorf("size: %w", ErrInvalidHandle)
	}
	return f.entry.FileSize, 0, nil
}

// Name returns the name the member was opened with.
func (f *File) Name() (string, error) {
	if f.closed {
		return "", fmt.Errorf("name: %w", ErrInvalidHandle)
	}
	if len(f.entry.Name) >= MaxPath {
		return "", fmt.Errorf("name of %d bytes: %w", len(f.entry.Name), ErrInsufficientBuffer)
	}
	return f.entry.Name, nil
}

// Entry returns the directory entry the file was opened from.
func (f *File) Entry() Entry { return f.entry }

// Position returns the current read position.
func (f *File) Position() uint64 { return f.pos }

// Key returns the encryption key of the member, adjusted for FIX_KEY.
func (f *File) Key() uint32 {
	return getFileKey(f.entry.Name, f.entry.FilePos, f.entry.FileSize, f.entry.Flags)
}

// KeyUnfixed returns the key derived from the plain file name only.
func (f *File) KeyUnfixed() uint32 {
	return hashString(plainName(f.entry.Name), hashTypeFileKey)
}

// FileTime returns the FILETIME stored for the member in (attributes), or 0.
func (f *File) FileTime() uint64 {
	ft, _ := f.archive.attributes.fileTimeOf(f.entry.BlockIndex)
	return ft
}

// Close releases the file.
func (f *File) Close() error {
	if f.closed {
		return fmt.Errorf("close %s: %w", f.entry.Name, ErrInvalidHandle)
	}
	f.closed = true
	f.cache = nil
	f.archive.openFiles--
	return nil
}
