// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	attributesVersion = 100

	attributesFlagCRC32    = 0x00000001
	attributesFlagFileTime = 0x00000002
	attributesFlagMD5      = 0x00000004
	attributesFlagPatchBit = 0x00000008
)

// attributes holds the per-block arrays of the (attributes) file.
// Arrays missing from the file are nil.
type attributes struct {
	flags    uint32
	crc32    []uint32
	fileTime []uint64
	md5      [][16]byte
	patchBit []bool
}

// parseAttributes decodes an (attributes) file for blockCount blocks.
// Sections that are truncated are dropped rather than rejected.
func parseAttributes(data []byte, blockCount int) *attributes {
	if len(data) < 8 || binary.LittleEndian.Uint32(data[0:4]) != attributesVersion {
		return nil
	}

	attrs := &attributes{flags: binary.LittleEndian.Uint32(data[4:8])}
	data = data[8:]

	if attrs.flags&attributesFlagCRC32 != 0 {
		if len(data) < blockCount*4 {
			return attrs
		}
		attrs.crc32 = make([]uint32, blockCount)
		for i := range attrs.crc32 {
			attrs.crc32[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
		data = data[blockCount*4:]
	}

	if attrs.flags&attributesFlagFileTime != 0 {
		if len(data) < blockCount*8 {
			return attrs
		}
		attrs.fileTime = make([]uint64, blockCount)
		for i := range attrs.fileTime {
			attrs.fileTime[i] = binary.LittleEndian.Uint64(data[i*8:])
		}
		data = data[blockCount*8:]
	}

	if attrs.flags&attributesFlagMD5 != 0 {
		if len(data) < blockCount*16 {
			return attrs
		}
		attrs.md5 = make([][16]byte, blockCount)
		for i := range attrs.md5 {
			copy(attrs.md5[i][:], data[i*16:])
		}
		data = data[blockCount*16:]
	}

	if attrs.flags&attributesFlagPatchBit != 0 && len(data) >= (blockCount+7)/8 {
		attrs.patchBit = make([]bool, blockCount)
		for i := range attrs.patchBit {
			attrs.patchBit[i] = data[i/8]&(1<<(i%8)) != 0
		}
	}

	return attrs
}

func (a *attributes) crcOf(blockIndex uint32) (uint32, bool) {
	if a == nil || int(blockIndex) >= len(a.crc32) {
		return 0, false
	}
	return a.crc32[blockIndex], true
}

func (a *attributes) fileTimeOf(blockIndex uint32) (uint64, bool) {
	if a == nil || int(blockIndex) >= len(a.fileTime) {
		return 0, false
	}
	return a.fileTime[blockIndex], true
}

// reorder returns the attributes for a rebuilt block table. newIndex maps old
// block indices to new ones; entries mapped to -1 are dropped.
func (a *attributes) reorder(newIndex []int, blockCount int) *attributesWriter {
	w := newAttributesWriter(blockCount)
	if a == nil {
		return w
	}
	for old, idx := range newIndex {
		if idx < 0 {
			continue
		}
		if crc, ok := a.crcOf(uint32(old)); ok {
			w.crc32[idx] = crc
		}
		if ft, ok := a.fileTimeOf(uint32(old)); ok {
			w.fileTime[idx] = ft
		}
	}
	return w
}

type attributesWriter struct {
	crc32    []uint32
	fileTime []uint64
}

func newAttributesWriter(fileCount int) *attributesWriter {
	return &attributesWriter{
		crc32:    make([]uint32, fileCount),
		fileTime: make([]uint64, fileCount),
	}
}

func (a *attributesWriter) setEntry(index int, data []byte, fileTime uint64) {
	if index < 0 || index >= len(a.crc32) {
		return
	}
	if data == nil {
		// Placeholder entries like the attributes file itself carry no checksum
		a.crc32[index] = 0
	} else {
		a.crc32[index] = crc32.ChecksumIEEE(data)
	}
	a.fileTime[index] = fileTime
}

func (a *attributesWriter) build() []byte {
	if len(a.crc32) == 0 {
		return nil
	}

	data := make([]byte, 8+len(a.crc32)*12)
	binary.LittleEndian.PutUint32(data[0:4], attributesVersion)
	binary.LittleEndian.PutUint32(data[4:8], attributesFlagCRC32|attributesFlagFileTime)

	offset := 8
	for _, value := range a.crc32 {
		binary.LittleEndian.PutUint32(data[offset:], value)
		offset += 4
	}
	for _, value := range a.fileTime {
		binary.LittleEndian.PutUint64(data[offset:], value)
		offset += 8
	}

	return data
}
