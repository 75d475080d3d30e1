// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// Compact rewrites the archive so that it contains only blocks reachable from
// the hash table, in their original order. Encrypted members whose key
// depends on their position are re-keyed, which requires their names; names
// adds candidates to the ones already known from the listfile.
//
// progress, when non-nil, is called after each copied block with the number
// of stored bytes copied so far and the total.
func (a *Archive) Compact(names []string, progress func(done, total uint64)) error {
	if a.closed {
		return fmt.Errorf("compact: %w", ErrInvalidHandle)
	}
	if a.mode != "r" || a.flags&OpenReadOnly != 0 {
		return fmt.Errorf("compact %s: archive is read-only: %w", a.path, ErrAccessDenied)
	}
	if a.openFiles > 0 {
		return fmt.Errorf("compact %s: %d files open: %w", a.path, a.openFiles, ErrBusy)
	}

	a.AddListNames(names)

	newIndex := make([]int, len(a.blockTable))
	for i := range newIndex {
		newIndex[i] = -1
	}
	for _, slot := range a.hashTable {
		if slot.BlockIndex < uint32(len(a.blockTable)) && a.blockExists(slot.BlockIndex) {
			newIndex[slot.BlockIndex] = 0
		}
	}

	var count int
	var total uint64
	attributesBlock := -1
	if idx, ok := a.findHashIndex(AttributesName); ok {
		attributesBlock = int(a.hashTable[idx].BlockIndex)
	}
	for old := range newIndex {
		if newIndex[old] < 0 {
			continue
		}
		newIndex[old] = count
		count++
		if old != attributesBlock {
			total += uint64(a.blockTable[old].CompressedSize)
		}
	}

	temp, err := os.CreateTemp(filepath.Dir(a.path), "mpq_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", ioError(err))
	}
	tempPath := temp.Name()
	committed := false
	defer func() {
		if !committed {
			temp.Close()
			os.Remove(tempPath)
		}
	}()

	shadow, err := a.copyBlocks(temp, newIndex, count, attributesBlock, total, progress)
	if err != nil {
		return err
	}
	if err := shadow.writeTables(temp); err != nil {
		return err
	}
	if err := temp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tempPath, ioError(err))
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tempPath, ioError(err))
	}

	if err := a.replaceWith(tempPath); err != nil {
		return err
	}
	committed = true
	return nil
}

// copyBlocks writes the prefix, a header placeholder and every kept block to
// w. It returns an archive holding the rebuilt tables.
func (a *Archive) copyBlocks(w *os.File, newIndex []int, count, attributesBlock int, total uint64, progress func(done, total uint64)) (*Archive, error) {
	base := a.header.ArchiveOffset
	if base > 0 {
		if _, err := io.Copy(w, io.NewSectionReader(a.store, 0, int64(base))); err != nil {
			return nil, fmt.Errorf("copy user data: %w", ioError(err))
		}
	}
	if _, err := w.Write(make([]byte, a.header.HeaderSize)); err != nil {
		return nil, fmt.Errorf("reserve header: %w", ioError(err))
	}

	header := *a.header
	shadow := &Archive{
		header:        &header,
		hashTable:     make([]hashTableEntry, len(a.hashTable)),
		blockTable:    make([]blockTableEntryEx, count),
		formatVersion: a.formatVersion,
		sectorSize:    a.sectorSize,
	}

	pos := uint64(a.header.HeaderSize)
	var done uint64
	for old, idx := range newIndex {
		if idx < 0 || old == attributesBlock {
			continue
		}

		block := a.blockTable[old]
		data, err := a.readRaw(block.getFilePos64(), block.CompressedSize)
		if err != nil {
			return nil, fmt.Errorf("read block %d: %w", old, err)
		}

		if block.Flags&(FileEncrypted|FileFixKey) == FileEncrypted|FileFixKey && pos != block.getFilePos64() && len(data) > 0 {
			name := a.blockName(uint32(old))
			if name == "" {
				return nil, fmt.Errorf("re-key block %d: %w", old, ErrUnknownFileKey)
			}
			oldKey := getFileKey(name, block.getFilePos64(), block.FileSize, block.Flags)
			newKey := getFileKey(name, pos, block.FileSize, block.Flags)
			if err := a.recrypt(data, &block, oldKey, newKey); err != nil {
				return nil, fmt.Errorf("re-key %s: %w", name, err)
			}
		}

		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("write block %d: %w", old, ioError(err))
		}
		block.setFilePos64(pos)
		shadow.blockTable[idx] = block
		pos += uint64(len(data))

		done += uint64(len(data))
		if progress != nil {
			progress(done, total)
		}
	}

	if attributesBlock >= 0 {
		data, err := a.rebuildAttributes(newIndex, count, attributesBlock)
		if err != nil {
			return nil, err
		}
		stored, flags, err := shadow.encodeBlock(AttributesName, pos, data, FileCompress|FileSingleUnit)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(stored); err != nil {
			return nil, fmt.Errorf("write attributes: %w", ioError(err))
		}
		block := blockTableEntryEx{blockTableEntry: blockTableEntry{
			CompressedSize: uint32(len(stored)),
			FileSize:       uint32(len(data)),
			Flags:          flags | FileExists,
		}}
		block.setFilePos64(pos)
		shadow.blockTable[newIndex[attributesBlock]] = block
	}

	for i, slot := range a.hashTable {
		switch {
		case slot.BlockIndex == hashTableEmpty || slot.BlockIndex == hashTableDeleted:
		case slot.BlockIndex < uint32(len(newIndex)) && newIndex[slot.BlockIndex] >= 0:
			slot.BlockIndex = uint32(newIndex[slot.BlockIndex])
		default:
			// Keep the probe chain intact for slots whose block is gone
			slot.BlockIndex = hashTableDeleted
		}
		shadow.hashTable[i] = slot
	}

	return shadow, nil
}

// rebuildAttributes returns (attributes) content for the compacted block table.
func (a *Archive) rebuildAttributes(newIndex []int, count, attributesBlock int) ([]byte, error) {
	attrs := a.attributes
	if attrs == nil {
		// Loading may have been skipped with OpenNoAttributes
		if data, err := a.readMember(AttributesName); err == nil {
			attrs = parseAttributes(data, len(a.blockTable))
		}
	}
	w := attrs.reorder(newIndex, count)
	w.setEntry(newIndex[attributesBlock], nil, 0)
	return w.build(), nil
}

// recrypt re-encrypts stored block data from oldKey to newKey in place.
func (a *Archive) recrypt(data []byte, block *blockTableEntryEx, oldKey, newKey uint32) error {
	if block.Flags&FileSingleUnit != 0 {
		decryptBytes(data, oldKey)
		encryptBytes(data, newKey)
		return nil
	}

	sectorSize := a.sectorSize
	count := (block.FileSize + sectorSize - 1) / sectorSize

	if block.Flags&fileCompressMask == 0 {
		for i := uint32(0); i < count; i++ {
			start := i * sectorSize
			end := min(start+sectorSize, uint32(len(data)))
			decryptBytes(data[start:end], oldKey+i)
			encryptBytes(data[start:end], newKey+i)
		}
		return nil
	}

	tableLen := count + 1
	if block.Flags&FileSectorCRC != 0 {
		tableLen++
	}
	if uint32(len(data)) < tableLen*4 {
		return fmt.Errorf("sector offset table truncated: %w", ErrFileCorrupt)
	}
	table := data[:tableLen*4]
	decryptBytes(table, oldKey-1)
	offsets := bytesToWords(table)
	encryptBytes(table, newKey-1)

	for i := uint32(0); i < count; i++ {
		start, end := offsets[i], offsets[i+1]
		if start > end || end > uint32(len(data)) {
			return fmt.Errorf("sector %d out of range: %w", i, ErrFileCorrupt)
		}
		decryptBytes(data[start:end], oldKey+i)
		encryptBytes(data[start:end], newKey+i)
	}
	return nil
}

// replaceWith swaps the archive file for the compacted copy at tempPath and
// reloads it, carrying the merged listfile over.
func (a *Archive) replaceWith(tempPath string) error {
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close %s: %w", a.path, ioError(err))
	}

	renameErr := os.Rename(tempPath, a.path)

	fresh, err := OpenArchive(a.path, a.flags)
	if err != nil {
		a.closed = true
		return fmt.Errorf("reopen %s: %w", a.path, err)
	}
	if renameErr != nil {
		// The original file is untouched, keep working on it
		a.store = fresh.store
		return fmt.Errorf("replace %s: %w", a.path, ioError(renameErr))
	}

	fresh.AddListNames(a.listfile)
	fresh.dirty = true
	*a = *fresh
	return nil
}

// Flush makes changes made by Compact durable.
func (a *Archive) Flush() error {
	if a.closed {
		return fmt.Errorf("flush: %w", ErrInvalidHandle)
	}
	if !a.dirty || a.mode != "r" {
		return nil
	}
	if err := a.store.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", a.path, ioError(err))
	}
	if err := syncDir(filepath.Dir(a.path)); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Dir(a.path), ioError(err))
	}
	a.dirty = false
	return nil
}

// syncDir makes the rename that replaced the archive durable.
func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()

	// Windows and some filesystems cannot fsync a directory
	if err := dir.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, errors.ErrUnsupported) {
		return err
	}
	return nil
}
