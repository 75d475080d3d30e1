// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"io"
	"strings"
)

// nameKey combines the two name hashes stored in a hash slot.
func nameKey(hashA, hashB uint32) uint64 {
	return uint64(hashA)<<32 | uint64(hashB)
}

// normalizeName converts a listfile line to archive form.
func normalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "/", "\\")
}

// ParseListFile splits listfile content on line breaks and semicolons.
func ParseListFile(data []byte) []string {
	return strings.FieldsFunc(string(data), func(r rune) bool {
		return r == '\r' || r == '\n' || r == ';'
	})
}

// addKnownNames registers names for hash slots without touching the listfile.
func (a *Archive) addKnownNames(names ...string) {
	for _, name := range names {
		if idx, ok := a.findHashIndex(name); ok {
			slot := &a.hashTable[idx]
			a.names[nameKey(slot.HashA, slot.HashB)] = name
		}
	}
}

// AddListNames merges names into the archive's listfile and name index.
// Duplicates (compared case-insensitively) are ignored. It returns the number
// of names that were new to the listfile.
func (a *Archive) AddListNames(names []string) int {
	added := 0
	for _, name := range names {
		name = normalizeName(name)
		if name == "" || len(name) >= MaxPath {
			continue
		}
		key := strings.ToUpper(name)
		if _, seen := a.listSeen[key]; seen {
			continue
		}
		a.listSeen[key] = struct{}{}
		a.listfile = append(a.listfile, name)
		a.addKnownNames(name)
		added++
	}
	return added
}

// AddListFile merges a plain-text listfile into the archive's name index.
func (a *Archive) AddListFile(r io.Reader) (int, error) {
	if a.closed {
		return 0, fmt.Errorf("add listfile: %w", ErrInvalidHandle)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read listfile: %w", ioError(err))
	}
	return a.AddListNames(ParseListFile(data)), nil
}

// ListFile returns the merged listfile names in load order.
// It fails with ErrCanNotComplete when no listfile was ever loaded.
func (a *Archive) ListFile() ([]string, error) {
	if a.closed {
		return nil, fmt.Errorf("listfile: %w", ErrInvalidHandle)
	}
	if len(a.listfile) == 0 {
		return nil, fmt.Errorf("no listfile loaded for %s: %w", a.path, ErrCanNotComplete)
	}
	out := make([]string, len(a.listfile))
	copy(out, a.listfile)
	return out, nil
}

// ListFiles returns the listfile names that exist in the archive.
func (a *Archive) ListFiles() ([]string, error) {
	names, err := a.ListFile()
	if err != nil {
		return nil, err
	}
	files := names[:0]
	for _, name := range names {
		if a.HasFile(name) {
			files = append(files, name)
		}
	}
	return files, nil
}

// KnownName returns the name registered for a hash slot, if any.
func (a *Archive) KnownName(hashIndex uint32) (string, bool) {
	if hashIndex >= uint32(len(a.hashTable)) {
		return "", false
	}
	slot := &a.hashTable[hashIndex]
	name, ok := a.names[nameKey(slot.HashA, slot.HashB)]
	return name, ok
}

// blockName returns a known name for a block, used when re-keying encrypted data.
func (a *Archive) blockName(blockIndex uint32) string {
	for i := range a.hashTable {
		if a.hashTable[i].BlockIndex == blockIndex {
			if name, ok := a.KnownName(uint32(i)); ok {
				return name
			}
		}
	}
	return ""
}
