// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"sync"
	"sync/atomic"

	"github.com/suprsokr/go-storm/mpq"
)

// ArchiveHandle identifies an open archive.
type ArchiveHandle uint64

// FileHandle identifies an open member stream.
type FileHandle uint64

// FindHandle identifies an active directory search.
type FindHandle uint64

// handleTable maps opaque handles to live records. Values come from a
// counter shared by all tables of one Storm, so a handle is never issued
// twice and never resolves after revocation.
type handleTable[H ~uint64, T any] struct {
	mu      sync.RWMutex
	next    *atomic.Uint64
	records map[H]T
}

func newHandleTable[H ~uint64, T any](counter *atomic.Uint64) *handleTable[H, T] {
	return &handleTable[H, T]{next: counter, records: make(map[H]T)}
}

func (t *handleTable[H, T]) register(v T) H {
	h := H(t.next.Add(1))
	t.mu.Lock()
	t.records[h] = v
	t.mu.Unlock()
	return h
}

func (t *handleTable[H, T]) resolve(h H) (T, error) {
	t.mu.RLock()
	v, ok := t.records[h]
	t.mu.RUnlock()
	if !ok {
		var zero T
		return zero, mpq.ErrInvalidHandle
	}
	return v, nil
}

// revoke removes h and returns the record it held.
func (t *handleTable[H, T]) revoke(h H) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.records[h]
	delete(t.records, h)
	return v, ok
}

func (t *handleTable[H, T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
