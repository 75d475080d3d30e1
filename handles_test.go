// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/suprsokr/go-storm/mpq"
)

func TestHandleTable(t *testing.T) {
	var counter atomic.Uint64
	archives := newHandleTable[ArchiveHandle, string](&counter)
	files := newHandleTable[FileHandle, int](&counter)

	a := archives.register("base")
	f := files.register(7)
	assert.NotEqual(t, uint64(a), uint64(f))

	v, err := archives.resolve(a)
	assert.NoError(t, err)
	assert.Equal(t, "base", v)

	_, err = archives.resolve(ArchiveHandle(f))
	assert.ErrorIs(t, err, mpq.ErrInvalidHandle)

	got, ok := files.revoke(f)
	assert.True(t, ok)
	assert.Equal(t, 7, got)
	_, ok = files.revoke(f)
	assert.False(t, ok)
	_, err = files.resolve(f)
	assert.ErrorIs(t, err, mpq.ErrInvalidHandle)

	assert.Equal(t, 1, archives.len())
	assert.Zero(t, files.len())
}

func TestHandleTableConcurrentRegister(t *testing.T) {
	var counter atomic.Uint64
	table := newHandleTable[FindHandle, int](&counter)

	var wg sync.WaitGroup
	handles := make([]FindHandle, 64)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = table.register(i)
		}(i)
	}
	wg.Wait()

	seen := make(map[FindHandle]bool)
	for i, h := range handles {
		assert.NotZero(t, h)
		assert.False(t, seen[h])
		seen[h] = true

		v, err := table.resolve(h)
		assert.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, len(handles), table.len())
}
