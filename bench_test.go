// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/suprsokr/go-storm/mpq"
)

// openChain builds a base archive with patches-1 overlays, each holding the
// same file names, and returns the open handle.
func openChain(b *testing.B, s *Storm, patches, files int) ArchiveHandle {
	b.Helper()

	dir := b.TempDir()
	var paths []string
	for i := 0; i < patches; i++ {
		members := make([]member, 0, files)
		for j := 0; j < files; j++ {
			members = append(members, member{
				name:  fmt.Sprintf("Data\\File_%02d.txt", j),
				data:  []byte(fmt.Sprintf("test content %d %d", i, j)),
				flags: mpq.FileCompress,
			})
		}
		paths = append(paths, writeArchive(b, dir, fmt.Sprintf("archive_%d.mpq", i), members...))
	}

	h, err := s.OpenArchive(paths[0], 0, 0)
	if err != nil {
		b.Fatal(err)
	}
	for _, p := range paths[1:] {
		if err := s.AttachPatch(h, p, "", 0); err != nil {
			b.Fatal(err)
		}
	}
	return h
}

func BenchmarkPatchedHasFile(b *testing.B) {
	s := New()
	h := openChain(b, s, 5, 20)
	defer s.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.HasFile(h, "Data\\File_00.txt")
		s.HasFile(h, "Data\\File_09.txt")
		s.HasFile(h, "Data\\File_19.txt")
		s.HasFile(h, "Data\\NonExistent.txt")
	}
}

func BenchmarkPatchedExtract(b *testing.B) {
	s := New()
	h := openChain(b, s, 3, 10)
	defer s.Close()

	dest := filepath.Join(b.TempDir(), "extracted.txt")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.ExtractFile(h, "Data\\File_00.txt", dest, ScopePatched); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFindAll(b *testing.B) {
	s := New()
	h := openChain(b, s, 5, 20)
	defer s.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fh, _, err := s.FindFirstFile(h, "*")
		if err != nil {
			b.Fatal(err)
		}
		for {
			if _, err := s.FindNextFile(fh); err != nil {
				break
			}
		}
		s.FindClose(fh)
	}
}
