// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compression type constants
const (
	compressionHuffman   = 0x01 // Huffman (used on wave files only)
	compressionZlib      = 0x02 // Zlib compression
	compressionPKWare    = 0x08 // PKWare DCL compression
	compressionBzip2     = 0x10 // BZip2 compression
	compressionSparse    = 0x20 // Sparse/RLE compression (SC2+)
	compressionADPCMMono = 0x40 // ADPCM mono audio
	compressionADPCM     = 0x80 // ADPCM stereo audio
	compressionLZMA      = 0x12 // LZMA compression (SC2+)
)

// compressData compresses data using zlib, prefixed with the compression type byte.
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(compressionZlib)

	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}

	return buf.Bytes(), nil
}

// decompressData decompresses one MPQ-compressed unit (a sector or a single-unit file).
// Only zlib and bzip2 are decoded; the audio and PKWare codecs are reported as
// ErrNotSupported.
func decompressData(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty compressed data: %w", ErrFileCorrupt)
	}

	compressionType := data[0]
	data = data[1:]

	switch compressionType {
	case compressionZlib:
		return decompressZlib(data, uncompressedSize)
	case compressionBzip2:
		return decompressBzip2(data, uncompressedSize)
	case compressionPKWare:
		return nil, fmt.Errorf("PKWare implode: %w", ErrNotSupported)
	case compressionLZMA:
		return nil, fmt.Errorf("LZMA: %w", ErrNotSupported)
	case compressionSparse:
		return nil, fmt.Errorf("sparse: %w", ErrNotSupported)
	}

	if compressionType&(compressionHuffman|compressionADPCMMono|compressionADPCM) != 0 {
		return nil, fmt.Errorf("audio compression 0x%02X: %w", compressionType, ErrNotSupported)
	}

	return nil, fmt.Errorf("unknown compression type 0x%02X: %w", compressionType, ErrFileCorrupt)
}

// decompressZlib decompresses zlib-compressed data
func decompressZlib(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w: %w", ErrFileCorrupt, err)
	}
	defer r.Close()

	return readDecompressed(r, uncompressedSize, "zlib")
}

// decompressBzip2 decompresses bzip2-compressed data
func decompressBzip2(data []byte, uncompressedSize uint32) ([]byte, error) {
	return readDecompressed(bzip2.NewReader(bytes.NewReader(data)), uncompressedSize, "bzip2")
}

func readDecompressed(r io.Reader, uncompressedSize uint32, codec string) ([]byte, error) {
	result := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%s decompress: %w: %w", codec, ErrFileCorrupt, err)
	}
	if uint32(n) != uncompressedSize {
		return nil, fmt.Errorf("%s decompress: got %d bytes, want %d: %w", codec, n, uncompressedSize, ErrFileCorrupt)
	}

	return result, nil
}
