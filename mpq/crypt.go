// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "encoding/binary"

// Hash types for the hash function
const (
	hashTypeTableOffset = 0
	hashTypeNameA       = 1
	hashTypeNameB       = 2
	hashTypeFileKey     = 3
)

// cryptTable is the encryption/hash lookup table
var cryptTable [0x500]uint32

// Keys of the hash and block tables.
var (
	hashTableKey  uint32
	blockTableKey uint32
)

func init() {
	// Initialize the encryption table using the standard MPQ algorithm
	seed := uint32(0x00100001)

	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10

			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF

			cryptTable[index2] = temp1 | temp2
			index2 += 0x100
		}
	}

	hashTableKey = hashString("(hash table)", hashTypeFileKey)
	blockTableKey = hashString("(block table)", hashTypeFileKey)
}

// hashString computes the MPQ hash of a string.
// Lookups are case-insensitive and treat '/' as '\'.
func hashString(s string, hashType uint32) uint32 {
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)

	for i := 0; i < len(s); i++ {
		ch := uint32(s[i])
		if ch >= 'a' && ch <= 'z' {
			ch -= 0x20
		}
		if ch == '/' {
			ch = '\\'
		}

		seed1 = cryptTable[hashType*0x100+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}

	return seed1
}

// encryptBlock encrypts a block of data in place
func encryptBlock(data []uint32, key uint32) {
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := data[i]
		data[i] = plain ^ (key + seed)
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
	}
}

// decryptBlock decrypts a block of data in place
func decryptBlock(data []uint32, key uint32) {
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := data[i] ^ (key + seed)
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
		data[i] = plain
	}
}

// decryptBytes decrypts a byte slice in place.
// Only whole dwords are encrypted; a trailing partial dword is stored as-is.
func decryptBytes(data []byte, key uint32) {
	words := bytesToWords(data)
	decryptBlock(words, key)
	wordsToBytes(words, data)
}

// encryptBytes is the inverse of decryptBytes.
func encryptBytes(data []byte, key uint32) {
	words := bytesToWords(data)
	encryptBlock(words, key)
	wordsToBytes(words, data)
}

func bytesToWords(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

func wordsToBytes(words []uint32, data []byte) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
}

// getFileKey computes the encryption key for a file
// based on its filename and block offset
func getFileKey(filename string, blockOffset uint64, fileSize uint32, flags uint32) uint32 {
	key := hashString(plainName(filename), hashTypeFileKey)

	if flags&FileFixKey != 0 {
		key = (key + uint32(blockOffset)) ^ fileSize
	}

	return key
}

// plainName strips the directory part of an archive path.
func plainName(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\\' || s[i] == '/' {
			return s[i+1:]
		}
	}
	return s
}
