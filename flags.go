// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"fmt"

	"github.com/suprsokr/go-storm/mpq"
)

// OpenFlag selects how an archive or patch is opened. Values match StormLib's
// MPQ_OPEN_* and STREAM_PROVIDER_* constants.
type OpenFlag uint32

const (
	OpenProviderMap    OpenFlag = mpq.OpenProviderMap    // memory-map the archive
	OpenNoListfile     OpenFlag = mpq.OpenNoListfile     // skip the internal (listfile)
	OpenNoAttributes   OpenFlag = mpq.OpenNoAttributes   // skip (attributes)
	OpenForceMPQV1     OpenFlag = mpq.OpenForceMPQV1     // ignore extended header fields
	OpenCheckSectorCRC OpenFlag = mpq.OpenCheckSectorCRC // verify checksums while reading
	OpenReadOnly       OpenFlag = mpq.OpenReadOnly       // refuse maintenance writes

	openFlagMask = OpenProviderMap | OpenNoListfile | OpenNoAttributes |
		OpenForceMPQV1 | OpenCheckSectorCRC | OpenReadOnly
)

func (f OpenFlag) validate() error {
	if f&^openFlagMask != 0 {
		return fmt.Errorf("unknown open flags 0x%X: %w", uint32(f&^openFlagMask), mpq.ErrInvalidParameter)
	}
	return nil
}

// Scope controls whether a lookup may fall through to attached patches.
type Scope uint32

const (
	ScopeFromMPQ Scope = 0 // base archive only
	ScopePatched Scope = 1 // highest patch first, then the base
	ScopeByIndex Scope = 2 // open by index; not supported
)

func (s Scope) validate() error {
	switch s {
	case ScopeFromMPQ, ScopePatched:
		return nil
	default:
		return fmt.Errorf("search scope %d: %w", uint32(s), mpq.ErrInvalidParameter)
	}
}

// Whence is the origin of a Seek.
type Whence uint32

const (
	SeekBegin   Whence = mpq.FileBegin
	SeekCurrent Whence = mpq.FileCurrent
	SeekEnd     Whence = mpq.FileEnd
)

func (w Whence) validate() error {
	switch w {
	case SeekBegin, SeekCurrent, SeekEnd:
		return nil
	default:
		return fmt.Errorf("seek origin %d: %w", uint32(w), mpq.ErrInvalidParameter)
	}
}

// InfoKind selects the metadata returned by ArchiveInfo and FileInfo.
// Values follow StormLib's SFILE_INFO_* numbering.
type InfoKind uint32

const (
	InfoArchiveName    InfoKind = 1 // legacy, always rejected
	InfoArchiveSize    InfoKind = 2
	InfoHashTableSize  InfoKind = 3
	InfoBlockTableSize InfoKind = 4
	InfoSectorSize     InfoKind = 5
	InfoHashTable      InfoKind = 6 // legacy, always rejected
	InfoBlockTable     InfoKind = 7 // legacy, always rejected
	InfoNumFiles       InfoKind = 8
	InfoStreamFlags    InfoKind = 9

	InfoHashIndex      InfoKind = 100
	InfoCodeName1      InfoKind = 101
	InfoCodeName2      InfoKind = 102
	InfoLocaleID       InfoKind = 103
	InfoBlockIndex     InfoKind = 104
	InfoFileSize       InfoKind = 105
	InfoCompressedSize InfoKind = 106
	InfoFlags          InfoKind = 107
	InfoPosition       InfoKind = 108
	InfoKey            InfoKind = 109
	InfoKeyUnfixed     InfoKind = 110
	InfoFileTime       InfoKind = 111
)

// Legacy reports whether k is one of the info kinds that are never served.
func (k InfoKind) Legacy() bool {
	return k == InfoArchiveName || k == InfoHashTable || k == InfoBlockTable
}

func (k InfoKind) archiveLevel() bool {
	return k >= InfoArchiveName && k <= InfoStreamFlags
}

func (k InfoKind) fileLevel() bool {
	return k >= InfoHashIndex && k <= InfoFileTime
}

func (k InfoKind) String() string {
	if name, ok := infoKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("InfoKind(%d)", uint32(k))
}

var infoKindNames = map[InfoKind]string{
	InfoArchiveName:    "ArchiveName",
	InfoArchiveSize:    "ArchiveSize",
	InfoHashTableSize:  "HashTableSize",
	InfoBlockTableSize: "BlockTableSize",
	InfoSectorSize:     "SectorSize",
	InfoHashTable:      "HashTable",
	InfoBlockTable:     "BlockTable",
	InfoNumFiles:       "NumFiles",
	InfoStreamFlags:    "StreamFlags",
	InfoHashIndex:      "HashIndex",
	InfoCodeName1:      "CodeName1",
	InfoCodeName2:      "CodeName2",
	InfoLocaleID:       "LocaleID",
	InfoBlockIndex:     "BlockIndex",
	InfoFileSize:       "FileSize",
	InfoCompressedSize: "CompressedSize",
	InfoFlags:          "Flags",
	InfoPosition:       "Position",
	InfoKey:            "Key",
	InfoKeyUnfixed:     "KeyUnfixed",
	InfoFileTime:       "FileTime",
}
