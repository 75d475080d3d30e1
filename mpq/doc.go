// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq is the archive engine behind storm: a pure Go reader and writer
for MPQ (Mo'PaQ) archives, format versions 1 and 2.

# Reading

[OpenArchive] locates the header (also behind a user-data prefix), decrypts
the hash and block tables and loads the (listfile) and (attributes) special
files unless told not to. Members are opened with [Archive.OpenFile] or, once
located, with [Archive.OpenEntry]:

	archive, err := mpq.OpenArchive("game.mpq", mpq.OpenCheckSectorCRC)
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	f, err := archive.OpenFile("Data\\file.txt")
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	data, err := f.ReadAll()

A [File] reads single-unit and sectored members, compressed (zlib, bzip2)
or stored, encrypted with or without the offset-adjusted key. With
[OpenCheckSectorCRC] every sector is verified against its Adler-32 checksum
and whole-member reads against the CRC32 in (attributes).

Members whose names are unknown are reachable through pseudo names of the
form File00000000.xxx, see [PseudoName].

# Writing

[Create] and [CreateV2] build a new archive that is written when it is
closed. [Archive.AddFileWithFlags] selects the storage layout per member,
including deletion markers used by patch archives.

# Maintenance

[Archive.Compact] rewrites an archive without unreferenced blocks, re-keying
encrypted members that move. [Archive.Flush] makes the result durable.

# Errors

Every failure carries an [Errno]; use [Code] to recover it from a wrapped
error.

# Path Conventions

Archives use backslash as the path separator. Forward slashes are converted,
so "Data/SubDir/file.txt" and "Data\\SubDir\\file.txt" name the same member.
Name matching ignores case.

# Limitations

  - No PKWare implode, ADPCM, sparse or LZMA decompression
  - No MPQ format V3/V4 (Cataclysm+)
  - No incremental patch (BSD0) application
*/
package mpq
