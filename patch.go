// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/suprsokr/go-storm/mpq"
)

// patchLayer is an overlay archive attached to a base archive.
type patchLayer struct {
	path     string
	prefix   string // archive form, no trailing separator
	priority uint32
	archive  *mpq.Archive
}

// localName maps a base-namespace name into the patch.
func (p *patchLayer) localName(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "\\" + name
}

// baseName maps a patch-local name back into the base namespace. It reports
// false for names outside the prefix.
func (p *patchLayer) baseName(local string) (string, bool) {
	if p.prefix == "" {
		return local, true
	}
	if len(local) <= len(p.prefix)+1 || local[len(p.prefix)] != '\\' ||
		!strings.EqualFold(local[:len(p.prefix)], p.prefix) {
		return "", false
	}
	return local[len(p.prefix)+1:], true
}

// normalizeName converts a member name to archive form.
func normalizeName(name string) string {
	return strings.ReplaceAll(name, "/", "\\")
}

// normalizePrefix validates a patch prefix and converts it to archive form.
func normalizePrefix(prefix string) (string, error) {
	prefix = strings.TrimRight(normalizeName(prefix), "\\")
	if prefix == "" {
		return "", nil
	}
	if strings.ContainsAny(prefix, "\x00*?") || strings.HasPrefix(prefix, "\\") {
		return "", fmt.Errorf("patch prefix %q: %w", prefix, mpq.ErrInvalidParameter)
	}
	for _, segment := range strings.Split(prefix, "\\") {
		if segment == ".." || segment == "" {
			return "", fmt.Errorf("patch prefix %q: %w", prefix, mpq.ErrInvalidParameter)
		}
	}
	if len(prefix) >= mpq.MaxPath {
		return "", fmt.Errorf("patch prefix of %d bytes: %w", len(prefix), mpq.ErrInvalidParameter)
	}
	return prefix, nil
}

// layerCount returns the number of layers including the base.
func (sess *session) layerCount() int {
	return len(sess.patches) + 1
}

// layer returns the archive of layer i, where 0 is the base and i > 0 is
// the i-th attached patch.
func (sess *session) layer(i int) *mpq.Archive {
	if i == 0 {
		return sess.base
	}
	return sess.patches[i-1].archive
}

// resolve finds the copy of name that a lookup with scope sees. Patches are
// scanned from the most recently attached down, then the base. A deletion
// marker hides every lower copy. Incremental patch entries are passed over.
func (sess *session) resolve(name string, scope Scope) (*mpq.Entry, int, error) {
	name = normalizeName(name)
	if name == "" || len(name) >= mpq.MaxPath {
		return nil, 0, fmt.Errorf("name %q: %w", name, mpq.ErrInvalidParameter)
	}

	if scope == ScopePatched {
		for i := len(sess.patches) - 1; i >= 0; i-- {
			p := sess.patches[i]
			entry, err := p.archive.FindEntry(p.localName(name))
			if err != nil {
				if errors.Is(err, mpq.ErrFileNotFound) {
					continue
				}
				return nil, 0, err
			}
			if entry.Flags&mpq.FilePatchFile != 0 {
				continue
			}
			if entry.Flags&mpq.FileDeleteMarker != 0 {
				return nil, 0, fmt.Errorf("%s in %s: %w", name, p.path, mpq.ErrMarkedForDelete)
			}
			return entry, i + 1, nil
		}
	}

	entry, err := sess.base.FindEntry(name)
	if errors.Is(err, mpq.ErrFileNotFound) {
		entry, err = sess.base.EntryByPseudoName(name)
	}
	if err != nil {
		return nil, 0, err
	}
	if entry.Flags&mpq.FileDeleteMarker != 0 {
		return nil, 0, fmt.Errorf("%s: %w", name, mpq.ErrMarkedForDelete)
	}
	return entry, 0, nil
}
