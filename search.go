// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"strings"

	"github.com/gobwas/glob"

	"github.com/suprsokr/go-storm/mpq"
)

type searchMode int

const (
	hashSearch searchMode = iota
	listSearch
)

// cursor is the state behind a FindHandle. It walks the base archive and
// then each patch in attach order, yielding names of the composed view:
// every name once, and only names that resolve through the patch chain.
type cursor struct {
	session *session
	mode    searchMode
	mask    glob.Glob

	layer int      // next layer to load
	names []string // candidates of the current layer, in index order
	pos   int
	seen  map[string]struct{}
	last  string
}

// compileMask turns a search mask into a matcher. '*' and '?' are the only
// wildcards; matching ignores case and treats both separators alike.
func compileMask(mask string) (glob.Glob, error) {
	if mask == "" {
		mask = "*"
	}

	var b strings.Builder
	for _, r := range foldName(mask) {
		switch r {
		case '*', '?':
			b.WriteRune(r)
		default:
			b.WriteString(glob.QuoteMeta(string(r)))
		}
	}
	return glob.Compile(b.String())
}

// foldName is the form names are compared in.
func foldName(name string) string {
	return strings.ToUpper(normalizeName(name))
}

// next returns the next matching name, or mpq.ErrNoMoreFiles.
func (c *cursor) next() (string, error) {
	for {
		for c.pos < len(c.names) {
			name := c.names[c.pos]
			c.pos++

			key := foldName(name)
			if _, dup := c.seen[key]; dup {
				continue
			}
			c.seen[key] = struct{}{}
			if !c.mask.Match(key) {
				continue
			}

			if _, _, err := c.session.resolve(name, ScopePatched); err != nil {
				if errors.Is(err, mpq.ErrFileNotFound) || errors.Is(err, mpq.ErrMarkedForDelete) {
					continue
				}
				return "", err
			}
			c.last = name
			return name, nil
		}

		if c.layer >= c.session.layerCount() {
			c.names = nil
			return "", mpq.ErrNoMoreFiles
		}
		names, err := c.loadLayer(c.layer)
		if err != nil {
			return "", err
		}
		c.layer++
		c.names, c.pos = names, 0
	}
}

// loadLayer returns the candidate names of layer i in the base namespace.
func (c *cursor) loadLayer(i int) ([]string, error) {
	archive := c.session.layer(i)

	var local []string
	switch c.mode {
	case hashSearch:
		entries, err := archive.HashEntries()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			switch {
			case e.Name != "":
				local = append(local, e.Name)
			case i == 0:
				// Unnamed members of the base are reachable by block index
				local = append(local, mpq.PseudoName(e.BlockIndex))
			}
		}
	case listSearch:
		names, err := archive.ListFile()
		if err != nil {
			if errors.Is(err, mpq.ErrCanNotComplete) {
				return nil, nil
			}
			return nil, err
		}
		local = names
	}

	if i == 0 {
		return local, nil
	}
	p := c.session.patches[i-1]
	names := local[:0:0]
	for _, name := range local {
		if base, ok := p.baseName(name); ok {
			names = append(names, base)
		}
	}
	return names, nil
}

// hasListFile reports whether any layer has listfile names.
func (sess *session) hasListFile() bool {
	for i := 0; i < sess.layerCount(); i++ {
		if _, err := sess.layer(i).ListFile(); err == nil {
			return true
		}
	}
	return false
}

// FindFirstFile starts a search of the hash tables of the archive and its
// patches. It returns the first matching name. When nothing matches, the
// returned handle is zero and the error is ErrExhausted.
func (s *Storm) FindFirstFile(h ArchiveHandle, mask string) (FindHandle, string, error) {
	return s.findFirst(OpFindFirst, h, mask, hashSearch)
}

// ListFileFindFirstFile starts a search of the merged listfile names of the
// archive and its patches. It fails when no layer has a listfile.
func (s *Storm) ListFileFindFirstFile(h ArchiveHandle, mask string) (FindHandle, string, error) {
	return s.findFirst(OpListFindFirst, h, mask, listSearch)
}

func (s *Storm) findFirst(op Op, h ArchiveHandle, mask string, mode searchMode) (FindHandle, string, error) {
	matcher, err := compileMask(mask)
	if err != nil {
		return 0, "", &Error{Kind: KindInvalidArgument, Op: op, Ident: mask, Native: mpq.ErrInvalidParameter, Err: err}
	}

	sess, err := s.lockSession(op, h)
	if err != nil {
		return 0, "", err
	}
	defer sess.mu.Unlock()

	if mode == listSearch && !sess.hasListFile() {
		return 0, "", codeError(op, sess.path, mpq.ErrCanNotComplete)
	}

	c := &cursor{
		session: sess,
		mode:    mode,
		mask:    matcher,
		seen:    make(map[string]struct{}),
	}
	name, err := c.next()
	if err != nil {
		return 0, "", newError(op, mask, err)
	}

	fh := s.finds.register(c)
	sess.finds[fh] = c
	return fh, name, nil
}

// FindNextFile returns the next matching name. ErrExhausted ends the search;
// the handle stays valid until FindClose.
func (s *Storm) FindNextFile(h FindHandle) (string, error) {
	c, err := s.finds.resolve(h)
	if err != nil {
		return "", newError(OpFindNext, findIdent(h), err)
	}

	sess := c.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return "", codeError(OpFindNext, findIdent(h), mpq.ErrInvalidHandle)
	}

	name, err := c.next()
	if err != nil {
		return "", newError(OpFindNext, findIdent(h), err)
	}
	return name, nil
}

// FindClose ends a search.
func (s *Storm) FindClose(h FindHandle) error {
	c, ok := s.finds.revoke(h)
	if !ok {
		return codeError(OpFindClose, findIdent(h), mpq.ErrInvalidHandle)
	}

	sess := c.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	delete(sess.finds, h)
	return nil
}
