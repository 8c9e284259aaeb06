// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pstring implements PathName, a compact owned byte-string that
// doubles as a NUL-terminated C string and a plain path fragment, with
// cheap child-append.
package pstring

// PathName is an owned, NUL-terminated byte sequence representing a
// filesystem path or path fragment. The advertised length excludes the
// trailing NUL. Equality and ordering are byte-lexicographic on the
// non-NUL-terminated bytes.
type PathName struct {
	// buf always ends in a single NUL byte; buf[:len(buf)-1] is the
	// advertised path.
	buf []byte
}

// FromString builds a PathName from a plain Go string.
func FromString(s string) PathName {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	buf[len(s)] = 0
	return PathName{buf: buf}
}

// Root is the PathName for the import root, always ".".
func Root() PathName {
	return FromString(".")
}

// Bytes returns the path's bytes, excluding the trailing NUL. The returned
// slice must not be mutated.
func (p PathName) Bytes() []byte {
	if len(p.buf) == 0 {
		return nil
	}
	return p.buf[:len(p.buf)-1]
}

// CBytes returns the path's bytes including the trailing NUL, suitable for
// passing to syscalls that expect a NUL-terminated string.
func (p PathName) CBytes() []byte {
	return p.buf
}

// String returns the path as a Go string.
func (p PathName) String() string {
	return string(p.Bytes())
}

// Len returns the path length, excluding the trailing NUL.
func (p PathName) Len() int {
	if len(p.buf) == 0 {
		return 0
	}
	return len(p.buf) - 1
}

// AppendChild returns a freshly allocated PathName that is the receiver
// with child appended, inserting a '/' separator iff the receiver's last
// byte is not already '/'. child must not itself be NUL-terminated; it is
// a bare filename. The receiver is never mutated and shares no storage
// with the result.
func (p PathName) AppendChild(child []byte) PathName {
	base := p.Bytes()
	addSep := len(base) > 0 && base[len(base)-1] != '/'

	n := len(base) + len(child)
	if addSep {
		n++
	}

	buf := make([]byte, n+1)
	copy(buf, base)
	off := len(base)
	if addSep {
		buf[off] = '/'
		off++
	}
	copy(buf[off:], child)
	buf[n] = 0

	return PathName{buf: buf}
}

// Equal reports whether p and other denote the same path bytes.
func (p PathName) Equal(other PathName) bool {
	return string(p.Bytes()) == string(other.Bytes())
}

// Less reports whether p sorts strictly before other, byte-lexicographically.
func (p PathName) Less(other PathName) bool {
	return string(p.Bytes()) < string(other.Bytes())
}
