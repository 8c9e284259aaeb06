// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package dirent implements the dirent page: one fixed-size buffer holding
// the raw output of a single getdents64 syscall, shared behind a lock-free
// atomic cursor so many worker goroutines can each claim one record from
// the same page without taking a lock.
package dirent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/canopyfs/canopy/internal/pstring"
	"github.com/canopyfs/canopy/internal/sysfs"
)

// PageDataLen is 4KiB minus a small allowance for the Go runtime's own
// slice/struct header, matching spec's "4 KiB minus small header" sizing.
const PageDataLen = 4096 - 64

const pageDataLen = PageDataLen

// linux_dirent64 field offsets:
//
//	u64 d_ino;     // 0
//	i64 d_off;     // 8
//	u16 d_reclen;  // 16
//	u8  d_type;    // 18
//	char d_name[]; // 19, NUL-terminated
const (
	offInode  = 0
	offReclen = 16
	offType   = 18
	offName   = 19
)

// File type hints, mirroring the d_type values getdents64 reports.
const (
	TypeUnknown = 0
	TypeLnk     = 10 // DT_LNK
	TypeDir     = 4  // DT_DIR
	TypeReg     = 8  // DT_REG
)

// Page is one buffer's worth of raw directory-entry records read from a
// single directory, plus the lock-free cursor that lets many goroutines
// each claim one record from it.
type Page struct {
	dir    pstring.PathName
	data   [pageDataLen]byte
	size   int
	cursor atomic.Int64
}

// New reads exactly one getdents64 batch from fd (an open directory
// descriptor for the directory named by dir) into a new Page. A return of
// (nil, nil) means the directory has no more entries to read — this is
// not an error.
func New(fd int, dir pstring.PathName) (*Page, error) {
	p := &Page{dir: dir}
	n, err := sysfs.Getdents(fd, p.data[:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	p.size = n
	return p, nil
}

// Size reports how many bytes of this page are valid directory-entry data.
func (p *Page) Size() int { return p.size }

// Advance atomically claims the next record in the page, returning a Ref
// pointing at it, or ok=false if the page is exhausted. Safe to call
// concurrently from multiple goroutines; each record is returned at most
// once across all callers.
func (p *Page) Advance() (Ref, bool) {
	for {
		old := p.cursor.Load()
		if old >= int64(p.size) {
			return Ref{}, false
		}
		reclen := int64(binary.NativeEndian.Uint16(p.data[old+offReclen : old+offReclen+2]))
		if reclen <= 0 {
			return Ref{}, false
		}
		next := old + reclen
		if p.cursor.CompareAndSwap(old, next) {
			return Ref{page: p, start: old}, true
		}
	}
}

// Ref is a lightweight handle into a Page: shared ownership of the page
// plus a byte offset of one record within it. It exposes inode, file-type
// hint, filename, and derived full path without copying the record.
type Ref struct {
	page  *Page
	start int64
}

// Inode returns the record's inode number.
func (r Ref) Inode() uint64 {
	return binary.NativeEndian.Uint64(r.page.data[r.start+offInode : r.start+offInode+8])
}

// FileType returns the d_type hint (TypeUnknown, TypeLnk, TypeDir,
// TypeReg, or another raw DT_* value).
func (r Ref) FileType() uint8 {
	return r.page.data[r.start+offType]
}

// Filename returns the record's filename, trimmed of its NUL terminator.
// The returned slice aliases the page's buffer and must not be mutated or
// retained past the page's lifetime.
func (r Ref) Filename() []byte {
	nameStart := r.start + offName
	reclen := int64(binary.NativeEndian.Uint16(r.page.data[r.start+offReclen : r.start+offReclen+2]))
	end := r.start + reclen
	raw := r.page.data[nameStart:end]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		return raw[:i]
	}
	return raw
}

// FullPath returns the record's parent directory path with the filename
// appended.
func (r Ref) FullPath() pstring.PathName {
	return r.page.dir.AppendChild(r.Filename())
}

// String renders a Ref for debugging.
func (r Ref) String() string {
	return fmt.Sprintf("dirent{ino=%d type=%d name=%q}", r.Inode(), r.FileType(), r.Filename())
}
