// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package sysfs wraps the raw POSIX/Linux syscalls the ingestion engine
// needs directly: openat, fstatat, readlinkat, close, the flistxattr/
// fgetxattr pair, and the getdents64-backed directory read. Every wrapper
// is a thin, -1-checked layer over golang.org/x/sys/unix that turns errno
// into a plain error; nothing here does path resolution or retries beyond
// what the syscall itself requires.
package sysfs

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// OpenAt opens name relative to dirfd with the given flags, returning the
// new file descriptor. The caller owns the fd and must Close it.
func OpenAt(dirfd int, name string, flags int) (int, error) {
	return CreateAt(dirfd, name, flags, 0)
}

// CreateAt is OpenAt with an explicit mode, for flag combinations that
// include O_CREAT.
func CreateAt(dirfd int, name string, flags int, mode uint32) (int, error) {
	fd, err := unix.Openat(dirfd, name, flags|unix.O_CLOEXEC, mode)
	if err != nil {
		return -1, &SyscallError{Op: "openat", Path: name, Err: err}
	}
	return fd, nil
}

// OpenNoFollow opens name relative to dirfd, refusing to resolve a
// symlink anywhere in name — not just its final component, the way a
// plain O_NOFOLLOW does. It tries openat2(2) with RESOLVE_NO_SYMLINKS
// first; on a kernel too old to have openat2 (ENOSYS), it falls back to
// openat(2) with O_NOFOLLOW, which still blocks the common case of the
// final path component being a symlink.
func OpenNoFollow(dirfd int, name string, flags int, mode uint32) (int, error) {
	how := unix.OpenHow{
		Flags:   uint64(flags) | unix.O_CLOEXEC,
		Mode:    uint64(mode),
		Resolve: unix.RESOLVE_NO_SYMLINKS,
	}
	fd, err := unix.Openat2(dirfd, name, &how)
	if err == nil {
		return fd, nil
	}
	if errno, ok := err.(unix.Errno); !ok || errno != unix.ENOSYS {
		return -1, &SyscallError{Op: "openat2", Path: name, Err: err}
	}
	return CreateAt(dirfd, name, flags|unix.O_NOFOLLOW, mode)
}

// LstatAt stats name relative to dirfd without following a trailing
// symlink (AT_SYMLINK_NOFOLLOW).
func LstatAt(dirfd int, name string) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstatat(dirfd, name, &st, unix.AT_SYMLINK_NOFOLLOW)
	if err != nil {
		return unix.Stat_t{}, &SyscallError{Op: "fstatat", Path: name, Err: err}
	}
	return st, nil
}

// ReadlinkAt reads the target of the symlink name relative to dirfd,
// using an adaptive-size retry loop: start at 256 bytes, double the
// buffer until the kernel reports a length strictly less than the
// buffer's capacity (meaning the target fit and was not truncated).
func ReadlinkAt(dirfd int, name string) ([]byte, error) {
	for size := 256; ; size *= 2 {
		buf := make([]byte, size)
		n, err := unix.Readlinkat(dirfd, name, buf)
		if err != nil {
			return nil, &SyscallError{Op: "readlinkat", Path: name, Err: err}
		}
		if n < size {
			return buf[:n], nil
		}
	}
}

// Fstat stats an already-open file descriptor.
func Fstat(fd int) (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return unix.Stat_t{}, &SyscallError{Op: "fstat", Err: err}
	}
	return st, nil
}

// Close closes fd.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return &SyscallError{Op: "close", Err: err}
	}
	return nil
}

// Xattr is a single extended attribute as raw bytes: Linux xattr names are
// not guaranteed to be valid UTF-8, so both name and value are kept as
// opaque byte slices end to end.
type Xattr struct {
	Name  []byte
	Value []byte
}

// Xattrs returns the extended attributes attached to the open file
// descriptor fd, in the order flistxattr(2) reports them, using two
// syscalls per attribute (a size query, then a fetch). A file with no
// extended attributes returns a nil, nil result.
func Xattrs(fd int) ([]Xattr, error) {
	size, err := unix.Flistxattr(fd, nil)
	if err != nil {
		return nil, &SyscallError{Op: "flistxattr", Err: err}
	}
	if size == 0 {
		return nil, nil
	}

	namebuf := make([]byte, size)
	n, err := unix.Flistxattr(fd, namebuf)
	if err != nil {
		return nil, &SyscallError{Op: "flistxattr", Err: err}
	}
	namebuf = namebuf[:n]

	var result []Xattr
	for len(namebuf) > 0 {
		i := bytes.IndexByte(namebuf, 0)
		if i < 0 {
			return nil, &SyscallError{Op: "flistxattr", Err: fmt.Errorf("unterminated xattr name list")}
		}
		name := namebuf[:i]
		namebuf = namebuf[i+1:]

		vsize, err := unix.Fgetxattr(fd, string(name), nil)
		if err != nil {
			return nil, &SyscallError{Op: "fgetxattr", Err: err}
		}
		value := make([]byte, vsize)
		if vsize > 0 {
			vn, err := unix.Fgetxattr(fd, string(name), value)
			if err != nil {
				return nil, &SyscallError{Op: "fgetxattr", Err: err}
			}
			value = value[:vn]
		}

		result = append(result, Xattr{Name: append([]byte(nil), name...), Value: value})
	}
	return result, nil
}

// Getdents reads one batch of raw directory-entry records from fd into
// buf, returning the number of bytes filled. A return of 0 with a nil
// error means the directory has been fully read.
func Getdents(fd int, buf []byte) (int, error) {
	n, err := unix.Getdents(fd, buf)
	if err != nil {
		return 0, &SyscallError{Op: "getdents64", Err: err}
	}
	return n, nil
}

// SyscallError carries a failed syscall's name, the path it was operating
// on (if any), and the underlying errno-bearing error.
type SyscallError struct {
	Op   string
	Path string
	Err  error
}

func (e *SyscallError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SyscallError) Unwrap() error { return e.Err }

// Errno extracts the underlying unix.Errno from err, if any.
func Errno(err error) (unix.Errno, bool) {
	se, ok := err.(*SyscallError)
	if !ok {
		return 0, false
	}
	errno, ok := se.Err.(unix.Errno)
	return errno, ok
}

// IsExist reports whether err is a SyscallError wrapping EEXIST.
func IsExist(err error) bool {
	errno, ok := Errno(err)
	return ok && errno == unix.EEXIST
}
