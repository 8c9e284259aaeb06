// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package objectstore implements the hash-then-link-by-name deduplicating
// object store: stream a regular file's bytes through a streaming
// cryptographic hasher, then insert the bytes under their hash using
// open-with-exclusive-create as the only synchronization against
// concurrent duplicate inserts.
package objectstore

import (
	"encoding/base64"
	"io"
	"sync"

	"github.com/canopyfs/canopy/internal/sysfs"
	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

// chunkSize is the fixed read size used to stream a file through the
// hasher, matching spec's "16 KiB" chunking.
const chunkSize = 16 * 1024

var scratchPool = sync.Pool{
	New: func() any {
		buf := make([]byte, chunkSize)
		return &buf
	},
}

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

// Store writes object bodies under an open file descriptor for the
// repository's objects directory.
type Store struct {
	objectsFd int
}

// Open wraps an already-open file descriptor for a repository's objects
// directory. The caller retains ownership of objectsFd.
func Open(objectsFd int) *Store {
	return &Store{objectsFd: objectsFd}
}

// Import hashes the contents of fileFd (an open regular-file descriptor,
// positioned at the start) and, if an object with that hash does not
// already exist, copies the bytes into the store under the hash's
// URL-safe-base64-no-padding encoding. It returns that encoding regardless
// of whether this call wrote the bytes or found them already present.
//
// fileFd is rewound to the start before the copy and again after it, so a
// successful return leaves it positioned at the start. It is left open and
// owned by the caller on every return path.
func (s *Store) Import(fileFd int) (string, error) {
	hash, err := s.hash(fileFd)
	if err != nil {
		return "", err
	}

	if _, err := unix.Seek(fileFd, 0, io.SeekStart); err != nil {
		return "", &sysfs.SyscallError{Op: "lseek", Err: err}
	}

	newFd, err := sysfs.CreateAt(s.objectsFd, hash, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY, 0o644)
	if err != nil {
		if sysfs.IsExist(err) {
			return hash, nil
		}
		return "", err
	}
	defer sysfs.Close(newFd)

	if err := copyFd(newFd, fileFd); err != nil {
		return "", err
	}
	if _, err := unix.Seek(fileFd, 0, io.SeekStart); err != nil {
		return "", &sysfs.SyscallError{Op: "lseek", Err: err}
	}
	return hash, nil
}

func (s *Store) hash(fileFd int) (string, error) {
	hasher, err := blake3.New(32, nil)
	if err != nil {
		// Only returned for a malformed key; we never pass one.
		panic(err)
	}

	bufp := scratchPool.Get().(*[]byte)
	defer scratchPool.Put(bufp)
	buf := *bufp

	for {
		n, err := unix.Read(fileFd, buf)
		if err != nil {
			return "", &sysfs.SyscallError{Op: "read", Err: err}
		}
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if n < len(buf) {
			break
		}
	}

	sum := hasher.Sum(nil)
	return b64.EncodeToString(sum), nil
}

func copyFd(dst, src int) error {
	bufp := scratchPool.Get().(*[]byte)
	defer scratchPool.Put(bufp)
	buf := *bufp

	for {
		n, err := unix.Read(src, buf)
		if err != nil {
			return &sysfs.SyscallError{Op: "read", Err: err}
		}
		if n == 0 {
			return nil
		}
		if err := writeAll(dst, buf[:n]); err != nil {
			return err
		}
		if n < len(buf) {
			return nil
		}
	}
}

func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			return &sysfs.SyscallError{Op: "write", Err: err}
		}
		buf = buf[n:]
	}
	return nil
}
