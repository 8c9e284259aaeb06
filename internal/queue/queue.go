// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package queue implements the shared dirent queue: a multi-producer,
// multi-consumer FIFO of dirent pages. The tail is a lock-free
// compare-and-swap chain (the classic Michael-Scott "helping" pattern);
// the head is mutex-guarded, since advancing past an exhausted page is
// rare (once per directory) and never overlaps I/O.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/canopyfs/canopy/internal/dirent"
	"github.com/canopyfs/canopy/internal/pstring"
	"github.com/canopyfs/canopy/internal/sysfs"
	"golang.org/x/sys/unix"
)

const dirOpenFlags = unix.O_DIRECTORY | unix.O_RDONLY

// ErrEmptyRoot is returned by NewFromRoot when the import root contains no
// entries on its first directory-read.
var ErrEmptyRoot = errors.New("directory is empty")

// endEarlyThreshold is the heuristic exit point for EnqueueDirectory: once
// a getdents64 read returns fewer than three quarters of a page's
// capacity, the kernel has very likely returned the final batch, and one
// more (usually empty) round trip is skipped.
const endEarlyThreshold = (dirent.PageDataLen * 3) / 4

type node struct {
	page *dirent.Page
	next atomic.Pointer[node]
}

// Queue is a FIFO of dirent pages shared by the worker pool.
type Queue struct {
	headMu sync.Mutex
	head   *node

	tail atomic.Pointer[node]
}

// NewFromRoot reads the first page of dirfd (an open directory descriptor
// for the directory named by rootPath), then reads any remaining pages of
// the same directory via EnqueueDirectory. It fails with ErrEmptyRoot if
// the root directory has no entries.
func NewFromRoot(dirfd int, rootPath pstring.PathName) (*Queue, error) {
	page, err := dirent.New(dirfd, rootPath)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrEmptyRoot
	}

	head := &node{page: page}
	q := &Queue{head: head}
	q.tail.Store(head)

	if err := q.EnqueueDirectory(dirfd, rootPath); err != nil {
		return nil, err
	}
	return q, nil
}

// EnqueueDirectory repeatedly reads pages from dirfd (an open directory
// descriptor for the directory named by path) and links each page onto
// the queue's tail, stopping once a read returns strictly less than
// three quarters of a page's capacity.
func (q *Queue) EnqueueDirectory(dirfd int, path pstring.PathName) error {
	for {
		page, err := dirent.New(dirfd, path)
		if err != nil {
			return err
		}
		if page == nil {
			return nil
		}
		endEarly := page.Size() < endEarlyThreshold
		q.addNode(&node{page: page})
		if endEarly {
			return nil
		}
	}
}

// EnqueueDirectoryAt opens the child directory named by path under
// parentfd, reads its pages via EnqueueDirectory, and closes the
// temporary fd it opened (the queue only borrows it to read pages; it
// does not retain it).
func (q *Queue) EnqueueDirectoryAt(parentfd int, path pstring.PathName) error {
	fd, err := sysfs.OpenAt(parentfd, path.String(), dirOpenFlags)
	if err != nil {
		return err
	}
	defer sysfs.Close(fd)
	return q.EnqueueDirectory(fd, path)
}

// addNode links next onto the tail using the lock-free CAS-with-helping
// pattern: try to swing the observed tail's next pointer from nil to
// next; on success, try to advance tail itself (best-effort — failure
// just means a peer already helped); on failure, another producer beat us
// to tail.next, so help advance tail toward the real successor and retry.
func (q *Queue) addNode(next *node) {
	for {
		tail := q.tail.Load()
		if tail.next.CompareAndSwap(nil, next) {
			q.tail.CompareAndSwap(tail, next)
			return
		}
		// Someone else already linked a successor; help move tail
		// forward before retrying.
		real := tail.next.Load()
		q.tail.CompareAndSwap(tail, real)
	}
}

// Advance returns the next dirent record, advancing past exhausted pages
// as needed. It returns ok=false only when the current head page is
// exhausted and has no successor page queued.
func (q *Queue) Advance() (dirent.Ref, bool) {
	for {
		q.headMu.Lock()
		head := q.head

		if ref, ok := head.page.Advance(); ok {
			q.headMu.Unlock()
			return ref, true
		}

		next := head.next.Load()
		if next == nil {
			q.headMu.Unlock()
			return dirent.Ref{}, false
		}
		q.head = next
		q.headMu.Unlock()
	}
}
