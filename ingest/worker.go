// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package ingest implements the core walk: a pool of Workers draining a
// shared dirent queue, each classifying and dispatching one entry at a
// time into its own LayerState, and Import, the orchestrator that
// bootstraps the walk, spawns the pool, and merges and writes the result.
package ingest

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/canopyfs/canopy/internal/dirent"
	"github.com/canopyfs/canopy/internal/pstring"
	"github.com/canopyfs/canopy/internal/queue"
	"github.com/canopyfs/canopy/internal/sysfs"
	"github.com/canopyfs/canopy/layer"
	"github.com/canopyfs/canopy/objectstore"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// WalkOptions configures the behavior of an import across the whole
// worker pool.
type WalkOptions struct {
	// IgnoreErrors, when true, records a per-entry error and continues
	// walking instead of asking every worker to stop at the next
	// opportunity.
	IgnoreErrors bool
	// RootDevice, when non-nil, is the st_dev of the import root: any
	// directory whose device differs is still recorded but its contents
	// are not enqueued for traversal.
	RootDevice *uint64
}

// WalkError pairs a path with the error encountered while visiting it.
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *WalkError) Unwrap() error { return e.Err }

// errorSink is the shared, mutex-guarded collection point every worker
// reports entry errors into.
type errorSink struct {
	mu     sync.Mutex
	errors []*WalkError
}

func (s *errorSink) add(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, &WalkError{Path: path, Err: err})
}

// multierror builds a *multierror.Error from the accumulated entries, or
// nil if none were recorded.
func (s *errorSink) multierror() *multierror.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) == 0 {
		return nil
	}
	var merr *multierror.Error
	for _, e := range s.errors {
		merr = multierror.Append(merr, e)
	}
	return merr
}

// Worker drains dirent.Refs off a shared Queue, classifying and
// dispatching each into a private LayerState, until the queue is
// exhausted and no worker (including itself) is mid-entry.
type Worker struct {
	queue         *queue.Queue
	quitNow       *atomic.Bool
	activeWorkers *atomic.Int64
	state         *layer.LayerState
	options       *WalkOptions
	errs          *errorSink
	rootFd        int
	store         *objectstore.Store
	log           *logrus.Entry
}

func newWorker(q *queue.Queue, quitNow *atomic.Bool, active *atomic.Int64, options *WalkOptions, errs *errorSink, rootFd int, store *objectstore.Store, log *logrus.Entry) *Worker {
	return &Worker{
		queue:         q,
		quitNow:       quitNow,
		activeWorkers: active,
		state:         layer.New(),
		options:       options,
		errs:          errs,
		rootFd:        rootFd,
		store:         store,
		log:           log,
	}
}

// Run drains the queue until it is empty and no worker is active,
// returning this worker's private accumulated state.
func (w *Worker) Run() *layer.LayerState {
	for !w.quitNow.Load() {
		ref, ok := w.queue.Advance()
		if !ok {
			if w.activeWorkers.Load() == 0 {
				break
			}
			runtime.Gosched()
			continue
		}

		w.activeWorkers.Add(1)
		quit := w.visit(ref)
		w.activeWorkers.Add(-1)

		if quit {
			w.quitNow.Store(true)
			break
		}
	}
	return w.state
}

// visit dispatches one dirent, reporting to the error sink (and
// requesting pool-wide termination, unless IgnoreErrors) on failure.
func (w *Worker) visit(ref dirent.Ref) (shouldQuit bool) {
	name := ref.Filename()
	if len(name) == 0 || (len(name) == 1 && name[0] == '.') || (len(name) == 2 && name[0] == '.' && name[1] == '.') {
		return false
	}

	path := ref.FullPath()
	if err := w.visitEntry(ref, path); err != nil {
		w.errs.add(path.String(), err)
		if w.log != nil {
			w.log.WithError(err).WithField("path", path.String()).Warn("failed to visit entry")
		}
		return !w.options.IgnoreErrors
	}
	return false
}

// visitEntry classifies one entry and dispatches it: a symlink is
// recorded with its (UTF-8-validated) target, a directory is recorded
// and — unless it crosses onto a different device while same-device
// enforcement is on — has its contents enqueued, and anything else is
// treated as a regular file and streamed into the object store.
func (w *Worker) visitEntry(ref dirent.Ref, path pstring.PathName) error {
	var st *unix.Stat_t
	isLink := false

	if ref.FileType() == dirent.TypeUnknown {
		s, err := sysfs.LstatAt(w.rootFd, path.String())
		if err != nil {
			return err
		}
		st = &s
		isLink = s.Mode&unix.S_IFMT == unix.S_IFLNK
	} else {
		isLink = ref.FileType() == dirent.TypeLnk
	}

	if isLink {
		target, err := sysfs.ReadlinkAt(w.rootFd, path.String())
		if err != nil {
			return err
		}
		if !utf8.Valid(target) {
			return fmt.Errorf("symlink target is not valid UTF-8: %q", target)
		}
		w.state.InsertLink(path, layer.LinkRecord{Target: string(target)})
		return nil
	}

	if st == nil {
		s, err := sysfs.LstatAt(w.rootFd, path.String())
		if err != nil {
			return err
		}
		st = &s
	}

	isDir := st.Mode&unix.S_IFMT == unix.S_IFDIR

	openFlags := unix.O_RDONLY
	if isDir {
		openFlags |= unix.O_DIRECTORY
	}
	fd, err := sysfs.OpenNoFollow(w.rootFd, path.String(), openFlags, 0)
	if err != nil {
		return err
	}
	defer sysfs.Close(fd)

	rawXattrs, err := sysfs.Xattrs(fd)
	if err != nil {
		return err
	}
	xattrs := convertXattrs(rawXattrs)

	if isDir {
		rec := layer.NewDirRecord(uint32(st.Mode), st.Uid, st.Gid, xattrs)
		w.state.InsertDir(path, rec)

		crossDevice := w.options.RootDevice != nil && uint64(st.Dev) != *w.options.RootDevice
		if !crossDevice {
			if err := w.queue.EnqueueDirectory(fd, path); err != nil {
				return err
			}
		}
		return nil
	}

	hash, err := w.store.Import(fd)
	if err != nil {
		return err
	}
	rec := layer.NewObjectRecord(hash, uint32(st.Mode), st.Uid, st.Gid, xattrs)
	w.state.InsertObject(path, rec)
	return nil
}

func convertXattrs(raw []sysfs.Xattr) []layer.Xattr {
	if len(raw) == 0 {
		return nil
	}
	out := make([]layer.Xattr, len(raw))
	for i, x := range raw {
		out[i] = layer.Xattr{Name: x.Name, Value: x.Value}
	}
	return out
}
