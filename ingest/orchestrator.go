// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package ingest

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/canopyfs/canopy/internal/pstring"
	"github.com/canopyfs/canopy/internal/queue"
	"github.com/canopyfs/canopy/internal/sysfs"
	"github.com/canopyfs/canopy/layer"
	"github.com/canopyfs/canopy/objectstore"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Result is the outcome of a completed Import: the layer's content-hash
// filename and, if IgnoreErrors allowed the walk to continue past
// per-entry failures, the errors it continued past.
type Result struct {
	LayerHash string
	Errors    *multierror.Error
	Dirs      int
	Objects   int
	Links     int
}

// workerCount implements the thread-count formula: use every reported
// CPU, minus two held back for the rest of the system, once there are
// more than four to spare.
func workerCount() int {
	n := runtime.NumCPU()
	if n > 4 {
		return n - 2
	}
	return n
}

// Import walks rootPath, dispatching regular-file bytes into
// <repoPath>/objects and recording a LayerState entry for every
// directory, regular file, and symlink encountered, then writes the
// merged, serialized state to <repoPath>/layers/<hash>.
func Import(rootPath, repoPath string, sameDevice, ignoreErrors bool, log *logrus.Logger) (*Result, error) {
	if log == nil {
		log = logrus.New()
	}

	rootPath = strings.TrimRight(rootPath, "/")

	rootFd, err := sysfs.OpenAt(unix.AT_FDCWD, rootPath, unix.O_DIRECTORY|unix.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("opening import root: %w", err)
	}
	defer sysfs.Close(rootFd)

	objectsPath := repoPath + "/objects"
	objectsFd, err := sysfs.OpenAt(unix.AT_FDCWD, objectsPath, unix.O_DIRECTORY|unix.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("opening objects directory: %w", err)
	}
	defer sysfs.Close(objectsFd)

	rootStat, err := sysfs.Fstat(rootFd)
	if err != nil {
		return nil, fmt.Errorf("statting import root: %w", err)
	}
	var rootDevice *uint64
	if sameDevice {
		dev := uint64(rootStat.Dev)
		rootDevice = &dev
	}

	// The root path "." is never visited through the queue (workers skip
	// "." and ".." whenever they appear as entries inside a directory),
	// so it is recorded here directly: every LayerState must carry the
	// root as a dir entry.
	rootXattrs, err := sysfs.Xattrs(rootFd)
	if err != nil {
		return nil, fmt.Errorf("reading import root xattrs: %w", err)
	}
	rootState := layer.New()
	rootState.InsertDir(pstring.Root(), layer.NewDirRecord(uint32(rootStat.Mode), rootStat.Uid, rootStat.Gid, convertXattrs(rootXattrs)))

	q, err := queue.NewFromRoot(rootFd, pstring.Root())
	if err != nil {
		return nil, fmt.Errorf("reading import root: %w", err)
	}

	options := &WalkOptions{IgnoreErrors: ignoreErrors, RootDevice: rootDevice}
	errs := &errorSink{}
	store := objectstore.Open(objectsFd)

	var quitNow atomic.Bool
	var active atomic.Int64

	nworkers := workerCount()
	log.WithField("workers", nworkers).Info("starting import")

	var g errgroup.Group
	states := make([]*layer.LayerState, nworkers)
	for i := 0; i < nworkers; i++ {
		i := i
		workerLog := log.WithField("worker", i)
		g.Go(func() error {
			w := newWorker(q, &quitNow, &active, options, errs, rootFd, store, workerLog)
			states[i] = w.Run()
			return nil
		})
	}
	// Worker.Run never returns an error itself (per-entry failures go to
	// errs, not the caller); Wait only needs to block until every worker
	// has returned.
	_ = g.Wait()

	if merr := errs.multierror(); merr != nil && !ignoreErrors {
		// A worker already requested pool-wide cancellation on the first
		// such error; honor it here by refusing to merge or write a layer.
		return nil, merr
	}

	merged, err := layer.Merge(append(states, rootState))
	if err != nil {
		return nil, fmt.Errorf("merging worker state: %w", err)
	}

	data, err := merged.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serializing layer: %w", err)
	}
	hash, err := layer.HashSerialized(data)
	if err != nil {
		return nil, fmt.Errorf("hashing layer: %w", err)
	}

	layerPath := repoPath + "/layers/" + hash
	layerFd, err := sysfs.CreateAt(unix.AT_FDCWD, layerPath, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating layer file: %w", err)
	}
	defer sysfs.Close(layerFd)
	if err := writeAll(layerFd, data); err != nil {
		return nil, fmt.Errorf("writing layer file: %w", err)
	}

	result := &Result{
		LayerHash: hash,
		Errors:    errs.multierror(),
		Dirs:      merged.DirCount(),
		Objects:   merged.ObjectCount(),
		Links:     merged.LinkCount(),
	}
	log.WithFields(logrus.Fields{
		"dirs":    result.Dirs,
		"objects": result.Objects,
		"links":   result.Links,
		"layer":   hash,
	}).Info("import complete")

	return result, nil
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
