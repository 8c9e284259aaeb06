// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layer implements the snapshot data model: the three
// path-keyed record types a worker accumulates while walking a tree
// (DirRecord, ObjectRecord, LinkRecord), the disjoint-union merge that
// combines one LayerState per worker into the final snapshot, and the
// deterministic serialization that turns a merged LayerState into the
// bytes written under <repo>/layers/<hash>.
package layer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/canopyfs/canopy/internal/pstring"
	"github.com/hashicorp/go-msgpack/codec"
	"lukechampine.com/blake3"
)

// Xattr is one extended attribute, stored as raw bytes end to end since
// xattr names and values are not guaranteed to be valid UTF-8.
type Xattr struct {
	Name  []byte
	Value []byte
}

// sortXattrs returns xattrs sorted by name, for deterministic
// serialization regardless of the order flistxattr(2) reported them in.
func sortXattrs(xattrs []Xattr) []Xattr {
	if len(xattrs) == 0 {
		return nil
	}
	out := append([]Xattr(nil), xattrs...)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Name, out[j].Name) < 0
	})
	return out
}

// ObjectRecord describes one regular file: its content hash (the
// URL-safe, no-padding base64 encoding objectstore.Import returns),
// permission bits masked to RWX for user/group/other, numeric owner and
// group, and any extended attributes.
type ObjectRecord struct {
	Hash   string
	Mode   uint32 // low 9 bits: rwxrwxrwx
	UID    uint32
	GID    uint32
	Xattrs []Xattr
}

// NewObjectRecord builds an ObjectRecord, sorting xattrs for determinism.
func NewObjectRecord(hash string, mode uint32, uid, gid uint32, xattrs []Xattr) ObjectRecord {
	return ObjectRecord{Hash: hash, Mode: mode & 0o777, UID: uid, GID: gid, Xattrs: sortXattrs(xattrs)}
}

// DirRecord describes one directory: the same metadata as ObjectRecord
// minus the content hash.
type DirRecord struct {
	Mode   uint32
	UID    uint32
	GID    uint32
	Xattrs []Xattr
}

// NewDirRecord builds a DirRecord, sorting xattrs for determinism.
func NewDirRecord(mode uint32, uid, gid uint32, xattrs []Xattr) DirRecord {
	return DirRecord{Mode: mode & 0o777, UID: uid, GID: gid, Xattrs: sortXattrs(xattrs)}
}

// LinkRecord describes one symlink: its UTF-8 target. Callers are
// responsible for validating the target as UTF-8 before constructing one
// (see ingest, which rejects non-UTF-8 targets as a walk error).
type LinkRecord struct {
	Target string
}

// DuplicateKeyError reports that the same path was recorded more than
// once across merged accumulators — an internal invariant violation: the
// queue guarantees each directory entry is delivered to exactly one
// worker, so two workers inserting the same path means the walk itself is
// broken, not a legitimate data condition.
type DuplicateKeyError struct {
	Path string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("layer: duplicate path recorded during merge: %q", e.Path)
}

// LayerState is an ordered-by-key accumulation of dirs, objects, and
// links, keyed by full path. A given path appears in at most one of the
// three maps. Each worker owns a private LayerState with no internal
// locking; the orchestrator combines them with Merge.
type LayerState struct {
	dirs    map[string]DirRecord
	objects map[string]ObjectRecord
	links   map[string]LinkRecord
}

// New returns an empty LayerState.
func New() *LayerState {
	return &LayerState{
		dirs:    make(map[string]DirRecord),
		objects: make(map[string]ObjectRecord),
		links:   make(map[string]LinkRecord),
	}
}

// InsertDir records a directory at path. The caller (a single worker
// accumulating into its own LayerState) is responsible for never
// inserting the same path twice.
func (s *LayerState) InsertDir(path pstring.PathName, rec DirRecord) {
	s.dirs[path.String()] = rec
}

// InsertObject records a regular file at path.
func (s *LayerState) InsertObject(path pstring.PathName, rec ObjectRecord) {
	s.objects[path.String()] = rec
}

// InsertLink records a symlink at path.
func (s *LayerState) InsertLink(path pstring.PathName, rec LinkRecord) {
	s.links[path.String()] = rec
}

// Len returns the total number of entries recorded across all three maps.
func (s *LayerState) Len() int {
	return len(s.dirs) + len(s.objects) + len(s.links)
}

// DirCount returns the number of recorded directories.
func (s *LayerState) DirCount() int { return len(s.dirs) }

// ObjectCount returns the number of recorded regular files.
func (s *LayerState) ObjectCount() int { return len(s.objects) }

// LinkCount returns the number of recorded symlinks.
func (s *LayerState) LinkCount() int { return len(s.links) }

// Merge combines a set of per-worker LayerStates into one, by disjoint
// union across all three maps. A path recorded in more than one input
// state (in any map, including across different maps) is a
// DuplicateKeyError, never a silent overwrite.
func Merge(states []*LayerState) (*LayerState, error) {
	out := New()
	seen := make(map[string]bool)

	claim := func(path string) error {
		if seen[path] {
			return &DuplicateKeyError{Path: path}
		}
		seen[path] = true
		return nil
	}

	for _, s := range states {
		for path, rec := range s.dirs {
			if err := claim(path); err != nil {
				return nil, err
			}
			out.dirs[path] = rec
		}
		for path, rec := range s.objects {
			if err := claim(path); err != nil {
				return nil, err
			}
			out.objects[path] = rec
		}
		for path, rec := range s.links {
			if err := claim(path); err != nil {
				return nil, err
			}
			out.links[path] = rec
		}
	}
	return out, nil
}

// dirEntry, objectEntry, and linkEntry are the flattened, path-sorted
// representations of LayerState's three maps used for serialization:
// plain Go maps give O(1) merge-time duplicate detection, but Go's map
// iteration order is randomized, so the maps are flattened into sorted
// slices immediately before encoding to guarantee that identical
// LayerState values always serialize to identical bytes.
type dirEntry struct {
	Path   string
	Record DirRecord
}

type objectEntry struct {
	Path   string
	Record ObjectRecord
}

type linkEntry struct {
	Path   string
	Record LinkRecord
}

type serializedState struct {
	Dirs    []dirEntry
	Objects []objectEntry
	Links   []linkEntry
}

// Serialize encodes the state deterministically: its three maps are
// flattened into path-sorted slices, then msgpack-encoded. Identical
// LayerState values (same keys, same records) always produce
// byte-identical output, regardless of insertion order.
func (s *LayerState) Serialize() ([]byte, error) {
	flat := serializedState{
		Dirs:    make([]dirEntry, 0, len(s.dirs)),
		Objects: make([]objectEntry, 0, len(s.objects)),
		Links:   make([]linkEntry, 0, len(s.links)),
	}
	for path, rec := range s.dirs {
		flat.Dirs = append(flat.Dirs, dirEntry{Path: path, Record: rec})
	}
	for path, rec := range s.objects {
		flat.Objects = append(flat.Objects, objectEntry{Path: path, Record: rec})
	}
	for path, rec := range s.links {
		flat.Links = append(flat.Links, linkEntry{Path: path, Record: rec})
	}
	sort.Slice(flat.Dirs, func(i, j int) bool { return flat.Dirs[i].Path < flat.Dirs[j].Path })
	sort.Slice(flat.Objects, func(i, j int) bool { return flat.Objects[i].Path < flat.Objects[j].Path })
	sort.Slice(flat.Links, func(i, j int) bool { return flat.Links[i].Path < flat.Links[j].Path })

	var buf bytes.Buffer
	handle := &codec.MsgpackHandle{}
	enc := codec.NewEncoder(&buf, handle)
	if err := enc.Encode(flat); err != nil {
		return nil, fmt.Errorf("layer: encoding state: %w", err)
	}
	return buf.Bytes(), nil
}

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

// HashSerialized returns the URL-safe, no-padding base64 encoding of the
// BLAKE3 hash of a serialized LayerState, used as the <repo>/layers/
// filename.
func HashSerialized(data []byte) (string, error) {
	hasher, err := blake3.New(32, nil)
	if err != nil {
		panic(err) // only returned for a malformed key; we never pass one
	}
	hasher.Write(data)
	return b64.EncodeToString(hasher.Sum(nil)), nil
}

// LayerState is not safe for concurrent mutation from multiple
// goroutines: each worker owns a private instance, combined only via
// Merge once every worker has finished.
