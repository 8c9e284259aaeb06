// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layer

import (
	"testing"

	"github.com/canopyfs/canopy/internal/pstring"
	"github.com/kylelemons/godebug/pretty"
)

func TestInsertAndMergeDisjoint(t *testing.T) {
	a := New()
	a.InsertDir(pstring.FromString("."), NewDirRecord(0o755, 0, 0, nil))
	a.InsertObject(pstring.FromString("a.txt"), NewObjectRecord("hash-a", 0o644, 1000, 1000, nil))

	b := New()
	b.InsertDir(pstring.FromString("sub"), NewDirRecord(0o755, 0, 0, nil))
	b.InsertLink(pstring.FromString("sub/link"), LinkRecord{Target: "../a.txt"})

	merged, err := Merge([]*LayerState{a, b})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Len() != 4 {
		t.Fatalf("merged.Len() = %d, want 4", merged.Len())
	}
	if _, ok := merged.objects["a.txt"]; !ok {
		t.Fatalf("missing a.txt in merged objects")
	}
	if _, ok := merged.links["sub/link"]; !ok {
		t.Fatalf("missing sub/link in merged links")
	}
}

func TestMergeDuplicateKeyFails(t *testing.T) {
	a := New()
	a.InsertObject(pstring.FromString("dup"), NewObjectRecord("h1", 0o644, 0, 0, nil))

	b := New()
	b.InsertObject(pstring.FromString("dup"), NewObjectRecord("h2", 0o644, 0, 0, nil))

	_, err := Merge([]*LayerState{a, b})
	if err == nil {
		t.Fatal("expected DuplicateKeyError, got nil")
	}
	dup, ok := err.(*DuplicateKeyError)
	if !ok {
		t.Fatalf("expected *DuplicateKeyError, got %T: %v", err, err)
	}
	if dup.Path != "dup" {
		t.Fatalf("DuplicateKeyError.Path = %q, want %q", dup.Path, "dup")
	}
}

func TestMergeDuplicateAcrossDifferentMaps(t *testing.T) {
	a := New()
	a.InsertDir(pstring.FromString("x"), NewDirRecord(0o755, 0, 0, nil))

	b := New()
	b.InsertObject(pstring.FromString("x"), NewObjectRecord("h", 0o644, 0, 0, nil))

	if _, err := Merge([]*LayerState{a, b}); err == nil {
		t.Fatal("expected error for path recorded as both a dir and an object")
	}
}

func TestSerializeIsDeterministicAcrossInsertionOrder(t *testing.T) {
	build := func(order []string) *LayerState {
		s := New()
		for _, p := range order {
			s.InsertObject(pstring.FromString(p), NewObjectRecord("hash-"+p, 0o644, 1, 1, nil))
		}
		return s
	}

	s1 := build([]string{"a", "b", "c"})
	s2 := build([]string{"c", "a", "b"})

	b1, err := s1.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	b2, err := s2.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("serialization depends on insertion order")
	}
}

func TestSerializeXattrOrderIsNormalized(t *testing.T) {
	s1 := New()
	s1.InsertObject(pstring.FromString("f"), NewObjectRecord("h", 0o644, 1, 1, []Xattr{
		{Name: []byte("user.b"), Value: []byte("2")},
		{Name: []byte("user.a"), Value: []byte("1")},
	}))

	s2 := New()
	s2.InsertObject(pstring.FromString("f"), NewObjectRecord("h", 0o644, 1, 1, []Xattr{
		{Name: []byte("user.a"), Value: []byte("1")},
		{Name: []byte("user.b"), Value: []byte("2")},
	}))

	b1, err := s1.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	b2, err := s2.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("xattr insertion order leaked into serialization")
	}
}

func TestHashSerializedIsStableForEqualInput(t *testing.T) {
	s := New()
	s.InsertDir(pstring.FromString("."), NewDirRecord(0o755, 0, 0, nil))
	data, err := s.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	h1, err := HashSerialized(data)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashSerialized(data)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("HashSerialized not stable: %q vs %q", h1, h2)
	}
}

func TestObjectRecordModeIsMaskedToPermissionBits(t *testing.T) {
	rec := NewObjectRecord("h", 0o100644, 0, 0, nil)
	if rec.Mode != 0o644 {
		t.Fatalf("Mode = %o, want %o", rec.Mode, 0o644)
	}
}

func TestNewDirRecordDeepEqualForEqualInput(t *testing.T) {
	want := NewDirRecord(0o755, 42, 43, []Xattr{{Name: []byte("user.x"), Value: []byte("y")}})
	got := NewDirRecord(0o755, 42, 43, []Xattr{{Name: []byte("user.x"), Value: []byte("y")}})
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("unexpected diff: %s", diff)
	}
}
