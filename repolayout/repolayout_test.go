// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package repolayout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitCreatesAllReservedSubdirs(t *testing.T) {
	base := t.TempDir()
	repo := filepath.Join(base, "repo")

	if err := Init(repo); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for _, sub := range Subdirs {
		info, err := os.Stat(filepath.Join(repo, sub))
		if err != nil {
			t.Fatalf("stat %s: %v", sub, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", sub)
		}
	}
}

func TestInitFailsIfRepoAlreadyExists(t *testing.T) {
	base := t.TempDir()
	repo := filepath.Join(base, "repo")
	if err := os.Mkdir(repo, 0755); err != nil {
		t.Fatal(err)
	}

	if err := Init(repo); err == nil {
		t.Fatal("expected error initializing an already-existing repo path")
	}
}

func TestValidateSucceedsAfterInit(t *testing.T) {
	base := t.TempDir()
	repo := filepath.Join(base, "repo")
	if err := Init(repo); err != nil {
		t.Fatal(err)
	}
	if err := Validate(repo); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateFailsOnMissingSubdir(t *testing.T) {
	base := t.TempDir()
	repo := filepath.Join(base, "repo")
	if err := Init(repo); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(repo, "localstate")); err != nil {
		t.Fatal(err)
	}
	if err := Validate(repo); err == nil {
		t.Fatal("expected Validate to fail with localstate missing")
	}
}
