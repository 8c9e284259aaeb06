// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package repolayout creates and validates a repository's on-disk
// directory layout: the repo root plus its four reserved subdirectories,
// objects, layers, info, and localstate.
package repolayout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Subdirs lists the repository's reserved subdirectories, in the order
// they are created.
var Subdirs = []string{"objects", "layers", "info", "localstate"}

// Init creates repoPath and its reserved subdirectories. It fails if
// repoPath already exists.
func Init(repoPath string) error {
	if err := os.Mkdir(repoPath, 0755); err != nil {
		return fmt.Errorf("repolayout: creating repository root: %w", err)
	}
	for _, sub := range Subdirs {
		if err := os.Mkdir(filepath.Join(repoPath, sub), 0755); err != nil {
			return fmt.Errorf("repolayout: creating %s: %w", sub, err)
		}
	}
	return nil
}

// Validate reports whether repoPath and all four reserved subdirectories
// exist and are directories.
func Validate(repoPath string) error {
	check := func(path string) error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("repolayout: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("repolayout: %s is not a directory", path)
		}
		return nil
	}
	if err := check(repoPath); err != nil {
		return err
	}
	for _, sub := range Subdirs {
		if err := check(filepath.Join(repoPath, sub)); err != nil {
			return err
		}
	}
	return nil
}
