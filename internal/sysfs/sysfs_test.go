// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package sysfs

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func openDir(t *testing.T, path string) int {
	t.Helper()
	fd, err := OpenAt(unix.AT_FDCWD, path, unix.O_DIRECTORY|unix.O_RDONLY)
	if err != nil {
		t.Fatalf("OpenAt(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = Close(fd) })
	return fd
}

func TestOpenAtAndClose(t *testing.T) {
	dir := t.TempDir()
	fd := openDir(t, dir)
	if fd < 0 {
		t.Fatalf("expected valid fd")
	}
}

func TestOpenAtMissing(t *testing.T) {
	dir := t.TempDir()
	dirfd := openDir(t, dir)
	_, err := OpenAt(dirfd, "does-not-exist", unix.O_RDONLY)
	if err == nil {
		t.Fatalf("expected error opening missing file")
	}
	errno, ok := Errno(err)
	if !ok || errno != unix.ENOENT {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestLstatAtRegularFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	dirfd := openDir(t, dir)

	st, err := LstatAt(dirfd, "f")
	if err != nil {
		t.Fatalf("LstatAt: %v", err)
	}
	if st.Size != 5 {
		t.Fatalf("Size = %d, want 5", st.Size)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		t.Fatalf("expected regular file mode, got %o", st.Mode)
	}
}

func TestLstatAtDoesNotFollowSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	dirfd := openDir(t, dir)

	st, err := LstatAt(dirfd, "link")
	if err != nil {
		t.Fatalf("LstatAt: %v", err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFLNK {
		t.Fatalf("expected symlink mode, got %o", st.Mode)
	}
}

func TestReadlinkAtShort(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "link")
	if err := os.Symlink("short-target", link); err != nil {
		t.Fatal(err)
	}
	dirfd := openDir(t, dir)

	got, err := ReadlinkAt(dirfd, "link")
	if err != nil {
		t.Fatalf("ReadlinkAt: %v", err)
	}
	if string(got) != "short-target" {
		t.Fatalf("ReadlinkAt = %q, want %q", got, "short-target")
	}
}

func TestReadlinkAtLongGrowsBuffer(t *testing.T) {
	dir := t.TempDir()
	// Build a target longer than the initial 256-byte guess to exercise
	// the doubling retry.
	long := ""
	for len(long) < 400 {
		long += "abcdefghij/"
	}
	long = long[:399]
	link := filepath.Join(dir, "link")
	if err := os.Symlink(long, link); err != nil {
		t.Fatal(err)
	}
	dirfd := openDir(t, dir)

	got, err := ReadlinkAt(dirfd, "link")
	if err != nil {
		t.Fatalf("ReadlinkAt: %v", err)
	}
	if string(got) != long {
		t.Fatalf("ReadlinkAt returned %d bytes, want %d", len(got), len(long))
	}
}

func TestXattrsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	dirfd := openDir(t, dir)
	fd, err := OpenAt(dirfd, "f", unix.O_RDONLY)
	if err != nil {
		t.Fatal(err)
	}
	defer Close(fd)

	got, err := Xattrs(fd)
	if err != nil {
		t.Fatalf("Xattrs: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil xattrs, got %v", got)
	}
}

func TestXattrsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := unix.Setxattr(path, "user.greeting", []byte("hello"), 0); err != nil {
		t.Skipf("xattrs not supported on this filesystem: %v", err)
	}

	dirfd := openDir(t, dir)
	fd, err := OpenAt(dirfd, "f", unix.O_RDONLY)
	if err != nil {
		t.Fatal(err)
	}
	defer Close(fd)

	got, err := Xattrs(fd)
	if err != nil {
		t.Fatalf("Xattrs: %v", err)
	}
	if len(got) != 1 || string(got[0].Name) != "user.greeting" || string(got[0].Value) != "hello" {
		t.Fatalf("Xattrs = %+v, want one user.greeting=hello", got)
	}
}

func TestOpenNoFollowOpensRegularFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	dirfd := openDir(t, dir)

	fd, err := OpenNoFollow(dirfd, "f", unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenNoFollow: %v", err)
	}
	defer Close(fd)

	buf := make([]byte, 2)
	n, err := unix.Read(fd, buf)
	if err != nil || n != 2 {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
}

func TestOpenNoFollowRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "target"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("target", filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	dirfd := openDir(t, dir)

	_, err := OpenNoFollow(dirfd, "link", unix.O_RDONLY, 0)
	if err == nil {
		t.Fatal("expected OpenNoFollow to refuse a symlink")
	}
}

func TestGetdentsNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	dirfd := openDir(t, dir)

	buf := make([]byte, 4096)
	n, err := Getdents(dirfd, buf)
	if err != nil {
		t.Fatalf("Getdents: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected non-zero bytes from non-empty directory")
	}
}
