// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package billyx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/util"
)

func TestLocateAbsolute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engines.txt")
	if err := os.WriteFile(path, []byte("5.4=/opt/ue54\n"), 0644); err != nil {
		t.Fatal(err)
	}
	bfs, name, err := Locate(path)
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if name != "engines.txt" {
		t.Errorf("name = %q, want engines.txt", name)
	}
	// The absolute path must open as-is, not be re-rooted under the cwd.
	raw, err := util.ReadFile(bfs, name)
	if err != nil {
		t.Fatalf("reading located file: %v", err)
	}
	if string(raw) != "5.4=/opt/ue54\n" {
		t.Errorf("content = %q", raw)
	}
}

func TestLocateRelative(t *testing.T) {
	bfs, name, err := Locate(filepath.Join("conf", "engines.txt"))
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if name != "engines.txt" {
		t.Errorf("name = %q, want engines.txt", name)
	}
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(cwd, "conf"); bfs.Root() != want {
		t.Errorf("root = %q, want %q", bfs.Root(), want)
	}
}
