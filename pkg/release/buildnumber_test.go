// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

func TestReadBuildNumber(t *testing.T) {
	fs := memfs.New()
	if err := util.WriteFile(fs, "version.txt", []byte("# release counter\nbuild_number=41\n"), 0644); err != nil {
		t.Fatal(err)
	}
	n, err := ReadBuildNumber(fs, "version.txt")
	if err != nil {
		t.Fatalf("ReadBuildNumber returned error: %v", err)
	}
	if n != 41 {
		t.Errorf("ReadBuildNumber = %d, want 41", n)
	}
}

func TestReadBuildNumberMissingKey(t *testing.T) {
	fs := memfs.New()
	if err := util.WriteFile(fs, "version.txt", []byte("name=plugship\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadBuildNumber(fs, "version.txt"); err == nil {
		t.Error("ReadBuildNumber accepted a file without build_number")
	}
}

func TestBumpBuildNumber(t *testing.T) {
	fs := memfs.New()
	if err := WriteBuildNumber(fs, "version.txt", 41); err != nil {
		t.Fatal(err)
	}
	n, err := BumpBuildNumber(fs, "version.txt")
	if err != nil {
		t.Fatalf("BumpBuildNumber returned error: %v", err)
	}
	if n != 42 {
		t.Errorf("BumpBuildNumber = %d, want 42", n)
	}
	if got, err := ReadBuildNumber(fs, "version.txt"); err != nil || got != 42 {
		t.Errorf("persisted counter = %d, %v; want 42", got, err)
	}
}

func TestBumpBuildNumberStartsFresh(t *testing.T) {
	fs := memfs.New()
	n, err := BumpBuildNumber(fs, "version.txt")
	if err != nil {
		t.Fatalf("BumpBuildNumber returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("BumpBuildNumber on missing file = %d, want 1", n)
	}
}
