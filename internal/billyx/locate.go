// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package billyx

import (
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
)

// Locate returns an OS-backed filesystem rooted at path's parent directory
// and the path's name within it. billy chroots reinterpret absolute paths
// as root-relative, so a user-supplied file path must be split this way
// before opening; Locate accepts absolute and relative paths alike.
func Locate(path string) (billy.Filesystem, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "resolving %s", path)
	}
	return osfs.New(filepath.Dir(abs)), filepath.Base(abs), nil
}
