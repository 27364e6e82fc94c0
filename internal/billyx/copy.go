// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package billyx provides path and copy helpers for billy filesystems.
package billyx

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/plugship/plugship/internal/glob"
)

// CopyDir copies the tree rooted at srcRoot in src to dstRoot in dst,
// skipping entries matched by exclude. Excluded directories are pruned
// whole. Returns the number of regular files copied.
func CopyDir(dst billy.Filesystem, dstRoot string, src billy.Filesystem, srcRoot string, exclude glob.Exclusions) (int, error) {
	copied := 0
	err := util.Walk(src, srcRoot, func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, name)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if len(exclude) > 0 {
			matched, err := exclude.Match(rel)
			if err != nil {
				return err
			}
			if matched {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		target := dst.Join(dstRoot, rel)
		switch {
		case info.IsDir():
			return dst.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := src.Readlink(name)
			if err != nil {
				return err
			}
			return dst.Symlink(link, target)
		default:
			if err := copyFile(dst, target, src, name, info.Mode()); err != nil {
				return err
			}
			copied++
			return nil
		}
	})
	return copied, err
}

func copyFile(dst billy.Filesystem, dstPath string, src billy.Filesystem, srcPath string, mode fs.FileMode) error {
	srcFile, err := src.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	if err := dst.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	dstFile, err := dst.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer dstFile.Close()
	_, err = io.Copy(dstFile, srcFile)
	return err
}
