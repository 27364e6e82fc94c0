// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io/fs"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
)

// Packager compresses staging directories into archives at deterministic
// destinations. Any pre-existing archive at a destination is fully removed
// before writing, never merged into, so re-running with identical inputs
// yields a semantically identical archive with no stale entries.
type Packager struct {
	// Out is the filesystem the archives are written to.
	Out billy.Filesystem
	// Format selects the archive type. Zero value is ZipFormat.
	Format Format
}

// Package archives the tree rooted at root in srcfs to dest, replacing any
// existing archive there.
func (p *Packager) Package(srcfs billy.Filesystem, root, dest string) error {
	return p.packageRoots(srcfs, []string{root}, dest, false)
}

// PackageMany archives several trees into one archive, each under a
// top-level directory named after its root. Used for the umbrella archive
// spanning every bundle a run produced.
func (p *Packager) PackageMany(srcfs billy.Filesystem, roots []string, dest string) error {
	return p.packageRoots(srcfs, roots, dest, true)
}

func (p *Packager) packageRoots(srcfs billy.Filesystem, roots []string, dest string, prefixed bool) error {
	if err := p.Out.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "removing prior archive %s", dest)
	}
	f, err := p.Out.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating archive %s", dest)
	}
	defer f.Close()
	prefix := func(root string) string {
		if prefixed {
			return path.Base(root)
		}
		return ""
	}
	switch p.Format {
	case TarGzFormat:
		gzw := gzip.NewWriter(f)
		tw := tar.NewWriter(gzw)
		for _, root := range roots {
			if err := tarTree(tw, srcfs, root, prefix(root)); err != nil {
				return errors.Wrapf(err, "archiving %s", root)
			}
		}
		if err := tw.Close(); err != nil {
			return errors.Wrap(err, "finalizing tar")
		}
		if err := gzw.Close(); err != nil {
			return errors.Wrap(err, "finalizing gzip")
		}
	default:
		zw := zip.NewWriter(f)
		for _, root := range roots {
			if err := zipTree(zw, srcfs, root, prefix(root)); err != nil {
				return errors.Wrapf(err, "zipping %s", root)
			}
		}
		if err := zw.Close(); err != nil {
			return errors.Wrap(err, "finalizing zip")
		}
	}
	return errors.Wrapf(f.Close(), "closing archive %s", dest)
}
