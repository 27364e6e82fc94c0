// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/zip"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
)

// ZipDir writes the tree rooted at root in srcfs to w as a zip archive.
// Entry names are slash-separated and relative to root; walk order is the
// filesystem's sorted directory order, so identical inputs produce
// identical listings.
func ZipDir(w io.Writer, srcfs billy.Filesystem, root string) error {
	zw := zip.NewWriter(w)
	if err := zipTree(zw, srcfs, root, ""); err != nil {
		return errors.Wrapf(err, "zipping %s", root)
	}
	return errors.Wrap(zw.Close(), "finalizing zip")
}

// zipTree appends one tree's entries to zw under the given name prefix.
func zipTree(zw *zip.Writer, srcfs billy.Filesystem, root, prefix string) error {
	return util.Walk(srcfs, root, func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, name)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if prefix != "" {
			rel = prefix + "/" + rel
		}
		if info.IsDir() {
			_, err := zw.Create(rel + "/")
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = rel
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := srcfs.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(fw, f)
		return err
	})
}

// ListZip returns the file entry names of a zip archive in archive order,
// omitting directory entries.
func ListZip(fs billy.Filesystem, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	info, err := fs.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stating %s", path)
	}
	ra, ok := f.(io.ReaderAt)
	if !ok {
		return nil, errors.Errorf("%s does not support random access", path)
	}
	zr, err := zip.NewReader(ra, info.Size())
	if err != nil {
		return nil, errors.Wrap(err, "initializing zip reader")
	}
	var names []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		names = append(names, zf.Name)
	}
	return names, nil
}
