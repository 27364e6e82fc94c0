// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
)

// Staging is the on-disk tree holding per-target build outputs. Each
// target owns an isolated subdirectory keyed by (platform, engine version)
// so concurrent targets cannot collide. The tree is exclusively owned by
// the run writing to it.
type Staging struct {
	FS billy.Filesystem
}

// NewStaging creates a staging tree over fs.
func NewStaging(fs billy.Filesystem) *Staging {
	return &Staging{FS: fs}
}

// Dir returns the target's subdirectory relative to the staging root.
func (s *Staging) Dir(t Target) string {
	return t.ID()
}

// HostDir returns the target's subdirectory as an absolute host path,
// suitable for handing to an external process.
func (s *Staging) HostDir(t Target) string {
	return filepath.Join(s.FS.Root(), s.Dir(t))
}

// Clean removes and recreates the target's subdirectory. Cleanup precedes
// any write so an aborted run always leaves a removable tree.
func (s *Staging) Clean(t Target) error {
	dir := s.Dir(t)
	if err := util.RemoveAll(s.FS, dir); err != nil {
		return errors.Wrapf(err, "removing staging dir %s", dir)
	}
	return errors.Wrapf(s.FS.MkdirAll(dir, 0755), "creating staging dir %s", dir)
}

// RemoveAll deletes the whole staging tree.
func (s *Staging) RemoveAll() error {
	return errors.Wrap(util.RemoveAll(s.FS, "."), "removing staging tree")
}
