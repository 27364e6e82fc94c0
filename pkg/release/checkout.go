// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"context"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
)

// CheckoutSource clones the plugin source repository into dir at the given
// ref so the build matches the triggering branch. An empty ref checks out
// the remote default branch. The directory is removed first so a retry
// never builds against a stale mixed tree.
func CheckoutSource(ctx context.Context, repoURL, ref, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "cleaning source dir")
	}
	opts := git.CloneOptions{URL: repoURL}
	if ref != "" && !plumbing.IsHash(ref) {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	repo, err := git.PlainCloneContext(ctx, dir, false, &opts)
	if err != nil && opts.ReferenceName != "" {
		// The ref may be a tag rather than a branch.
		opts.ReferenceName = plumbing.NewTagReferenceName(ref)
		repo, err = git.PlainCloneContext(ctx, dir, false, &opts)
	}
	if err != nil {
		return errors.Wrapf(err, "cloning %s", repoURL)
	}
	if plumbing.IsHash(ref) {
		w, err := repo.Worktree()
		if err != nil {
			return errors.Wrap(err, "getting worktree")
		}
		if err := w.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref)}); err != nil {
			return errors.Wrapf(err, "checking out %s", ref)
		}
	}
	return nil
}
