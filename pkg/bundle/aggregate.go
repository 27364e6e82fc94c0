// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"

	"github.com/plugship/plugship/internal/billyx"
	"github.com/plugship/plugship/pkg/archive"
	"github.com/plugship/plugship/pkg/release"
)

// Bundle is one assembled release unit, rooted under the aggregator's
// output tree and consumed read-only by the packager.
type Bundle struct {
	Name          string
	EngineVersion string
	// Root is the bundle directory relative to the output filesystem.
	Root string
	// Components records every (source, destination) pair copied in, in
	// copy order.
	Components []Component
}

// Aggregator merges Success build outputs and fixed auxiliary payloads
// into per-engine-version bundle trees.
//
// Aggregation must not begin until every outcome it depends on is
// terminal; the runner guarantees that by handing over a completed ledger.
type Aggregator struct {
	Spec *Spec
	// Staging holds per-target build outputs, keyed by Target.ID().
	Staging billy.Filesystem
	// Aux resolves auxiliary component sources and the add-on payload.
	Aux billy.Filesystem
	// Out receives the assembled bundle trees.
	Out billy.Filesystem
	// BuildNumber is stamped into the add-on manifest before packaging.
	BuildNumber int
}

// Aggregate builds one bundle per spec entry from the run's ledger.
// Bundles whose required build is absent or failed abort aggregation with
// a missing-artifact error; optional misses skip the bundle and continue.
func (a *Aggregator) Aggregate(ctx context.Context, ledger *release.Ledger) ([]Bundle, error) {
	var bundles []Bundle
	for _, bs := range a.Spec.Bundles {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "aggregation cancelled")
		}
		b, err := a.assemble(bs, ledger)
		if err != nil {
			if errors.Is(err, errOptionalMiss) {
				log.Printf("[bundle=%s-%s] skipping optional bundle: %v", a.Spec.Product, bs.EngineVersion, err)
				// Drop the partial tree so packaging never sees it.
				if rmErr := util.RemoveAll(a.Out, a.Spec.Product+"-"+bs.EngineVersion); rmErr != nil {
					return nil, errors.Wrap(rmErr, "removing partial bundle")
				}
				continue
			}
			return nil, err
		}
		bundles = append(bundles, *b)
	}
	return bundles, nil
}

// errOptionalMiss marks a miss on a bundle the spec did not require.
var errOptionalMiss = errors.New("optional bundle input missing")

func (a *Aggregator) assemble(bs BundleSpec, ledger *release.Ledger) (*Bundle, error) {
	name := a.Spec.Product + "-" + bs.EngineVersion
	b := Bundle{Name: name, EngineVersion: bs.EngineVersion, Root: name}
	// Replace, never merge into, any prior bundle tree.
	if err := util.RemoveAll(a.Out, b.Root); err != nil {
		return nil, errors.Wrapf(err, "removing prior bundle %s", name)
	}
	if err := a.Out.MkdirAll(b.Root, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating bundle root %s", name)
	}
	for _, p := range bs.Platforms {
		o := ledger.Find(p, bs.EngineVersion)
		var reason string
		switch {
		case o == nil:
			reason = "no build was attempted"
		case o.Status != release.Success:
			reason = "build status is " + string(o.Status)
		}
		if reason != "" {
			if !bs.Required {
				return nil, errors.Wrapf(errOptionalMiss, "%s build of engine %s: %s", p, bs.EngineVersion, reason)
			}
			return nil, errors.Wrapf(ErrIncomplete(reason), "bundle %s requires the %s build of engine %s", name, p, bs.EngineVersion)
		}
		src := o.Target.ID()
		dest := path.Join(b.Root, "Plugin", string(p))
		copied, err := billyx.CopyDir(a.Out, dest, a.Staging, src, a.Spec.Exclude)
		if err != nil {
			return nil, errors.Wrapf(err, "copying %s output into bundle %s", o.Target.ID(), name)
		}
		if copied == 0 {
			return nil, errors.Wrapf(ErrIncomplete("output directory is empty"), "bundle %s, %s build of engine %s", name, p, bs.EngineVersion)
		}
		b.Components = append(b.Components, Component{Source: src, Dest: dest})
	}
	for _, c := range a.Spec.Auxiliary {
		if err := a.copyComponent(&b, c); err != nil {
			return nil, errors.Wrapf(err, "bundle %s", name)
		}
	}
	if a.Spec.AddonDir != "" {
		if err := a.packAddon(&b); err != nil {
			return nil, errors.Wrapf(err, "bundle %s", name)
		}
	}
	return &b, nil
}

// ErrIncomplete builds a missing-artifact error with the given cause. The
// result satisfies errors.Is(err, release.ErrMissingArtifact).
func ErrIncomplete(reason string) error {
	return stderrors.Join(release.ErrMissingArtifact, errors.New(reason))
}

func (a *Aggregator) copyComponent(b *Bundle, c Component) error {
	info, err := a.Aux.Stat(c.Source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(stderrors.Join(err, release.ErrConfiguration), "auxiliary payload %s not found", c.Source)
		}
		return errors.Wrapf(err, "stating auxiliary payload %s", c.Source)
	}
	dest := path.Join(b.Root, c.Dest)
	if info.IsDir() {
		if _, err := billyx.CopyDir(a.Out, dest, a.Aux, c.Source, a.Spec.Exclude); err != nil {
			return errors.Wrapf(err, "copying auxiliary payload %s", c.Source)
		}
	} else if err := copyFile(a.Out, dest, a.Aux, c.Source); err != nil {
		return errors.Wrapf(err, "copying auxiliary payload %s", c.Source)
	}
	b.Components = append(b.Components, Component{Source: c.Source, Dest: dest})
	return nil
}

// packAddon stages a copy of the add-on payload, stamps its manifest with
// the build number, and zips it into the bundle as a standalone archive.
// The source payload is never modified.
func (a *Aggregator) packAddon(b *Bundle) error {
	stage := b.Root + ".addon"
	if err := util.RemoveAll(a.Out, stage); err != nil {
		return errors.Wrap(err, "cleaning add-on stage")
	}
	if _, err := billyx.CopyDir(a.Out, stage, a.Aux, a.Spec.AddonDir, a.Spec.Exclude); err != nil {
		return errors.Wrapf(err, "staging add-on payload %s", a.Spec.AddonDir)
	}
	manifest := path.Join(stage, ManifestName)
	if _, err := a.Out.Stat(manifest); err != nil {
		return errors.Wrapf(stderrors.Join(err, release.ErrConfiguration), "add-on payload has no %s", ManifestName)
	}
	if err := StampManifest(a.Out, manifest, a.BuildNumber); err != nil {
		return err
	}
	dest := path.Join(b.Root, a.Spec.Product+"-addon.zip")
	f, err := a.Out.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "creating add-on archive")
	}
	defer f.Close()
	if err := archive.ZipDir(f, a.Out, stage); err != nil {
		return errors.Wrap(err, "zipping add-on payload")
	}
	if err := util.RemoveAll(a.Out, stage); err != nil {
		return errors.Wrap(err, "removing add-on stage")
	}
	b.Components = append(b.Components, Component{Source: a.Spec.AddonDir, Dest: dest})
	return nil
}

func copyFile(dst billy.Filesystem, dstPath string, src billy.Filesystem, srcPath string) error {
	sf, err := src.Open(srcPath)
	if err != nil {
		return err
	}
	defer sf.Close()
	if err := dst.MkdirAll(path.Dir(dstPath), 0755); err != nil {
		return err
	}
	df, err := dst.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer df.Close()
	_, err = io.Copy(df, sf)
	return err
}
