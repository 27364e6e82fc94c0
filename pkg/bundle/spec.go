// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle assembles per-engine-version release bundles from matrix
// build outputs and fixed auxiliary payloads.
package bundle

import (
	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/plugship/plugship/internal/glob"
	"github.com/plugship/plugship/pkg/release"
)

// DefaultExclusions are the debug-symbol patterns excluded from bundle
// copies when a spec does not set its own.
var DefaultExclusions = glob.Exclusions{"*.pdb", "*.debug", "*.dSYM"}

// Spec declares the bundles one release run should produce.
type Spec struct {
	// Product names the plugin pair being released; it prefixes archive names.
	Product string `yaml:"product"`
	// Bundles lists one entry per release unit, typically per engine version.
	Bundles []BundleSpec `yaml:"bundles"`
	// Auxiliary payloads copied into every bundle (README, license).
	Auxiliary []Component `yaml:"auxiliary"`
	// AddonDir is the pre-built content-tool add-on payload. It is stamped
	// with the build number and zipped into each bundle on its own.
	AddonDir string `yaml:"addon_dir"`
	// Exclude patterns are applied to every copied path during
	// aggregation. Defaults to DefaultExclusions.
	Exclude glob.Exclusions `yaml:"exclude"`
}

// BundleSpec declares one release bundle.
type BundleSpec struct {
	EngineVersion string `yaml:"engine_version"`
	// Platforms whose build outputs the bundle collects.
	Platforms []release.Platform `yaml:"platforms"`
	// Required escalates a missing or failed build for this version from a
	// skipped bundle to a fatal missing-artifact error at aggregation time.
	Required bool `yaml:"required"`
}

// Component is one (source, destination) pair copied into a bundle root.
type Component struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// LoadSpec reads and validates a bundle spec.
func LoadSpec(fs billy.Filesystem, path string) (*Spec, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening bundle spec")
	}
	defer f.Close()
	var spec Spec
	if err := yaml.NewDecoder(f).Decode(&spec); err != nil {
		return nil, errors.Wrap(err, "parsing bundle spec")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec and applies defaults.
func (s *Spec) Validate() error {
	if s.Product == "" {
		return errors.New("bundle spec: product is required")
	}
	if len(s.Bundles) == 0 {
		return errors.New("bundle spec: at least one bundle is required")
	}
	for i, b := range s.Bundles {
		if b.EngineVersion == "" {
			return errors.Errorf("bundle spec: bundles[%d]: engine_version is required", i)
		}
		if len(b.Platforms) == 0 {
			return errors.Errorf("bundle spec: bundles[%d]: at least one platform is required", i)
		}
		for _, p := range b.Platforms {
			if _, err := release.ParsePlatform(string(p)); err != nil {
				return errors.Wrapf(err, "bundle spec: bundles[%d]", i)
			}
		}
	}
	if len(s.Exclude) == 0 {
		s.Exclude = DefaultExclusions
	}
	return errors.Wrap(s.Exclude.Validate(), "bundle spec")
}

// Versions returns the engine versions the spec covers, in spec order.
func (s *Spec) Versions() []string {
	var versions []string
	for _, b := range s.Bundles {
		versions = append(versions, b.EngineVersion)
	}
	return versions
}
