// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/plugship/plugship/pkg/release"
)

// Config declares one full release run. Paths are resolved relative to the
// directory holding the config file.
type Config struct {
	// Dir is the directory paths are resolved against. Set by LoadConfig;
	// defaults to the current directory.
	Dir string `yaml:"-"`
	// resolved guards against resolving relative paths twice.
	resolved bool

	// Source locates the plugin source tree. When Repo is set the tree is
	// checked out fresh at Ref before building.
	Source SourceConfig `yaml:"source"`
	// PluginDescriptor is the plugin definition file relative to the
	// source dir.
	PluginDescriptor string `yaml:"plugin_descriptor"`
	// StagingDir receives per-target build outputs.
	StagingDir string `yaml:"staging_dir"`
	// OutputDir receives bundles, archives, and the manifest.
	OutputDir string `yaml:"output_dir"`
	// RegistryPath is the engine version to install path registry file.
	RegistryPath string `yaml:"engine_registry"`
	// BundleSpec is the bundle spec file.
	BundleSpec string `yaml:"bundle_spec"`
	// BuildNumberFile is the persisted build counter.
	BuildNumberFile string `yaml:"build_number_file"`
	// Platforms to build locally. Defaults to the host platform.
	Platforms []string `yaml:"platforms"`
	// Upload is an optional gs:// destination for produced archives.
	Upload string `yaml:"upload"`
	// Clean removes the staging tree after packaging.
	Clean bool `yaml:"clean"`

	// Hosts lists remote build hosts dispatched before the local build.
	Hosts []HostConfig `yaml:"hosts"`
	// RemoteDir is the working directory convention on build hosts.
	RemoteDir string `yaml:"remote_dir"`
	// MaxParallelHosts bounds simultaneous host dispatches.
	MaxParallelHosts int `yaml:"max_parallel_hosts"`
}

// SourceConfig locates the plugin source.
type SourceConfig struct {
	Dir  string `yaml:"dir"`
	Repo string `yaml:"repo"`
	Ref  string `yaml:"ref"`
}

// HostConfig describes one remote build host's contribution.
type HostConfig struct {
	Host      string `yaml:"host"`
	Bootstrap string `yaml:"bootstrap"`
	Branch    string `yaml:"branch"`
	// Fetch is the well-known remote archive path retrieved after the
	// bootstrap completes.
	Fetch string `yaml:"fetch"`
}

// LoadConfig reads a pipeline config file.
func LoadConfig(r io.Reader, dir string) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "parsing pipeline config")
	}
	cfg.Dir = dir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and resolves relative paths.
func (c *Config) Validate() error {
	switch {
	case c.StagingDir == "":
		return errors.New("pipeline config: staging_dir is required")
	case c.OutputDir == "":
		return errors.New("pipeline config: output_dir is required")
	case c.RegistryPath == "":
		return errors.New("pipeline config: engine_registry is required")
	case c.BundleSpec == "":
		return errors.New("pipeline config: bundle_spec is required")
	case c.BuildNumberFile == "":
		return errors.New("pipeline config: build_number_file is required")
	case c.Source.Dir == "":
		return errors.New("pipeline config: source.dir is required")
	}
	for _, p := range c.Platforms {
		if _, err := release.ParsePlatform(p); err != nil {
			return errors.Wrap(err, "pipeline config")
		}
	}
	for i, h := range c.Hosts {
		switch {
		case h.Host == "":
			return errors.Errorf("pipeline config: hosts[%d]: host is required", i)
		case h.Bootstrap == "":
			return errors.Errorf("pipeline config: hosts[%d]: bootstrap is required", i)
		case h.Fetch == "":
			return errors.Errorf("pipeline config: hosts[%d]: fetch is required", i)
		}
	}
	if !c.resolved {
		c.StagingDir = c.resolve(c.StagingDir)
		c.OutputDir = c.resolve(c.OutputDir)
		c.Source.Dir = c.resolve(c.Source.Dir)
		c.RegistryPath = c.resolve(c.RegistryPath)
		c.BundleSpec = c.resolve(c.BundleSpec)
		c.BuildNumberFile = c.resolve(c.BuildNumberFile)
		for i := range c.Hosts {
			c.Hosts[i].Bootstrap = c.resolve(c.Hosts[i].Bootstrap)
		}
		c.resolved = true
	}
	return nil
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// rootDir is the filesystem root config-relative files are read from.
func (c *Config) rootDir() string {
	if c.Dir == "" {
		return "."
	}
	return c.Dir
}

func (c *Config) platforms() []release.Platform {
	if len(c.Platforms) == 0 {
		return []release.Platform{release.HostPlatform()}
	}
	var out []release.Platform
	for _, p := range c.Platforms {
		platform, _ := release.ParsePlatform(p)
		out = append(out, platform)
	}
	return out
}
