// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
)

// Registry maps an engine version identifier to its installation path.
type Registry map[string]string

// LoadRegistry reads a flat `version=path` registry file. Blank lines and
// lines starting with '#' are ignored.
func LoadRegistry(fs billy.Filesystem, path string) (Registry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening engine registry")
	}
	defer f.Close()
	reg := Registry{}
	s := bufio.NewScanner(f)
	for line := 1; s.Scan(); line++ {
		text := strings.TrimSpace(s.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		version, install, ok := strings.Cut(text, "=")
		if !ok {
			return nil, errors.Errorf("malformed registry entry at %s:%d: %q", path, line, text)
		}
		reg[strings.TrimSpace(version)] = strings.TrimSpace(install)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "reading engine registry")
	}
	return reg, nil
}

// Write persists the registry as a flat `version=path` file, sorted by
// version for stable diffs.
func (r Registry) Write(fs billy.Filesystem, path string) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating engine registry")
	}
	defer f.Close()
	versions := make([]string, 0, len(r))
	for v := range r {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	for _, v := range versions {
		if _, err := fmt.Fprintf(f, "%s=%s\n", v, r[v]); err != nil {
			return errors.Wrap(err, "writing engine registry")
		}
	}
	return nil
}

// launcherDatabase is the installation database maintained by the engine
// vendor's desktop launcher.
type launcherDatabase struct {
	InstallationList []struct {
		AppName         string `json:"AppName"`
		InstallLocation string `json:"InstallLocation"`
	} `json:"InstallationList"`
}

// engineAppPrefix distinguishes engine installs from other launcher apps.
const engineAppPrefix = "UE_"

// ImportLauncherDatabase merges engine installations found in the
// launcher's JSON database into the registry. Entries whose AppName lacks
// the engine prefix are ignored; known versions are overwritten with the
// launcher's view.
func ImportLauncherDatabase(fs billy.Filesystem, path string, reg Registry) error {
	f, err := fs.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening launcher database")
	}
	defer f.Close()
	var db launcherDatabase
	if err := json.NewDecoder(f).Decode(&db); err != nil {
		return errors.Wrap(err, "parsing launcher database")
	}
	for _, install := range db.InstallationList {
		version, ok := strings.CutPrefix(install.AppName, engineAppPrefix)
		if !ok {
			continue
		}
		reg[version] = install.InstallLocation
	}
	return nil
}
