// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package release implements the per-target build half of the pipeline:
// matrix expansion, engine resolution, external tool invocation, and the
// per-run outcome ledger.
package release

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Platform identifies an operating system a target is built for.
type Platform string

// Platform constants. These select build tool flavors and are used as
// prefixes in staging directory names.
const (
	Windows Platform = "windows"
	Mac     Platform = "mac"
	Linux   Platform = "linux"
)

// ParsePlatform converts a user-supplied platform name to a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(s)) {
	case Windows:
		return Windows, nil
	case Mac:
		return Mac, nil
	case Linux:
		return Linux, nil
	default:
		return "", errors.Errorf("unknown platform: %q", s)
	}
}

// HostPlatform returns the Platform of the machine running this process.
func HostPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return Windows
	case "darwin":
		return Mac
	default:
		return Linux
	}
}

// Target is a single (platform, engine version) combination to build for.
//
// Identity is (Platform, EngineVersion). EngineInstallPath is resolved from
// the registry at expansion time and left empty when the version has no
// known installation, in which case the runner records the target as
// Skipped rather than Failed.
type Target struct {
	Platform          Platform
	EngineVersion     string
	EngineInstallPath string
}

// ID returns the stable identity string used to key staging directories
// and log lines.
func (t Target) ID() string {
	return fmt.Sprintf("%s-%s", t.Platform, t.EngineVersion)
}

// ExpandMatrix crosses platforms with engine versions and resolves each
// version against the registry. Order is platform-major, matching the
// input slices, so ledger ordering is reproducible run to run.
func ExpandMatrix(platforms []Platform, versions []string, reg Registry) ([]Target, error) {
	if len(platforms) == 0 {
		return nil, errors.New("no platforms provided")
	}
	if len(versions) == 0 {
		return nil, errors.New("no engine versions provided")
	}
	var targets []Target
	for _, p := range platforms {
		for _, v := range versions {
			targets = append(targets, Target{
				Platform:          p,
				EngineVersion:     v,
				EngineInstallPath: reg[v],
			})
		}
	}
	return targets, nil
}
