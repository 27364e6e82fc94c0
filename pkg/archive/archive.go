// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive compresses bundle trees into release archives.
package archive

import (
	"fmt"

	"github.com/pkg/errors"
)

// Format represents the archive types the packager can produce.
type Format int

const (
	UnknownFormat Format = iota
	ZipFormat
	TarGzFormat
)

// ParseFormat converts a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "zip":
		return ZipFormat, nil
	case "tgz", "tar.gz":
		return TarGzFormat, nil
	default:
		return UnknownFormat, errors.Errorf("unknown archive format: %q", s)
	}
}

// Ext returns the format's filename extension.
func (f Format) Ext() string {
	switch f {
	case TarGzFormat:
		return ".tar.gz"
	default:
		return ".zip"
	}
}

// Name returns the release archive filename for one bundle:
// <product>-<build_number>-<qualifier>.zip. The qualifier is an engine
// version for per-bundle archives or "all" for the umbrella archive.
func Name(product string, buildNumber int, qualifier string) string {
	return NameAs(product, buildNumber, qualifier, ZipFormat)
}

// NameAs is Name with an explicit archive format.
func NameAs(product string, buildNumber int, qualifier string, f Format) string {
	return fmt.Sprintf("%s-%d-%s%s", product, buildNumber, qualifier, f.Ext())
}

// UmbrellaQualifier names the archive spanning the whole output tree.
const UmbrellaQualifier = "all"
