// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// ManifestName is the add-on's extension manifest inside its payload.
const ManifestName = "manifest.toml"

// StampManifest rewrites the add-on manifest at path so the packaged
// payload carries the run's build number: the `build` key is set and the
// build metadata suffix of `version` is replaced. The stamp is applied to
// the bundle's copy, never the source payload.
func StampManifest(fs billy.Filesystem, path string, buildNumber int) error {
	f, err := fs.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening add-on manifest")
	}
	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return errors.Wrap(err, "reading add-on manifest")
	}
	var doc map[string]any
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(err, "parsing add-on manifest")
	}
	doc["build"] = int64(buildNumber)
	if version, ok := doc["version"].(string); ok {
		base, _, _ := strings.Cut(version, "+")
		doc["version"] = fmt.Sprintf("%s+build.%d", base, buildNumber)
	}
	stamped, err := toml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding add-on manifest")
	}
	out, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "rewriting add-on manifest")
	}
	defer out.Close()
	_, err = out.Write(stamped)
	return errors.Wrap(err, "writing add-on manifest")
}
