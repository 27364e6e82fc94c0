// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
)

// buildNumberKey is the key of the persisted counter line.
const buildNumberKey = "build_number"

// ReadBuildNumber reads the persisted build counter, the only cross-run
// state in the pipeline. The file holds a single `build_number=<integer>`
// line; other lines are preserved as opaque.
func ReadBuildNumber(fs billy.Filesystem, path string) (int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "opening build number file")
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(s.Text()), "=")
		if !ok || strings.TrimSpace(key) != buildNumberKey {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, errors.Wrapf(err, "parsing build number %q", value)
		}
		return n, nil
	}
	if err := s.Err(); err != nil {
		return 0, errors.Wrap(err, "reading build number file")
	}
	return 0, errors.Errorf("no %s entry in %s", buildNumberKey, path)
}

// WriteBuildNumber persists the counter.
func WriteBuildNumber(fs billy.Filesystem, path string, n int) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating build number file")
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s=%d\n", buildNumberKey, n)
	return errors.Wrap(err, "writing build number file")
}

// BumpBuildNumber increments the persisted counter and returns the new
// value. A missing file starts the counter at 1.
func BumpBuildNumber(fs billy.Filesystem, path string) (int, error) {
	n, err := ReadBuildNumber(fs, path)
	if err != nil {
		n = 0
	}
	n++
	if err := WriteBuildNumber(fs, path, n); err != nil {
		return 0, err
	}
	return n, nil
}
