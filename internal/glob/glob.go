// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package glob matches slash-separated paths against patterns, extending
// path.Match with a '**' segment that spans zero or more directory levels.
package glob

import (
	"errors"
	"path"
	"strings"
)

// Match reports whether name matches pattern.
//   - '**' matches zero or more whole path components
//   - '**' may appear at most once and must be bounded by '/' or the
//     pattern edges
//   - all other syntax is that of path.Match
func Match(pattern, name string) (bool, error) {
	if !strings.Contains(pattern, "**") {
		return path.Match(pattern, name)
	}
	if err := checkDoublestar(pattern); err != nil {
		return false, err
	}
	before, after, _ := strings.Cut(pattern, "**")
	if before != "" {
		// The prefix pattern consumes as many leading components of name
		// as it has itself.
		end := prefixLen(name, strings.Count(before, "/"))
		if end < 0 || end > len(name) {
			return false, nil
		}
		ok, err := path.Match(before, name[:end])
		if err != nil || !ok {
			return false, err
		}
	}
	if after != "" {
		start := suffixStart(name, strings.Count(after, "/"))
		if start < 0 || start > len(name) {
			return false, nil
		}
		ok, err := path.Match(after, name[start:])
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func checkDoublestar(pattern string) error {
	if strings.Count(pattern, "**") > 1 {
		return errors.New("invalid pattern: at most one '**' is permitted")
	}
	i := strings.Index(pattern, "**")
	if i > 0 && pattern[i-1] != '/' {
		return errors.New("invalid pattern: '**' must be bounded by slashes or the pattern edges")
	}
	if i+2 < len(pattern) && pattern[i+2] != '/' {
		return errors.New("invalid pattern: '**' must be bounded by slashes or the pattern edges")
	}
	return nil
}

// prefixLen returns the length of the name prefix spanning the given number
// of slashes, including the final slash, or -1 if name has fewer slashes.
func prefixLen(name string, slashes int) int {
	if slashes == 0 {
		return 0
	}
	seen := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			seen++
			if seen == slashes {
				return i + 1
			}
		}
	}
	return -1
}

// suffixStart returns the index of the slash beginning the name suffix that
// spans the given number of slashes, or -1 if name has fewer slashes.
func suffixStart(name string, slashes int) int {
	if slashes == 0 {
		return len(name)
	}
	seen := 0
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			seen++
			if seen == slashes {
				return i
			}
		}
	}
	return -1
}

// Exclusions is an ordered set of patterns applied to archive-relative
// paths during artifact copies. A pattern containing a separator is
// matched against the whole path; one without is matched against every
// path element, so "*.pdb" excludes debug symbols at any depth and
// "Intermediate" excludes that directory wherever it appears.
type Exclusions []string

// Match reports whether name matches any pattern in the set.
func (e Exclusions) Match(name string) (bool, error) {
	var elems []string
	for _, pattern := range e {
		if strings.Contains(pattern, "/") {
			ok, err := Match(pattern, name)
			if err != nil || ok {
				return ok, err
			}
			continue
		}
		if elems == nil {
			elems = strings.Split(name, "/")
		}
		for _, elem := range elems {
			ok, err := path.Match(pattern, elem)
			if err != nil || ok {
				return ok, err
			}
		}
	}
	return false, nil
}

// Validate reports the first malformed pattern in the set.
func (e Exclusions) Validate() error {
	for _, pattern := range e {
		if _, err := Match(pattern, "probe"); err != nil {
			return errors.New("invalid exclusion pattern: " + pattern)
		}
	}
	return nil
}
