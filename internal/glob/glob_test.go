// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package glob

import (
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
		wantErr bool
	}{
		// Plain path.Match behavior.
		{"readme.txt", "readme.txt", true, false},
		{"*.pdb", "core.pdb", true, false},
		{"*.pdb", "sub/core.pdb", false, false},
		{"a/?/c", "a/b/c", true, false},
		{"bin/*/plugin.so", "bin/linux/plugin.so", true, false},

		// Bare doublestar.
		{"**", "", true, false},
		{"**", "a", true, false},
		{"**", "a/b/c", true, false},

		// Prefix before the doublestar.
		{"build/**", "build", false, false},
		{"build/**", "build/", true, false},
		{"build/**", "build/x/y", true, false},

		// Suffix after the doublestar.
		{"**/plugin.dll", "plugin.dll", false, false},
		{"**/plugin.dll", "bin/win64/plugin.dll", true, false},
		{"**/*.pdb", "bin/win64/core.pdb", true, false},
		{"**/*.pdb", "core.pdb", false, false},

		// Both sides.
		{"out/**/lib", "out/lib", true, false},
		{"out/**/lib", "out/a/lib", true, false},
		{"out/**/lib", "out/a/b/lib", true, false},
		{"out/**/lib", "other/a/lib", false, false},
		{"out/**/lib", "out/a/lib/extra", false, false},
		{"out/**/lib/*", "out/a/lib/extra", true, false},

		// Malformed patterns.
		{"a**", "", false, true},
		{"**b", "", false, true},
		{"a/**/b/**/c", "", false, true},
		{"***", "", false, true},
	}
	for _, tc := range tests {
		got, err := Match(tc.pattern, tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("Match(%q, %q) error = %v, wantErr = %v", tc.pattern, tc.name, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}

func TestExclusionsMatch(t *testing.T) {
	excl := Exclusions{"*.pdb", "*.debug", "Intermediate", "docs/internal/**"}
	tests := []struct {
		name string
		want bool
	}{
		{"plugin.dll", false},
		{"plugin.pdb", true},
		{"bin/win64/plugin.pdb", true},
		{"bin/linux/libplugin.debug", true},
		{"bin/linux/libplugin.so", false},
		{"src/Intermediate/obj/a.o", true},
		{"src/IntermediateX/obj/a.o", false},
		{"docs/internal/notes.md", true},
		{"docs/public/notes.md", false},
		{"readme.md", false},
	}
	for _, tc := range tests {
		got, err := excl.Match(tc.name)
		if err != nil {
			t.Fatalf("Match(%q) returned error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExclusionsEmpty(t *testing.T) {
	var excl Exclusions
	got, err := excl.Match("bin/win64/plugin.pdb")
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if got {
		t.Error("empty exclusion set matched a path")
	}
}

func TestExclusionsValidate(t *testing.T) {
	if err := (Exclusions{"*.pdb", "**/obj/**"}).Validate(); err != nil {
		t.Errorf("Validate rejected well-formed patterns: %v", err)
	}
	if err := (Exclusions{"a**b"}).Validate(); err == nil {
		t.Error("Validate accepted a malformed doublestar pattern")
	}
}
