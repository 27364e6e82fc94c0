// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/plugship/plugship/pkg/archive"
	"github.com/plugship/plugship/pkg/manifest"
	"github.com/plugship/plugship/pkg/release"
)

// fakeBuilder produces a canned artifact per target and fails the versions
// it is told to.
type fakeBuilder struct {
	failVersions map[string]bool
	built        []string
}

func (b *fakeBuilder) Build(ctx context.Context, t release.Target, sourceDir, outputDir string) (string, error) {
	b.built = append(b.built, t.ID())
	if b.failVersions[t.EngineVersion] {
		return "", errors.Wrapf(release.ErrExternalTool, "build tool failed for %s", t.ID())
	}
	artifact := filepath.Join(outputDir, "Binaries", "libPlug.so")
	if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(artifact, []byte("so-"+t.EngineVersion), 0644); err != nil {
		return "", err
	}
	return outputDir, nil
}

const testBundleSpec = `
product: plugship
bundles:
  - engine_version: "5.4"
    platforms: [linux]
    required: true
  - engine_version: "5.5"
    platforms: [linux]
`

func writeRunFixture(t *testing.T, bundleSpec string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"bundles.yaml":     bundleSpec,
		"engines.txt":      "5.4=/opt/ue5.4\n5.5=/opt/ue5.5\n",
		"build_number.txt": "build_number=42\n",
		"src/Plug.uplugin": "{}",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig(dir string) Config {
	return Config{
		Dir:              dir,
		Source:           SourceConfig{Dir: "src"},
		PluginDescriptor: "Plug.uplugin",
		StagingDir:       "staging",
		OutputDir:        "out",
		RegistryPath:     "engines.txt",
		BundleSpec:       "bundles.yaml",
		BuildNumberFile:  "build_number.txt",
		Platforms:        []string{"linux"},
	}
}

func TestRunPartial(t *testing.T) {
	dir := writeRunFixture(t, testBundleSpec)
	builder := &fakeBuilder{failVersions: map[string]bool{"5.5": true}}
	p := &Pipeline{Config: testConfig(dir), Builder: builder}
	summary, err := p.Run(context.Background())
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("Run error = %v, want ErrPartial", err)
	}
	if p.State() != RunStateDone {
		t.Errorf("state = %s, want done", p.State())
	}
	if diff := cmp.Diff([]string{"linux-5.4", "linux-5.5"}, builder.built); diff != "" {
		t.Errorf("built targets diff (-want +got):\n%s", diff)
	}
	if summary.Ledger == nil || len(summary.Ledger.Outcomes) != 2 {
		t.Fatalf("ledger = %+v", summary.Ledger)
	}
	if got := summary.Ledger.Outcomes[0].Status; got != release.Success {
		t.Errorf("5.4 outcome = %s, want success", got)
	}
	if got := summary.Ledger.Outcomes[1].Status; got != release.Failed {
		t.Errorf("5.5 outcome = %s, want failed", got)
	}
	// Only the surviving bundle is emitted, plus the umbrella.
	if len(summary.Bundles) != 1 || summary.Bundles[0].EngineVersion != "5.4" {
		t.Fatalf("bundles = %+v, want just 5.4", summary.Bundles)
	}
	wantArchives := []string{"plugship-42-5.4.zip", "plugship-42-all.zip"}
	if diff := cmp.Diff(wantArchives, summary.Archives); diff != "" {
		t.Errorf("archives diff (-want +got):\n%s", diff)
	}
	if summary.BuildNumber != 42 {
		t.Errorf("build number = %d, want 42", summary.BuildNumber)
	}
	outFS := osfs.New(filepath.Join(dir, "out"))
	umbrella, err := archive.ListZip(outFS, "plugship-42-all.zip")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"plugship-5.4/Plugin/linux/Binaries/libPlug.so"}
	if diff := cmp.Diff(want, umbrella); diff != "" {
		t.Errorf("umbrella listing diff (-want +got):\n%s", diff)
	}
	if _, err := outFS.Stat(manifest.FileName); err != nil {
		t.Errorf("manifest missing: %v", err)
	}
}

func TestRunRequiredBundleFailureIsFatal(t *testing.T) {
	spec := `
product: plugship
bundles:
  - engine_version: "5.4"
    platforms: [linux]
    required: true
  - engine_version: "5.5"
    platforms: [linux]
    required: true
`
	dir := writeRunFixture(t, spec)
	builder := &fakeBuilder{failVersions: map[string]bool{"5.5": true}}
	p := &Pipeline{Config: testConfig(dir), Builder: builder}
	_, err := p.Run(context.Background())
	if !errors.Is(err, release.ErrMissingArtifact) {
		t.Fatalf("Run error = %v, want ErrMissingArtifact", err)
	}
	if errors.Is(err, ErrPartial) {
		t.Error("fatal aggregation failure reported as partial")
	}
	if p.State() != RunStatePackagingFailed {
		t.Errorf("state = %s, want packaging-failed", p.State())
	}
	// No archive may exist after a fatal aggregation error.
	if _, err := os.Stat(filepath.Join(dir, "out", "plugship-42-all.zip")); err == nil {
		t.Error("umbrella archive produced despite fatal error")
	}
}

func TestRunClean(t *testing.T) {
	dir := writeRunFixture(t, testBundleSpec)
	cfg := testConfig(dir)
	cfg.Clean = true
	p := &Pipeline{Config: cfg, Builder: &fakeBuilder{}}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !summary.Ledger.Clean() {
		t.Error("ledger not clean after all-success run")
	}
	wantArchives := []string{"plugship-42-5.4.zip", "plugship-42-5.5.zip", "plugship-42-all.zip"}
	if diff := cmp.Diff(wantArchives, summary.Archives); diff != "" {
		t.Errorf("archives diff (-want +got):\n%s", diff)
	}
	// Clean removes the staging tree contents after packaging.
	entries, err := os.ReadDir(filepath.Join(dir, "staging"))
	if err == nil && len(entries) > 0 {
		t.Errorf("staging tree not cleaned: %d entries remain", len(entries))
	}
}

func TestRunAbsoluteConfigPaths(t *testing.T) {
	dir := writeRunFixture(t, testBundleSpec)
	// A config assembled programmatically carries absolute paths and no
	// base dir; they must open as-is.
	cfg := Config{
		Source:           SourceConfig{Dir: filepath.Join(dir, "src")},
		PluginDescriptor: "Plug.uplugin",
		StagingDir:       filepath.Join(dir, "staging"),
		OutputDir:        filepath.Join(dir, "out"),
		RegistryPath:     filepath.Join(dir, "engines.txt"),
		BundleSpec:       filepath.Join(dir, "bundles.yaml"),
		BuildNumberFile:  filepath.Join(dir, "build_number.txt"),
		Platforms:        []string{"linux"},
	}
	p := &Pipeline{Config: cfg, Builder: &fakeBuilder{}}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.BuildNumber != 42 {
		t.Errorf("build number = %d, want 42", summary.BuildNumber)
	}
	if len(summary.Archives) != 3 {
		t.Errorf("archives = %v, want 3", summary.Archives)
	}
}

func TestRunFatalSetupErrorReachesTerminalState(t *testing.T) {
	dir := writeRunFixture(t, testBundleSpec)
	if err := os.Remove(filepath.Join(dir, "engines.txt")); err != nil {
		t.Fatal(err)
	}
	p := &Pipeline{Config: testConfig(dir), Builder: &fakeBuilder{}}
	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded without an engine registry")
	}
	// A run must not be left mid-lifecycle after a fatal exit.
	if p.State() != RunStatePackagingFailed {
		t.Errorf("state = %s, want packaging-failed", p.State())
	}
}

func TestRunUnregisteredVersionSkipped(t *testing.T) {
	dir := writeRunFixture(t, testBundleSpec)
	if err := os.WriteFile(filepath.Join(dir, "engines.txt"), []byte("5.4=/opt/ue5.4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	builder := &fakeBuilder{}
	p := &Pipeline{Config: testConfig(dir), Builder: builder}
	summary, err := p.Run(context.Background())
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("Run error = %v, want ErrPartial", err)
	}
	if got := summary.Ledger.Outcomes[1].Status; got != release.Skipped {
		t.Errorf("unregistered version outcome = %s, want skipped", got)
	}
	// Skipped targets never reach the builder.
	if diff := cmp.Diff([]string{"linux-5.4"}, builder.built); diff != "" {
		t.Errorf("built targets diff (-want +got):\n%s", diff)
	}
}
