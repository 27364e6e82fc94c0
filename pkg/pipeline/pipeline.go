// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline composes dispatch, matrix build, aggregation, and
// packaging into one release run.
package pipeline

import (
	"context"
	"log"
	"path"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"

	"github.com/plugship/plugship/internal/billyx"
	"github.com/plugship/plugship/pkg/archive"
	"github.com/plugship/plugship/pkg/bundle"
	"github.com/plugship/plugship/pkg/dispatch"
	"github.com/plugship/plugship/pkg/manifest"
	"github.com/plugship/plugship/pkg/publish"
	"github.com/plugship/plugship/pkg/release"
)

// RunState tracks one orchestration run through its lifecycle.
type RunState int

const (
	RunStateIdle RunState = iota
	RunStateDispatching
	RunStateBuilding
	RunStateAggregating
	RunStatePackaging
	RunStateDone
	RunStatePackagingFailed
)

func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "idle"
	case RunStateDispatching:
		return "dispatching"
	case RunStateBuilding:
		return "building"
	case RunStateAggregating:
		return "aggregating"
	case RunStatePackaging:
		return "packaging"
	case RunStateDone:
		return "done"
	case RunStatePackagingFailed:
		return "packaging-failed"
	default:
		return "unknown"
	}
}

// ErrPartial marks a run that completed its pipeline but recorded failed
// or skipped contributions. Calling automation distinguishes it from a
// fatal packaging error to decide whether a partial artifact set is
// acceptable.
var ErrPartial = errors.New("run completed with failures")

// Pipeline executes a full release run per its Config.
type Pipeline struct {
	Config Config
	// Builder builds one target; defaults to the engine automation invoker.
	Builder release.TargetBuilder
	// Dialer opens remote sessions; required only when hosts are configured.
	Dialer dispatch.Dialer

	mu    sync.Mutex
	state RunState
}

// Summary is the user-visible record of one run.
type Summary struct {
	Ledger *release.Ledger
	// HostResults holds one terminal result per dispatched host.
	HostResults []dispatch.Result
	Bundles     []bundle.Bundle
	// Archives are the produced archive paths relative to the output dir.
	Archives []string
	// ManifestPath is the release manifest, relative to the output dir.
	ManifestPath string
	// Uploaded lists the remote URLs of published archives.
	Uploaded []string
	// BuildNumber is the counter value stamped into this run.
	BuildNumber int
}

// State returns the run's current lifecycle state.
func (p *Pipeline) State() RunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) transition(s RunState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	log.Printf("[run] state=%s", s)
}

// Run drives the pipeline to a terminal state. It returns ErrPartial when
// the run finished but some targets or hosts failed; any other non-nil
// error is fatal to the run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	// Every fatal exit lands in the terminal failure state so callers
	// polling State never see a run stuck mid-lifecycle.
	fail := func(err error) (*Summary, error) {
		p.transition(RunStatePackagingFailed)
		return summary, err
	}
	cfg := &p.Config
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	// Dispatch to remote hosts first: aggregation may fold their archives
	// into the umbrella and must not start until every host resolves.
	if len(cfg.Hosts) > 0 {
		p.transition(RunStateDispatching)
		results, err := p.dispatchHosts(ctx)
		if err != nil {
			return fail(err)
		}
		summary.HostResults = results
	}
	buildNumber, err := readConfigFile(cfg.BuildNumberFile, release.ReadBuildNumber)
	if err != nil {
		return fail(err)
	}
	summary.BuildNumber = buildNumber
	spec, err := readConfigFile(cfg.BundleSpec, bundle.LoadSpec)
	if err != nil {
		return fail(err)
	}
	registry, err := readConfigFile(cfg.RegistryPath, release.LoadRegistry)
	if err != nil {
		return fail(err)
	}
	p.transition(RunStateBuilding)
	if cfg.Source.Repo != "" {
		if err := release.CheckoutSource(ctx, cfg.Source.Repo, cfg.Source.Ref, cfg.Source.Dir); err != nil {
			return fail(err)
		}
	}
	targets, err := release.ExpandMatrix(cfg.platforms(), spec.Versions(), registry)
	if err != nil {
		return fail(err)
	}
	staging := release.NewStaging(osfs.New(cfg.StagingDir))
	builder := p.Builder
	if builder == nil {
		builder = &release.Invoker{
			Exec:    release.NewRealCommandExecutor(),
			Planner: release.AutomationPlanner{PluginDescriptor: cfg.PluginDescriptor},
		}
	}
	runner := &release.MatrixRunner{Builder: builder, Staging: staging, SourceDir: cfg.Source.Dir}
	ledger, err := runner.Run(ctx, targets)
	if err != nil {
		return fail(err)
	}
	summary.Ledger = ledger
	p.transition(RunStateAggregating)
	outFS := osfs.New(cfg.OutputDir)
	aggregator := &bundle.Aggregator{
		Spec:        spec,
		Staging:     staging.FS,
		Aux:         osfs.New(cfg.rootDir()),
		Out:         outFS,
		BuildNumber: buildNumber,
	}
	bundles, err := aggregator.Aggregate(ctx, ledger)
	if err != nil {
		p.transition(RunStatePackagingFailed)
		return summary, err
	}
	summary.Bundles = bundles
	p.transition(RunStatePackaging)
	packager := &archive.Packager{Out: outFS}
	for _, b := range bundles {
		name := archive.Name(spec.Product, buildNumber, b.EngineVersion)
		if err := packager.Package(outFS, b.Root, name); err != nil {
			p.transition(RunStatePackagingFailed)
			return summary, err
		}
		summary.Archives = append(summary.Archives, name)
	}
	// Umbrella spans every bundle tree produced this run.
	umbrella := archive.Name(spec.Product, buildNumber, archive.UmbrellaQualifier)
	if err := packager.PackageMany(outFS, bundleRoots(bundles), umbrella); err != nil {
		p.transition(RunStatePackagingFailed)
		return summary, err
	}
	summary.Archives = append(summary.Archives, umbrella)
	statement, err := manifest.New(outFS, spec.Product, buildNumber, ledger, summary.Archives)
	if err != nil {
		p.transition(RunStatePackagingFailed)
		return summary, err
	}
	if err := manifest.Write(outFS, manifest.FileName, statement); err != nil {
		p.transition(RunStatePackagingFailed)
		return summary, err
	}
	summary.ManifestPath = manifest.FileName
	if cfg.Upload != "" {
		publisher, err := publish.NewGCSPublisher(ctx, cfg.Upload)
		if err != nil {
			p.transition(RunStatePackagingFailed)
			return summary, err
		}
		defer publisher.Close()
		for _, a := range summary.Archives {
			url, err := publisher.Publish(ctx, outFS, a)
			if err != nil {
				p.transition(RunStatePackagingFailed)
				return summary, err
			}
			summary.Uploaded = append(summary.Uploaded, url)
		}
	}
	if cfg.Clean {
		if err := staging.RemoveAll(); err != nil {
			log.Printf("[run] staging cleanup failed: %v", err)
		}
	}
	p.transition(RunStateDone)
	if !ledger.Clean() || anyHostFailed(summary.HostResults) {
		return summary, ErrPartial
	}
	return summary, nil
}

// readConfigFile opens a config-named file through its parent directory so
// absolute and config-relative paths both resolve.
func readConfigFile[T any](path string, read func(billy.Filesystem, string) (T, error)) (T, error) {
	fs, name, err := billyx.Locate(path)
	if err != nil {
		var zero T
		return zero, err
	}
	return read(fs, name)
}

func bundleRoots(bundles []bundle.Bundle) []string {
	var roots []string
	for _, b := range bundles {
		roots = append(roots, path.Clean(b.Root))
	}
	return roots
}

// dispatchHosts runs every configured host and waits for all of them. A
// failed host is recorded, not fatal.
func (p *Pipeline) dispatchHosts(ctx context.Context) ([]dispatch.Result, error) {
	if p.Dialer == nil {
		return nil, errors.New("hosts configured but no dialer provided")
	}
	d, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Dialer:      p.Dialer,
		RemoteDir:   p.Config.RemoteDir,
		MaxParallel: p.Config.MaxParallelHosts,
	})
	if err != nil {
		return nil, err
	}
	defer d.Close()
	var handles []*dispatch.Handle
	for _, h := range p.Config.Hosts {
		handle, err := d.Start(ctx, dispatch.Job{
			Host:      h.Host,
			Bootstrap: h.Bootstrap,
			Branch:    h.Branch,
			FetchPath: h.Fetch,
			Dest:      p.Config.OutputDir,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "dispatching to %s", h.Host)
		}
		handles = append(handles, handle)
	}
	var results []dispatch.Result
	for _, handle := range handles {
		r, err := handle.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if r.Error != nil {
			log.Printf("[host=%s] dispatch failed: %v", r.Host, r.Error)
		} else {
			log.Printf("[host=%s] fetched %s", r.Host, r.ArchivePath)
		}
		results = append(results, r)
	}
	return results, nil
}

func anyHostFailed(results []dispatch.Result) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}
