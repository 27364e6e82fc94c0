// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/plugship/plugship/internal/billyx"
	"github.com/plugship/plugship/pkg/archive"
	"github.com/plugship/plugship/pkg/bundle"
	"github.com/plugship/plugship/pkg/dispatch"
	"github.com/plugship/plugship/pkg/manifest"
	"github.com/plugship/plugship/pkg/pipeline"
	"github.com/plugship/plugship/pkg/publish"
	"github.com/plugship/plugship/pkg/release"
)

var (
	// run-matrix
	targets          = flag.String("targets", "", "Comma-separated build targets, each <engine-version> or <platform>:<engine-version>")
	engineRegistry   = flag.String("engine-registry", "", "Path to the engine version=path registry file")
	sourceDir        = flag.String("source", "", "Plugin source directory")
	repoURL          = flag.String("repo", "", "Clone the plugin source from this repository before building")
	repoRef          = flag.String("ref", "", "Branch, tag, or commit to check out when --repo is set")
	stagingDir       = flag.String("staging", "", "Staging directory for per-target build outputs")
	pluginDescriptor = flag.String("plugin-descriptor", "", "Plugin definition file relative to the source directory")
	// aggregate
	bundleSpec = flag.String("bundle-spec", "", "Path to the bundle spec file")
	outputDir  = flag.String("output", "", "Output directory for bundles and archives")
	// package
	inputDir      = flag.String("input", "", "Directory of assembled bundle trees to package")
	product       = flag.String("product", "", "Product name prefixed to archive names")
	upload        = flag.String("upload", "", "Optional gs:// destination for produced archives")
	archiveFormat = flag.String("format", "zip", "Archive format: zip or tgz")
	// shared
	buildNumberFile = flag.String("build-number-file", "", "Path to the persisted build_number counter")
	// dispatch
	hosts      = flag.String("hosts", "", "Comma-separated remote build host addresses")
	bootstrap  = flag.String("bootstrap", "", "Local bootstrap script pushed to each host")
	branch     = flag.String("branch", "", "Branch ref passed to the remote bootstrap")
	fetchPath  = flag.String("fetch", "", "Well-known remote archive path to retrieve")
	destDir    = flag.String("dest", ".", "Local directory fetched archives land in")
	parallel   = flag.Int("parallel", 1, "Max hosts dispatched simultaneously")
	remoteDir  = flag.String("remote-dir", "", "Remote working directory convention")
	sshUser    = flag.String("ssh-user", "", "SSH user for remote build hosts")
	sshKey     = flag.String("ssh-key", "", "SSH private key file for remote build hosts")
	knownHosts = flag.String("known-hosts", "", "known_hosts file for host verification (empty disables)")
	// release
	configPath = flag.String("config", "", "Pipeline config file for a full release run")
	// engines
	launcherDB = flag.String("launcher-db", "", "Launcher installation database JSON to import")
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "plugship [subcommand]",
	Short: "Matrix release pipeline for an engine-plugin pair",
}

// errPartial distinguishes "run completed but not everything succeeded"
// from fatal errors so callers get a dedicated exit code.
var errPartial = pipeline.ErrPartial

func parseTargets(spec string, reg release.Registry) ([]release.Target, error) {
	var out []release.Target
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		platform := release.HostPlatform()
		version := entry
		if p, v, ok := strings.Cut(entry, ":"); ok {
			parsed, err := release.ParsePlatform(p)
			if err != nil {
				return nil, err
			}
			platform, version = parsed, v
		}
		out = append(out, release.Target{
			Platform:          platform,
			EngineVersion:     version,
			EngineInstallPath: reg[version],
		})
	}
	if len(out) == 0 {
		return nil, errors.New("no targets provided")
	}
	return out, nil
}

func readBuildNumberFlag(path string) (int, error) {
	nFS, nPath, err := billyx.Locate(path)
	if err != nil {
		return 0, err
	}
	return release.ReadBuildNumber(nFS, nPath)
}

func printLedger(cmd *cobra.Command, l *release.Ledger) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s:\n", l.RunID)
	for _, o := range l.Outcomes {
		switch o.Status {
		case release.Success:
			fmt.Fprintf(out, "  %s %s (%v) -> %s\n", green("PASS"), o.Target.ID(), o.Duration.Round(time.Millisecond), o.OutputPath)
		case release.Skipped:
			fmt.Fprintf(out, "  %s %s: %v\n", yellow("SKIP"), o.Target.ID(), o.Err)
		default:
			fmt.Fprintf(out, "  %s %s: %v\n", red("FAIL"), o.Target.ID(), o.Err)
		}
	}
}

var runMatrixCmd = &cobra.Command{
	Use:           "run-matrix --targets <list> --engine-registry <path> --source <dir> --staging <dir>",
	Short:         "Build every configured (platform, engine-version) target",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if *targets == "" || *engineRegistry == "" || *sourceDir == "" || *stagingDir == "" {
			return errors.New("--targets, --engine-registry, --source, and --staging are required")
		}
		regFS, regPath, err := billyx.Locate(*engineRegistry)
		if err != nil {
			return err
		}
		reg, err := release.LoadRegistry(regFS, regPath)
		if err != nil {
			return err
		}
		ts, err := parseTargets(*targets, reg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if *repoURL != "" {
			if err := release.CheckoutSource(ctx, *repoURL, *repoRef, *sourceDir); err != nil {
				return err
			}
		}
		staging := release.NewStaging(osfs.New(*stagingDir))
		runner := &release.MatrixRunner{
			Builder: &release.Invoker{
				Exec:    release.NewRealCommandExecutor(),
				Planner: release.AutomationPlanner{PluginDescriptor: *pluginDescriptor},
			},
			Staging:   staging,
			SourceDir: *sourceDir,
		}
		ledger, err := runner.Run(ctx, ts)
		if err != nil {
			return err
		}
		if err := ledger.WriteFile(staging.FS, release.LedgerFileName); err != nil {
			return err
		}
		printLedger(cmd, ledger)
		if !ledger.Clean() {
			return errPartial
		}
		return nil
	},
}

var aggregateCmd = &cobra.Command{
	Use:           "aggregate --bundle-spec <path> --staging <dir> --output <dir>",
	Short:         "Merge build outputs and auxiliary payloads into release bundles",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if *bundleSpec == "" || *stagingDir == "" || *outputDir == "" {
			return errors.New("--bundle-spec, --staging, and --output are required")
		}
		specFS, specPath, err := billyx.Locate(*bundleSpec)
		if err != nil {
			return err
		}
		spec, err := bundle.LoadSpec(specFS, specPath)
		if err != nil {
			return err
		}
		stagingFS := osfs.New(*stagingDir)
		ledger, err := release.ReadLedgerFile(stagingFS, release.LedgerFileName)
		if err != nil {
			return errors.Wrap(err, "loading matrix outcomes (run run-matrix first)")
		}
		var buildNumber int
		if *buildNumberFile != "" {
			buildNumber, err = readBuildNumberFlag(*buildNumberFile)
			if err != nil {
				return err
			}
		}
		aggregator := &bundle.Aggregator{
			Spec:        spec,
			Staging:     stagingFS,
			Aux:         osfs.New("."),
			Out:         osfs.New(*outputDir),
			BuildNumber: buildNumber,
		}
		bundles, err := aggregator.Aggregate(cmd.Context(), ledger)
		if err != nil {
			return err
		}
		for _, b := range bundles {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", green("BUNDLE"), b.Name, filepath.Join(*outputDir, b.Root))
		}
		return nil
	},
}

var packageCmd = &cobra.Command{
	Use:           "package --input <dir> --output <dir> --product <name>",
	Short:         "Compress bundle trees into versioned release archives",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if *inputDir == "" || *outputDir == "" || *product == "" {
			return errors.New("--input, --output, and --product are required")
		}
		var buildNumber int
		if *buildNumberFile != "" {
			var err error
			buildNumber, err = readBuildNumberFlag(*buildNumberFile)
			if err != nil {
				return err
			}
		}
		inFS := osfs.New(*inputDir)
		entries, err := inFS.ReadDir(".")
		if err != nil {
			return errors.Wrap(err, "reading input dir")
		}
		var roots []string
		for _, e := range entries {
			if e.IsDir() {
				roots = append(roots, e.Name())
			}
		}
		if len(roots) == 0 {
			return errors.New("no bundle trees found under --input")
		}
		sort.Strings(roots)
		format, err := archive.ParseFormat(*archiveFormat)
		if err != nil {
			return err
		}
		outFS := osfs.New(*outputDir)
		packager := &archive.Packager{Out: outFS, Format: format}
		bar := pb.New(len(roots) + 1)
		bar.Output = cmd.ErrOrStderr()
		bar.Start()
		var archives []string
		for _, root := range roots {
			qualifier := strings.TrimPrefix(root, *product+"-")
			name := archive.NameAs(*product, buildNumber, qualifier, format)
			if err := packager.Package(inFS, root, name); err != nil {
				bar.Finish()
				return err
			}
			archives = append(archives, name)
			bar.Increment()
		}
		umbrella := archive.NameAs(*product, buildNumber, archive.UmbrellaQualifier, format)
		if err := packager.PackageMany(inFS, roots, umbrella); err != nil {
			bar.Finish()
			return err
		}
		archives = append(archives, umbrella)
		bar.Increment()
		bar.Finish()
		statement, err := manifest.New(outFS, *product, buildNumber, nil, archives)
		if err != nil {
			return err
		}
		if err := manifest.Write(outFS, manifest.FileName, statement); err != nil {
			return err
		}
		ctx := cmd.Context()
		if *upload != "" {
			publisher, err := publish.NewGCSPublisher(ctx, *upload)
			if err != nil {
				return err
			}
			defer publisher.Close()
			for _, a := range archives {
				url, err := publisher.Publish(ctx, outFS, a)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("UPLOADED"), url)
			}
		}
		for _, a := range archives {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("ARCHIVE"), filepath.Join(*outputDir, a))
		}
		return nil
	},
}

var dispatchCmd = &cobra.Command{
	Use:           "dispatch --hosts <addr,...> --bootstrap <script> --fetch <remote-path> --dest <dir>",
	Short:         "Run the bootstrap on remote hosts and fetch back their archives",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if *hosts == "" || *bootstrap == "" || *fetchPath == "" {
			return errors.New("--hosts, --bootstrap, and --fetch are required")
		}
		dialer, err := dispatch.NewSSHDialer(dispatch.SSHDialerConfig{
			User:           *sshUser,
			KeyFile:        *sshKey,
			KnownHostsFile: *knownHosts,
		})
		if err != nil {
			return err
		}
		d, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
			Dialer:      dialer,
			RemoteDir:   *remoteDir,
			MaxParallel: *parallel,
		})
		if err != nil {
			return err
		}
		defer d.Close()
		ctx := cmd.Context()
		var handles []*dispatch.Handle
		for _, host := range strings.Split(*hosts, ",") {
			host = strings.TrimSpace(host)
			if host == "" {
				continue
			}
			handle, err := d.Start(ctx, dispatch.Job{
				Host:      host,
				Bootstrap: *bootstrap,
				Branch:    *branch,
				FetchPath: *fetchPath,
				Dest:      *destDir,
			})
			if err != nil {
				return err
			}
			handles = append(handles, handle)
		}
		failed := 0
		for _, handle := range handles {
			r, err := handle.Wait(ctx)
			if err != nil {
				return err
			}
			if r.Error != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", red("FAIL"), r.Host, r.Error)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", green("DONE"), r.Host, r.ArchivePath)
			}
		}
		if failed > 0 {
			return errPartial
		}
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:           "release --config <yaml>",
	Short:         "Run the full pipeline: dispatch, matrix build, aggregate, package",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if *configPath == "" {
			return errors.New("--config is required")
		}
		f, err := os.Open(*configPath)
		if err != nil {
			return errors.Wrap(err, "opening pipeline config")
		}
		cfg, err := pipeline.LoadConfig(f, filepath.Dir(*configPath))
		f.Close()
		if err != nil {
			return err
		}
		p := &pipeline.Pipeline{Config: *cfg}
		if len(cfg.Hosts) > 0 {
			p.Dialer, err = dispatch.NewSSHDialer(dispatch.SSHDialerConfig{
				User:           *sshUser,
				KeyFile:        *sshKey,
				KnownHostsFile: *knownHosts,
			})
			if err != nil {
				return err
			}
		}
		summary, err := p.Run(cmd.Context())
		if summary != nil {
			if summary.Ledger != nil {
				printLedger(cmd, summary.Ledger)
			}
			for _, r := range summary.HostResults {
				if r.Error != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s host %s: %v\n", red("FAIL"), r.Host, r.Error)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s host %s -> %s\n", green("DONE"), r.Host, r.ArchivePath)
				}
			}
			for _, a := range summary.Archives {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("ARCHIVE"), filepath.Join(cfg.OutputDir, a))
			}
			for _, u := range summary.Uploaded {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("UPLOADED"), u)
			}
		}
		return err
	},
}

var enginesCmd = &cobra.Command{
	Use:           "engines --engine-registry <path> [--launcher-db <json>]",
	Short:         "List registered engine installations, importing from a launcher database",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if *engineRegistry == "" {
			return errors.New("--engine-registry is required")
		}
		regFS, regPath, err := billyx.Locate(*engineRegistry)
		if err != nil {
			return err
		}
		reg, err := release.LoadRegistry(regFS, regPath)
		if err != nil {
			if !os.IsNotExist(errors.Cause(err)) {
				return err
			}
			reg = release.Registry{}
		}
		if *launcherDB != "" {
			dbFS, dbPath, err := billyx.Locate(*launcherDB)
			if err != nil {
				return err
			}
			if err := release.ImportLauncherDatabase(dbFS, dbPath, reg); err != nil {
				return err
			}
			if err := reg.Write(regFS, regPath); err != nil {
				return err
			}
		}
		versions := make([]string, 0, len(reg))
		for v := range reg {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		for _, v := range versions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", green(v), reg[v])
		}
		return nil
	},
}

var bumpCmd = &cobra.Command{
	Use:           "bump --build-number-file <path>",
	Short:         "Increment the persisted build number",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if *buildNumberFile == "" {
			return errors.New("--build-number-file is required")
		}
		nFS, nPath, err := billyx.Locate(*buildNumberFile)
		if err != nil {
			return err
		}
		n, err := release.BumpBuildNumber(nFS, nPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "build_number=%d\n", n)
		return nil
	},
}

func init() {
	for _, name := range []string{"targets", "engine-registry", "source", "repo", "ref", "staging", "plugin-descriptor"} {
		runMatrixCmd.Flags().AddGoFlag(flag.Lookup(name))
	}
	for _, name := range []string{"bundle-spec", "staging", "output", "build-number-file"} {
		aggregateCmd.Flags().AddGoFlag(flag.Lookup(name))
	}
	for _, name := range []string{"input", "output", "product", "build-number-file", "upload", "format"} {
		packageCmd.Flags().AddGoFlag(flag.Lookup(name))
	}
	for _, name := range []string{"hosts", "bootstrap", "branch", "fetch", "dest", "parallel", "remote-dir", "ssh-user", "ssh-key", "known-hosts"} {
		dispatchCmd.Flags().AddGoFlag(flag.Lookup(name))
	}
	for _, name := range []string{"config", "ssh-user", "ssh-key", "known-hosts"} {
		releaseCmd.Flags().AddGoFlag(flag.Lookup(name))
	}
	for _, name := range []string{"engine-registry", "launcher-db"} {
		enginesCmd.Flags().AddGoFlag(flag.Lookup(name))
	}
	bumpCmd.Flags().AddGoFlag(flag.Lookup("build-number-file"))
	rootCmd.AddCommand(runMatrixCmd, aggregateCmd, packageCmd, dispatchCmd, releaseCmd, enginesCmd, bumpCmd)
}

func main() {
	flag.Parse()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("ERROR:"), err)
		if errors.Is(err, errPartial) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
