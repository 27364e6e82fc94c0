// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// CommandExecutor abstracts external command execution for testability.
type CommandExecutor interface {
	// Execute runs a command with the given options, returns error on failure.
	// Comparable to exec.CommandContext(...).Run()
	Execute(ctx context.Context, opts CommandOptions, name string, args ...string) error
}

// CommandOptions configures command execution.
type CommandOptions struct {
	// Output streams stdout/stderr to the writer (if nil, output is discarded)
	Output io.Writer
	// Dir is the directory in which the command is run
	Dir string
}

type realCommandExecutor struct{}

// NewRealCommandExecutor creates a CommandExecutor that uses os/exec.
func NewRealCommandExecutor() CommandExecutor {
	return &realCommandExecutor{}
}

func (r *realCommandExecutor) Execute(ctx context.Context, opts CommandOptions, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if opts.Output != nil {
		cmd.Stdout = opts.Output
		cmd.Stderr = opts.Output
	}
	cmd.Dir = opts.Dir
	// Block and wait for completion.
	return cmd.Run()
}

// ToolInvocation is one fully planned external build command.
type ToolInvocation struct {
	Name string
	Args []string
	Dir  string
}

// InvocationPlanner produces the build command for one target.
type InvocationPlanner interface {
	Plan(t Target, sourceDir, outputDir string) (ToolInvocation, error)
}

// AutomationPlanner plans invocations of the engine's bundled automation
// script, requesting an editor/development plugin build packaged into the
// output directory.
type AutomationPlanner struct {
	// PluginDescriptor is the plugin definition file relative to the
	// source directory.
	PluginDescriptor string
}

// Plan implements InvocationPlanner.
func (p AutomationPlanner) Plan(t Target, sourceDir, outputDir string) (ToolInvocation, error) {
	if t.EngineInstallPath == "" {
		return ToolInvocation{}, errors.Errorf("no engine installation for version %s", t.EngineVersion)
	}
	var script string
	var enginePlatform string
	switch t.Platform {
	case Windows:
		script = filepath.Join(t.EngineInstallPath, "Engine", "Build", "BatchFiles", "RunUAT.bat")
		enginePlatform = "Win64"
	case Mac:
		script = filepath.Join(t.EngineInstallPath, "Engine", "Build", "BatchFiles", "RunUAT.sh")
		enginePlatform = "Mac"
	case Linux:
		script = filepath.Join(t.EngineInstallPath, "Engine", "Build", "BatchFiles", "RunUAT.sh")
		enginePlatform = "Linux"
	default:
		return ToolInvocation{}, errors.Errorf("unsupported platform: %q", t.Platform)
	}
	return ToolInvocation{
		Name: script,
		Args: []string{
			"BuildPlugin",
			"-Plugin=" + filepath.Join(sourceDir, p.PluginDescriptor),
			"-Package=" + outputDir,
			"-TargetPlatforms=" + enginePlatform,
			"-Rocket",
		},
		Dir: sourceDir,
	}, nil
}

// Invoker runs the external build tool for a single target. It cleans the
// output directory before every invocation so no stale artifacts from a
// prior failed attempt survive, and it classifies success solely by the
// tool's exit status.
type Invoker struct {
	Exec    CommandExecutor
	Planner InvocationPlanner
	// LogWriter additionally receives the tool's combined output. Defaults
	// to the process log.
	LogWriter io.Writer
}

// errorTail is how much trailing tool output is attached to a failure.
const errorTail = 1 << 12

// Build invokes the external build tool for t, blocking until completion.
// Returns the output directory holding the produced artifacts.
func (iv *Invoker) Build(ctx context.Context, t Target, sourceDir, outputDir string) (string, error) {
	inv, err := iv.Planner.Plan(t, sourceDir, outputDir)
	if err != nil {
		return "", errors.Wrapf(stderrors.Join(err, ErrConfiguration), "planning build for %s", t.ID())
	}
	// Remove and recreate so retries never see a prior attempt's output.
	if err := os.RemoveAll(outputDir); err != nil {
		return "", errors.Wrapf(stderrors.Join(err, ErrConfiguration), "cleaning output dir for %s", t.ID())
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", errors.Wrapf(stderrors.Join(err, ErrConfiguration), "creating output dir for %s", t.ID())
	}
	logw := iv.LogWriter
	if logw == nil {
		logw = log.Default().Writer()
	}
	output := new(bytes.Buffer)
	log.Printf("[target=%s] executing %s %v", t.ID(), inv.Name, inv.Args)
	err = iv.Exec.Execute(ctx, CommandOptions{
		Output: io.MultiWriter(output, logw),
		Dir:    inv.Dir,
	}, inv.Name, inv.Args...)
	if err != nil {
		tail := output.Bytes()
		if len(tail) > errorTail {
			tail = tail[len(tail)-errorTail:]
		}
		return "", errors.Wrapf(stderrors.Join(err, ErrExternalTool), "build tool failed for %s: %s", t.ID(), string(tail))
	}
	return outputDir, nil
}
