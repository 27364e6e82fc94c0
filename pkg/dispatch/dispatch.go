// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch delegates a build run to remote hosts and retrieves
// their result archives.
package dispatch

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/plugship/plugship/internal/syncx"
	"github.com/plugship/plugship/pkg/release"
)

// Session runs commands and transfers files against one remote host.
type Session interface {
	// Push writes r to the remote path with the given mode.
	Push(ctx context.Context, remote string, mode os.FileMode, r io.Reader) error
	// Run executes command remotely, streaming combined output to output.
	// A non-zero remote exit is returned as an error.
	Run(ctx context.Context, command string, output io.Writer) error
	// Pull streams the remote path's content to w.
	Pull(ctx context.Context, remote string, w io.Writer) error
	Close() error
}

// Dialer opens sessions to remote hosts.
type Dialer interface {
	Dial(ctx context.Context, host string) (Session, error)
}

// Job describes one host's contribution to a release run.
type Job struct {
	// Host is the address dialed for the session.
	Host string
	// Bootstrap is the local path of the script pushed and executed remotely.
	Bootstrap string
	// Branch parameterizes the bootstrap so the remote checkout matches
	// the local trigger. Optional.
	Branch string
	// FetchPath is the well-known remote path of the produced archive.
	FetchPath string
	// Dest is the local directory the archive is fetched into.
	Dest string
}

// HostState is the lifecycle of one dispatched host.
type HostState int

const (
	HostStatePending HostState = iota
	HostStateRunning
	HostStateDone
	HostStateFailed
)

func (s HostState) String() string {
	switch s {
	case HostStatePending:
		return "pending"
	case HostStateRunning:
		return "running"
	case HostStateDone:
		return "done"
	case HostStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is one host's terminal contribution.
type Result struct {
	Host string
	// ArchivePath is the local path of the fetched archive. Empty on failure.
	ArchivePath string
	Error       error
	Duration    time.Duration
}

// Handle tracks one active or completed dispatch.
type Handle struct {
	host       string
	cancel     context.CancelFunc
	resultChan chan Result

	mu    sync.Mutex
	state HostState
}

// Host returns the dispatched host address.
func (h *Handle) Host() string { return h.host }

// Status returns the host's current state.
func (h *Handle) Status() HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) updateStatus(s HostState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// Wait blocks until the dispatch reaches a terminal state.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-h.resultChan:
		// Re-buffer so later Wait calls observe the same result.
		h.resultChan <- r
		return r, nil
	case <-ctx.Done():
		return Result{}, errors.Wrap(ctx.Err(), "waiting for dispatch")
	}
}

// Dispatcher pushes a bootstrap script to each host, executes it, and
// fetches back the host's archive. Hosts are independent: one host's
// failure never disturbs artifacts already fetched from another, because
// each fetch lands in a host-scoped file renamed into place only on
// success.
type Dispatcher struct {
	dialer      Dialer
	remoteDir   string
	maxParallel int
	semaphore   chan struct{}
	active      syncx.Map[string, *Handle]
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Dialer Dialer
	// RemoteDir is the working directory convention on build hosts.
	// Defaults to "plugship-build".
	RemoteDir string
	// MaxParallel bounds simultaneous host dispatches. Hosts are
	// independent machines, so parallel dispatch is safe. Defaults to 1.
	MaxParallel int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	if config.Dialer == nil {
		return nil, errors.New("dialer is required")
	}
	remoteDir := config.RemoteDir
	if remoteDir == "" {
		remoteDir = "plugship-build"
	}
	maxParallel := config.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Dispatcher{
		dialer:      config.Dialer,
		remoteDir:   remoteDir,
		maxParallel: maxParallel,
		semaphore:   make(chan struct{}, maxParallel),
		active:      syncx.Map[string, *Handle]{},
	}, nil
}

// Start begins one host's dispatch and returns its handle.
func (d *Dispatcher) Start(ctx context.Context, job Job) (*Handle, error) {
	if job.Host == "" {
		return nil, errors.New("job host is required")
	}
	if _, ok := d.active.Load(job.Host); ok {
		return nil, errors.Errorf("dispatch already active for host %s", job.Host)
	}
	script, err := os.ReadFile(job.Bootstrap)
	if err != nil {
		return nil, errors.Wrap(err, "reading bootstrap script")
	}
	hostCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &Handle{
		host:       job.Host,
		cancel:     cancel,
		resultChan: make(chan Result, 1),
		state:      HostStatePending,
	}
	d.active.Store(job.Host, handle)
	go d.run(hostCtx, handle, job, script)
	return handle, nil
}

// Close cancels all active dispatches.
func (d *Dispatcher) Close() {
	for h := range d.active.Values() {
		h.cancel()
	}
}

func (d *Dispatcher) run(ctx context.Context, handle *Handle, job Job, script []byte) {
	start := time.Now()
	finish := func(archivePath string, err error) {
		if err != nil {
			handle.updateStatus(HostStateFailed)
		} else {
			handle.updateStatus(HostStateDone)
		}
		// Release the host before delivering the result so a caller that
		// observed completion can dispatch to it again.
		d.active.Delete(job.Host)
		handle.resultChan <- Result{
			Host:        job.Host,
			ArchivePath: archivePath,
			Error:       err,
			Duration:    time.Since(start),
		}
	}
	select {
	case d.semaphore <- struct{}{}:
		defer func() { <-d.semaphore }()
	case <-ctx.Done():
		finish("", errors.Wrap(ctx.Err(), "enqueuing dispatch"))
		return
	}
	handle.updateStatus(HostStateRunning)
	archivePath, err := d.dispatch(ctx, job, script)
	finish(archivePath, err)
}

// dispatch performs the push, exec, fetch sequence for one host.
func (d *Dispatcher) dispatch(ctx context.Context, job Job, script []byte) (string, error) {
	session, err := d.dialer.Dial(ctx, job.Host)
	if err != nil {
		return "", errors.Wrapf(stderrors.Join(err, release.ErrTransport), "dialing %s", job.Host)
	}
	defer session.Close()
	remoteScript := path.Join(d.remoteDir, "bootstrap.sh")
	if err := session.Run(ctx, fmt.Sprintf("mkdir -p %q", d.remoteDir), log.Default().Writer()); err != nil {
		return "", errors.Wrapf(stderrors.Join(err, release.ErrTransport), "preparing remote dir on %s", job.Host)
	}
	if err := session.Push(ctx, remoteScript, 0755, bytes.NewReader(script)); err != nil {
		return "", errors.Wrapf(stderrors.Join(err, release.ErrTransport), "pushing bootstrap to %s", job.Host)
	}
	command := fmt.Sprintf("cd %q && sh bootstrap.sh", d.remoteDir)
	if job.Branch != "" {
		command += fmt.Sprintf(" %q", job.Branch)
	}
	log.Printf("[host=%s] executing bootstrap", job.Host)
	if err := session.Run(ctx, command, log.Default().Writer()); err != nil {
		return "", errors.Wrapf(stderrors.Join(err, release.ErrExternalTool), "bootstrap failed on %s", job.Host)
	}
	if err := os.MkdirAll(job.Dest, 0755); err != nil {
		return "", errors.Wrapf(err, "creating dispatch dest for %s", job.Host)
	}
	// Fetch into a host-scoped partial file, then rename: a torn transfer
	// never overwrites a previously fetched archive.
	final := filepath.Join(job.Dest, fmt.Sprintf("%s-%s", hostLabel(job.Host), filepath.Base(job.FetchPath)))
	partial := final + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return "", errors.Wrapf(err, "creating fetch file for %s", job.Host)
	}
	if err := session.Pull(ctx, job.FetchPath, f); err != nil {
		f.Close()
		os.Remove(partial)
		return "", errors.Wrapf(stderrors.Join(err, release.ErrTransport), "fetching archive from %s", job.Host)
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return "", errors.Wrapf(err, "closing fetch file for %s", job.Host)
	}
	if err := os.Rename(partial, final); err != nil {
		return "", errors.Wrapf(err, "finalizing fetch for %s", job.Host)
	}
	return final, nil
}

// hostLabel strips the port so fetched archives carry a clean host prefix.
func hostLabel(host string) string {
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}
