// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/plugship/plugship/pkg/release"
)

// fakeSession records the per-host command sequence and serves scripted
// archive content.
type fakeSession struct {
	mu      sync.Mutex
	host    string
	ops     []string
	pushed  map[string]string
	archive string
	runErr  error
	pullErr error
	// gate, when set, blocks the bootstrap run until closed.
	gate chan struct{}
}

func (s *fakeSession) Push(ctx context.Context, remote string, mode os.FileMode, r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "push "+remote)
	s.pushed[remote] = string(raw)
	return nil
}

func (s *fakeSession) Run(ctx context.Context, command string, output io.Writer) error {
	s.mu.Lock()
	s.ops = append(s.ops, "run "+command)
	gate := s.gate
	s.mu.Unlock()
	if !strings.Contains(command, "bootstrap.sh") {
		return nil
	}
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

func (s *fakeSession) Pull(ctx context.Context, remote string, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "pull "+remote)
	if s.pullErr != nil {
		return s.pullErr
	}
	_, err := io.WriteString(w, s.archive)
	return err
}

func (s *fakeSession) Close() error { return nil }

type fakeDialer struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	dialErrs map[string]error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sessions: map[string]*fakeSession{}, dialErrs: map[string]error{}}
}

func (d *fakeDialer) Dial(ctx context.Context, host string) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dialErrs[host]; err != nil {
		return nil, err
	}
	s, ok := d.sessions[host]
	if !ok {
		s = &fakeSession{host: host, pushed: map[string]string{}, archive: "archive-from-" + host}
		d.sessions[host] = s
	}
	return s, nil
}

func writeBootstrap(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bootstrap.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho building\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDispatchSequence(t *testing.T) {
	dialer := newFakeDialer()
	d, err := NewDispatcher(DispatcherConfig{Dialer: dialer})
	if err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()
	handle, err := d.Start(context.Background(), Job{
		Host:      "mac-builder:22",
		Bootstrap: writeBootstrap(t),
		Branch:    "release/1.2",
		FetchPath: "plugship-build/out.zip",
		Dest:      dest,
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	r, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if r.Error != nil {
		t.Fatalf("dispatch failed: %v", r.Error)
	}
	if handle.Status() != HostStateDone {
		t.Errorf("handle state = %s, want done", handle.Status())
	}
	raw, err := os.ReadFile(r.ArchivePath)
	if err != nil {
		t.Fatalf("reading fetched archive: %v", err)
	}
	if string(raw) != "archive-from-mac-builder:22" {
		t.Errorf("fetched content = %q", raw)
	}
	sess := dialer.sessions["mac-builder:22"]
	want := []string{
		`run mkdir -p "plugship-build"`,
		"push plugship-build/bootstrap.sh",
		`run cd "plugship-build" && sh bootstrap.sh "release/1.2"`,
		"pull plugship-build/out.zip",
	}
	if len(sess.ops) != len(want) {
		t.Fatalf("ops = %q, want %q", sess.ops, want)
	}
	for i := range want {
		if sess.ops[i] != want[i] {
			t.Errorf("op %d = %q, want %q", i, sess.ops[i], want[i])
		}
	}
	if !strings.Contains(sess.pushed["plugship-build/bootstrap.sh"], "echo building") {
		t.Error("bootstrap content not pushed")
	}
}

func TestDispatchFailureIsolation(t *testing.T) {
	dialer := newFakeDialer()
	dialer.sessions["bad-host:22"] = &fakeSession{
		host:   "bad-host:22",
		pushed: map[string]string{},
		runErr: errors.New("exit status 1"),
	}
	d, err := NewDispatcher(DispatcherConfig{Dialer: dialer, MaxParallel: 2})
	if err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()
	bootstrap := writeBootstrap(t)
	var handles []*Handle
	for _, host := range []string{"good-host:22", "bad-host:22"} {
		h, err := d.Start(context.Background(), Job{
			Host:      host,
			Bootstrap: bootstrap,
			FetchPath: "plugship-build/out.zip",
			Dest:      dest,
		})
		if err != nil {
			t.Fatalf("Start(%s) returned error: %v", host, err)
		}
		handles = append(handles, h)
	}
	results := map[string]Result{}
	for _, h := range handles {
		r, err := h.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
		results[r.Host] = r
	}
	good := results["good-host:22"]
	if good.Error != nil {
		t.Fatalf("good host failed: %v", good.Error)
	}
	bad := results["bad-host:22"]
	if !errors.Is(bad.Error, release.ErrExternalTool) {
		t.Fatalf("bad host error = %v, want ErrExternalTool", bad.Error)
	}
	if bad.ArchivePath != "" {
		t.Errorf("failed host reported an archive: %q", bad.ArchivePath)
	}
	// The failed host must not disturb the good host's fetched archive.
	raw, err := os.ReadFile(good.ArchivePath)
	if err != nil {
		t.Fatalf("good host archive unreadable: %v", err)
	}
	if string(raw) != "archive-from-good-host:22" {
		t.Errorf("good host archive content = %q", raw)
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".partial") {
			t.Errorf("partial fetch file left behind: %s", e.Name())
		}
	}
}

func TestDispatchTransportErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(*fakeDialer)
	}{
		{"dial failure", func(d *fakeDialer) {
			d.dialErrs["host:22"] = errors.New("connection refused")
		}},
		{"pull failure", func(d *fakeDialer) {
			d.sessions["host:22"] = &fakeSession{host: "host:22", pushed: map[string]string{}, pullErr: errors.New("no such file")}
		}},
	} {
		dialer := newFakeDialer()
		tc.setup(dialer)
		d, err := NewDispatcher(DispatcherConfig{Dialer: dialer})
		if err != nil {
			t.Fatal(err)
		}
		h, err := d.Start(context.Background(), Job{
			Host:      "host:22",
			Bootstrap: writeBootstrap(t),
			FetchPath: "plugship-build/out.zip",
			Dest:      t.TempDir(),
		})
		if err != nil {
			t.Fatalf("%s: Start returned error: %v", tc.name, err)
		}
		r, err := h.Wait(context.Background())
		if err != nil {
			t.Fatalf("%s: Wait returned error: %v", tc.name, err)
		}
		if !errors.Is(r.Error, release.ErrTransport) {
			t.Errorf("%s: error = %v, want ErrTransport", tc.name, r.Error)
		}
		if h.Status() != HostStateFailed {
			t.Errorf("%s: handle state = %s, want failed", tc.name, h.Status())
		}
	}
}

func TestDispatchRejectsDuplicateHost(t *testing.T) {
	dialer := newFakeDialer()
	gate := make(chan struct{})
	dialer.sessions["host:22"] = &fakeSession{
		host:    "host:22",
		pushed:  map[string]string{},
		archive: "archive",
		gate:    gate,
	}
	d, err := NewDispatcher(DispatcherConfig{Dialer: dialer})
	if err != nil {
		t.Fatal(err)
	}
	job := Job{Host: "host:22", Bootstrap: writeBootstrap(t), FetchPath: "out.zip", Dest: t.TempDir()}
	h, err := d.Start(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Start(context.Background(), job); err == nil {
		t.Error("duplicate dispatch for an active host was accepted")
	}
	close(gate)
	r, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Error != nil {
		t.Fatalf("dispatch failed: %v", r.Error)
	}
	// Once the host is no longer active it may be dispatched again.
	h2, err := d.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("re-dispatch after completion rejected: %v", err)
	}
	if _, err := h2.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}
