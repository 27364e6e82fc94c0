// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
)

// TargetBuilder builds one target into outputDir, returning the directory
// holding the produced artifacts. *Invoker is the production implementation.
type TargetBuilder interface {
	Build(ctx context.Context, t Target, sourceDir, outputDir string) (string, error)
}

// MatrixRunner drives one build per target, recording an Outcome for every
// target whether or not it succeeds. Targets run sequentially because they
// may share a single checked-out plugin source directory.
type MatrixRunner struct {
	Builder   TargetBuilder
	Staging   *Staging
	SourceDir string
}

// Run produces exactly one Outcome per target, in target order. A failed
// target never prevents subsequent targets from running; panics in the
// builder are recovered into Failed outcomes.
func (r *MatrixRunner) Run(ctx context.Context, targets []Target) (*Ledger, error) {
	if len(targets) == 0 {
		return nil, errors.New("no targets provided")
	}
	ledger := NewLedger()
	buildOne := func(t Target) (o Outcome) {
		start := time.Now()
		o = Outcome{Target: t}
		defer func() {
			o.Duration = time.Since(start)
			if panicval := recover(); panicval != nil {
				log.Printf("[target=%s] build panic: %v\n%s", t.ID(), panicval, debug.Stack())
				o = Outcome{
					Target:   t,
					Status:   Failed,
					Err:      errors.Errorf("build panic: %v", panicval),
					Duration: time.Since(start),
				}
			}
		}()
		if t.EngineInstallPath == "" {
			o.Status = Skipped
			o.Err = errors.Wrapf(ErrConfiguration, "no installation registered for engine version %s", t.EngineVersion)
			return o
		}
		if err := r.Staging.Clean(t); err != nil {
			o.Status = Failed
			o.Err = errors.Wrapf(ErrConfiguration, "preparing staging: %v", err)
			return o
		}
		out, err := r.Builder.Build(ctx, t, r.SourceDir, r.Staging.HostDir(t))
		if err != nil {
			o.Status = Failed
			o.Err = err
			return o
		}
		o.Status = Success
		o.OutputPath = out
		return o
	}
	for _, t := range targets {
		log.Printf("[target=%s] building", t.ID())
		o := buildOne(t)
		ledger.Append(o)
		switch o.Status {
		case Success:
			log.Printf("[target=%s] success in %v", t.ID(), o.Duration.Round(time.Millisecond))
		case Skipped:
			log.Printf("[target=%s] skipped: %v", t.ID(), o.Err)
		case Failed:
			log.Printf("[target=%s] failed: %v", t.ID(), o.Err)
		}
	}
	return ledger, nil
}
