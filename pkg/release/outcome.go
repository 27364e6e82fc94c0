// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Error categories. Per-target errors are downgraded to recorded Outcomes
// tagged with one of these; aggregation and packaging errors are not
// downgraded and terminate the run. Callers classify with errors.Is.
var (
	// ErrConfiguration marks a missing or unresolvable input: an engine
	// install, a required file in a known location.
	ErrConfiguration = errors.New("configuration error")
	// ErrExternalTool marks a non-zero exit from the build tool or a
	// remote execution.
	ErrExternalTool = errors.New("external tool error")
	// ErrMissingArtifact marks an expected build output that is absent at
	// aggregation time.
	ErrMissingArtifact = errors.New("missing artifact")
	// ErrTransport marks a failed copy or exec stage against a remote host.
	ErrTransport = errors.New("transport error")
)

// Status is the terminal classification of one target's build attempt.
type Status string

const (
	Success Status = "success"
	Failed  Status = "failed"
	// Skipped means the target could not be attempted, typically because
	// its engine version has no known installation.
	Skipped Status = "skipped"
)

// Outcome records the result of one target's build attempt. Exactly one is
// appended to the ledger per target and never mutated afterwards.
type Outcome struct {
	Target Target
	Status Status
	// OutputPath is the staging directory holding the build output. Only
	// set on Success.
	OutputPath string
	// Err carries the categorized cause for Failed and Skipped outcomes.
	Err error
	// Duration is how long the build attempt took.
	Duration time.Duration
}

// Message returns the diagnostic text for non-Success outcomes.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Ledger is the append-only record of one run's outcomes, in target order.
type Ledger struct {
	RunID    string
	Outcomes []Outcome
}

// NewLedger creates an empty ledger with a fresh run ID.
func NewLedger() *Ledger {
	return &Ledger{RunID: uuid.New().String()}
}

// Append records an outcome. Outcomes are recorded in target-list order.
func (l *Ledger) Append(o Outcome) {
	l.Outcomes = append(l.Outcomes, o)
}

// Find returns the outcome for the given target identity, or nil if the
// target was not part of this run.
func (l *Ledger) Find(p Platform, engineVersion string) *Outcome {
	for i, o := range l.Outcomes {
		if o.Target.Platform == p && o.Target.EngineVersion == engineVersion {
			return &l.Outcomes[i]
		}
	}
	return nil
}

// Counts tallies outcomes by status.
func (l *Ledger) Counts() (success, failed, skipped int) {
	for _, o := range l.Outcomes {
		switch o.Status {
		case Success:
			success++
		case Failed:
			failed++
		case Skipped:
			skipped++
		}
	}
	return
}

// Clean reports whether every outcome succeeded.
func (l *Ledger) Clean() bool {
	_, failed, skipped := l.Counts()
	return failed == 0 && skipped == 0
}
