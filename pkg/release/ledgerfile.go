// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LedgerFileName is the ledger's filename under the staging root. It lets
// a later aggregate invocation see the matrix run's outcomes.
const LedgerFileName = "outcomes.yaml"

type outcomeRecord struct {
	Platform          string `yaml:"platform"`
	EngineVersion     string `yaml:"engine_version"`
	EngineInstallPath string `yaml:"engine_install_path,omitempty"`
	Status            string `yaml:"status"`
	OutputPath        string `yaml:"output_path,omitempty"`
	Message           string `yaml:"message,omitempty"`
	Duration          string `yaml:"duration,omitempty"`
}

type ledgerFile struct {
	RunID    string          `yaml:"run_id"`
	Outcomes []outcomeRecord `yaml:"outcomes"`
}

// WriteFile persists the ledger as YAML.
func (l *Ledger) WriteFile(fs billy.Filesystem, path string) error {
	doc := ledgerFile{RunID: l.RunID}
	for _, o := range l.Outcomes {
		doc.Outcomes = append(doc.Outcomes, outcomeRecord{
			Platform:          string(o.Target.Platform),
			EngineVersion:     o.Target.EngineVersion,
			EngineInstallPath: o.Target.EngineInstallPath,
			Status:            string(o.Status),
			OutputPath:        o.OutputPath,
			Message:           o.Message(),
			Duration:          o.Duration.String(),
		})
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "creating ledger file")
	}
	defer f.Close()
	e := yaml.NewEncoder(f)
	if err := e.Encode(doc); err != nil {
		return errors.Wrap(err, "encoding ledger")
	}
	return errors.Wrap(e.Close(), "finalizing ledger")
}

// ReadLedgerFile loads a previously written ledger. Error causes are
// reduced to their recorded messages.
func ReadLedgerFile(fs billy.Filesystem, path string) (*Ledger, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening ledger file")
	}
	defer f.Close()
	var doc ledgerFile
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "parsing ledger file")
	}
	l := &Ledger{RunID: doc.RunID}
	for _, r := range doc.Outcomes {
		o := Outcome{
			Target: Target{
				Platform:          Platform(r.Platform),
				EngineVersion:     r.EngineVersion,
				EngineInstallPath: r.EngineInstallPath,
			},
			Status:     Status(r.Status),
			OutputPath: r.OutputPath,
		}
		if r.Message != "" {
			o.Err = errors.New(r.Message)
		}
		if r.Duration != "" {
			if d, err := time.ParseDuration(r.Duration); err == nil {
				o.Duration = d
			}
		}
		l.Append(o)
	}
	return l, nil
}
