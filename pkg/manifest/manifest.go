// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest records what one release run produced as an in-toto
// statement whose subjects are the emitted archives.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/in-toto/in-toto-golang/in_toto"
	"github.com/in-toto/in-toto-golang/in_toto/slsa_provenance/common"
	"github.com/pkg/errors"

	"github.com/plugship/plugship/pkg/release"
)

// PredicateType identifies the release predicate schema.
const PredicateType = "https://plugship.dev/release/Release@v0.1"

// FileName is the manifest's filename inside the output tree.
const FileName = "release.intoto.json"

// OutcomeRecord is the serialized form of one target's outcome.
type OutcomeRecord struct {
	Platform      string `json:"platform"`
	EngineVersion string `json:"engineVersion"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

// Predicate carries the run-level release metadata.
type Predicate struct {
	Product     string          `json:"product"`
	BuildNumber int             `json:"buildNumber"`
	RunID       string          `json:"runID"`
	BuiltAt     time.Time       `json:"builtAt"`
	Outcomes    []OutcomeRecord `json:"outcomes"`
}

// New builds a release statement with one subject per archive, digested
// with sha256. Archive paths are relative to fs.
func New(fs billy.Filesystem, product string, buildNumber int, ledger *release.Ledger, archives []string) (*in_toto.Statement, error) {
	var subjects []in_toto.Subject
	for _, archivePath := range archives {
		digest, err := digestFile(fs, archivePath)
		if err != nil {
			return nil, errors.Wrapf(err, "digesting %s", archivePath)
		}
		subjects = append(subjects, in_toto.Subject{
			Name:   path.Base(archivePath),
			Digest: common.DigestSet{"sha256": digest},
		})
	}
	predicate := Predicate{
		Product:     product,
		BuildNumber: buildNumber,
		BuiltAt:     time.Now().UTC(),
	}
	if ledger != nil {
		predicate.RunID = ledger.RunID
		for _, o := range ledger.Outcomes {
			predicate.Outcomes = append(predicate.Outcomes, OutcomeRecord{
				Platform:      string(o.Target.Platform),
				EngineVersion: o.Target.EngineVersion,
				Status:        string(o.Status),
				Message:       o.Message(),
			})
		}
	}
	return &in_toto.Statement{
		StatementHeader: in_toto.StatementHeader{
			Type:          in_toto.StatementInTotoV1,
			PredicateType: PredicateType,
			Subject:       subjects,
		},
		Predicate: predicate,
	}, nil
}

// Write serializes the statement to path as indented JSON.
func Write(fs billy.Filesystem, path string, s *in_toto.Statement) error {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "creating manifest")
	}
	defer f.Close()
	e := json.NewEncoder(f)
	e.SetIndent("", "  ")
	return errors.Wrap(e.Encode(s), "encoding manifest")
}

func digestFile(fs billy.Filesystem, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
