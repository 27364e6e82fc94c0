// Copyright 2026 The Plugship Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish uploads release archives to remote storage.
package publish

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSPublisher copies archives to a gs://bucket/prefix destination.
type GCSPublisher struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSPublisher creates a publisher for the given gs:// upload URL.
func NewGCSPublisher(ctx context.Context, uploadURL string, opts ...option.ClientOption) (*GCSPublisher, error) {
	u, err := url.Parse(uploadURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing upload url")
	}
	if u.Scheme != "gs" {
		return nil, errors.Errorf("unsupported upload scheme: %q", u.Scheme)
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	return &GCSPublisher{
		client: client,
		bucket: u.Host,
		prefix: strings.Trim(u.Path, "/"),
	}, nil
}

// Publish uploads the file at archivePath in fs and returns its gs:// URL.
func (p *GCSPublisher) Publish(ctx context.Context, fs billy.Filesystem, archivePath string) (string, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s", archivePath)
	}
	defer f.Close()
	object := path.Join(p.prefix, path.Base(archivePath))
	w := p.client.Bucket(p.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", errors.Wrapf(err, "uploading %s", archivePath)
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "finalizing upload of %s", archivePath)
	}
	return (&url.URL{Scheme: "gs", Path: path.Join(p.bucket, object)}).String(), nil
}

// Close releases the underlying client.
func (p *GCSPublisher) Close() error {
	return p.client.Close()
}
