// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wrever/certix/database/plugin/blob"
	"github.com/wrever/certix/database/sops"
	"google.golang.org/api/option"
)

const (
	defaultTimeout   = 30 * time.Second
	publicURLPrefix  = "https://storage.googleapis.com/"
	encryptedLocPath = "/files/"
)

// BlobStoreGCS stores uploaded files in a Google Cloud Storage bucket
type BlobStoreGCS struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	metrics         *blob.Metrics
	client          *storage.Client
	bucket          *storage.BucketHandle
	bucketName      string
	prefix          string
	credentialsFile string
	locationPrefix  string
	timeout         time.Duration
	encrypt         bool
}

// New creates a GCS-backed blob store from a location of the form
// gcs://<bucket>[/prefix]
func New(
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreGCS, error) {
	bucket, prefix, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(
		WithBucket(bucket),
		WithPrefix(prefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// ParseLocation splits gcs://<bucket>[/prefix] into bucket and object prefix
func ParseLocation(location string) (string, string, error) {
	path, ok := strings.CutPrefix(location, "gcs://")
	if !ok {
		return "", "", errors.New(
			"gcs blob: expected location 'gcs://<bucket>[/prefix]'",
		)
	}
	bucket, prefix, _ := strings.Cut(path, "/")
	if bucket == "" {
		return "", "", errors.New("gcs blob: bucket not set")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// NewWithOptions creates a new GCS-backed blob store using options. The
// client is created by Start.
func NewWithOptions(opts ...BlobStoreGCSOptionFunc) (*BlobStoreGCS, error) {
	d := &BlobStoreGCS{
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return d, nil
}

// SetLogger implements plugin.Observable
func (d *BlobStoreGCS) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// SetPromRegistry implements plugin.Observable
func (d *BlobStoreGCS) SetPromRegistry(registry prometheus.Registerer) {
	d.promRegistry = registry
}

// ValidateCredentials checks that a credentials file exists and is readable
func ValidateCredentials(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("GCS credentials file does not exist: %s", path)
		}
		return fmt.Errorf("GCS credentials file is not readable: %w", err)
	}
	return nil
}

// Location returns the location recorded for a key
func (d *BlobStoreGCS) Location(key string) string {
	if d.locationPrefix != "" {
		return d.locationPrefix + key
	}
	if d.encrypt {
		// Encrypted objects are only readable through the API
		return encryptedLocPath + key
	}
	return publicURLPrefix + d.bucketName + "/" + d.prefix + key
}

// Start implements the plugin.Plugin interface
func (d *BlobStoreGCS) Start() error {
	if d.bucketName == "" {
		return errors.New("gcs blob: bucket not set")
	}
	if err := ValidateCredentials(d.credentialsFile); err != nil {
		return err
	}
	if d.encrypt && !sops.MasterKeysConfigured() {
		return fmt.Errorf("gcs blob: %w", sops.ErrNoMasterKeys)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	clientOpts := []option.ClientOption{
		storage.WithDisabledClientMetrics(),
	}
	if d.credentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(d.credentialsFile),
		)
	}
	client, err := storage.NewGRPCClient(ctx, clientOpts...)
	if err != nil {
		return fmt.Errorf(
			"gcs blob: failed in creating storage client: %w",
			err,
		)
	}
	d.client = client
	d.bucket = client.Bucket(d.bucketName)
	d.metrics = blob.NewMetrics(d.promRegistry, "gcs")
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *BlobStoreGCS) Stop() error {
	return d.Close()
}

// Close closes the GCS client
func (d *BlobStoreGCS) Close() error {
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	d.bucket = nil
	return err
}

// Put uploads a file
func (d *BlobStoreGCS) Put(
	ctx context.Context,
	key string,
	contentType string,
	data []byte,
) (string, error) {
	if err := blob.ValidateKey(key); err != nil {
		return "", err
	}
	if d.bucket == nil {
		return "", blob.ErrBlobUnavailable
	}
	payload := data
	if d.encrypt {
		var err error
		payload, err = sops.Encrypt(data)
		if err != nil {
			return "", fmt.Errorf("gcs blob: encrypt %q: %w", key, err)
		}
	}
	w := d.bucket.Object(d.prefix + key).NewWriter(ctx)
	w.ContentType = contentType
	if d.encrypt {
		w.Metadata = map[string]string{"certix-encrypted": "sops"}
	}
	_, err := w.Write(payload)
	if err == nil {
		err = w.Close()
	} else {
		_ = w.Close()
	}
	d.metrics.Observe("put", len(data), err)
	if err != nil {
		d.logger.Error(
			"gcs put failed",
			"component", "database",
			"key", key,
			"error", err,
		)
		return "", err
	}
	d.logger.Debug(
		fmt.Sprintf("gcs put %q ok (%d bytes)", key, len(data)),
		"component", "database",
	)
	return d.Location(key), nil
}

// Get downloads a file
func (d *BlobStoreGCS) Get(
	ctx context.Context,
	key string,
) ([]byte, string, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, "", err
	}
	if d.bucket == nil {
		return nil, "", blob.ErrBlobUnavailable
	}
	r, err := d.bucket.Object(d.prefix + key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			err = blob.ErrBlobNotFound
		}
		d.metrics.Observe("get", 0, err)
		return nil, "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err == nil && d.encrypt {
		data, err = sops.Decrypt(data)
	}
	d.metrics.Observe("get", len(data), err)
	if err != nil {
		d.logger.Error(
			"gcs get failed",
			"component", "database",
			"key", key,
			"error", err,
		)
		return nil, "", err
	}
	return data, r.Attrs.ContentType, nil
}
