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

package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wrever/certix/database/plugin/blob"
	"github.com/wrever/certix/database/sops"
)

const defaultTimeout = 60 * time.Second

// BlobStoreS3 stores uploaded files in an AWS S3 bucket
type BlobStoreS3 struct {
	promRegistry prometheus.Registerer
	logger       *slog.Logger
	metrics      *blob.Metrics
	client       *s3.Client
	bucket       string
	prefix       string
	region       string
	endpoint     string
	timeout      time.Duration
	encrypt      bool
}

// New creates a new S3-backed blob store and location must be "s3://bucket" or "s3://bucket/prefix"
func New(
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreS3, error) {
	bucket, keyPrefix, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(
		WithBucket(bucket),
		WithPrefix(keyPrefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// ParseLocation splits s3://<bucket>[/prefix] into bucket and key prefix
func ParseLocation(location string) (string, string, error) {
	path, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", errors.New(
			"s3 blob: expected location 's3://<bucket>[/prefix]'",
		)
	}
	if path == "" {
		return "", "", errors.New("s3 blob: bucket not set")
	}
	bucket, keyPrefix, _ := strings.Cut(path, "/")
	if bucket == "" {
		return "", "", errors.New("s3 blob: invalid S3 path (missing bucket)")
	}
	keyPrefix = strings.TrimSuffix(keyPrefix, "/")
	if keyPrefix != "" {
		keyPrefix += "/"
	}
	return bucket, keyPrefix, nil
}

// NewWithOptions creates a new S3-backed blob store using options.
func NewWithOptions(opts ...BlobStoreS3OptionFunc) (*BlobStoreS3, error) {
	d := &BlobStoreS3{
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	// AWS config loading and validation happens in Start()
	return d, nil
}

// SetLogger implements plugin.Observable
func (d *BlobStoreS3) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// SetPromRegistry implements plugin.Observable
func (d *BlobStoreS3) SetPromRegistry(registry prometheus.Registerer) {
	d.promRegistry = registry
}

func (d *BlobStoreS3) opContext(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func (d *BlobStoreS3) fullKey(key string) string {
	return d.prefix + key
}

// Location returns the location recorded for a key
func (d *BlobStoreS3) Location(key string) string {
	if d.encrypt {
		// Encrypted objects are only readable through the API
		return "/files/" + key
	}
	if d.endpoint != "" {
		return strings.TrimSuffix(d.endpoint, "/") + "/" + d.bucket + "/" + d.fullKey(key)
	}
	return "s3://" + d.bucket + "/" + d.fullKey(key)
}

// Start implements the plugin.Plugin interface.
func (d *BlobStoreS3) Start() error {
	if d.bucket == "" {
		return errors.New("s3 blob: bucket not set")
	}
	if d.encrypt && !sops.MasterKeysConfigured() {
		return fmt.Errorf("s3 blob: %w", sops.ErrNoMasterKeys)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("s3 blob: load default AWS config: %w", err)
	}
	if d.region != "" {
		awsCfg.Region = d.region
	}
	d.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if d.endpoint != "" {
			o.BaseEndpoint = aws.String(d.endpoint)
			o.UsePathStyle = true
		}
	})
	d.metrics = blob.NewMetrics(d.promRegistry, "s3")
	return nil
}

// Stop implements the plugin.Plugin interface.
func (d *BlobStoreS3) Stop() error {
	return d.Close()
}

// Close implements the BlobStore interface. The S3 client holds no
// resources that need closing.
func (d *BlobStoreS3) Close() error {
	d.client = nil
	return nil
}

// Put uploads a file
func (d *BlobStoreS3) Put(
	ctx context.Context,
	key string,
	contentType string,
	data []byte,
) (string, error) {
	if err := blob.ValidateKey(key); err != nil {
		return "", err
	}
	if d.client == nil {
		return "", blob.ErrBlobUnavailable
	}
	payload := data
	if d.encrypt {
		var err error
		payload, err = sops.Encrypt(data)
		if err != nil {
			return "", fmt.Errorf("s3 blob: encrypt %q: %w", key, err)
		}
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.fullKey(key)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	d.metrics.Observe("put", len(data), err)
	if err != nil {
		d.logger.Error(
			fmt.Sprintf("s3 put %q failed", key),
			"component", "database",
			"error", err,
		)
		return "", err
	}
	d.logger.Debug(
		fmt.Sprintf("s3 put %q ok (%d bytes)", key, len(data)),
		"component", "database",
	)
	return d.Location(key), nil
}

// Get downloads a file
func (d *BlobStoreS3) Get(
	ctx context.Context,
	key string,
) ([]byte, string, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, "", err
	}
	if d.client == nil {
		return nil, "", blob.ErrBlobUnavailable
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.fullKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			err = blob.ErrBlobNotFound
		} else {
			d.logger.Error(
				fmt.Sprintf("s3 get %q failed", key),
				"component", "database",
				"error", err,
			)
		}
		d.metrics.Observe("get", 0, err)
		return nil, "", err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err == nil && d.encrypt {
		data, err = sops.Decrypt(data)
	}
	d.metrics.Observe("get", len(data), err)
	if err != nil {
		d.logger.Error(
			fmt.Sprintf("s3 read %q failed", key),
			"component", "database",
			"error", err,
		)
		return nil, "", err
	}
	return data, aws.ToString(out.ContentType), nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return true
	}
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &noSuchKey)
}
