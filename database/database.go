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

package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wrever/certix/database/plugin"
	"github.com/wrever/certix/database/plugin/blob"
	"github.com/wrever/certix/database/plugin/metadata"

	// Register storage plugins
	_ "github.com/wrever/certix/database/plugin/blob/aws"
	_ "github.com/wrever/certix/database/plugin/blob/badger"
	_ "github.com/wrever/certix/database/plugin/blob/gcs"
	_ "github.com/wrever/certix/database/plugin/metadata/mysql"
	_ "github.com/wrever/certix/database/plugin/metadata/postgres"
	_ "github.com/wrever/certix/database/plugin/metadata/sqlite"
)

const (
	DefaultBlobPlugin     = "badger"
	DefaultMetadataPlugin = "sqlite"
)

// Config selects and configures the storage plugins
type Config struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	// DataDir is passed as the data-dir option of the selected plugins. An
	// empty value keeps local stores in memory.
	DataDir        string
	BlobPlugin     string
	MetadataPlugin string
}

// Database is the certificate registry. It keeps certificate records in the
// metadata store and uploaded files in the blob store.
type Database struct {
	logger   *slog.Logger
	blob     blob.BlobStore
	metadata metadata.MetadataStore
	locks    *keyLock
	dataDir  string
}

// Blob returns the underling blob store instance
func (d *Database) Blob() blob.BlobStore {
	return d.blob
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() metadata.MetadataStore {
	return d.metadata
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	// Close metadata
	if d.metadata != nil {
		err = errors.Join(err, d.metadata.Close())
	}
	// Close blob
	if d.blob != nil {
		err = errors.Join(err, d.blob.Close())
	}
	return err
}

// New starts the configured storage plugins and returns the registry
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	blobPlugin := cfg.BlobPlugin
	if blobPlugin == "" {
		blobPlugin = DefaultBlobPlugin
	}
	metadataPlugin := cfg.MetadataPlugin
	if metadataPlugin == "" {
		metadataPlugin = DefaultMetadataPlugin
	}
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, blobPlugin, "data-dir", cfg.DataDir); err != nil {
		return nil, err
	}
	if err := plugin.SetPluginOption(plugin.PluginTypeMetadata, metadataPlugin, "data-dir", cfg.DataDir); err != nil {
		return nil, err
	}
	metadataDb, err := metadata.New(metadataPlugin, logger, cfg.PromRegistry)
	if err != nil {
		return nil, err
	}
	blobDb, err := blob.New(blobPlugin, logger, cfg.PromRegistry)
	if err != nil {
		_ = metadataDb.Close()
		return nil, err
	}
	logger.Debug(
		"opened database",
		"component", "database",
		"blob", blobPlugin,
		"metadata", metadataPlugin,
		"data_dir", cfg.DataDir,
	)
	return &Database{
		logger:   logger,
		blob:     blobDb,
		metadata: metadataDb,
		locks:    newKeyLock(),
		dataDir:  cfg.DataDir,
	}, nil
}

// NewWithStores returns a registry over already started stores
func NewWithStores(
	logger *slog.Logger,
	blobStore blob.BlobStore,
	metadataStore metadata.MetadataStore,
) (*Database, error) {
	if blobStore == nil || metadataStore == nil {
		return nil, fmt.Errorf("blob and metadata stores are required")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Database{
		logger:   logger,
		blob:     blobStore,
		metadata: metadataStore,
		locks:    newKeyLock(),
	}, nil
}
