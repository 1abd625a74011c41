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

package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wrever/certix/database/plugin/blob"
)

const (
	DefaultGcInterval     = 5 * time.Minute
	DefaultLocationPrefix = "/files/"

	headerKeyPrefix = "blob:"
	dataKeyPrefix   = "data:"
	typeKeyPrefix   = "type:"

	// Values at or above badger's value threshold (1 MiB) cannot be
	// stored in memory, so files are split into smaller chunks
	chunkSize = 512 * 1024
)

// BlobStoreBadger stores uploaded files in badger. Without a data dir,
// data is kept in memory and lost on Close.
type BlobStoreBadger struct {
	promRegistry   prometheus.Registerer
	db             *badger.DB
	logger         *slog.Logger
	metrics        *blob.Metrics
	gcTicker       *time.Ticker
	gcStopCh       chan struct{}
	dataDir        string
	locationPrefix string
	gcWg           sync.WaitGroup
	mu             sync.RWMutex
	blockCacheSize uint64
	indexCacheSize uint64
	gcInterval     time.Duration
	gcEnabled      bool
}

// New creates a new blob store. The database is opened by Start.
func New(opts ...BlobStoreBadgerOptionFunc) *BlobStoreBadger {
	d := &BlobStoreBadger{
		gcEnabled:      true,
		gcInterval:     DefaultGcInterval,
		blockCacheSize: DefaultBlockCacheSize,
		indexCacheSize: DefaultIndexCacheSize,
		locationPrefix: DefaultLocationPrefix,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLogger implements plugin.Observable
func (d *BlobStoreBadger) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// SetPromRegistry implements plugin.Observable
func (d *BlobStoreBadger) SetPromRegistry(registry prometheus.Registerer) {
	d.promRegistry = registry
}

// Start implements the plugin.Plugin interface
func (d *BlobStoreBadger) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var badgerOpts badger.Options
	if d.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
		// Value log GC does not apply to in-memory stores
		d.gcEnabled = false
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(d.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(d.dataDir, "files")).
			WithBlockCacheSize(int64(d.blockCacheSize)). //nolint:gosec // blockCacheSize is controlled and reasonable
			WithIndexCacheSize(int64(d.indexCacheSize)). //nolint:gosec // indexCacheSize is controlled and reasonable
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(NewBadgerLogger(d.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return err
	}
	d.db = db
	d.metrics = blob.NewMetrics(d.promRegistry, "badger")
	if d.gcEnabled {
		d.gcTicker = time.NewTicker(d.gcInterval)
		d.gcStopCh = make(chan struct{})
		d.gcWg.Add(1)
		go d.blobGc(d.gcTicker, d.gcStopCh)
	}
	return nil
}

func (d *BlobStoreBadger) blobGc(t *time.Ticker, stop <-chan struct{}) {
	defer d.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := d.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						d.logger.Warn(
							"blob DB: GC failure",
							"component", "database",
							"error", err,
						)
					}
					break
				}
				// Run it again if it just ran successfully
			}
		case <-stop:
			return
		}
	}
}

// Stop implements the plugin.Plugin interface
func (d *BlobStoreBadger) Stop() error {
	return d.Close()
}

// Close stops garbage collection and closes the database
func (d *BlobStoreBadger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gcTicker != nil {
		d.gcTicker.Stop()
		close(d.gcStopCh)
		d.gcWg.Wait()
		d.gcTicker = nil
		d.gcStopCh = nil
	}
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// DB returns the database handle
func (d *BlobStoreBadger) DB() *badger.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Put stores a file in chunks followed by a header holding its size and
// content type. The file is only visible to Get once the header is written.
func (d *BlobStoreBadger) Put(
	ctx context.Context,
	key string,
	contentType string,
	data []byte,
) (string, error) {
	if err := blob.ValidateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	db := d.DB()
	if db == nil {
		return "", blob.ErrBlobUnavailable
	}
	err := d.put(ctx, db, key, contentType, data)
	d.metrics.Observe("put", len(data), err)
	if err != nil {
		d.logger.Error(
			"failed to store file",
			"component", "database",
			"key", key,
			"error", err,
		)
		return "", err
	}
	return d.locationPrefix + key, nil
}

func (d *BlobStoreBadger) put(
	ctx context.Context,
	db *badger.DB,
	key string,
	contentType string,
	data []byte,
) error {
	chunks := chunkCount(len(data))
	// The write batch splits across transactions when the file exceeds the
	// transaction size limit
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min((i+1)*chunkSize, len(data))
		if err := wb.Set(chunkKey(key, i), data[i*chunkSize:end]); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		// Drop chunks left over from a larger file stored under the same key
		prev, err := readHeader(txn, key)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			for i := chunks; i < chunkCount(int(prev)); i++ {
				if err := txn.Delete(chunkKey(key, i)); err != nil {
					return err
				}
			}
		}
		header := make([]byte, 8)
		binary.BigEndian.PutUint64(header, uint64(len(data)))
		if err := txn.Set([]byte(headerKeyPrefix+key), header); err != nil {
			return err
		}
		return txn.Set([]byte(typeKeyPrefix+key), []byte(contentType))
	})
}

// Get returns a stored file and its content type
func (d *BlobStoreBadger) Get(
	ctx context.Context,
	key string,
) ([]byte, string, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	db := d.DB()
	if db == nil {
		return nil, "", blob.ErrBlobUnavailable
	}
	var data []byte
	var contentType string
	err := db.View(func(txn *badger.Txn) error {
		size, err := readHeader(txn, key)
		if err != nil {
			return err
		}
		data = make([]byte, 0, size)
		for i := range chunkCount(int(size)) {
			item, err := txn.Get(chunkKey(key, i))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("file %s: missing chunk %d", key, i)
				}
				return err
			}
			err = item.Value(func(val []byte) error {
				data = append(data, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		if uint64(len(data)) != size {
			return fmt.Errorf("file %s: read %d bytes, expected %d", key, len(data), size)
		}
		item, err := txn.Get([]byte(typeKeyPrefix + key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		tmp, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		contentType = string(tmp)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = blob.ErrBlobNotFound
	}
	d.metrics.Observe("get", len(data), err)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

func chunkKey(key string, n int) []byte {
	return fmt.Appendf(nil, "%s%s:%d", dataKeyPrefix, key, n)
}

func chunkCount(size int) int {
	return (size + chunkSize - 1) / chunkSize
}

// readHeader returns the size of a stored file
func readHeader(txn *badger.Txn, key string) (uint64, error) {
	item, err := txn.Get([]byte(headerKeyPrefix + key))
	if err != nil {
		return 0, err
	}
	var size uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("file %s: invalid header", key)
		}
		size = binary.BigEndian.Uint64(val)
		return nil
	})
	return size, err
}
