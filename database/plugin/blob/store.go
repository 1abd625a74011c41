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

package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wrever/certix/database/plugin"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrBlobUnavailable = errors.New("blob store unavailable")
	ErrInvalidKey      = errors.New("invalid blob key")
)

// BlobStore stores uploaded certificate files by key
type BlobStore interface {
	plugin.Plugin

	// Put stores data under key and returns the location recorded on the
	// certificate
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	// Get returns the data and content type stored under key
	Get(ctx context.Context, key string) ([]byte, string, error)
	Close() error
}

// ValidateKey rejects keys that could escape a flat key namespace
func ValidateKey(key string) error {
	if key == "" || len(key) > 256 {
		return ErrInvalidKey
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if key[0] == '.' {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// New returns the started blob plugin selected by name
func New(
	pluginName string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (BlobStore, error) {
	p, err := plugin.StartPlugin(
		plugin.PluginTypeBlob,
		pluginName,
		logger,
		promRegistry,
	)
	if err != nil {
		return nil, err
	}
	blobStore, ok := p.(BlobStore)
	if !ok {
		_ = p.Stop()
		return nil, fmt.Errorf(
			"plugin '%s' does not implement BlobStore interface",
			pluginName,
		)
	}
	return blobStore, nil
}
