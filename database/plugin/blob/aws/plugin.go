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
	"sync"
	"time"

	"github.com/wrever/certix/database/plugin"
)

// DefaultPrefix is the object key prefix of uploaded documents
const DefaultPrefix = "certificates/"

var (
	cmdlineOptions struct {
		location       string
		endpoint       string
		bucket         string
		region         string
		prefix         string
		timeoutSeconds uint64
		encrypt        bool
	}
	cmdlineOptionsMutex sync.RWMutex
)

func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.prefix = DefaultPrefix
	cmdlineOptions.timeoutSeconds = uint64(defaultTimeout / time.Second)
}

// Register plugin
func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeBlob,
			Name:               "s3",
			Description:        "certificate documents as S3 objects, optionally SOPS encrypted",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "location",
					Type:         plugin.PluginOptionTypeString,
					Description:  "s3://<bucket>[/prefix], overrides bucket and prefix",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.location),
				},
				{
					Name:         "bucket",
					Type:         plugin.PluginOptionTypeString,
					Description:  "bucket holding uploaded documents",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.bucket),
				},
				{
					Name:         "prefix",
					Type:         plugin.PluginOptionTypeString,
					Description:  "object key prefix for documents",
					DefaultValue: DefaultPrefix,
					Dest:         &(cmdlineOptions.prefix),
				},
				{
					Name:         "region",
					Type:         plugin.PluginOptionTypeString,
					Description:  "bucket region (empty uses the AWS SDK default chain)",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.region),
				},
				{
					Name:         "endpoint",
					Type:         plugin.PluginOptionTypeString,
					Description:  "S3-compatible endpoint such as MinIO, using path-style addressing",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.endpoint),
				},
				{
					Name:         "timeout",
					Type:         plugin.PluginOptionTypeUint,
					Description:  "seconds allowed for each upload or download",
					DefaultValue: uint64(defaultTimeout / time.Second),
					Dest:         &(cmdlineOptions.timeoutSeconds),
				},
				{
					Name:         "encrypt",
					Type:         plugin.PluginOptionTypeBool,
					Description:  "encrypt documents with SOPS before upload",
					DefaultValue: false,
					Dest:         &(cmdlineOptions.encrypt),
				},
			},
		},
	)
}

func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.RLock()
	defer cmdlineOptionsMutex.RUnlock()
	bucket, prefix := cmdlineOptions.bucket, cmdlineOptions.prefix
	if cmdlineOptions.location != "" {
		var err error
		bucket, prefix, err = ParseLocation(cmdlineOptions.location)
		if err != nil {
			// Return a plugin that defers the error to Start()
			return plugin.NewErrorPlugin(err)
		}
	}
	opts := []BlobStoreS3OptionFunc{
		WithEndpoint(cmdlineOptions.endpoint),
		WithBucket(bucket),
		WithRegion(cmdlineOptions.region),
		WithPrefix(prefix),
		WithEncrypt(cmdlineOptions.encrypt),
	}
	if cmdlineOptions.timeoutSeconds > 0 {
		opts = append(
			opts,
			WithTimeout(time.Duration(cmdlineOptions.timeoutSeconds)*time.Second), //nolint:gosec // seconds are small
		)
	}
	p, err := NewWithOptions(opts...)
	if err != nil {
		return plugin.NewErrorPlugin(err)
	}
	return p
}
