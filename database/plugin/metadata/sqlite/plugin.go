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

package sqlite

import (
	"sync"
	"time"

	"github.com/wrever/certix/database/plugin"
)

const DefaultDataDir = ".certix"

var (
	cmdlineOptions struct {
		dataDir          string
		busyTimeoutMs    uint64
		vacuumIntervalHr uint64
	}
	cmdlineOptionsMutex sync.RWMutex
)

// initCmdlineOptions sets default values for cmdlineOptions
func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.dataDir = DefaultDataDir
	cmdlineOptions.busyTimeoutMs = uint64(DefaultBusyTimeout / time.Millisecond)
	cmdlineOptions.vacuumIntervalHr = uint64(DefaultVacuumInterval / time.Hour)
}

// Register plugin
func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeMetadata,
			Name:               "sqlite",
			Description:        "certificate registry in an embedded SQLite file",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "data-dir",
					Type:         plugin.PluginOptionTypeString,
					Description:  "directory holding metadata.sqlite (empty keeps the registry in memory)",
					DefaultValue: DefaultDataDir,
					Dest:         &(cmdlineOptions.dataDir),
				},
				{
					Name:         "busy-timeout",
					Type:         plugin.PluginOptionTypeUint,
					Description:  "milliseconds a write waits for the database lock",
					DefaultValue: uint64(DefaultBusyTimeout / time.Millisecond),
					Dest:         &(cmdlineOptions.busyTimeoutMs),
				},
				{
					Name:         "vacuum-interval",
					Type:         plugin.PluginOptionTypeUint,
					Description:  "hours between VACUUM runs on the registry file, 0 disables",
					DefaultValue: uint64(DefaultVacuumInterval / time.Hour),
					Dest:         &(cmdlineOptions.vacuumIntervalHr),
				},
			},
		},
	)
}

func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.RLock()
	defer cmdlineOptionsMutex.RUnlock()
	opts := []SqliteOptionFunc{
		WithDataDir(cmdlineOptions.dataDir),
		//nolint:gosec // intervals are small
		WithVacuumInterval(time.Duration(cmdlineOptions.vacuumIntervalHr) * time.Hour),
	}
	if cmdlineOptions.busyTimeoutMs > 0 {
		opts = append(
			opts,
			//nolint:gosec // timeouts are small
			WithBusyTimeout(time.Duration(cmdlineOptions.busyTimeoutMs)*time.Millisecond),
		)
	}
	// Logger and promRegistry are set by the plugin loader
	return NewWithOptions(opts...)
}
