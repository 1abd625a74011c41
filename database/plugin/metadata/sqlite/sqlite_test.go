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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wrever/certix/database/models"
)

func TestOptions(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := NewWithOptions(
		WithDataDir("/tmp/test"),
		WithLogger(logger),
		WithPromRegistry(reg),
		WithBusyTimeout(time.Second),
		WithVacuumInterval(0),
	)
	assert.Equal(t, "/tmp/test", m.dataDir)
	assert.Same(t, logger, m.logger)
	assert.Equal(t, reg, m.promRegistry)
	assert.Equal(t, time.Second, m.busyTimeout)
	assert.Zero(t, m.vacuumInterval)
}

func TestInMemoryStoresAreIsolated(t *testing.T) {
	a, err := New("", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := New("", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	cert := &models.Certificate{
		ID:            "a",
		OwnerIdentity: "GOWNER",
		Status:        models.StatusPending,
		UploadedAt:    time.Now(),
	}
	require.NoError(t, a.SetCertificate(t.Context(), cert, nil))
	_, err = b.GetCertificate(t.Context(), "a", nil)
	assert.ErrorIs(t, err, models.ErrCertificateNotFound)
}

func TestFileDatabase(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir, nil, nil)
	require.NoError(t, err)
	cert := &models.Certificate{
		ID:            "a",
		OwnerIdentity: "GOWNER",
		Status:        models.StatusPending,
		UploadedAt:    time.Now(),
	}
	require.NoError(t, d.SetCertificate(t.Context(), cert, nil))
	require.NoError(t, d.runVacuum())
	require.NoError(t, d.Close())
	// Closing again is a no-op
	require.NoError(t, d.Close())

	d2, err := New(dir, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d2.Close() })
	got, err := d2.GetCertificate(t.Context(), "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "GOWNER", got.OwnerIdentity)
}

func TestNewFromCmdlineOptions(t *testing.T) {
	cmdlineOptionsMutex.Lock()
	orig := cmdlineOptions
	cmdlineOptions.dataDir = ""
	cmdlineOptions.busyTimeoutMs = 250
	cmdlineOptions.vacuumIntervalHr = 0
	cmdlineOptionsMutex.Unlock()
	t.Cleanup(func() {
		cmdlineOptionsMutex.Lock()
		cmdlineOptions = orig
		cmdlineOptionsMutex.Unlock()
	})

	m, ok := NewFromCmdlineOptions().(*MetadataStoreSqlite)
	require.True(t, ok)
	assert.Empty(t, m.dataDir)
	assert.Equal(t, 250*time.Millisecond, m.busyTimeout)
	assert.Zero(t, m.vacuumInterval)

	cmdlineOptionsMutex.Lock()
	cmdlineOptions.busyTimeoutMs = 0
	cmdlineOptionsMutex.Unlock()
	m, ok = NewFromCmdlineOptions().(*MetadataStoreSqlite)
	require.True(t, ok)
	assert.Equal(t, DefaultBusyTimeout, m.busyTimeout)
}
