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

package postgres

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wrever/certix/database/models"
)

func TestDSN(t *testing.T) {
	d := NewWithOptions(
		WithHost("db.local"),
		WithPassword("secret"),
	)
	assert.Equal(
		t,
		"host=db.local user=postgres password=secret dbname=certix port=5432 sslmode=disable TimeZone=UTC",
		d.DSN(),
	)
	assert.Equal(t, DefaultMaxOpenConns, d.maxOpenConns)

	d = NewWithOptions(WithDSN("  postgres://u:p@h/db  "))
	assert.Equal(t, "postgres://u:p@h/db", d.DSN())
}

func TestCloseWithoutStart(t *testing.T) {
	d := NewWithOptions()
	assert.NoError(t, d.Close())
}

// newTestPostgresStore creates a store for integration tests. It skips the
// test unless CERTIX_TEST_POSTGRES_DSN is set.
func newTestPostgresStore(t *testing.T) *MetadataStorePostgres {
	t.Helper()
	dsn := os.Getenv("CERTIX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping postgres integration test: CERTIX_TEST_POSTGRES_DSN not set")
	}
	d := NewWithOptions(WithDSN(dsn))
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestPostgresCertificateLifecycle(t *testing.T) {
	d := newTestPostgresStore(t)
	owner := "G" + uuid.NewString()
	cert := &models.Certificate{
		ID:            uuid.NewString(),
		OwnerIdentity: owner,
		Title:         "Diploma",
		Status:        models.StatusPending,
		UploadedAt:    time.Now().UTC(),
	}
	require.NoError(t, d.SetCertificate(t.Context(), cert, nil))

	now := time.Now().UTC()
	cert.Status = models.StatusRejected
	cert.DecidedAt = &now
	cert.RejectionReason = "Rejected by admin"
	require.NoError(t, d.UpdateCertificateStatus(t.Context(), cert, models.StatusPending, nil))
	assert.ErrorIs(
		t,
		d.UpdateCertificateStatus(t.Context(), cert, models.StatusPending, nil),
		models.ErrStatusConflict,
	)

	status := models.StatusRejected
	certs, err := d.GetCertificatesByOwner(t.Context(), owner, &status, nil)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "Rejected by admin", certs[0].RejectionReason)
}
