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

package mysql

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
		WithPort(3307),
		WithUser("certix"),
		WithPassword("secret"),
		WithSSLMode("preferred"),
	)
	dsn, dbName := d.DSN()
	assert.Equal(t, "certix", dbName)
	assert.Contains(t, dsn, "certix:secret@tcp(db.local:3307)/certix")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "tls=preferred")

	d = NewWithOptions(WithDSN("u:p@tcp(h:3306)/other?parseTime=true"))
	dsn, dbName = d.DSN()
	assert.Equal(t, "u:p@tcp(h:3306)/other?parseTime=true", dsn)
	assert.Equal(t, "other", dbName)
}

func TestCloseWithoutStart(t *testing.T) {
	assert.NoError(t, NewWithOptions().Close())
}

func TestMysqlCertificateLifecycle(t *testing.T) {
	dsn := os.Getenv("CERTIX_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping mysql integration test: CERTIX_TEST_MYSQL_DSN not set")
	}
	d := NewWithOptions(WithDSN(dsn))
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Close() })

	cert := &models.Certificate{
		ID:            uuid.NewString(),
		OwnerIdentity: "G" + uuid.NewString(),
		Title:         "Diploma",
		Status:        models.StatusPending,
		UploadedAt:    time.Now().UTC(),
	}
	require.NoError(t, d.SetCertificate(t.Context(), cert, nil))
	now := time.Now().UTC()
	require.NoError(t, d.SetCertificateVerified(t.Context(), cert.ID, true, &now, nil))
	// Setting the same values again must not look like a missing row
	require.NoError(t, d.SetCertificateVerified(t.Context(), cert.ID, true, &now, nil))
	got, err := d.GetCertificate(t.Context(), cert.ID, nil)
	require.NoError(t, err)
	assert.True(t, got.Verified)
}
