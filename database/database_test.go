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

package database_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wrever/certix/database"
	"github.com/wrever/certix/database/models"
)

const testOwner = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

func newTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestCert(owner string, uploadedAt time.Time) *models.Certificate {
	return &models.Certificate{
		ID:            uuid.NewString(),
		OwnerIdentity: owner,
		Title:         "Diploma",
		Digest:        strings.Repeat("ab", 32),
		AnchorTxRef:   strings.Repeat("cd", 32),
		FileLocation:  "/files/test.pdf",
		UploadedAt:    uploadedAt,
	}
}

func TestPutGetCertificate(t *testing.T) {
	db := newTestDatabase(t)
	cert := newTestCert(testOwner, time.Time{})
	require.NoError(t, db.PutCertificate(t.Context(), cert))
	assert.Equal(t, models.StatusPending, cert.Status)
	assert.False(t, cert.UploadedAt.IsZero())

	got, err := db.GetCertificate(t.Context(), cert.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, got.ID)
	assert.Equal(t, cert.Digest, got.Digest)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = db.GetCertificate(t.Context(), uuid.NewString())
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPutCertificateValidation(t *testing.T) {
	db := newTestDatabase(t)
	testDefs := []struct {
		field  string
		modify func(*models.Certificate)
	}{
		{"id", func(c *models.Certificate) { c.ID = "" }},
		{"ownerIdentity", func(c *models.Certificate) { c.OwnerIdentity = "" }},
		{"digest", func(c *models.Certificate) { c.Digest = "" }},
		{"anchorTxRef", func(c *models.Certificate) { c.AnchorTxRef = "" }},
		{"status", func(c *models.Certificate) { c.Status = "verified" }},
	}
	for _, testDef := range testDefs {
		cert := newTestCert(testOwner, time.Now())
		testDef.modify(cert)
		err := db.PutCertificate(t.Context(), cert)
		var validationErr *database.ValidationError
		require.ErrorAs(t, err, &validationErr, testDef.field)
		assert.Equal(t, testDef.field, validationErr.Field)
	}
	var validationErr *database.ValidationError
	assert.ErrorAs(t, db.PutCertificate(t.Context(), nil), &validationErr)
}

func TestListByOwnerNewestFirstNoDuplicates(t *testing.T) {
	db := newTestDatabase(t)
	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := range 3 {
		cert := newTestCert(testOwner, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, db.PutCertificate(t.Context(), cert))
		// Storing the same record again must not add index entries
		require.NoError(t, db.PutCertificate(t.Context(), cert))
		ids = append(ids, cert.ID)
	}
	other := newTestCert("G"+strings.Repeat("A", 55), base)
	require.NoError(t, db.PutCertificate(t.Context(), other))

	certs, err := db.ListByOwner(t.Context(), testOwner, nil)
	require.NoError(t, err)
	require.Len(t, certs, 3)
	assert.Equal(t, ids[2], certs[0].ID)
	assert.Equal(t, ids[1], certs[1].ID)
	assert.Equal(t, ids[0], certs[2].ID)

	pending := models.StatusPending
	certs, err = db.ListByOwner(t.Context(), testOwner, &pending)
	require.NoError(t, err)
	assert.Len(t, certs, 3)

	bogus := models.Status("bogus")
	_, err = db.ListByOwner(t.Context(), testOwner, &bogus)
	var validationErr *database.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	queue, err := db.ListByStatus(t.Context(), models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, queue, 4)
}

func TestTransitionStatus(t *testing.T) {
	db := newTestDatabase(t)
	cert := newTestCert(testOwner, time.Now())
	require.NoError(t, db.PutCertificate(t.Context(), cert))

	updated, err := db.TransitionStatus(t.Context(), cert.ID, models.StatusRejected, testOwner, "blurry scan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, updated.Status)
	assert.Equal(t, testOwner, updated.ValidatorIdentity)
	assert.Equal(t, "blurry scan", updated.RejectionReason)
	require.NotNil(t, updated.DecidedAt)

	// A second decision is refused and changes nothing
	_, err = db.TransitionStatus(t.Context(), cert.ID, models.StatusApproved, testOwner, "")
	require.ErrorIs(t, err, database.ErrAlreadyDecided)
	got, err := db.GetCertificate(t.Context(), cert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)

	pendingCerts, err := db.ListByStatus(t.Context(), models.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pendingCerts)
	rejected, err := db.ListByStatus(t.Context(), models.StatusRejected)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)

	_, err = db.TransitionStatus(t.Context(), uuid.NewString(), models.StatusApproved, testOwner, "")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = db.TransitionStatus(t.Context(), cert.ID, models.StatusPending, testOwner, "")
	var validationErr *database.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestTransitionStatusConcurrent(t *testing.T) {
	db := newTestDatabase(t)
	cert := newTestCert(testOwner, time.Now())
	require.NoError(t, db.PutCertificate(t.Context(), cert))

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.StatusApproved
			if i%2 == 1 {
				status = models.StatusRejected
			}
			_, errs[i] = db.TransitionStatus(t.Context(), cert.ID, status, testOwner, fmt.Sprintf("worker %d", i))
		}(i)
	}
	wg.Wait()
	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, errors.Is(err, database.ErrAlreadyDecided), err)
	}
	assert.Equal(t, 1, winners)

	approved, err := db.ListByStatus(t.Context(), models.StatusApproved)
	require.NoError(t, err)
	rejected, err := db.ListByStatus(t.Context(), models.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, 1, len(approved)+len(rejected))
	stats, err := db.Stats(t.Context(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 0, stats.Pending)
}

func TestMarkVerified(t *testing.T) {
	db := newTestDatabase(t)
	cert := newTestCert(testOwner, time.Now())
	require.NoError(t, db.PutCertificate(t.Context(), cert))

	require.NoError(t, db.MarkVerified(t.Context(), cert.ID, true))
	got, err := db.GetCertificate(t.Context(), cert.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.NotNil(t, got.VerifiedAt)

	require.NoError(t, db.MarkVerified(t.Context(), cert.ID, false))
	got, err = db.GetCertificate(t.Context(), cert.ID)
	require.NoError(t, err)
	assert.False(t, got.Verified)
	assert.Nil(t, got.VerifiedAt)

	assert.ErrorIs(t, db.MarkVerified(t.Context(), uuid.NewString(), true), database.ErrNotFound)
}

func TestSetRegistryRef(t *testing.T) {
	db := newTestDatabase(t)
	cert := newTestCert(testOwner, time.Now())
	require.NoError(t, db.PutCertificate(t.Context(), cert))
	_, err := db.TransitionStatus(t.Context(), cert.ID, models.StatusApproved, testOwner, "")
	require.NoError(t, err)

	got, err := db.SetRegistryRef(t.Context(), cert.ID, "CREGISTRY")
	require.NoError(t, err)
	assert.Equal(t, "CREGISTRY", got.RegistryRef)
	stored, err := db.GetCertificate(t.Context(), cert.ID)
	require.NoError(t, err)
	assert.Equal(t, "CREGISTRY", stored.RegistryRef)
	assert.Equal(t, models.StatusApproved, stored.Status)

	_, err = db.SetRegistryRef(t.Context(), uuid.NewString(), "CREGISTRY")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestStats(t *testing.T) {
	db := newTestDatabase(t)
	var ids []string
	for range 4 {
		cert := newTestCert(testOwner, time.Now())
		require.NoError(t, db.PutCertificate(t.Context(), cert))
		ids = append(ids, cert.ID)
	}
	_, err := db.TransitionStatus(t.Context(), ids[0], models.StatusApproved, testOwner, "")
	require.NoError(t, err)
	_, err = db.TransitionStatus(t.Context(), ids[1], models.StatusRejected, testOwner, "")
	require.NoError(t, err)
	stats, err := db.Stats(t.Context(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Total: 4, Pending: 2, Approved: 1, Rejected: 1}, stats)

	stats, err = db.Stats(t.Context(), "G"+strings.Repeat("B", 55))
	require.NoError(t, err)
	assert.Equal(t, models.Stats{}, stats)
}

func TestFiles(t *testing.T) {
	db := newTestDatabase(t)
	location, err := db.PutFile(t.Context(), "1700000000000-GBRPYHIL.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "/files/1700000000000-GBRPYHIL.pdf", location)
	data, contentType, err := db.GetFile(t.Context(), "1700000000000-GBRPYHIL.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
	assert.Equal(t, "application/pdf", contentType)

	_, _, err = db.GetFile(t.Context(), "missing.pdf")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = db.PutFile(t.Context(), "../escape", "application/pdf", nil)
	assert.Error(t, err)
}

func TestUnknownPlugin(t *testing.T) {
	_, err := database.New(&database.Config{MetadataPlugin: "nonexistent"})
	assert.Error(t, err)
}
