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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/database/plugin/blob"
	"gorm.io/gorm"
)

func validateCertificate(cert *models.Certificate) error {
	switch {
	case cert == nil:
		return &ValidationError{Field: "certificate", Reason: "missing"}
	case cert.ID == "":
		return &ValidationError{Field: "id", Reason: "required"}
	case cert.OwnerIdentity == "":
		return &ValidationError{Field: "ownerIdentity", Reason: "required"}
	case cert.Digest == "":
		return &ValidationError{Field: "digest", Reason: "required"}
	case cert.AnchorTxRef == "":
		return &ValidationError{Field: "anchorTxRef", Reason: "required"}
	case cert.Status != "" && !cert.Status.Valid():
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", cert.Status)}
	}
	return nil
}

// PutCertificate creates or replaces a certificate record and its index
// entries
func (d *Database) PutCertificate(ctx context.Context, cert *models.Certificate) error {
	if err := validateCertificate(cert); err != nil {
		return err
	}
	if cert.Status == "" {
		cert.Status = models.StatusPending
	}
	if cert.UploadedAt.IsZero() {
		cert.UploadedAt = time.Now().UTC()
	}
	unlock := d.locks.Lock(cert.ID)
	defer unlock()
	if err := d.metadata.SetCertificate(ctx, cert, nil); err != nil {
		return fmt.Errorf("store certificate %s: %w", cert.ID, err)
	}
	return nil
}

// GetCertificate returns the certificate with the given id
func (d *Database) GetCertificate(ctx context.Context, id string) (*models.Certificate, error) {
	cert, err := d.metadata.GetCertificate(ctx, id, nil)
	if err != nil {
		return nil, translateError(id, err)
	}
	return cert, nil
}

// ListByOwner returns an owner's certificates, newest first, optionally
// restricted to one status
func (d *Database) ListByOwner(
	ctx context.Context,
	owner string,
	status *models.Status,
) ([]models.Certificate, error) {
	if status != nil && !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *status)}
	}
	return d.metadata.GetCertificatesByOwner(ctx, owner, status, nil)
}

// ListByStatus returns every certificate with the given status, newest first
func (d *Database) ListByStatus(
	ctx context.Context,
	status models.Status,
) ([]models.Certificate, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return d.metadata.GetCertificatesByStatus(ctx, status, nil)
}

// TransitionStatus records the decision on a pending certificate. Only one
// decision is ever recorded: once a certificate is approved or rejected,
// further calls return ErrAlreadyDecided.
func (d *Database) TransitionStatus(
	ctx context.Context,
	id string,
	newStatus models.Status,
	validator string,
	reason string,
) (*models.Certificate, error) {
	if !newStatus.Terminal() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("cannot transition to %q", newStatus)}
	}
	unlock := d.locks.Lock(id)
	defer unlock()
	var ret *models.Certificate
	err := d.metadata.Transaction(ctx, func(txn *gorm.DB) error {
		cert, err := d.metadata.GetCertificate(ctx, id, txn)
		if err != nil {
			return err
		}
		if cert.Status != models.StatusPending {
			return fmt.Errorf("%w: %s", ErrAlreadyDecided, cert.Status)
		}
		now := time.Now().UTC()
		cert.Status = newStatus
		cert.ValidatorIdentity = validator
		cert.DecidedAt = &now
		if newStatus == models.StatusRejected {
			cert.RejectionReason = reason
		}
		if err := d.metadata.UpdateCertificateStatus(ctx, cert, models.StatusPending, txn); err != nil {
			return err
		}
		ret = cert
		return nil
	})
	if err != nil {
		return nil, translateError(id, err)
	}
	d.logger.Debug(
		"certificate status changed",
		"component", "database",
		"certificate", id,
		"status", newStatus,
	)
	return ret, nil
}

// SetRegistryRef records the contract a certificate was registered in
// without touching its status
func (d *Database) SetRegistryRef(ctx context.Context, id string, registryRef string) (*models.Certificate, error) {
	unlock := d.locks.Lock(id)
	defer unlock()
	var ret *models.Certificate
	err := d.metadata.Transaction(ctx, func(txn *gorm.DB) error {
		cert, err := d.metadata.GetCertificate(ctx, id, txn)
		if err != nil {
			return err
		}
		cert.RegistryRef = registryRef
		if err := d.metadata.SetCertificate(ctx, cert, txn); err != nil {
			return err
		}
		ret = cert
		return nil
	})
	if err != nil {
		return nil, translateError(id, err)
	}
	return ret, nil
}

// MarkVerified updates the derived verification flag of a certificate
func (d *Database) MarkVerified(ctx context.Context, id string, verified bool) error {
	var verifiedAt *time.Time
	if verified {
		now := time.Now().UTC()
		verifiedAt = &now
	}
	if err := d.metadata.SetCertificateVerified(ctx, id, verified, verifiedAt, nil); err != nil {
		return translateError(id, err)
	}
	return nil
}

// Stats returns certificate counts for an owner
func (d *Database) Stats(ctx context.Context, owner string) (models.Stats, error) {
	certs, err := d.ListByOwner(ctx, owner, nil)
	if err != nil {
		return models.Stats{}, err
	}
	return models.CountStats(certs), nil
}

// PutFile stores an uploaded file and returns its location
func (d *Database) PutFile(
	ctx context.Context,
	key string,
	contentType string,
	data []byte,
) (string, error) {
	location, err := d.blob.Put(ctx, key, contentType, data)
	if err != nil {
		return "", fmt.Errorf("store file %s: %w", key, err)
	}
	return location, nil
}

// GetFile returns a stored file and its content type
func (d *Database) GetFile(ctx context.Context, key string) ([]byte, string, error) {
	data, contentType, err := d.blob.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			return nil, "", fmt.Errorf("%w: file %s", ErrNotFound, key)
		}
		return nil, "", err
	}
	return data, contentType, nil
}

func translateError(id string, err error) error {
	switch {
	case errors.Is(err, models.ErrCertificateNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, models.ErrStatusConflict):
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, id)
	default:
		return err
	}
}
