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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrever/certix/database"
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/event"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
)

// UploadRequest is a document submitted by its owner
type UploadRequest struct {
	Owner       string
	Title       string
	Issuer      string
	FileName    string
	ContentType string
	Data        []byte
}

// UploadResult carries the unsigned anchor envelope for the owner to sign.
// The envelope hash is the expected anchor transaction reference.
type UploadResult struct {
	*ledger.Envelope

	CertificateID  string        `json:"certificateId"`
	Digest         string        `json:"hash"`
	FileLocation   string        `json:"fileUrl"`
	Title          string        `json:"title"`
	Issuer         string        `json:"issuer,omitempty"`
	Status         models.Status `json:"status"`
	NeedsSignature bool          `json:"needsSignature"`
}

// RegisterRequest returns the owner-signed anchor envelope with the upload
// details
type RegisterRequest struct {
	CertificateID string `json:"certificateId"`
	SignedTxXDR   string `json:"signedTxXdr"`
	Owner         string `json:"walletAddress"`
	Digest        string `json:"hash"`
	FileLocation  string `json:"fileUrl"`
	Title         string `json:"title"`
	Issuer        string `json:"issuer,omitempty"`
}

type RegisterResult struct {
	Certificate       *models.Certificate `json:"-"`
	CertificateID     string              `json:"certificateId"`
	AnchorTxRef       string              `json:"txHash"`
	RegistryRef       string              `json:"contractId"`
	RegistrationTxRef string              `json:"contractTxHash"`
	ExplorerURL       string              `json:"stellarExplorerUrl"`
}

func (o *Orchestrator) validateUpload(req *UploadRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	req.Issuer = strings.TrimSpace(req.Issuer)
	if len(req.Data) == 0 {
		return validationError("File is required")
	}
	if !identity.IsValid(req.Owner) {
		return validationError("Valid Stellar wallet address is required")
	}
	if req.Title == "" {
		return validationError("Title is required")
	}
	if int64(len(req.Data)) > o.filePolicy.MaxSize {
		return validationError(
			fmt.Sprintf("File size must be less than %dMB", o.filePolicy.MaxSize/(1024*1024)),
		)
	}
	contentType, _, err := mime.ParseMediaType(req.ContentType)
	if err != nil || !o.filePolicy.allows(contentType) {
		return validationError("File must be PDF, PNG, or JPG")
	}
	req.ContentType = contentType
	return nil
}

// fileKey names a stored upload as <unix-millis>-<owner prefix>.<ext>
func fileKey(now time.Time, owner string, fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	valid := ext != ""
	for _, c := range ext {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			valid = false
			break
		}
	}
	if !valid {
		ext = "bin"
	}
	return fmt.Sprintf("%d-%s.%s", now.UnixMilli(), identity.Short(owner), ext)
}

// Upload validates and stores a document and builds the anchor transaction
// embedding its digest. No certificate is recorded until SignAndRegister.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (ret *UploadResult, err error) {
	ctx, span := o.startSpan(ctx, "Upload", attribute.String("owner", req.Owner))
	defer func() { endSpan(span, err) }()
	if err := o.validateUpload(&req); err != nil {
		return nil, err
	}
	certID := uuid.NewString()
	o.setState(certID, StateUploading)
	d := digest.Sum(req.Data)
	location, err := o.db.PutFile(
		ctx,
		fileKey(time.Now(), req.Owner, req.FileName),
		req.ContentType,
		req.Data,
	)
	if err != nil {
		return nil, &Error{
			Kind:    KindInternal,
			Stage:   StageFileStore,
			Message: "Error storing file",
			Err:     err,
		}
	}
	env, err := o.builder.BuildAnchor(ctx, req.Owner, d)
	if err != nil {
		return nil, stageError(
			StageAnchorBuild,
			fmt.Sprintf("Error creating transaction: %s", err),
			err,
		)
	}
	o.setState(certID, StateAwaitingOwnerSignature)
	return &UploadResult{
		Envelope:       env,
		CertificateID:  certID,
		Digest:         d.Hex(),
		FileLocation:   location,
		Title:          req.Title,
		Issuer:         req.Issuer,
		Status:         models.StatusPending,
		NeedsSignature: true,
	}, nil
}

func (o *Orchestrator) validateRegister(req *RegisterRequest) (digest.Digest, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Issuer = strings.TrimSpace(req.Issuer)
	if req.CertificateID == "" || req.SignedTxXDR == "" || req.Owner == "" ||
		req.Digest == "" || req.FileLocation == "" || req.Title == "" {
		return digest.Digest{}, validationError(
			"Certificate ID, signed transaction XDR, wallet address, hash, fileUrl, and title are required",
		)
	}
	if _, err := uuid.Parse(req.CertificateID); err != nil {
		return digest.Digest{}, validationError("Invalid certificate ID")
	}
	if !identity.IsValid(req.Owner) {
		return digest.Digest{}, validationError("Valid Stellar wallet address is required")
	}
	d, err := digest.ParseHex(req.Digest)
	if err != nil {
		return digest.Digest{}, &Error{
			Kind:    KindValidation,
			Stage:   StageValidate,
			Message: fmt.Sprintf("Invalid certificate hash: %s", err),
			Err:     err,
		}
	}
	info, err := o.builder.InspectEnvelope(req.SignedTxXDR)
	if err != nil {
		return digest.Digest{}, &Error{
			Kind:    KindValidation,
			Stage:   StageValidate,
			Message: "Invalid signed transaction",
			Err:     err,
		}
	}
	switch {
	case info.SourceAccount != req.Owner:
		return digest.Digest{}, validationError("Signed transaction source does not match wallet address")
	case info.Memo != d.MemoText():
		return digest.Digest{}, validationError("Signed transaction memo does not match certificate hash")
	case info.Signatures == 0:
		return digest.Digest{}, validationError("Transaction is not signed")
	}
	return d, nil
}

// SignAndRegister submits the owner-signed anchor transaction, registers the
// certificate on the contract as the system identity and stores it as
// pending. A failure at any stage stores nothing.
func (o *Orchestrator) SignAndRegister(
	ctx context.Context,
	req RegisterRequest,
) (ret *RegisterResult, err error) {
	ctx, span := o.startSpan(
		ctx,
		"SignAndRegister",
		attribute.String("certificate", req.CertificateID),
	)
	defer func() {
		o.metrics.registrations.WithLabelValues(resultLabel(err)).Inc()
		endSpan(span, err)
	}()
	d, err := o.validateRegister(&req)
	if err != nil {
		return nil, err
	}
	if _, err := o.db.GetCertificate(ctx, req.CertificateID); err == nil {
		return nil, &Error{
			Kind:    KindConflict,
			Stage:   StageValidate,
			Message: "Certificate already exists",
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, &Error{
			Kind:    KindInternal,
			Stage:   StageLoad,
			Message: "Error loading certificate",
			Err:     err,
		}
	}

	o.setState(req.CertificateID, StateAnchoring)
	anchorTxRef, err := o.builder.SubmitAnchor(ctx, req.SignedTxXDR)
	if err != nil {
		return nil, stageError(
			StageAnchorSubmit,
			fmt.Sprintf("Transaction failed: %s", err),
			err,
		)
	}

	registrationTxRef, err := o.register(ctx, req.CertificateID, req.Owner, d, anchorTxRef)
	if err != nil {
		o.orphaned(req, anchorTxRef, err)
		msg := fmt.Sprintf(
			"Failed to register certificate in Smart Contract: %s. The certificate was not saved. Please try again.",
			err,
		)
		if errors.Is(err, ledger.ErrAlreadyRegistered) {
			msg = "Certificate already registered in the Smart Contract"
		}
		return nil, stageError(StageContractRegister, msg, err)
	}

	cert := &models.Certificate{
		ID:            req.CertificateID,
		OwnerIdentity: req.Owner,
		Title:         req.Title,
		Issuer:        req.Issuer,
		Digest:        d.Hex(),
		AnchorTxRef:   anchorTxRef,
		FileLocation:  req.FileLocation,
		Status:        models.StatusPending,
		RegistryRef:   o.builder.ContractID(),
		UploadedAt:    time.Now().UTC(),
	}
	if err := o.db.PutCertificate(ctx, cert); err != nil {
		o.orphaned(req, anchorTxRef, err)
		return nil, &Error{
			Kind:    KindInternal,
			Stage:   StagePersist,
			Message: fmt.Sprintf("Error saving certificate: %s", err),
			Err:     err,
		}
	}
	o.setState(cert.ID, StatePersistedPending)
	o.publish(event.CertificateRegisteredEventType, event.CertificateRegisteredEvent{
		CertificateID: cert.ID,
		Owner:         cert.OwnerIdentity,
		Digest:        cert.Digest,
		AnchorTxRef:   cert.AnchorTxRef,
		RegistryRef:   cert.RegistryRef,
	})
	o.logger.Info(
		"certificate registered",
		"certificate", cert.ID,
		"owner", identity.Short(cert.OwnerIdentity),
		"tx_hash", anchorTxRef,
	)
	return &RegisterResult{
		Certificate:       cert,
		CertificateID:     cert.ID,
		AnchorTxRef:       anchorTxRef,
		RegistryRef:       cert.RegistryRef,
		RegistrationTxRef: registrationTxRef,
		ExplorerURL:       o.ExplorerURL(anchorTxRef),
	}, nil
}

// orphaned reports an anchor transaction the ledger accepted for which no
// certificate could be stored
func (o *Orchestrator) orphaned(req RegisterRequest, anchorTxRef string, err error) {
	o.metrics.orphanedAnchors.Inc()
	o.logger.Warn(
		"anchor transaction accepted but certificate not stored",
		"certificate", req.CertificateID,
		"owner", identity.Short(req.Owner),
		"tx_hash", anchorTxRef,
		"error", err,
	)
	o.publish(event.AnchorOrphanedEventType, event.AnchorOrphanedEvent{
		Owner:       req.Owner,
		Digest:      req.Digest,
		AnchorTxRef: anchorTxRef,
		Error:       err.Error(),
	})
}
