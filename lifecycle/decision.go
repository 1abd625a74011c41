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

	"go.opentelemetry.io/otel/attribute"

	"github.com/wrever/certix/contract"
	"github.com/wrever/certix/database"
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/event"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
)

// WarningRegistryUpdate is reported when the ledger accepted a decision but
// the registry could not record it
const WarningRegistryUpdate = "registry update failed"

// DecisionRequest asks for a validator's decision on a pending certificate
type DecisionRequest struct {
	CertificateID string        `json:"-"`
	Decision      models.Status `json:"status"`
	Validator     string        `json:"adminWallet"`
	Reason        string        `json:"reason,omitempty"`
}

type PreparedDecision struct {
	*ledger.Envelope

	CertificateID  string        `json:"certificateId"`
	Decision       models.Status `json:"status"`
	NeedsSignature bool          `json:"needsSignature"`
}

// SubmitDecisionRequest carries the validator-signed decision envelope
type SubmitDecisionRequest struct {
	DecisionRequest

	SignedTxXDR string `json:"signedTxXdr"`
}

type DecisionResult struct {
	Certificate *models.Certificate `json:"certificate"`
	TxHash      string              `json:"txHash"`
	ExplorerURL string              `json:"stellarExplorerUrl"`
	Message     string              `json:"message"`
	Warning     string              `json:"warning,omitempty"`
}

// checkDecision validates a decision request and returns the pending
// certificate it applies to
func (o *Orchestrator) checkDecision(
	ctx context.Context,
	req *DecisionRequest,
) (*models.Certificate, digest.Digest, error) {
	if !req.Decision.Terminal() {
		return nil, digest.Digest{}, validationError(`Status must be "approved" or "rejected"`)
	}
	if !identity.IsValid(req.Validator) {
		return nil, digest.Digest{}, validationError("Valid admin wallet address is required")
	}
	if req.Decision == models.StatusRejected && req.Reason == "" {
		req.Reason = contract.DefaultRejectionReason
	}
	if !o.authorizer.CanDecide(req.Validator) {
		return nil, digest.Digest{}, &Error{
			Kind:    KindAuthorization,
			Stage:   StageAuthorize,
			Message: "Unauthorized: Wallet is not the admin of the Smart Contract",
		}
	}
	cert, err := o.db.GetCertificate(ctx, req.CertificateID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, digest.Digest{}, &Error{
				Kind:    KindNotFound,
				Stage:   StageLoad,
				Message: "Certificate not found",
				Err:     err,
			}
		}
		return nil, digest.Digest{}, &Error{
			Kind:    KindInternal,
			Stage:   StageLoad,
			Message: "Error loading certificate",
			Err:     err,
		}
	}
	if cert.Status != models.StatusPending {
		return nil, digest.Digest{}, &Error{
			Kind:    KindConflict,
			Stage:   StageValidate,
			Message: fmt.Sprintf("Certificate is already %s", cert.Status),
			Err:     database.ErrAlreadyDecided,
		}
	}
	d, err := digest.ParseHex(cert.Digest)
	if err != nil {
		return nil, digest.Digest{}, &Error{
			Kind:    KindInternal,
			Stage:   StageLoad,
			Message: "Invalid certificate hash format",
			Err:     err,
		}
	}
	return cert, d, nil
}

func decisionCall(req *DecisionRequest, d digest.Digest) (contract.Call, error) {
	if req.Decision == models.StatusApproved {
		return contract.ApproveCertificate(req.Validator, d)
	}
	return contract.RejectCertificate(req.Validator, d, req.Reason)
}

// ensureRegistered registers a certificate stored without a registry
// reference. A contract that already holds the certificate counts as
// registered.
func (o *Orchestrator) ensureRegistered(
	ctx context.Context,
	cert *models.Certificate,
	d digest.Digest,
) error {
	if cert.RegistryRef != "" {
		return nil
	}
	_, err := o.register(ctx, cert.ID, cert.OwnerIdentity, d, cert.AnchorTxRef)
	if err != nil && !errors.Is(err, ledger.ErrAlreadyRegistered) {
		e := stageError(
			StageContractRegister,
			fmt.Sprintf(
				"Certificate is not registered in the Smart Contract and registration failed: %s",
				err,
			),
			err,
		)
		if e.Kind == KindLedger {
			e.Kind = KindContract
		}
		return e
	}
	updated, err := o.db.SetRegistryRef(ctx, cert.ID, o.builder.ContractID())
	if err != nil {
		return &Error{
			Kind:    KindInternal,
			Stage:   StagePersist,
			Message: fmt.Sprintf("Error saving certificate: %s", err),
			Err:     err,
		}
	}
	*cert = *updated
	return nil
}

// PrepareDecision builds the unsigned approve or reject invocation for the
// validator to sign
func (o *Orchestrator) PrepareDecision(
	ctx context.Context,
	req DecisionRequest,
) (ret *PreparedDecision, err error) {
	ctx, span := o.startSpan(
		ctx,
		"PrepareDecision",
		attribute.String("certificate", req.CertificateID),
		attribute.String("decision", string(req.Decision)),
	)
	defer func() { endSpan(span, err) }()
	cert, d, err := o.checkDecision(ctx, &req)
	if err != nil {
		return nil, err
	}
	if err := o.ensureRegistered(ctx, cert, d); err != nil {
		return nil, err
	}
	call, err := decisionCall(&req, d)
	if err != nil {
		return nil, stageError(StageDecisionBuild, fmt.Sprintf("Error preparing transaction: %s", err), err)
	}
	env, err := o.builder.BuildInvocation(ctx, req.Validator, call)
	if err != nil {
		msg := fmt.Sprintf("Error preparing transaction: %s", err)
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			msg = "Certificate already processed in the Smart Contract"
		}
		return nil, stageError(StageDecisionBuild, msg, err)
	}
	o.setState(cert.ID, StateAwaitingValidatorSignature)
	return &PreparedDecision{
		Envelope:       env,
		CertificateID:  cert.ID,
		Decision:       req.Decision,
		NeedsSignature: true,
	}, nil
}

// SubmitDecision submits the validator-signed decision and records it. When
// the ledger accepts the decision but the registry update fails, the result
// carries a warning and the certificate as it was before the decision.
func (o *Orchestrator) SubmitDecision(
	ctx context.Context,
	req SubmitDecisionRequest,
) (ret *DecisionResult, err error) {
	ctx, span := o.startSpan(
		ctx,
		"SubmitDecision",
		attribute.String("certificate", req.CertificateID),
		attribute.String("decision", string(req.Decision)),
	)
	result := resultError
	defer func() {
		o.metrics.decisions.WithLabelValues(string(req.Decision), result).Inc()
		endSpan(span, err)
	}()
	if req.SignedTxXDR == "" || req.Validator == "" || req.Decision == "" {
		return nil, validationError("Signed transaction XDR, admin wallet, and status are required")
	}
	cert, d, err := o.checkDecision(ctx, &req.DecisionRequest)
	if err != nil {
		return nil, err
	}
	info, err := o.builder.InspectEnvelope(req.SignedTxXDR)
	if err != nil {
		return nil, &Error{
			Kind:    KindValidation,
			Stage:   StageValidate,
			Message: "Invalid signed transaction",
			Err:     err,
		}
	}
	if info.SourceAccount != req.Validator {
		return nil, validationError("Signed transaction source does not match admin wallet")
	}
	if info.Signatures == 0 {
		return nil, validationError("Transaction is not signed")
	}
	// The envelope must carry the decision being recorded
	expected, err := decisionCall(&req.DecisionRequest, d)
	if err != nil {
		return nil, &Error{
			Kind:    KindValidation,
			Stage:   StageValidate,
			Message: fmt.Sprintf("Invalid decision: %s", err),
			Err:     err,
		}
	}
	if info.Invocation == nil ||
		info.Invocation.ContractID != o.builder.ContractID() ||
		!info.Invocation.Call.Equal(expected) {
		return nil, validationError("Signed transaction does not match the requested decision")
	}

	o.setState(cert.ID, StateSubmitting)
	txHash, err := o.builder.SubmitInvocation(ctx, req.SignedTxXDR)
	if err != nil {
		return nil, stageError(
			StageDecisionSubmit,
			fmt.Sprintf("Error sending transaction: %s", err),
			err,
		)
	}
	o.setState(cert.ID, StateContractUpdated)

	ret = &DecisionResult{
		TxHash:      txHash,
		ExplorerURL: o.ExplorerURL(txHash),
	}
	updated, err := o.db.TransitionStatus(
		ctx,
		cert.ID,
		req.Decision,
		req.Validator,
		req.Reason,
	)
	if err != nil {
		o.logger.Error(
			"decision accepted by the ledger but not recorded",
			"certificate", cert.ID,
			"decision", req.Decision,
			"tx_hash", txHash,
			"error", err,
		)
		result = "registry_error"
		ret.Certificate = cert
		ret.Message = fmt.Sprintf(
			"Certificate %s successfully (transaction sent, but registry update failed)",
			req.Decision,
		)
		ret.Warning = WarningRegistryUpdate
		return ret, nil
	}
	result = resultOK
	if updated.Status == models.StatusApproved {
		o.setState(updated.ID, StatePersistedApproved)
	} else {
		o.setState(updated.ID, StatePersistedRejected)
	}
	o.publish(event.CertificateDecidedEventType, event.CertificateDecidedEvent{
		CertificateID: updated.ID,
		Status:        updated.Status,
		Validator:     updated.ValidatorIdentity,
		DecisionTxRef: txHash,
	})
	o.logger.Info(
		"certificate decided",
		"certificate", updated.ID,
		"status", updated.Status,
		"validator", identity.Short(updated.ValidatorIdentity),
		"tx_hash", txHash,
	)
	ret.Certificate = updated
	ret.Message = fmt.Sprintf("Certificate %s successfully", req.Decision)
	return ret, nil
}
