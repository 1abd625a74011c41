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

package verifier

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/wrever/certix/contract"
	"github.com/wrever/certix/database"
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/digest"
)

// contractStatus maps a terminal contract status to the registry status
func contractStatus(s contract.Status) models.Status {
	switch s {
	case contract.StatusApproved:
		return models.StatusApproved
	case contract.StatusRejected:
		return models.StatusRejected
	default:
		return models.StatusPending
	}
}

// Reconcile brings the given certificates in line with the registry
// contract and returns the corrected copies in the same order. Pending
// certificates the contract has decided take the contract's decision, and
// the verified flag is set exactly when the contract approved the
// certificate. Certificates that cannot be read are returned unchanged.
func (v *Verifier) Reconcile(ctx context.Context, certs []models.Certificate) []models.Certificate {
	ret := make([]models.Certificate, len(certs))
	copy(ret, certs)
	var g errgroup.Group
	g.SetLimit(v.workers)
	for i := range ret {
		if ret[i].RegistryRef == "" {
			continue
		}
		g.Go(func() error {
			v.reconcileOne(ctx, &ret[i])
			return nil
		})
	}
	_ = g.Wait()
	return ret
}

func (v *Verifier) reconcileOne(ctx context.Context, cert *models.Certificate) {
	if ctx.Err() != nil {
		return
	}
	d, err := digest.ParseHex(cert.Digest)
	if err != nil {
		v.logger.Warn("skipping certificate with invalid digest", "certificate", cert.ID, "error", err)
		return
	}
	record, err := v.contractRecord(ctx, d)
	if err != nil {
		v.logger.Debug("failed to read certificate from contract", "certificate", cert.ID, "error", err)
		return
	}
	if cert.Status == models.StatusPending && record.Status.Terminal() {
		updated, err := v.db.TransitionStatus(
			ctx,
			cert.ID,
			contractStatus(record.Status),
			record.Admin,
			record.RejectionReason,
		)
		switch {
		case err == nil:
			*cert = *updated
			v.logger.Info(
				"reconciled certificate status from contract",
				"certificate", cert.ID,
				"status", cert.Status,
			)
		case errors.Is(err, database.ErrAlreadyDecided):
			// Decided concurrently, pick up the stored decision
			if stored, err := v.db.GetCertificate(ctx, cert.ID); err == nil {
				*cert = *stored
			}
		default:
			v.logger.Warn("failed to reconcile certificate status", "certificate", cert.ID, "error", err)
			return
		}
	}
	approved := record.Status == contract.StatusApproved
	if cert.Verified == approved {
		return
	}
	if err := v.db.MarkVerified(ctx, cert.ID, approved); err != nil {
		v.logger.Warn("failed to reconcile verified flag", "certificate", cert.ID, "error", err)
		return
	}
	if stored, err := v.db.GetCertificate(ctx, cert.ID); err == nil {
		*cert = *stored
		return
	}
	cert.Verified = approved
}
