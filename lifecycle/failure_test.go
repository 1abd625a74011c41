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

package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wrever/certix/contract"
	"github.com/wrever/certix/database"
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/database/plugin/metadata"
	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/event"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/ledger/ledgertest"
	"github.com/wrever/certix/lifecycle"
	"github.com/wrever/certix/signer"
)

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	valid := lifecycle.UploadRequest{
		Owner:       env.owner.Address(),
		Title:       "Diploma",
		FileName:    "diploma.pdf",
		ContentType: "application/pdf",
		Data:        testPDF(64),
	}
	testDefs := []struct {
		name    string
		modify  func(*lifecycle.UploadRequest)
		message string
	}{
		{"no file", func(r *lifecycle.UploadRequest) { r.Data = nil }, "File is required"},
		{"bad wallet", func(r *lifecycle.UploadRequest) { r.Owner = "GABC" }, "Valid Stellar wallet address is required"},
		{"blank title", func(r *lifecycle.UploadRequest) { r.Title = "  " }, "Title is required"},
		{
			"too large",
			func(r *lifecycle.UploadRequest) { r.Data = testPDF(int(lifecycle.DefaultMaxFileSize) + 1) },
			"File size must be less than 10MB",
		},
		{"wrong type", func(r *lifecycle.UploadRequest) { r.ContentType = "text/plain" }, "File must be PDF, PNG, or JPG"},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			req := valid
			testDef.modify(&req)
			_, err := env.orch.Upload(t.Context(), req)
			lerr := requireKind(t, err, lifecycle.KindValidation)
			assert.Equal(t, testDef.message, lerr.Message)
			assert.Equal(t, lifecycle.StageValidate, lerr.Stage)
		})
	}
	// Content type parameters are ignored
	req := valid
	req.ContentType = "image/png; charset=binary"
	req.FileName = "scan"
	res, err := env.orch.Upload(t.Context(), req)
	require.NoError(t, err)
	assert.Regexp(t, `\.bin$`, res.FileLocation)
}

func TestSignAndRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	res := env.upload(t, testPDF(256))
	valid := env.registerRequest(t, res)
	other := keypair.MustRandom()
	env.net.FundAccount(other.Address())
	otherAnchor, err := env.builder.BuildAnchor(t.Context(), other.Address(), parseDigest(t, res.Digest))
	require.NoError(t, err)
	otherSigned, err := ledgertest.Sign(env.net.Passphrase(), otherAnchor.XDR, other)
	require.NoError(t, err)

	testDefs := []struct {
		name   string
		modify func(*lifecycle.RegisterRequest)
	}{
		{"missing title", func(r *lifecycle.RegisterRequest) { r.Title = "" }},
		{"bad id", func(r *lifecycle.RegisterRequest) { r.CertificateID = "cert-1" }},
		{"bad wallet", func(r *lifecycle.RegisterRequest) { r.Owner = "GABC" }},
		{"short digest", func(r *lifecycle.RegisterRequest) { r.Digest = "abc123" }},
		{"other digest", func(r *lifecycle.RegisterRequest) { r.Digest = digest.Sum([]byte("other")).Hex() }},
		{"garbage envelope", func(r *lifecycle.RegisterRequest) { r.SignedTxXDR = "AAAA" }},
		{"unsigned envelope", func(r *lifecycle.RegisterRequest) { r.SignedTxXDR = res.XDR }},
		{"other source", func(r *lifecycle.RegisterRequest) { r.SignedTxXDR = otherSigned }},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			req := valid
			testDef.modify(&req)
			_, err := env.orch.SignAndRegister(t.Context(), req)
			requireKind(t, err, lifecycle.KindValidation)
		})
	}
	var lengthErr *digest.LengthError
	req := valid
	req.Digest = "abc123"
	_, err = env.orch.SignAndRegister(t.Context(), req)
	require.ErrorAs(t, err, &lengthErr)
	assert.Equal(t, 6, lengthErr.Got)
	// Nothing reached the ledger
	assert.Equal(t, 0, env.net.TransactionCount())
}

func TestRegistrationFailureStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	_, orphanCh := env.bus.Subscribe(event.AnchorOrphanedEventType)
	res := env.upload(t, testPDF(512))
	env.net.FailNext(ledgertest.OpSimulate, errors.New("rpc unavailable"))

	_, err := env.orch.SignAndRegister(t.Context(), env.registerRequest(t, res))
	lerr := requireKind(t, err, lifecycle.KindLedger)
	assert.Equal(t, lifecycle.StageContractRegister, lerr.Stage)
	assert.Contains(t, lerr.Message, "Failed to register certificate in Smart Contract")

	// The anchor made it to the ledger but no certificate exists
	_, ok := env.net.Transaction(res.Hash)
	assert.True(t, ok)
	_, err = env.db.GetCertificate(t.Context(), res.CertificateID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	certs, err := env.db.ListByOwner(t.Context(), env.owner.Address(), nil)
	require.NoError(t, err)
	assert.Empty(t, certs)

	orphan, ok := receive(t, orphanCh).Data.(event.AnchorOrphanedEvent)
	require.True(t, ok)
	assert.Equal(t, res.Hash, orphan.AnchorTxRef)
	assert.InDelta(t, 1, counterSum(t, env, "certix_orphaned_anchors_total"), 0)
}

func TestRegisterSameDocumentTwice(t *testing.T) {
	env := newTestEnv(t)
	data := testPDF(2048)
	env.registered(t, data)

	res := env.upload(t, data)
	_, err := env.orch.SignAndRegister(t.Context(), env.registerRequest(t, res))
	lerr := requireKind(t, err, lifecycle.KindContract)
	assert.Equal(t, "Certificate already registered in the Smart Contract", lerr.Message)
	assert.ErrorIs(t, err, ledger.ErrAlreadyRegistered)
	_, err = env.db.GetCertificate(t.Context(), res.CertificateID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRegisterWithoutSystemSigner(t *testing.T) {
	env := newTestEnv(t, func(cfg *lifecycle.Config) { cfg.Signer = nil })
	res := env.upload(t, testPDF(128))
	_, err := env.orch.SignAndRegister(t.Context(), env.registerRequest(t, res))
	requireKind(t, err, lifecycle.KindSigner)
	assert.ErrorIs(t, err, signer.ErrSignerUnavailable)
}

func TestWrongAdminRejected(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registered(t, testPDF(1024))
	intruder := keypair.MustRandom()
	env.net.FundAccount(intruder.Address())
	req := lifecycle.DecisionRequest{
		CertificateID: reg.CertificateID,
		Decision:      models.StatusApproved,
		Validator:     intruder.Address(),
	}
	_, err := env.orch.PrepareDecision(t.Context(), req)
	lerr := requireKind(t, err, lifecycle.KindAuthorization)
	assert.Equal(t, "Unauthorized: Wallet is not the admin of the Smart Contract", lerr.Message)

	_, err = env.orch.SubmitDecision(t.Context(), lifecycle.SubmitDecisionRequest{
		DecisionRequest: req,
		SignedTxXDR:     "AAAA",
	})
	requireKind(t, err, lifecycle.KindAuthorization)

	cert, err := env.db.GetCertificate(t.Context(), reg.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, cert.Status)
	assert.Empty(t, cert.ValidatorIdentity)
	assert.Nil(t, cert.DecidedAt)
}

func TestDecisionValidation(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registered(t, testPDF(1024))
	_, err := env.orch.PrepareDecision(t.Context(), lifecycle.DecisionRequest{
		CertificateID: reg.CertificateID,
		Decision:      models.StatusPending,
		Validator:     env.admin.Address(),
	})
	requireKind(t, err, lifecycle.KindValidation)
	_, err = env.orch.PrepareDecision(t.Context(), lifecycle.DecisionRequest{
		CertificateID: reg.CertificateID,
		Decision:      models.StatusApproved,
		Validator:     "not-a-wallet",
	})
	requireKind(t, err, lifecycle.KindValidation)
	_, err = env.orch.PrepareDecision(t.Context(), lifecycle.DecisionRequest{
		CertificateID: uuid.NewString(),
		Decision:      models.StatusApproved,
		Validator:     env.admin.Address(),
	})
	lerr := requireKind(t, err, lifecycle.KindNotFound)
	assert.Equal(t, "Certificate not found", lerr.Message)
	_, err = env.orch.SubmitDecision(t.Context(), lifecycle.SubmitDecisionRequest{
		DecisionRequest: lifecycle.DecisionRequest{CertificateID: reg.CertificateID},
	})
	requireKind(t, err, lifecycle.KindValidation)
}

func TestSubmitDecisionLedgerFailure(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registered(t, testPDF(1024))
	req := lifecycle.DecisionRequest{
		CertificateID: reg.CertificateID,
		Decision:      models.StatusApproved,
		Validator:     env.admin.Address(),
	}
	prepared, err := env.orch.PrepareDecision(t.Context(), req)
	require.NoError(t, err)
	signed, err := ledgertest.Sign(env.net.Passphrase(), prepared.XDR, env.admin)
	require.NoError(t, err)
	env.net.FailNext(ledgertest.OpSubmitContract, &ledger.SubmitError{
		Message: "transaction failed",
		Codes:   []string{"tx_insufficient_fee"},
	})
	_, err = env.orch.SubmitDecision(t.Context(), lifecycle.SubmitDecisionRequest{
		DecisionRequest: req,
		SignedTxXDR:     signed,
	})
	lerr := requireKind(t, err, lifecycle.KindLedger)
	assert.Equal(t, lifecycle.StageDecisionSubmit, lerr.Stage)
	cert, err := env.db.GetCertificate(t.Context(), reg.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, cert.Status)

	// The ledger never saw it, so the same envelope can be submitted again
	res, err := env.orch.SubmitDecision(t.Context(), lifecycle.SubmitDecisionRequest{
		DecisionRequest: req,
		SignedTxXDR:     signed,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, res.Certificate.Status)
}

func TestPrepareDecisionRegistersLazily(t *testing.T) {
	env := newTestEnv(t)
	data := testPDF(4096)
	d := digest.Sum(data)
	res := env.upload(t, data)
	signed, err := ledgertest.Sign(env.net.Passphrase(), res.XDR, env.owner)
	require.NoError(t, err)
	anchorTxRef, err := env.builder.SubmitAnchor(t.Context(), signed)
	require.NoError(t, err)
	// A certificate stored before contract registration existed
	require.NoError(t, env.db.PutCertificate(t.Context(), &models.Certificate{
		ID:            res.CertificateID,
		OwnerIdentity: env.owner.Address(),
		Title:         "Diploma",
		Digest:        d.Hex(),
		AnchorTxRef:   anchorTxRef,
		FileLocation:  res.FileLocation,
	}))
	_, ok := env.net.Record(d)
	require.False(t, ok)

	decided, err := env.decide(t, res.CertificateID, models.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, env.net.ContractID(), decided.Certificate.RegistryRef)
	record, ok := env.net.Record(d)
	require.True(t, ok)
	assert.Equal(t, anchorTxRef, record.TxHash)
}

// failingStore refuses status updates
type failingStore struct {
	metadata.MetadataStore
}

func (f *failingStore) UpdateCertificateStatus(
	context.Context,
	*models.Certificate,
	models.Status,
	*gorm.DB,
) error {
	return errors.New("disk full")
}

func TestRegistryFailureAfterLedgerSuccess(t *testing.T) {
	base, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	db, err := database.NewWithStores(nil, base.Blob(), &failingStore{base.Metadata()})
	require.NoError(t, err)
	env := newTestEnv(t, func(cfg *lifecycle.Config) { cfg.Database = db })
	env.db = db
	reg := env.registered(t, testPDF(1024))

	res, err := env.decide(t, reg.CertificateID, models.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WarningRegistryUpdate, res.Warning)
	assert.NotEmpty(t, res.TxHash)
	assert.Equal(t, models.StatusPending, res.Certificate.Status)
	cert, err := db.GetCertificate(t.Context(), reg.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, cert.Status)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := lifecycle.New(lifecycle.Config{})
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, lifecycle.KindInternal, lifecycle.KindOf(errors.New("x")))
	assert.Equal(
		t,
		lifecycle.KindConflict,
		lifecycle.KindOf(&lifecycle.Error{Kind: lifecycle.KindConflict}),
	)
	assert.Equal(t, "not_found", lifecycle.KindNotFound.String())
}

func TestSubmitDecisionMustMatchEnvelope(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registered(t, testPDF(1024))
	other := env.registered(t, testPDF(2048))
	approve := lifecycle.DecisionRequest{
		CertificateID: reg.CertificateID,
		Decision:      models.StatusApproved,
		Validator:     env.admin.Address(),
	}
	prepared, err := env.orch.PrepareDecision(t.Context(), approve)
	require.NoError(t, err)
	signed, err := ledgertest.Sign(env.net.Passphrase(), prepared.XDR, env.admin)
	require.NoError(t, err)

	mismatched := []lifecycle.DecisionRequest{
		// signed approval submitted as a rejection
		{
			CertificateID: reg.CertificateID,
			Decision:      models.StatusRejected,
			Validator:     env.admin.Address(),
			Reason:        "forged",
		},
		// signed approval submitted for another certificate
		{
			CertificateID: other.CertificateID,
			Decision:      models.StatusApproved,
			Validator:     env.admin.Address(),
		},
	}
	for _, req := range mismatched {
		_, err := env.orch.SubmitDecision(t.Context(), lifecycle.SubmitDecisionRequest{
			DecisionRequest: req,
			SignedTxXDR:     signed,
		})
		lerr := requireKind(t, err, lifecycle.KindValidation)
		assert.Equal(t, "Signed transaction does not match the requested decision", lerr.Message)
	}
	for _, id := range []string{reg.CertificateID, other.CertificateID} {
		cert, err := env.db.GetCertificate(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, cert.Status)
		record, ok := env.net.Record(parseDigest(t, cert.Digest))
		require.True(t, ok)
		assert.Equal(t, contract.StatusPending, record.Status)
	}

	res, err := env.orch.SubmitDecision(t.Context(), lifecycle.SubmitDecisionRequest{
		DecisionRequest: approve,
		SignedTxXDR:     signed,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, res.Certificate.Status)
}
