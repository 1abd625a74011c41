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

// Package verifier checks stored certificates against the ledger and keeps
// the registry's derived fields in step with the registry contract.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wrever/certix/contract"
	"github.com/wrever/certix/database"
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/event"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/ledger/stellar"
)

const (
	DefaultWorkers   = 4
	DefaultCacheSize = 10000
)

// Config holds the collaborators of a Verifier. Source is the account
// contract reads are simulated from, normally the system identity.
type Config struct {
	Builder   *ledger.Builder
	Database  *database.Database
	EventBus  *event.EventBus
	Logger    *slog.Logger
	Source    string
	Network   string
	Workers   int
	CacheSize int64
}

type Verifier struct {
	logger   *slog.Logger
	builder  *ledger.Builder
	db       *database.Database
	eventBus *event.EventBus
	records  *ristretto.Cache[string, contract.Record]
	reads    singleflight.Group
	source   string
	network  string
	workers  int
}

// Result is the outcome of verifying one certificate
type Result struct {
	Certificate *models.Certificate `json:"certificate"`
	ExplorerURL string              `json:"stellarExplorerUrl"`
	IsValid     bool                `json:"isValid"`
	Approved    bool                `json:"isApproved"`
}

// ContractStatus is the registry contract's view of a certificate
type ContractStatus struct {
	Record         *contract.Record `json:"contractData,omitempty"`
	ContractID     string           `json:"contractId,omitempty"`
	ContractStatus string           `json:"contractStatus,omitempty"`
	Message        string           `json:"message,omitempty"`
	InContract     bool             `json:"inContract"`
	IsApproved     bool             `json:"isApproved"`
}

func New(cfg Config) (*Verifier, error) {
	if cfg.Builder == nil || cfg.Database == nil {
		return nil, errors.New("verifier: builder and database are required")
	}
	if err := identity.Validate(cfg.Source); err != nil {
		return nil, fmt.Errorf("verifier: read source: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	records, err := ristretto.NewCache(&ristretto.Config[string, contract.Record]{
		NumCounters: cfg.CacheSize * 10,
		MaxCost:     cfg.CacheSize,
		BufferItems: 64,
		// Each record costs 1, so MaxCost is a record count
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verifier: create cache: %w", err)
	}
	v := &Verifier{
		logger:   cfg.Logger,
		builder:  cfg.Builder,
		db:       cfg.Database,
		eventBus: cfg.EventBus,
		records:  records,
		source:   cfg.Source,
		network:  cfg.Network,
		workers:  cfg.Workers,
	}
	if v.logger == nil {
		v.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	v.logger = v.logger.With("component", "verifier")
	return v, nil
}

// Close releases the contract record cache
func (v *Verifier) Close() {
	v.records.Close()
}

// Verify checks that a certificate's anchor transaction carries its digest
// and reads its approval from the contract. A matching certificate is
// marked verified.
func (v *Verifier) Verify(ctx context.Context, id string) (*Result, error) {
	cert, err := v.db.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := digest.ParseHex(cert.Digest)
	if err != nil {
		return nil, fmt.Errorf("certificate %s: %w", id, err)
	}
	ret := &Result{
		Certificate: cert,
		ExplorerURL: stellar.ExplorerURL(v.network, cert.AnchorTxRef),
		Approved:    cert.Status == models.StatusApproved,
	}
	tx, err := v.builder.FetchTransaction(ctx, cert.AnchorTxRef)
	switch {
	case errors.Is(err, ledger.ErrTransactionNotFound):
		v.logger.Warn(
			"anchor transaction not found",
			"certificate", id,
			"tx_hash", cert.AnchorTxRef,
		)
	case err != nil:
		return nil, err
	default:
		ret.IsValid = tx.Successful && tx.Memo == d.MemoText()
	}
	if cert.RegistryRef != "" {
		sv, err := v.builder.Read(ctx, v.source, contract.IsApproved(d))
		if err != nil {
			v.logger.Warn(
				"failed to read approval from contract",
				"certificate", id,
				"error", err,
			)
		} else {
			ret.Approved = contract.DecodeBool(sv)
		}
	}
	if ret.IsValid && !cert.Verified {
		if err := v.db.MarkVerified(ctx, id, true); err != nil {
			v.logger.Error(
				"failed to mark certificate verified",
				"certificate", id,
				"error", err,
			)
		} else {
			now := time.Now().UTC()
			cert.Verified = true
			cert.VerifiedAt = &now
		}
	}
	if v.eventBus != nil {
		v.eventBus.PublishAsync(event.NewEvent(
			event.CertificateVerifiedEventType,
			event.CertificateVerifiedEvent{
				CertificateID: id,
				Valid:         ret.IsValid,
				Approved:      ret.Approved,
			},
		))
	}
	return ret, nil
}

// ContractStatus returns the contract's record of a certificate
func (v *Verifier) ContractStatus(ctx context.Context, id string) (*ContractStatus, error) {
	cert, err := v.db.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert.RegistryRef == "" {
		return &ContractStatus{Message: "Certificate not registered in Smart Contract"}, nil
	}
	d, err := digest.ParseHex(cert.Digest)
	if err != nil {
		return nil, fmt.Errorf("certificate %s: %w", id, err)
	}
	record, err := v.contractRecord(ctx, d)
	if err != nil {
		return nil, err
	}
	return &ContractStatus{
		Record:         &record,
		ContractID:     cert.RegistryRef,
		ContractStatus: record.Status.String(),
		InContract:     true,
		IsApproved:     record.Status == contract.StatusApproved,
	}, nil
}

// contractRecord reads a certificate from the contract. Terminal records
// never change and are served from the cache.
func (v *Verifier) contractRecord(ctx context.Context, d digest.Digest) (contract.Record, error) {
	key := d.Hex()
	if record, ok := v.records.Get(key); ok {
		return record, nil
	}
	res, err, _ := v.reads.Do(key, func() (any, error) {
		sv, err := v.builder.Read(ctx, v.source, contract.GetCertificate(d))
		if err != nil {
			return nil, err
		}
		record := contract.DecodeRecord(sv)
		if record.Status.Terminal() {
			v.records.Set(key, record, 1)
			v.records.Wait()
		}
		return record, nil
	})
	if err != nil {
		return contract.Record{}, fmt.Errorf("read contract: %w", err)
	}
	return res.(contract.Record), nil
}
