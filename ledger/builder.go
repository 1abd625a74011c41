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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/wrever/certix/contract"
	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/identity"
)

const (
	DefaultAnchorFee       = 100
	DefaultContractFee     = 10000
	DefaultAnchorTimeout   = 30 * time.Second
	DefaultContractTimeout = 300 * time.Second
	DefaultCallTimeout     = 30 * time.Second

	// AnchorAmount is the native amount of the anchoring self-payment
	AnchorAmount = "0.00001"
)

// Builder creates the transactions of the certificate lifecycle and sends
// them to the network
type Builder struct {
	network           Network
	logger            *slog.Logger
	promRegistry      prometheus.Registerer
	metrics           builderMetrics
	networkPassphrase string
	contractID        string
	anchorFee         int64
	contractFee       int64
	anchorTimeout     time.Duration
	contractTimeout   time.Duration
	callTimeout       time.Duration
}

func NewBuilder(net Network, opts ...BuilderOptionFunc) (*Builder, error) {
	if net == nil {
		return nil, errors.New("ledger network is required")
	}
	b := &Builder{
		network:           net,
		networkPassphrase: network.TestNetworkPassphrase,
		anchorFee:         DefaultAnchorFee,
		contractFee:       DefaultContractFee,
		anchorTimeout:     DefaultAnchorTimeout,
		contractTimeout:   DefaultContractTimeout,
		callTimeout:       DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		b.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if b.promRegistry != nil {
		b.metrics.init(b.promRegistry)
	}
	if b.anchorFee < txnbuild.MinBaseFee || b.contractFee < txnbuild.MinBaseFee {
		return nil, fmt.Errorf("base fee must be at least %d stroops", txnbuild.MinBaseFee)
	}
	return b, nil
}

// NetworkPassphrase returns the passphrase transactions are hashed with
func (b *Builder) NetworkPassphrase() string {
	return b.networkPassphrase
}

// ContractID returns the registry contract id
func (b *Builder) ContractID() string {
	return b.contractID
}

// call runs fn with the call timeout applied and records its outcome
func (b *Builder) call(
	ctx context.Context,
	op string,
	fn func(context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	b.metrics.observe(op, time.Since(start), err)
	if err != nil {
		b.logger.Debug(
			"ledger call failed",
			"component", "ledger",
			"op", op,
			"error", err,
		)
	}
	return err
}

func (b *Builder) loadAccount(ctx context.Context, accountID string) (*Account, error) {
	if err := identity.Validate(accountID); err != nil {
		return nil, err
	}
	var account *Account
	err := b.call(ctx, "load_account", func(ctx context.Context) error {
		var err error
		account, err = b.network.LoadAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return account, nil
}

func (b *Builder) buildTransaction(
	account Account,
	op txnbuild.Operation,
	memo txnbuild.Memo,
	fee int64,
	timeout time.Duration,
) (*Envelope, error) {
	// Each build starts from the loaded sequence so rebuilding a transaction
	// does not advance it twice
	source := txnbuild.NewSimpleAccount(account.ID, account.Sequence)
	tx, err := txnbuild.NewTransaction(
		txnbuild.TransactionParams{
			SourceAccount:        &source,
			IncrementSequenceNum: true,
			Operations:           []txnbuild.Operation{op},
			BaseFee:              fee,
			Memo:                 memo,
			Preconditions: txnbuild.Preconditions{
				TimeBounds: txnbuild.NewTimeout(int64(timeout / time.Second)),
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	txXDR, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	hash, err := tx.HashHex(b.networkPassphrase)
	if err != nil {
		return nil, fmt.Errorf("hash transaction: %w", err)
	}
	return &Envelope{XDR: txXDR, Hash: hash}, nil
}

// BuildAnchor builds the unsigned self-payment that embeds the digest prefix
// in its memo. The envelope must be signed by source.
func (b *Builder) BuildAnchor(
	ctx context.Context,
	source string,
	d digest.Digest,
) (*Envelope, error) {
	account, err := b.loadAccount(ctx, source)
	if err != nil {
		return nil, err
	}
	env, err := b.buildTransaction(
		*account,
		&txnbuild.Payment{
			Destination: source,
			Amount:      AnchorAmount,
			Asset:       txnbuild.NativeAsset{},
		},
		txnbuild.MemoText(d.MemoText()),
		b.anchorFee,
		b.anchorTimeout,
	)
	if err != nil {
		return nil, err
	}
	b.logger.Debug(
		"built anchor transaction",
		"component", "ledger",
		"source", source,
		"digest", d.Hex(),
		"tx_hash", env.Hash,
	)
	return env, nil
}

// NewInvocation builds an unsimulated invocation of call on the registry
// contract with source as the transaction source account
func (b *Builder) NewInvocation(
	ctx context.Context,
	source string,
	call contract.Call,
) (*Invocation, error) {
	return b.newInvocation(ctx, source, call, b.contractFee, b.contractTimeout)
}

func (b *Builder) newInvocation(
	ctx context.Context,
	source string,
	call contract.Call,
	fee int64,
	timeout time.Duration,
) (*Invocation, error) {
	if b.contractID == "" {
		return nil, ErrNoContract
	}
	args, err := call.InvokeArgs(b.contractID)
	if err != nil {
		return nil, err
	}
	account, err := b.loadAccount(ctx, source)
	if err != nil {
		return nil, err
	}
	inv := &Invocation{
		builder: b,
		account: *account,
		call:    call,
		args:    args,
		fee:     fee,
		timeout: timeout,
	}
	inv.envelope, err = b.buildTransaction(
		inv.account,
		inv.operation(nil, xdr.TransactionExt{}),
		nil,
		fee,
		timeout,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// BuildInvocation builds, simulates and prepares an invocation, returning
// the envelope to be signed by source
func (b *Builder) BuildInvocation(
	ctx context.Context,
	source string,
	call contract.Call,
) (*Envelope, error) {
	inv, err := b.NewInvocation(ctx, source, call)
	if err != nil {
		return nil, err
	}
	if _, err := inv.Simulate(ctx); err != nil {
		return nil, err
	}
	return inv.Prepare()
}

// Read simulates a read-only entry point and returns its result
func (b *Builder) Read(
	ctx context.Context,
	source string,
	call contract.Call,
) (xdr.ScVal, error) {
	inv, err := b.newInvocation(ctx, source, call, b.anchorFee, b.anchorTimeout)
	if err != nil {
		return xdr.ScVal{}, err
	}
	sim, err := inv.Simulate(ctx)
	if err != nil {
		return xdr.ScVal{}, err
	}
	if sim.ReturnValue == nil {
		return xdr.ScVal{}, ErrNoResult
	}
	return *sim.ReturnValue, nil
}

// SubmitAnchor submits a signed anchoring transaction and returns its hash
func (b *Builder) SubmitAnchor(ctx context.Context, signedXDR string) (string, error) {
	var hash string
	err := b.call(ctx, "submit_classic", func(ctx context.Context) error {
		var err error
		hash, err = b.network.SubmitClassic(ctx, signedXDR)
		return err
	})
	if err != nil {
		return "", asSubmitError(err)
	}
	return hash, nil
}

// SubmitInvocation submits a signed contract invocation and returns its hash
func (b *Builder) SubmitInvocation(ctx context.Context, signedXDR string) (string, error) {
	var hash string
	err := b.call(ctx, "submit_contract", func(ctx context.Context) error {
		var err error
		hash, err = b.network.SubmitContract(ctx, signedXDR)
		return err
	})
	if err != nil {
		return "", asSubmitError(err)
	}
	return hash, nil
}

// FetchTransaction returns a transaction recorded by the ledger
func (b *Builder) FetchTransaction(ctx context.Context, hash string) (*Transaction, error) {
	var tx *Transaction
	err := b.call(ctx, "fetch_transaction", func(ctx context.Context) error {
		var err error
		tx, err = b.network.FetchTransaction(ctx, hash)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", hash, err)
	}
	return tx, nil
}
