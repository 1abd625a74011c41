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

// Package stellar implements ledger.Network against a Horizon server and a
// Soroban RPC endpoint.
package stellar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/network"

	"github.com/wrever/certix/ledger"
)

const (
	TestnetHorizonURL = "https://horizon-testnet.stellar.org"
	TestnetRPCURL     = "https://soroban-testnet.stellar.org"
	MainnetHorizonURL = "https://horizon.stellar.org"
	MainnetRPCURL     = "https://mainnet.sorobanrpc.com"
)

// Network names
const (
	NetworkTestnet = "testnet"
	NetworkMainnet = "mainnet"
)

// Passphrase returns the passphrase of a named network
func Passphrase(name string) (string, error) {
	switch name {
	case NetworkTestnet, "":
		return network.TestNetworkPassphrase, nil
	case NetworkMainnet:
		return network.PublicNetworkPassphrase, nil
	default:
		return "", fmt.Errorf("unknown network: %s", name)
	}
}

// Network talks to Horizon for classic transactions and accounts and to
// Soroban RPC for contract invocations
type Network struct {
	logger     *slog.Logger
	httpClient *http.Client
	horizon    *horizonclient.Client
	horizonURL string
	rpcURL     string
	// pollInterval is the delay between status queries while waiting for
	// a contract invocation to be applied
	pollInterval time.Duration
}

var _ ledger.Network = (*Network)(nil)

type NetworkOptionFunc func(*Network)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) NetworkOptionFunc {
	return func(n *Network) {
		n.logger = logger
	}
}

func WithHorizonURL(url string) NetworkOptionFunc {
	return func(n *Network) {
		n.horizonURL = url
	}
}

func WithRPCURL(url string) NetworkOptionFunc {
	return func(n *Network) {
		n.rpcURL = url
	}
}

// WithHTTPClient specifies the HTTP client used for both services
func WithHTTPClient(client *http.Client) NetworkOptionFunc {
	return func(n *Network) {
		n.httpClient = client
	}
}

// WithPollInterval specifies how often a submitted contract invocation is
// checked for inclusion in a ledger
func WithPollInterval(interval time.Duration) NetworkOptionFunc {
	return func(n *Network) {
		n.pollInterval = interval
	}
}

func New(opts ...NetworkOptionFunc) *Network {
	n := &Network{
		horizonURL:   TestnetHorizonURL,
		rpcURL:       TestnetRPCURL,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		n.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if n.pollInterval <= 0 {
		n.pollInterval = DefaultPollInterval
	}
	if n.httpClient == nil {
		n.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	n.horizon = &horizonclient.Client{
		HorizonURL: n.horizonURL,
		HTTP:       n.httpClient,
	}
	return n
}

// withContext runs a blocking Horizon client call, returning early when ctx
// is done. The client API has no context parameter; the HTTP client timeout
// bounds the abandoned request.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := fn()
		ch <- result{val, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.val, r.err
	}
}

func (n *Network) LoadAccount(ctx context.Context, accountID string) (*ledger.Account, error) {
	acct, err := withContext(ctx, func() (*ledger.Account, error) {
		account, err := n.horizon.AccountDetail(
			horizonclient.AccountRequest{AccountID: accountID},
		)
		if err != nil {
			return nil, err
		}
		seq, err := account.GetSequenceNumber()
		if err != nil {
			return nil, err
		}
		return &ledger.Account{ID: account.AccountID, Sequence: seq}, nil
	})
	if err != nil {
		return nil, horizonError(err)
	}
	return acct, nil
}

func (n *Network) SubmitClassic(ctx context.Context, txXDR string) (string, error) {
	hash, err := withContext(ctx, func() (string, error) {
		tx, err := n.horizon.SubmitTransactionXDR(txXDR)
		if err != nil {
			return "", err
		}
		return tx.Hash, nil
	})
	if err != nil {
		return "", submitError(err)
	}
	n.logger.Debug(
		"submitted transaction",
		"component", "ledger",
		"tx_hash", hash,
	)
	return hash, nil
}

func (n *Network) FetchTransaction(ctx context.Context, hash string) (*ledger.Transaction, error) {
	tx, err := withContext(ctx, func() (*ledger.Transaction, error) {
		tx, err := n.horizon.TransactionDetail(hash)
		if err != nil {
			return nil, err
		}
		return &ledger.Transaction{
			Hash:          tx.Hash,
			SourceAccount: tx.Account,
			Memo:          tx.Memo,
			MemoType:      tx.MemoType,
			Ledger:        tx.Ledger,
			Successful:    tx.Successful,
		}, nil
	})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, horizonError(err)
	}
	return tx, nil
}

// horizonError adds the problem detail reported by Horizon to err
func horizonError(err error) error {
	hErr := horizonclient.GetError(err)
	if hErr == nil {
		return err
	}
	if hErr.Problem.Detail != "" {
		return fmt.Errorf("%s: %s: %w", hErr.Problem.Title, hErr.Problem.Detail, err)
	}
	return fmt.Errorf("%s: %w", hErr.Problem.Title, err)
}

func submitError(err error) error {
	ret := &ledger.SubmitError{Err: err, Message: err.Error()}
	hErr := horizonclient.GetError(err)
	if hErr == nil {
		return ret
	}
	ret.Message = hErr.Problem.Title
	if hErr.Problem.Detail != "" {
		ret.Message = hErr.Problem.Detail
	}
	if codes, codesErr := hErr.ResultCodes(); codesErr == nil && codes != nil {
		if codes.TransactionCode != "" {
			ret.Codes = append(ret.Codes, codes.TransactionCode)
		}
		ret.Codes = append(ret.Codes, codes.OperationCodes...)
	}
	return ret
}
