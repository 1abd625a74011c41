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

// Package ledger builds, simulates and submits the transactions that anchor
// certificate digests on the ledger and drive the registry contract.
package ledger

import (
	"context"

	"github.com/stellar/go/xdr"
)

// Account is the sequence state of a ledger account
type Account struct {
	ID       string
	Sequence int64
}

// SimulationResult is the outcome of dry-running a contract invocation.
// Error holds the host error payload of a failed simulation.
type SimulationResult struct {
	TransactionData xdr.SorobanTransactionData
	Auth            []xdr.SorobanAuthorizationEntry
	ReturnValue     *xdr.ScVal
	Error           string
	MinResourceFee  int64
	LatestLedger    uint32
}

// Transaction is a transaction as recorded by the ledger
type Transaction struct {
	Hash          string
	SourceAccount string
	Memo          string
	MemoType      string
	Ledger        int32
	Successful    bool
}

// Network is the set of ledger services the builder talks to. Every
// method blocks until the service answers or ctx is done.
type Network interface {
	LoadAccount(ctx context.Context, accountID string) (*Account, error)
	// Simulate dry-runs a base64 transaction envelope against the contract
	// runtime
	Simulate(ctx context.Context, txXDR string) (*SimulationResult, error)
	// SubmitClassic submits a signed envelope through the classic
	// transaction endpoint and returns its hash
	SubmitClassic(ctx context.Context, txXDR string) (string, error)
	// SubmitContract submits a signed contract invocation and returns its
	// hash once the ledger has applied it
	SubmitContract(ctx context.Context, txXDR string) (string, error)
	FetchTransaction(ctx context.Context, hash string) (*Transaction, error)
}

// Envelope is an unsigned or signed transaction envelope. Hash is the hash
// of the transaction, which does not change when signatures are added.
type Envelope struct {
	XDR  string `json:"txXdr"`
	Hash string `json:"txHash"`
}
