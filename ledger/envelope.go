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
	"errors"
	"fmt"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/wrever/certix/contract"
)

// EnvelopeInfo describes a decoded transaction envelope
type EnvelopeInfo struct {
	Hash          string
	SourceAccount string
	// Memo is the text memo, or empty for any other memo type
	Memo       string
	Operations int
	Signatures int
	Fee        int64
	// Invocation is set for envelopes holding a single contract invocation
	Invocation *InvocationInfo
}

// InvocationInfo is the decoded contract call of an envelope
type InvocationInfo struct {
	ContractID string
	Call       contract.Call
}

// InspectEnvelope decodes a transaction envelope without submitting it
func (b *Builder) InspectEnvelope(txXDR string) (*EnvelopeInfo, error) {
	gtx, err := txnbuild.TransactionFromXDR(txXDR)
	if err != nil {
		return nil, fmt.Errorf("decode transaction envelope: %w", err)
	}
	tx, ok := gtx.Transaction()
	if !ok {
		return nil, errors.New("fee bump transactions are not supported")
	}
	hash, err := tx.HashHex(b.networkPassphrase)
	if err != nil {
		return nil, fmt.Errorf("hash transaction: %w", err)
	}
	ret := &EnvelopeInfo{
		Hash:          hash,
		SourceAccount: tx.SourceAccount().AccountID,
		Operations:    len(tx.Operations()),
		Signatures:    len(tx.Signatures()),
		Fee:           tx.MaxFee(),
	}
	if memo, ok := tx.Memo().(txnbuild.MemoText); ok {
		ret.Memo = string(memo)
	}
	if ops := tx.Operations(); len(ops) == 1 {
		if op, ok := ops[0].(*txnbuild.InvokeHostFunction); ok {
			inv, err := inspectInvocation(op)
			if err != nil {
				return nil, err
			}
			ret.Invocation = inv
		}
	}
	return ret, nil
}

func inspectInvocation(op *txnbuild.InvokeHostFunction) (*InvocationInfo, error) {
	args := op.HostFunction.InvokeContract
	if op.HostFunction.Type != xdr.HostFunctionTypeHostFunctionTypeInvokeContract || args == nil {
		return nil, errors.New("host function is not a contract invocation")
	}
	if args.ContractAddress.ContractId == nil {
		return nil, errors.New("invocation target is not a contract")
	}
	contractID, err := strkey.Encode(strkey.VersionByteContract, args.ContractAddress.ContractId[:])
	if err != nil {
		return nil, fmt.Errorf("encode contract id: %w", err)
	}
	call, err := contract.ParseCall(*args)
	if err != nil {
		return nil, fmt.Errorf("decode contract call: %w", err)
	}
	return &InvocationInfo{ContractID: contractID, Call: call}, nil
}
