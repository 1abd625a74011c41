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
	"fmt"
	"time"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/wrever/certix/contract"
)

// Invocation is a contract invocation that is simulated before it is
// prepared for signing. The signable envelope is only available from
// Prepare.
type Invocation struct {
	builder  *Builder
	envelope *Envelope
	sim      *SimulationResult
	call     contract.Call
	args     xdr.InvokeContractArgs
	account  Account
	fee      int64
	timeout  time.Duration
}

// Call returns the contract call being invoked
func (i *Invocation) Call() contract.Call {
	return i.call
}

func (i *Invocation) operation(
	auth []xdr.SorobanAuthorizationEntry,
	ext xdr.TransactionExt,
) *txnbuild.InvokeHostFunction {
	args := i.args
	return &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type:           xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &args,
		},
		Auth: auth,
		Ext:  ext,
	}
}

// Simulate dry-runs the invocation. Contract failures are returned as a
// *SimulationError.
func (i *Invocation) Simulate(ctx context.Context) (*SimulationResult, error) {
	var sim *SimulationResult
	err := i.builder.call(ctx, "simulate", func(ctx context.Context) error {
		var err error
		sim, err = i.builder.network.Simulate(ctx, i.envelope.XDR)
		if err != nil {
			return err
		}
		if sim.Error != "" {
			return classifySimulation(sim.Error)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", i.call.Function, err)
	}
	i.sim = sim
	return sim, nil
}

// Prepare rebuilds the invocation with the simulated authorization entries
// and resource data. The fee of the returned envelope is the base fee plus
// the simulated minimum resource fee.
func (i *Invocation) Prepare() (*Envelope, error) {
	if i.sim == nil {
		return nil, ErrNotSimulated
	}
	data := i.sim.TransactionData
	data.ResourceFee = xdr.Int64(i.sim.MinResourceFee)
	env, err := i.builder.buildTransaction(
		i.account,
		i.operation(
			i.sim.Auth,
			xdr.TransactionExt{V: 1, SorobanData: &data},
		),
		nil,
		// txnbuild does not add the resource fee to the fee of the
		// envelope, so the single operation carries both
		i.fee+i.sim.MinResourceFee,
		i.timeout,
	)
	if err != nil {
		return nil, err
	}
	i.builder.logger.Debug(
		"prepared contract invocation",
		"component", "ledger",
		"call", i.call.String(),
		"source", i.account.ID,
		"resource_fee", i.sim.MinResourceFee,
		"tx_hash", env.Hash,
	)
	return env, nil
}
