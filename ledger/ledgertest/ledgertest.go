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

// Package ledgertest provides an in-memory ledger network with an emulated
// certificate registry contract for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/wrever/certix/contract"
	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/ledger"
)

// Operations that can be made to fail with FailNext
const (
	OpLoadAccount      = "load_account"
	OpSimulate         = "simulate"
	OpSubmitClassic    = "submit_classic"
	OpSubmitContract   = "submit_contract"
	OpFetchTransaction = "fetch_transaction"
)

var _ ledger.Network = (*Network)(nil)

// DefaultResourceFee is the minimum resource fee reported by simulations
const DefaultResourceFee = 54321

var ErrAccountNotFound = errors.New("account not found")

// Network is an in-memory ledger.Network. Submitted transactions must carry
// valid signatures of their source account and the next sequence number.
type Network struct {
	failures     map[string]error
	accounts     map[string]int64
	transactions map[string]*ledger.Transaction
	records      map[digest.Digest]contract.Record
	passphrase   string
	contractID   string
	admin        string
	resourceFee  int64
	simulations  int
	mu           sync.Mutex
}

// New returns a network hosting a registry contract initialized with admin.
// The admin account is funded.
func New(contractID string, admin string) *Network {
	n := &Network{
		failures:     make(map[string]error),
		accounts:     make(map[string]int64),
		transactions: make(map[string]*ledger.Transaction),
		records:      make(map[digest.Digest]contract.Record),
		passphrase:   network.TestNetworkPassphrase,
		contractID:   contractID,
		admin:        admin,
		resourceFee:  DefaultResourceFee,
	}
	n.FundAccount(admin)
	return n
}

// Passphrase returns the network passphrase transactions are signed with
func (n *Network) Passphrase() string {
	return n.passphrase
}

// ContractID returns the id of the emulated registry contract
func (n *Network) ContractID() string {
	return n.contractID
}

// FundAccount creates an account with a fresh sequence number
func (n *Network) FundAccount(accountID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.accounts[accountID]; !ok {
		n.accounts[accountID] = 1 << 32
	}
}

// FailNext makes the next call of op return err
func (n *Network) FailNext(op string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[op] = err
}

func (n *Network) injected(op string) error {
	err, ok := n.failures[op]
	if ok {
		delete(n.failures, op)
	}
	return err
}

// Record returns the contract's copy of a certificate
func (n *Network) Record(d digest.Digest) (contract.Record, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.records[d]
	return r, ok
}

// SetRecord replaces the contract's copy of a certificate
func (n *Network) SetRecord(d digest.Digest, r contract.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records[d] = r
}

// Transaction returns a submitted transaction by hash
func (n *Network) Transaction(hash string) (*ledger.Transaction, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx, ok := n.transactions[hash]
	return tx, ok
}

// TransactionCount returns the number of accepted transactions
func (n *Network) TransactionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transactions)
}

// Simulations returns the number of simulations run
func (n *Network) Simulations() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.simulations
}

func (n *Network) LoadAccount(ctx context.Context, accountID string) (*ledger.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected(OpLoadAccount); err != nil {
		return nil, err
	}
	seq, ok := n.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return &ledger.Account{ID: accountID, Sequence: seq}, nil
}

func (n *Network) Simulate(ctx context.Context, txXDR string) (*ledger.SimulationResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected(OpSimulate); err != nil {
		return nil, err
	}
	n.simulations++
	tx, err := decode(txXDR)
	if err != nil {
		return nil, err
	}
	args, err := n.invokeArgs(tx)
	if err != nil {
		return &ledger.SimulationResult{Error: err.Error()}, nil
	}
	call, err := contract.ParseCall(args)
	if err != nil {
		return &ledger.SimulationResult{Error: hostError(err.Error())}, nil
	}
	// Authorization is granted by the auth entries, checked on submit
	ret, hostErr := n.execute(call, "", false)
	if hostErr != "" {
		return &ledger.SimulationResult{Error: hostErr}, nil
	}
	return &ledger.SimulationResult{
		Auth:           authEntries(call, args),
		ReturnValue:    ret,
		MinResourceFee: n.resourceFee,
	}, nil
}

func (n *Network) SubmitClassic(ctx context.Context, txXDR string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected(OpSubmitClassic); err != nil {
		return "", err
	}
	tx, hash, err := n.accept(txXDR)
	if err != nil {
		return "", err
	}
	record := &ledger.Transaction{
		Hash:          hash,
		SourceAccount: tx.SourceAccount().AccountID,
		Ledger:        int32(len(n.transactions) + 1),
		Successful:    true,
		MemoType:      "none",
	}
	if memo, ok := tx.Memo().(txnbuild.MemoText); ok {
		record.Memo = string(memo)
		record.MemoType = "text"
	}
	n.transactions[hash] = record
	return hash, nil
}

func (n *Network) SubmitContract(ctx context.Context, txXDR string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected(OpSubmitContract); err != nil {
		return "", err
	}
	tx, err := decode(txXDR)
	if err != nil {
		return "", err
	}
	args, err := n.invokeArgs(tx)
	if err != nil {
		return "", &ledger.SubmitError{Message: err.Error(), Codes: []string{"tx_failed"}}
	}
	env := tx.ToXDR()
	if env.V1 == nil || env.V1.Tx.Ext.SorobanData == nil {
		return "", &ledger.SubmitError{
			Message: "transaction has no resource data",
			Codes:   []string{"tx_soroban_invalid"},
		}
	}
	// The fee must cover the declared resource fee plus the inclusion fee
	resourceFee := int64(env.V1.Tx.Ext.SorobanData.ResourceFee)
	if tx.MaxFee() < resourceFee+txnbuild.MinBaseFee {
		return "", &ledger.SubmitError{
			Message: fmt.Sprintf(
				"fee %d does not cover resource fee %d",
				tx.MaxFee(),
				resourceFee,
			),
			Codes: []string{"tx_insufficient_fee"},
		}
	}
	call, err := contract.ParseCall(args)
	if err != nil {
		return "", &ledger.SubmitError{Message: err.Error(), Codes: []string{"tx_failed"}}
	}
	// Verify before executing so a rejected transaction changes nothing
	source := tx.SourceAccount().AccountID
	if _, _, err := n.verify(tx); err != nil {
		return "", err
	}
	if _, hostErr := n.execute(call, source, false); hostErr != "" {
		return "", &ledger.SubmitError{Message: hostErr, Codes: []string{"tx_failed"}}
	}
	_, hash, err := n.accept(txXDR)
	if err != nil {
		return "", err
	}
	n.execute(call, source, true)
	n.transactions[hash] = &ledger.Transaction{
		Hash:          hash,
		SourceAccount: source,
		Ledger:        int32(len(n.transactions) + 1),
		Successful:    true,
		MemoType:      "none",
	}
	return hash, nil
}

func (n *Network) FetchTransaction(ctx context.Context, hash string) (*ledger.Transaction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected(OpFetchTransaction); err != nil {
		return nil, err
	}
	tx, ok := n.transactions[hash]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	ret := *tx
	return &ret, nil
}

func decode(txXDR string) (*txnbuild.Transaction, error) {
	gtx, err := txnbuild.TransactionFromXDR(txXDR)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	tx, ok := gtx.Transaction()
	if !ok {
		return nil, errors.New("fee bump transactions are not supported")
	}
	return tx, nil
}

// verify checks signatures and sequence number of a submitted transaction
func (n *Network) verify(tx *txnbuild.Transaction) (string, int64, error) {
	source := tx.SourceAccount().AccountID
	seq, ok := n.accounts[source]
	if !ok {
		return "", 0, &ledger.SubmitError{Message: "source account not found", Codes: []string{"tx_no_source_account"}}
	}
	if tx.SequenceNumber() != seq+1 {
		return "", 0, &ledger.SubmitError{Message: "bad sequence number", Codes: []string{"tx_bad_seq"}}
	}
	hash, err := tx.Hash(n.passphrase)
	if err != nil {
		return "", 0, err
	}
	kp, err := keypair.ParseAddress(source)
	if err != nil {
		return "", 0, err
	}
	signed := false
	for _, sig := range tx.Signatures() {
		if sig.Hint != xdr.SignatureHint(kp.Hint()) {
			continue
		}
		if kp.Verify(hash[:], sig.Signature) == nil {
			signed = true
			break
		}
	}
	if !signed {
		return "", 0, &ledger.SubmitError{Message: "missing source account signature", Codes: []string{"tx_bad_auth"}}
	}
	hashHex, err := tx.HashHex(n.passphrase)
	if err != nil {
		return "", 0, err
	}
	return hashHex, seq + 1, nil
}

func (n *Network) accept(txXDR string) (*txnbuild.Transaction, string, error) {
	tx, err := decode(txXDR)
	if err != nil {
		return nil, "", err
	}
	hash, seq, err := n.verify(tx)
	if err != nil {
		return nil, "", err
	}
	n.accounts[tx.SourceAccount().AccountID] = seq
	return tx, hash, nil
}

func (n *Network) invokeArgs(tx *txnbuild.Transaction) (xdr.InvokeContractArgs, error) {
	ops := tx.Operations()
	if len(ops) != 1 {
		return xdr.InvokeContractArgs{}, errors.New("expected exactly one operation")
	}
	op, ok := ops[0].(*txnbuild.InvokeHostFunction)
	if !ok || op.HostFunction.InvokeContract == nil {
		return xdr.InvokeContractArgs{}, errors.New("expected a contract invocation")
	}
	args := *op.HostFunction.InvokeContract
	if args.ContractAddress.ContractId == nil {
		return xdr.InvokeContractArgs{}, errors.New("invocation target is not a contract")
	}
	id, err := strkey.Encode(strkey.VersionByteContract, args.ContractAddress.ContractId[:])
	if err != nil {
		return xdr.InvokeContractArgs{}, err
	}
	if id != n.contractID {
		return xdr.InvokeContractArgs{}, fmt.Errorf("contract %s not found", id)
	}
	return args, nil
}

func hostError(msg string) string {
	return fmt.Sprintf(
		"HostError: Error(WasmVm, InvalidAction)\n\nEvent log (newest first):\n   0: [Diagnostic Event] topics:[error, Error(WasmVm, InvalidAction)], data:%q",
		msg,
	)
}

// execute runs a contract call, storing its effects when commit is set. A
// non-empty source must satisfy the call's authorization. It returns the
// call result or a host error payload.
func (n *Network) execute(call contract.Call, source string, commit bool) (*xdr.ScVal, string) {
	void := xdr.ScVal{Type: xdr.ScValTypeScvVoid}
	arg := func(i int) contract.Value {
		if i < len(call.Args) {
			return call.Args[i]
		}
		return contract.Value{}
	}
	fileHash, ok := arg(0).Bytes32Value()
	if call.Function == contract.FuncRegisterCertificate ||
		call.Function == contract.FuncApproveCertificate ||
		call.Function == contract.FuncRejectCertificate {
		fileHash, ok = arg(1).Bytes32Value()
	}
	if !ok {
		return nil, hostError("invalid file hash argument")
	}
	record, exists := n.records[fileHash]
	switch call.Function {
	case contract.FuncRegisterCertificate:
		owner, _ := arg(0).AddressValue()
		txHash, ok := arg(2).Bytes32Value()
		if owner == "" || !ok {
			return nil, hostError("invalid arguments")
		}
		if exists {
			return nil, hostError("Certificate already registered")
		}
		if commit {
			n.records[fileHash] = contract.Record{
				FileHash: fileHash.Hex(),
				Owner:    owner,
				TxHash:   txHash.Hex(),
				Status:   contract.StatusPending,
			}
		}
		return &void, ""
	case contract.FuncApproveCertificate, contract.FuncRejectCertificate:
		admin, _ := arg(0).AddressValue()
		if admin != n.admin {
			if call.Function == contract.FuncApproveCertificate {
				return nil, hostError("Unauthorized: Only admin can approve")
			}
			return nil, hostError("Unauthorized: Only admin can reject")
		}
		if source != "" && source != admin {
			return nil, hostError("Error(Auth, InvalidAction)")
		}
		if !exists {
			return nil, hostError("Certificate not found")
		}
		if record.Status != contract.StatusPending {
			return nil, hostError("Certificate already processed")
		}
		if commit {
			record.Admin = admin
			record.ValidatedAt = uint64(time.Now().Unix())
			record.Status = contract.StatusApproved
			if call.Function == contract.FuncRejectCertificate {
				record.Status = contract.StatusRejected
				record.RejectionReason, _ = arg(2).StringValue()
			}
			n.records[fileHash] = record
		}
		return &void, ""
	case contract.FuncGetCertificate:
		if !exists {
			return nil, hostError("Certificate not found")
		}
		sv, err := contract.EncodeRecord(record)
		if err != nil {
			return nil, hostError(err.Error())
		}
		return &sv, ""
	case contract.FuncIsApproved:
		if !exists {
			return nil, hostError("Certificate not found")
		}
		sv := contract.BoolVal(record.Status == contract.StatusApproved)
		return &sv, ""
	default:
		return nil, hostError("unknown function " + call.Function)
	}
}

// authEntries returns the authorization the contract requires for a call,
// satisfied by the transaction source account signature
func authEntries(call contract.Call, args xdr.InvokeContractArgs) []xdr.SorobanAuthorizationEntry {
	if call.Function != contract.FuncApproveCertificate &&
		call.Function != contract.FuncRejectCertificate {
		return nil
	}
	return []xdr.SorobanAuthorizationEntry{
		{
			Credentials: xdr.SorobanCredentials{
				Type: xdr.SorobanCredentialsTypeSorobanCredentialsSourceAccount,
			},
			RootInvocation: xdr.SorobanAuthorizedInvocation{
				Function: xdr.SorobanAuthorizedFunction{
					Type:       xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeContractFn,
					ContractFn: &args,
				},
			},
		},
	}
}

// Sign signs a base64 transaction envelope, as a wallet would
func Sign(passphrase string, txXDR string, signers ...*keypair.Full) (string, error) {
	tx, err := decode(txXDR)
	if err != nil {
		return "", err
	}
	tx, err = tx.Sign(passphrase, signers...)
	if err != nil {
		return "", err
	}
	return tx.Base64()
}

// NewContractID returns a random contract id
func NewContractID() string {
	kp := keypair.MustRandom()
	raw, err := strkey.Decode(strkey.VersionByteAccountID, kp.Address())
	if err != nil {
		panic(err)
	}
	return strkey.MustEncode(strkey.VersionByteContract, raw)
}
