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

package contract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/stellar/go/xdr"

	"github.com/wrever/certix/digest"
)

// Registry contract entry points
const (
	FuncRegisterCertificate = "register_certificate"
	FuncApproveCertificate  = "approve_certificate"
	FuncRejectCertificate   = "reject_certificate"
	FuncGetCertificate      = "get_certificate"
	FuncIsApproved          = "is_approved"
)

// DefaultRejectionReason is sent when a rejection has no reason
const DefaultRejectionReason = "Rejected by admin"

// Call is a contract entry point invocation with typed arguments
type Call struct {
	Function string
	Args     []Value
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = arg.String()
	}
	return c.Function + "(" + strings.Join(args, ", ") + ")"
}

// Equal reports whether both calls invoke the same function with the same
// arguments
func (c Call) Equal(other Call) bool {
	return c.Function == other.Function && slices.Equal(c.Args, other.Args)
}

// InvokeArgs builds the host function arguments for invoking c on the
// given contract
func (c Call) InvokeArgs(contractID string) (xdr.InvokeContractArgs, error) {
	addr, err := ContractAddress(contractID)
	if err != nil {
		return xdr.InvokeContractArgs{}, fmt.Errorf("contract id: %w", err)
	}
	args := make([]xdr.ScVal, 0, len(c.Args))
	for i, arg := range c.Args {
		sv, err := arg.ScVal()
		if err != nil {
			return xdr.InvokeContractArgs{}, fmt.Errorf(
				"%s argument %d: %w",
				c.Function,
				i,
				err,
			)
		}
		args = append(args, sv)
	}
	return xdr.InvokeContractArgs{
		ContractAddress: addr,
		FunctionName:    xdr.ScSymbol(c.Function),
		Args:            args,
	}, nil
}

// RegisterCertificate registers a digest for owner, citing the anchoring
// transaction hash as proof of the owner's signature
func RegisterCertificate(
	owner string,
	fileHash digest.Digest,
	anchorTxHash string,
) (Call, error) {
	ownerVal, err := Address(owner)
	if err != nil {
		return Call{}, err
	}
	txHash, err := digest.ParseHex(anchorTxHash)
	if err != nil {
		return Call{}, fmt.Errorf("anchor transaction hash: %w", err)
	}
	return Call{
		Function: FuncRegisterCertificate,
		Args: []Value{
			ownerVal,
			Bytes32FromDigest(fileHash),
			Bytes32FromDigest(txHash),
		},
	}, nil
}

func ApproveCertificate(admin string, fileHash digest.Digest) (Call, error) {
	adminVal, err := Address(admin)
	if err != nil {
		return Call{}, err
	}
	return Call{
		Function: FuncApproveCertificate,
		Args:     []Value{adminVal, Bytes32FromDigest(fileHash)},
	}, nil
}

func RejectCertificate(
	admin string,
	fileHash digest.Digest,
	reason string,
) (Call, error) {
	adminVal, err := Address(admin)
	if err != nil {
		return Call{}, err
	}
	if reason == "" {
		reason = DefaultRejectionReason
	}
	reasonVal, err := String(reason)
	if err != nil {
		return Call{}, err
	}
	return Call{
		Function: FuncRejectCertificate,
		Args:     []Value{adminVal, Bytes32FromDigest(fileHash), reasonVal},
	}, nil
}

func GetCertificate(fileHash digest.Digest) Call {
	return Call{
		Function: FuncGetCertificate,
		Args:     []Value{Bytes32FromDigest(fileHash)},
	}
}

func IsApproved(fileHash digest.Digest) Call {
	return Call{
		Function: FuncIsApproved,
		Args:     []Value{Bytes32FromDigest(fileHash)},
	}
}

// ParseCall decodes invocation arguments back into a Call
func ParseCall(args xdr.InvokeContractArgs) (Call, error) {
	ret := Call{Function: string(args.FunctionName)}
	for i, arg := range args.Args {
		v, err := FromScVal(arg)
		if err != nil {
			return Call{}, fmt.Errorf(
				"%s argument %d: %w",
				ret.Function,
				i,
				err,
			)
		}
		ret.Args = append(ret.Args, v)
	}
	return ret, nil
}
