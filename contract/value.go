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
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"

	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/identity"
)

// Kind identifies the variant held by a Value
type Kind uint8

const (
	KindInvalid Kind = iota
	KindAddress
	KindBytes32
	KindUInt32
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindBytes32:
		return "bytes32"
	case KindUInt32:
		return "u32"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

var (
	ErrInvalidAddress = errors.New("invalid contract address argument")
	ErrInvalidString  = errors.New("string argument is not valid UTF-8")
	ErrUnsupportedVal = errors.New("unsupported contract value type")
)

// LengthError is returned when a fixed-length bytes argument has the wrong
// length
type LengthError struct {
	Got int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf(
		"invalid bytes32 argument: expected %d bytes, got %d",
		digest.Size,
		e.Got,
	)
}

// Value is a contract argument. Only the constructors in this package
// produce valid values; the zero Value is KindInvalid.
type Value struct {
	kind  Kind
	addr  string
	bytes [digest.Size]byte
	u32   uint32
	str   string
}

// Address returns an address value for an account (G...) or contract (C...)
// identity
func Address(s string) (Value, error) {
	switch {
	case strings.HasPrefix(s, "G"):
		if err := identity.Validate(s); err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
		if _, err := strkey.Decode(strkey.VersionByteAccountID, s); err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
	case strings.HasPrefix(s, "C"):
		if _, err := strkey.Decode(strkey.VersionByteContract, s); err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Value{kind: KindAddress, addr: s}, nil
}

// Bytes32 returns a fixed-length bytes value. Any length other than 32 is
// rejected.
func Bytes32(b []byte) (Value, error) {
	if len(b) != digest.Size {
		return Value{}, &LengthError{Got: len(b)}
	}
	v := Value{kind: KindBytes32}
	copy(v.bytes[:], b)
	return v, nil
}

// Bytes32FromDigest returns a fixed-length bytes value holding d
func Bytes32FromDigest(d digest.Digest) Value {
	return Value{kind: KindBytes32, bytes: d}
}

func UInt32(u uint32) Value {
	return Value{kind: KindUInt32, u32: u}
}

func String(s string) (Value, error) {
	if !utf8.ValidString(s) {
		return Value{}, ErrInvalidString
	}
	return Value{kind: KindString, str: s}, nil
}

func (v Value) Kind() Kind {
	return v.kind
}

// AddressValue returns the identity held by an address value
func (v Value) AddressValue() (string, bool) {
	return v.addr, v.kind == KindAddress
}

// Bytes32Value returns the digest held by a bytes32 value
func (v Value) Bytes32Value() (digest.Digest, bool) {
	return digest.Digest(v.bytes), v.kind == KindBytes32
}

func (v Value) UInt32Value() (uint32, bool) {
	return v.u32, v.kind == KindUInt32
}

func (v Value) StringValue() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) String() string {
	switch v.kind {
	case KindAddress:
		return v.addr
	case KindBytes32:
		return digest.Digest(v.bytes).Hex()
	case KindUInt32:
		return fmt.Sprintf("%d", v.u32)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	default:
		return "<invalid>"
	}
}

// ScVal encodes the value in the contract wire representation
func (v Value) ScVal() (xdr.ScVal, error) {
	switch v.kind {
	case KindAddress:
		addr, err := scAddress(v.addr)
		if err != nil {
			return xdr.ScVal{}, err
		}
		return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}, nil
	case KindBytes32:
		b := xdr.ScBytes(v.bytes[:])
		return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &b}, nil
	case KindUInt32:
		u := xdr.Uint32(v.u32)
		return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}, nil
	case KindString:
		s := xdr.ScString(v.str)
		return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &s}, nil
	default:
		return xdr.ScVal{}, fmt.Errorf("%w: %s", ErrUnsupportedVal, v.kind)
	}
}

// FromScVal decodes one of the four argument kinds. Other wire types are
// rejected; read paths should use the Decode* helpers instead.
func FromScVal(sv xdr.ScVal) (Value, error) {
	switch sv.Type {
	case xdr.ScValTypeScvAddress:
		if sv.Address == nil {
			return Value{}, ErrInvalidAddress
		}
		s, err := addressString(*sv.Address)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindAddress, addr: s}, nil
	case xdr.ScValTypeScvBytes:
		if sv.Bytes == nil {
			return Bytes32(nil)
		}
		return Bytes32(*sv.Bytes)
	case xdr.ScValTypeScvU32:
		if sv.U32 == nil {
			return Value{}, fmt.Errorf("%w: empty u32", ErrUnsupportedVal)
		}
		return UInt32(uint32(*sv.U32)), nil
	case xdr.ScValTypeScvString:
		if sv.Str == nil {
			return String("")
		}
		return String(string(*sv.Str))
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedVal, sv.Type)
	}
}

func scAddress(s string) (xdr.ScAddress, error) {
	if strings.HasPrefix(s, "C") {
		raw, err := strkey.Decode(strkey.VersionByteContract, s)
		if err != nil {
			return xdr.ScAddress{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
		var h xdr.Hash
		copy(h[:], raw)
		return xdr.ScAddress{
			Type:       xdr.ScAddressTypeScAddressTypeContract,
			ContractId: &h,
		}, nil
	}
	var aid xdr.AccountId
	if err := aid.SetAddress(s); err != nil {
		return xdr.ScAddress{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return xdr.ScAddress{
		Type:      xdr.ScAddressTypeScAddressTypeAccount,
		AccountId: &aid,
	}, nil
}

func addressString(addr xdr.ScAddress) (string, error) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", ErrInvalidAddress
		}
		return addr.AccountId.Address(), nil
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", ErrInvalidAddress
		}
		return strkey.Encode(strkey.VersionByteContract, addr.ContractId[:])
	default:
		return "", fmt.Errorf("%w: address type %d", ErrInvalidAddress, addr.Type)
	}
}

// ContractAddress returns the wire address of a contract id
func ContractAddress(contractID string) (xdr.ScAddress, error) {
	if !strings.HasPrefix(contractID, "C") {
		return xdr.ScAddress{}, fmt.Errorf("%w: %q", ErrInvalidAddress, contractID)
	}
	return scAddress(contractID)
}
