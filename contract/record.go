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
	"encoding/hex"
	"slices"
	"strings"

	"github.com/stellar/go/xdr"
)

// Status is the on-contract certificate status discriminant
type Status uint32

const (
	StatusPending  Status = 0
	StatusApproved Status = 1
	StatusRejected Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Terminal reports whether the status can no longer change
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Record is a certificate as stored by the registry contract. Absent
// optional fields are zero values.
type Record struct {
	FileHash        string `json:"fileHash"`
	Owner           string `json:"owner"`
	TxHash          string `json:"txHash"`
	Status          Status `json:"-"`
	Admin           string `json:"admin,omitempty"`
	ValidatedAt     uint64 `json:"validatedAt,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// Struct field names of the contract's certificate type
const (
	fieldAdmin           = "admin"
	fieldFileHash        = "file_hash"
	fieldOwner           = "owner"
	fieldRejectionReason = "rejection_reason"
	fieldStatus          = "status"
	fieldTxHash          = "tx_hash"
	fieldValidatedAt     = "validated_at"
)

// DecodeStatus decodes a status discriminant. Anything that is not a known
// discriminant decodes as pending.
func DecodeStatus(sv xdr.ScVal) Status {
	switch sv.Type {
	case xdr.ScValTypeScvU32:
		if sv.U32 == nil {
			return StatusPending
		}
		switch Status(*sv.U32) {
		case StatusApproved:
			return StatusApproved
		case StatusRejected:
			return StatusRejected
		}
	case xdr.ScValTypeScvVec:
		// Unit enum variants encode as a single-symbol vector
		vec := scVec(sv)
		if len(vec) > 0 && vec[0].Type == xdr.ScValTypeScvSymbol &&
			vec[0].Sym != nil {
			switch strings.ToLower(string(*vec[0].Sym)) {
			case "approved":
				return StatusApproved
			case "rejected":
				return StatusRejected
			}
		}
	}
	return StatusPending
}

// DecodeAddress returns the identity held by an address value, or "" for
// any other value
func DecodeAddress(sv xdr.ScVal) string {
	if sv.Type != xdr.ScValTypeScvAddress || sv.Address == nil {
		return ""
	}
	s, err := addressString(*sv.Address)
	if err != nil {
		return ""
	}
	return s
}

// DecodeBytesHex returns the hex encoding of a bytes value, or "" for any
// other value
func DecodeBytesHex(sv xdr.ScVal) string {
	if sv.Type != xdr.ScValTypeScvBytes || sv.Bytes == nil {
		return ""
	}
	return hex.EncodeToString(*sv.Bytes)
}

// DecodeBool returns the value of a bool, or false for any other value
func DecodeBool(sv xdr.ScVal) bool {
	if sv.Type != xdr.ScValTypeScvBool || sv.B == nil {
		return false
	}
	return *sv.B
}

func decodeString(sv xdr.ScVal) string {
	if sv.Type != xdr.ScValTypeScvString || sv.Str == nil {
		return ""
	}
	return string(*sv.Str)
}

func decodeU64(sv xdr.ScVal) uint64 {
	if sv.Type != xdr.ScValTypeScvU64 || sv.U64 == nil {
		return 0
	}
	return uint64(*sv.U64)
}

func scVec(sv xdr.ScVal) xdr.ScVec {
	if sv.Vec == nil || *sv.Vec == nil {
		return nil
	}
	return **sv.Vec
}

func scMap(sv xdr.ScVal) xdr.ScMap {
	if sv.Map == nil || *sv.Map == nil {
		return nil
	}
	return **sv.Map
}

// DecodeRecord decodes a certificate returned by get_certificate. Both the
// struct (symbol-keyed map) encoding and a positional vector
// [status, owner, tx_hash, ...] are accepted. Fields that cannot be decoded
// are left empty.
func DecodeRecord(sv xdr.ScVal) Record {
	var ret Record
	switch sv.Type {
	case xdr.ScValTypeScvMap:
		for _, entry := range scMap(sv) {
			if entry.Key.Type != xdr.ScValTypeScvSymbol || entry.Key.Sym == nil {
				continue
			}
			switch string(*entry.Key.Sym) {
			case fieldAdmin:
				ret.Admin = DecodeAddress(entry.Val)
			case fieldFileHash:
				ret.FileHash = DecodeBytesHex(entry.Val)
			case fieldOwner:
				ret.Owner = DecodeAddress(entry.Val)
			case fieldRejectionReason:
				ret.RejectionReason = decodeString(entry.Val)
			case fieldStatus:
				ret.Status = DecodeStatus(entry.Val)
			case fieldTxHash:
				ret.TxHash = DecodeBytesHex(entry.Val)
			case fieldValidatedAt:
				ret.ValidatedAt = decodeU64(entry.Val)
			}
		}
	case xdr.ScValTypeScvVec:
		vec := scVec(sv)
		if len(vec) > 0 {
			ret.Status = DecodeStatus(vec[0])
		}
		if len(vec) > 1 {
			ret.Owner = DecodeAddress(vec[1])
		}
		if len(vec) > 2 {
			ret.TxHash = DecodeBytesHex(vec[2])
		}
	}
	return ret
}

// EncodeRecord encodes a certificate the way the registry contract stores
// it: a map keyed by field symbol, in key order, with absent options as void
func EncodeRecord(r Record) (xdr.ScVal, error) {
	void := xdr.ScVal{Type: xdr.ScValTypeScvVoid}
	entries := map[string]xdr.ScVal{}
	fileHash, err := hex.DecodeString(r.FileHash)
	if err != nil {
		return xdr.ScVal{}, err
	}
	fileHashVal, err := Bytes32(fileHash)
	if err != nil {
		return xdr.ScVal{}, err
	}
	if entries[fieldFileHash], err = fileHashVal.ScVal(); err != nil {
		return xdr.ScVal{}, err
	}
	txHash, err := hex.DecodeString(r.TxHash)
	if err != nil {
		return xdr.ScVal{}, err
	}
	txHashVal, err := Bytes32(txHash)
	if err != nil {
		return xdr.ScVal{}, err
	}
	if entries[fieldTxHash], err = txHashVal.ScVal(); err != nil {
		return xdr.ScVal{}, err
	}
	ownerVal, err := Address(r.Owner)
	if err != nil {
		return xdr.ScVal{}, err
	}
	if entries[fieldOwner], err = ownerVal.ScVal(); err != nil {
		return xdr.ScVal{}, err
	}
	if entries[fieldStatus], err = UInt32(uint32(r.Status)).ScVal(); err != nil {
		return xdr.ScVal{}, err
	}
	entries[fieldAdmin] = void
	if r.Admin != "" {
		adminVal, err := Address(r.Admin)
		if err != nil {
			return xdr.ScVal{}, err
		}
		if entries[fieldAdmin], err = adminVal.ScVal(); err != nil {
			return xdr.ScVal{}, err
		}
	}
	entries[fieldValidatedAt] = void
	if r.ValidatedAt > 0 {
		u := xdr.Uint64(r.ValidatedAt)
		entries[fieldValidatedAt] = xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
	}
	entries[fieldRejectionReason] = void
	if r.RejectionReason != "" {
		reasonVal, err := String(r.RejectionReason)
		if err != nil {
			return xdr.ScVal{}, err
		}
		if entries[fieldRejectionReason], err = reasonVal.ScVal(); err != nil {
			return xdr.ScVal{}, err
		}
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	m := make(xdr.ScMap, 0, len(keys))
	for _, k := range keys {
		sym := xdr.ScSymbol(k)
		m = append(m, xdr.ScMapEntry{
			Key: xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym},
			Val: entries[k],
		})
	}
	mp := &m
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &mp}, nil
}

// BoolVal encodes a bool return value
func BoolVal(b bool) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &b}
}
