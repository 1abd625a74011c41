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

package contract_test

import (
	"crypto/rand"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wrever/certix/contract"
	"github.com/wrever/certix/digest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func randomContractID(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	id, err := strkey.Encode(strkey.VersionByteContract, raw)
	require.NoError(t, err)
	return id
}

func TestBytes32RoundTrip(t *testing.T) {
	for range 100 {
		raw := make([]byte, digest.Size)
		_, err := rand.Read(raw)
		require.NoError(t, err)
		v, err := contract.Bytes32(raw)
		require.NoError(t, err)
		sv, err := v.ScVal()
		require.NoError(t, err)
		// Through the binary wire form as well
		b64, err := xdr.MarshalBase64(sv)
		require.NoError(t, err)
		var decodedSv xdr.ScVal
		require.NoError(t, xdr.SafeUnmarshalBase64(b64, &decodedSv))
		decoded, err := contract.FromScVal(decodedSv)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
		got, ok := decoded.Bytes32Value()
		require.True(t, ok)
		assert.Equal(t, raw, got.Bytes())
	}
}

func TestBytes32RejectsWrongLength(t *testing.T) {
	for _, size := range []int{0, 3, 31, 33, 64} {
		_, err := contract.Bytes32(make([]byte, size))
		var lenErr *contract.LengthError
		require.ErrorAs(t, err, &lenErr)
		assert.Equal(t, size, lenErr.Got)
	}
}

func TestShortDigestRejected(t *testing.T) {
	// "abc123" is rejected on the way into any contract call
	_, err := contract.RegisterCertificate(
		keypair.MustRandom().Address(),
		digest.Sum([]byte("file")),
		"abc123",
	)
	var lenErr *digest.LengthError
	require.ErrorAs(t, err, &lenErr)
	assert.Equal(t, 6, lenErr.Got)
}

func TestAddressRoundTrip(t *testing.T) {
	account := keypair.MustRandom().Address()
	contractID := randomContractID(t)
	for _, addr := range []string{account, contractID} {
		v, err := contract.Address(addr)
		require.NoError(t, err)
		sv, err := v.ScVal()
		require.NoError(t, err)
		decoded, err := contract.FromScVal(sv)
		require.NoError(t, err)
		got, ok := decoded.AddressValue()
		require.True(t, ok)
		assert.Equal(t, addr, got)
		assert.Equal(t, addr, contract.DecodeAddress(sv))
	}
}

func TestAddressRejectsInvalid(t *testing.T) {
	testDefs := []string{
		"",
		"GABC",
		// Valid charset but bad checksum
		"GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAB",
		"XLM",
	}
	for _, input := range testDefs {
		_, err := contract.Address(input)
		assert.ErrorIs(t, err, contract.ErrInvalidAddress, "input %q", input)
	}
}

func TestStringAndUInt32(t *testing.T) {
	v, err := contract.String("Rejected: blurry scan")
	require.NoError(t, err)
	sv, err := v.ScVal()
	require.NoError(t, err)
	decoded, err := contract.FromScVal(sv)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	_, err = contract.String(string([]byte{0xff, 0xfe}))
	assert.ErrorIs(t, err, contract.ErrInvalidString)

	u := contract.UInt32(7)
	sv, err = u.ScVal()
	require.NoError(t, err)
	decoded, err = contract.FromScVal(sv)
	require.NoError(t, err)
	got, ok := decoded.UInt32Value()
	assert.True(t, ok)
	assert.Equal(t, uint32(7), got)
}

func TestZeroValueNotEncodable(t *testing.T) {
	_, err := contract.Value{}.ScVal()
	assert.ErrorIs(t, err, contract.ErrUnsupportedVal)
}

func TestDecodeStatusSafeDefault(t *testing.T) {
	u := func(v uint32) xdr.ScVal {
		sv, err := contract.UInt32(v).ScVal()
		require.NoError(t, err)
		return sv
	}
	assert.Equal(t, contract.StatusPending, contract.DecodeStatus(u(0)))
	assert.Equal(t, contract.StatusApproved, contract.DecodeStatus(u(1)))
	assert.Equal(t, contract.StatusRejected, contract.DecodeStatus(u(2)))
	assert.Equal(t, contract.StatusPending, contract.DecodeStatus(u(9)))
	assert.Equal(t, contract.StatusPending, contract.DecodeStatus(contract.BoolVal(true)))
	assert.Equal(t, contract.StatusPending, contract.DecodeStatus(xdr.ScVal{Type: xdr.ScValTypeScvVoid}))
	assert.Equal(t, "", contract.DecodeAddress(u(1)))
	assert.Equal(t, "", contract.DecodeBytesHex(u(1)))
	assert.False(t, contract.DecodeBool(u(1)))
	assert.True(t, contract.DecodeBool(contract.BoolVal(true)))
}

func TestRecordRoundTrip(t *testing.T) {
	rec := contract.Record{
		FileHash:        digest.Sum([]byte("file")).Hex(),
		Owner:           keypair.MustRandom().Address(),
		TxHash:          digest.Sum([]byte("tx")).Hex(),
		Status:          contract.StatusRejected,
		Admin:           keypair.MustRandom().Address(),
		ValidatedAt:     1700000000,
		RejectionReason: "expired",
	}
	sv, err := contract.EncodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, rec, contract.DecodeRecord(sv))

	pending := contract.Record{
		FileHash: rec.FileHash,
		Owner:    rec.Owner,
		TxHash:   rec.TxHash,
	}
	sv, err = contract.EncodeRecord(pending)
	require.NoError(t, err)
	assert.Equal(t, pending, contract.DecodeRecord(sv))
}

func TestDecodeRecordPositional(t *testing.T) {
	owner := keypair.MustRandom().Address()
	ownerVal, err := contract.Address(owner)
	require.NoError(t, err)
	ownerSv, err := ownerVal.ScVal()
	require.NoError(t, err)
	statusSv, err := contract.UInt32(1).ScVal()
	require.NoError(t, err)
	txSv, err := contract.Bytes32FromDigest(digest.Sum([]byte("tx"))).ScVal()
	require.NoError(t, err)
	vec := xdr.ScVec{statusSv, ownerSv, txSv}
	vp := &vec
	rec := contract.DecodeRecord(xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &vp})
	assert.Equal(t, contract.StatusApproved, rec.Status)
	assert.Equal(t, owner, rec.Owner)
	assert.Equal(t, digest.Sum([]byte("tx")).Hex(), rec.TxHash)

	// Mismatched types decode as absent
	assert.Equal(t, contract.Record{}, contract.DecodeRecord(contract.BoolVal(false)))
}

func TestCallInvokeArgs(t *testing.T) {
	contractID := randomContractID(t)
	admin := keypair.MustRandom().Address()
	fileHash := digest.Sum([]byte("file"))
	call, err := contract.RejectCertificate(admin, fileHash, "")
	require.NoError(t, err)
	reason, ok := call.Args[2].StringValue()
	require.True(t, ok)
	assert.Equal(t, contract.DefaultRejectionReason, reason)

	args, err := call.InvokeArgs(contractID)
	require.NoError(t, err)
	assert.Equal(t, xdr.ScSymbol(contract.FuncRejectCertificate), args.FunctionName)
	assert.Len(t, args.Args, 3)

	parsed, err := contract.ParseCall(args)
	require.NoError(t, err)
	assert.Equal(t, call, parsed)

	_, err = call.InvokeArgs(admin)
	assert.ErrorIs(t, err, contract.ErrInvalidAddress)
}
