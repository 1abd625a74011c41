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

package signer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/ledger/ledgertest"
	"github.com/wrever/certix/signer"
)

func buildAnchor(t *testing.T, kp *keypair.Full) (*ledgertest.Network, *ledger.Builder, *ledger.Envelope) {
	t.Helper()
	net := ledgertest.New(ledgertest.NewContractID(), keypair.MustRandom().Address())
	net.FundAccount(kp.Address())
	b, err := ledger.NewBuilder(net, ledger.WithNetworkPassphrase(net.Passphrase()))
	require.NoError(t, err)
	env, err := b.BuildAnchor(t.Context(), kp.Address(), digest.Sum([]byte("doc")))
	require.NoError(t, err)
	return net, b, env
}

func TestKeypairSign(t *testing.T) {
	kp := keypair.MustRandom()
	net, b, env := buildAnchor(t, kp)
	s, err := signer.NewKeypair(kp.Seed(), net.Passphrase())
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), s.PublicKey())

	signed, err := s.Sign(t.Context(), env)
	require.NoError(t, err)
	info, err := b.InspectEnvelope(signed)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Signatures)
	assert.Equal(t, env.Hash, info.Hash)
	_, err = b.SubmitAnchor(t.Context(), signed)
	require.NoError(t, err)
}

func TestKeypairRejects(t *testing.T) {
	kp := keypair.MustRandom()
	net, _, env := buildAnchor(t, kp)
	other, err := signer.NewKeypair(keypair.MustRandom().Seed(), net.Passphrase())
	require.NoError(t, err)
	_, err = other.Sign(t.Context(), env)
	assert.ErrorIs(t, err, signer.ErrSignerRejected)

	s, err := signer.NewKeypair(kp.Seed(), net.Passphrase())
	require.NoError(t, err)
	_, err = s.Sign(t.Context(), &ledger.Envelope{XDR: "not-xdr"})
	assert.ErrorIs(t, err, signer.ErrSignerRejected)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = s.Sign(ctx, env)
	assert.ErrorIs(t, err, signer.ErrSignerUnavailable)

	_, err = signer.NewKeypair("SNOTASEED", net.Passphrase())
	assert.Error(t, err)
}

func TestLoadKeypair(t *testing.T) {
	kp := keypair.MustRandom()
	dir := t.TempDir()

	plain := filepath.Join(dir, "system.key")
	require.NoError(t, os.WriteFile(plain, []byte(kp.Seed()+"\n"), 0o600))
	s, err := signer.LoadKeypair(plain, "test")
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), s.PublicKey())

	doc := filepath.Join(dir, "system.yaml")
	require.NoError(t, os.WriteFile(doc, []byte("secret: "+kp.Seed()+"\n"), 0o600))
	s, err = signer.LoadKeypair(doc, "test")
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), s.PublicKey())

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("other: value\n"), 0o600))
	_, err = signer.LoadKeypair(empty, "test")
	assert.Error(t, err)

	_, err = signer.LoadKeypair(filepath.Join(dir, "missing"), "test")
	assert.Error(t, err)
}

func TestUnavailable(t *testing.T) {
	u := signer.Unavailable{Identity: "GSYSTEM"}
	assert.Equal(t, "GSYSTEM", u.PublicKey())
	_, err := u.Sign(t.Context(), &ledger.Envelope{})
	assert.ErrorIs(t, err, signer.ErrSignerUnavailable)
}
