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

// Package signer provides the capability to sign transaction envelopes.
package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"gopkg.in/yaml.v3"

	"github.com/wrever/certix/database/sops"
	"github.com/wrever/certix/ledger"
)

var (
	ErrSignerUnavailable = errors.New("signer unavailable")
	ErrSignerRejected    = errors.New("signer rejected the transaction")
)

// Signer signs transaction envelopes for one identity
type Signer interface {
	// PublicKey returns the identity the signer signs for
	PublicKey() string
	// Sign returns the signed base64 envelope
	Sign(ctx context.Context, env *ledger.Envelope) (string, error)
}

// Keypair signs with a secret key held in memory
type Keypair struct {
	kp         *keypair.Full
	passphrase string
}

var _ Signer = (*Keypair)(nil)

// NewKeypair returns a signer for a secret seed (S...)
func NewKeypair(secret string, passphrase string) (*Keypair, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, fmt.Errorf("parse secret key: %w", err)
	}
	return &Keypair{kp: kp, passphrase: passphrase}, nil
}

// LoadKeypair reads a secret seed from a file. The file may be encrypted
// with SOPS; it holds either the bare seed or a YAML/JSON document with a
// "secret" key.
func LoadKeypair(path string, passphrase string) (*Keypair, error) {
	data, err := sops.DecryptFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	secret, err := parseKeyFile(data)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return NewKeypair(secret, passphrase)
}

func parseKeyFile(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if strkey.IsValidEd25519SecretSeed(string(data)) {
		return string(data), nil
	}
	var doc struct {
		Secret string `yaml:"secret"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse key file: %w", err)
	}
	if doc.Secret == "" {
		return "", errors.New("no secret key found")
	}
	return doc.Secret, nil
}

func (k *Keypair) PublicKey() string {
	return k.kp.Address()
}

func (k *Keypair) Sign(ctx context.Context, env *ledger.Envelope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSignerUnavailable, err)
	}
	if env == nil {
		return "", fmt.Errorf("%w: no envelope", ErrSignerRejected)
	}
	gtx, err := txnbuild.TransactionFromXDR(env.XDR)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSignerRejected, err)
	}
	tx, ok := gtx.Transaction()
	if !ok {
		return "", fmt.Errorf("%w: fee bump transactions are not supported", ErrSignerRejected)
	}
	if src := tx.SourceAccount().AccountID; src != k.kp.Address() {
		return "", fmt.Errorf("%w: transaction source %s is not %s", ErrSignerRejected, src, k.kp.Address())
	}
	tx, err = tx.Sign(k.passphrase, k.kp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSignerRejected, err)
	}
	return tx.Base64()
}

// Unavailable is a signer for an identity whose key is not configured. It
// refuses every request.
type Unavailable struct {
	Identity string
}

var _ Signer = Unavailable{}

func (u Unavailable) PublicKey() string {
	return u.Identity
}

func (u Unavailable) Sign(context.Context, *ledger.Envelope) (string, error) {
	return "", fmt.Errorf("%w: no signing key configured", ErrSignerUnavailable)
}
