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
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type BuilderOptionFunc func(*Builder)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) BuilderOptionFunc {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(registry prometheus.Registerer) BuilderOptionFunc {
	return func(b *Builder) {
		b.promRegistry = registry
	}
}

// WithNetworkPassphrase specifies the passphrase of the target network
func WithNetworkPassphrase(passphrase string) BuilderOptionFunc {
	return func(b *Builder) {
		b.networkPassphrase = passphrase
	}
}

// WithContractID specifies the registry contract
func WithContractID(contractID string) BuilderOptionFunc {
	return func(b *Builder) {
		b.contractID = contractID
	}
}

// WithAnchorFee specifies the base fee, in stroops, of anchoring and read
// transactions
func WithAnchorFee(fee int64) BuilderOptionFunc {
	return func(b *Builder) {
		b.anchorFee = fee
	}
}

// WithContractFee specifies the base fee, in stroops, of contract
// invocations. The simulated resource fee is added on top.
func WithContractFee(fee int64) BuilderOptionFunc {
	return func(b *Builder) {
		b.contractFee = fee
	}
}

// WithAnchorTimeout specifies the validity window of anchoring and read
// transactions
func WithAnchorTimeout(timeout time.Duration) BuilderOptionFunc {
	return func(b *Builder) {
		b.anchorTimeout = timeout
	}
}

// WithContractTimeout specifies the validity window of contract invocations
func WithContractTimeout(timeout time.Duration) BuilderOptionFunc {
	return func(b *Builder) {
		b.contractTimeout = timeout
	}
}

// WithCallTimeout specifies the deadline applied to each network call
func WithCallTimeout(timeout time.Duration) BuilderOptionFunc {
	return func(b *Builder) {
		b.callTimeout = timeout
	}
}
