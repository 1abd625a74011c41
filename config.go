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

package certix

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/ledger/stellar"
)

const (
	DefaultAPIListenAddress = ":3000"
	DefaultShutdownTimeout  = 30 * time.Second
)

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	ledgerNetwork     ledger.Network
	dataDir           string
	blobPlugin        string
	metadataPlugin    string
	network           string
	horizonURL        string
	rpcURL            string
	contractID        string
	adminIdentity     string
	authPolicy        string
	systemSecret      string
	systemKeyFile     string
	apiListenAddress  string
	version           string
	validators        []string
	maxFileSize       int64
	contractCacheSize int64
	reconcileWorkers  int
	callTimeout       time.Duration
	anchorTimeout     time.Duration
	contractTimeout   time.Duration
	shutdownTimeout   time.Duration
	tracing           bool
	tracingStdout     bool
}

func (n *Node) configValidate() error {
	if _, err := stellar.Passphrase(n.config.network); err != nil {
		return err
	}
	if n.config.contractID == "" {
		return errors.New("no contract id configured")
	}
	switch n.config.authPolicy {
	case identity.PolicyAdmin, "":
		if err := identity.Validate(n.config.adminIdentity); err != nil {
			return fmt.Errorf("admin identity: %w", err)
		}
	case identity.PolicyValidators:
		if len(n.config.validators) == 0 {
			return errors.New("validators policy requires at least one validator")
		}
	default:
		return fmt.Errorf("unknown authorization policy: %s", n.config.authPolicy)
	}
	if n.config.systemSecret != "" && n.config.systemKeyFile != "" {
		return errors.New("system secret and system key file are mutually exclusive")
	}
	if n.config.maxFileSize < 0 {
		return fmt.Errorf("invalid max file size: %d", n.config.maxFileSize)
	}
	return nil
}

// NewConfig creates a new certix config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
		network:          stellar.NetworkTestnet,
		apiListenAddress: DefaultAPIListenAddress,
		shutdownTimeout:  DefaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ConfigOptionFunc is a type that represents functions that modify the certix config
type ConfigOptionFunc func(*Config)

// WithLogger specifies the logger to use. This is useful for external control of logging
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use.
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithNetwork specifies the named network to operate on (testnet or mainnet)
func WithNetwork(network string) ConfigOptionFunc {
	return func(c *Config) {
		c.network = network
	}
}

// WithHorizonURL overrides the Horizon server of the network
func WithHorizonURL(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.horizonURL = url
	}
}

// WithRPCURL overrides the Soroban RPC endpoint of the network
func WithRPCURL(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.rpcURL = url
	}
}

// WithLedgerNetwork specifies the ledger network client to use instead of
// the Horizon and Soroban RPC client of the named network
func WithLedgerNetwork(net ledger.Network) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerNetwork = net
	}
}

// WithContractID specifies the registry contract (C...)
func WithContractID(contractID string) ConfigOptionFunc {
	return func(c *Config) {
		c.contractID = contractID
	}
}

// WithAuthorization specifies who may approve or reject certificates: the
// single admin identity, or any identity on the validator list
func WithAuthorization(policy string, admin string, validators ...string) ConfigOptionFunc {
	return func(c *Config) {
		c.authPolicy = policy
		c.adminIdentity = admin
		c.validators = validators
	}
}

// WithSystemSecret specifies the secret seed of the system identity that
// registers certificates in the contract
func WithSystemSecret(secret string) ConfigOptionFunc {
	return func(c *Config) {
		c.systemSecret = secret
	}
}

// WithSystemKeyFile specifies a file holding the system identity's secret
// seed. The file may be SOPS encrypted.
func WithSystemKeyFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.systemKeyFile = path
	}
}

// WithAPIListenAddress specifies the listen address of the HTTP API. An
// empty address disables the API.
func WithAPIListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithVersion specifies the version reported by the health endpoint
func WithVersion(version string) ConfigOptionFunc {
	return func(c *Config) {
		c.version = version
	}
}

// WithMaxFileSize specifies the maximum upload size in bytes
func WithMaxFileSize(size int64) ConfigOptionFunc {
	return func(c *Config) {
		c.maxFileSize = size
	}
}

// WithTimeouts specifies the ledger call timeout and the validity windows of
// anchor and contract transactions. Zero values keep the defaults.
func WithTimeouts(call, anchor, contract time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.callTimeout = call
		c.anchorTimeout = anchor
		c.contractTimeout = contract
	}
}

// WithReconcileWorkers specifies how many contract reads reconciliation runs
// in parallel
func WithReconcileWorkers(workers int) ConfigOptionFunc {
	return func(c *Config) {
		c.reconcileWorkers = workers
	}
}

// WithContractCacheSize specifies how many decided contract records are cached
func WithContractCacheSize(size int64) ConfigOptionFunc {
	return func(c *Config) {
		c.contractCacheSize = size
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}
