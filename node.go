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

// Package certix wires the certificate lifecycle, verifier and HTTP API into
// a runnable node.
package certix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wrever/certix/api"
	"github.com/wrever/certix/database"
	"github.com/wrever/certix/event"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/ledger/stellar"
	"github.com/wrever/certix/lifecycle"
	"github.com/wrever/certix/signer"
	"github.com/wrever/certix/verifier"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	builder       *ledger.Builder
	orchestrator  *lifecycle.Orchestrator
	verifier      *verifier.Verifier
	api           *api.Server
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	loadOnce      sync.Once
	loadErr       error
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		eventBus.Stop()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

// Load opens storage and sets up the ledger client, lifecycle orchestrator
// and verifier without starting the API. It is called by Run and may be used
// on its own for maintenance commands.
func (n *Node) Load() error {
	n.loadOnce.Do(func() {
		n.loadErr = n.load()
	})
	return n.loadErr
}

func (n *Node) load() error {
	logger := n.config.logger
	// Load database
	db, err := database.New(&database.Config{
		DataDir:        n.config.dataDir,
		Logger:         logger,
		PromRegistry:   n.config.promRegistry,
		BlobPlugin:     n.config.blobPlugin,
		MetadataPlugin: n.config.metadataPlugin,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Ledger network client
	passphrase, err := stellar.Passphrase(n.config.network)
	if err != nil {
		return err
	}
	net := n.config.ledgerNetwork
	if net == nil {
		netOpts := []stellar.NetworkOptionFunc{
			stellar.WithLogger(logger),
		}
		switch {
		case n.config.horizonURL != "":
			netOpts = append(netOpts, stellar.WithHorizonURL(n.config.horizonURL))
		case n.config.network == stellar.NetworkMainnet:
			netOpts = append(netOpts, stellar.WithHorizonURL(stellar.MainnetHorizonURL))
		}
		switch {
		case n.config.rpcURL != "":
			netOpts = append(netOpts, stellar.WithRPCURL(n.config.rpcURL))
		case n.config.network == stellar.NetworkMainnet:
			netOpts = append(netOpts, stellar.WithRPCURL(stellar.MainnetRPCURL))
		}
		net = stellar.New(netOpts...)
	}
	builderOpts := []ledger.BuilderOptionFunc{
		ledger.WithLogger(logger),
		ledger.WithPromRegistry(n.config.promRegistry),
		ledger.WithNetworkPassphrase(passphrase),
		ledger.WithContractID(n.config.contractID),
	}
	if n.config.callTimeout > 0 {
		builderOpts = append(builderOpts, ledger.WithCallTimeout(n.config.callTimeout))
	}
	if n.config.anchorTimeout > 0 {
		builderOpts = append(builderOpts, ledger.WithAnchorTimeout(n.config.anchorTimeout))
	}
	if n.config.contractTimeout > 0 {
		builderOpts = append(builderOpts, ledger.WithContractTimeout(n.config.contractTimeout))
	}
	n.builder, err = ledger.NewBuilder(net, builderOpts...)
	if err != nil {
		return fmt.Errorf("failed to create transaction builder: %w", err)
	}
	// System identity
	var sys signer.Signer
	switch {
	case n.config.systemSecret != "":
		kp, err := signer.NewKeypair(n.config.systemSecret, passphrase)
		if err != nil {
			return fmt.Errorf("system identity: %w", err)
		}
		sys = kp
	case n.config.systemKeyFile != "":
		kp, err := signer.LoadKeypair(n.config.systemKeyFile, passphrase)
		if err != nil {
			return fmt.Errorf("system identity: %w", err)
		}
		sys = kp
	default:
		logger.Warn(
			"no system identity configured, contract registration is unavailable",
			"component", "node",
		)
	}
	auth, err := identity.NewAuthorizer(
		n.config.authPolicy,
		n.config.adminIdentity,
		n.config.validators,
	)
	if err != nil {
		return err
	}
	n.orchestrator, err = lifecycle.New(lifecycle.Config{
		Builder:      n.builder,
		Database:     n.db,
		Authorizer:   auth,
		Signer:       sys,
		EventBus:     n.eventBus,
		Logger:       logger,
		PromRegistry: n.config.promRegistry,
		Network:      n.config.network,
		FilePolicy: lifecycle.FilePolicy{
			MaxSize: n.config.maxFileSize,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create lifecycle orchestrator: %w", err)
	}
	// Contract reads are simulated from the system identity, or from the
	// admin when there is none
	readSource := n.config.adminIdentity
	if sys != nil {
		readSource = sys.PublicKey()
	} else if readSource == "" && len(n.config.validators) > 0 {
		readSource = n.config.validators[0]
	}
	n.verifier, err = verifier.New(verifier.Config{
		Builder:   n.builder,
		Database:  n.db,
		EventBus:  n.eventBus,
		Logger:    logger,
		Source:    readSource,
		Network:   n.config.network,
		Workers:   n.config.reconcileWorkers,
		CacheSize: n.config.contractCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}
	return nil
}

// Run loads the node, starts the API and blocks until ctx is cancelled or
// the node is stopped
func (n *Node) Run(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	if err := n.Load(); err != nil {
		return err
	}
	// Log orphaned anchors for operators to follow up on
	n.eventBus.SubscribeFunc(
		event.AnchorOrphanedEventType,
		n.handleAnchorOrphaned,
	)
	if n.config.apiListenAddress != "" {
		server, err := api.NewServer(api.ServerConfig{
			Logger:        n.config.logger,
			PromRegistry:  n.config.promRegistry,
			Orchestrator:  n.orchestrator,
			Verifier:      n.verifier,
			Database:      n.db,
			ListenAddress: n.config.apiListenAddress,
			Version:       n.config.version,
		})
		if err != nil {
			return err
		}
		if err := server.Start(ctx); err != nil {
			return err
		}
		n.api = server
	}
	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case <-n.done:
	}
	return nil
}

func (n *Node) handleAnchorOrphaned(evt event.Event) {
	e, ok := evt.Data.(event.AnchorOrphanedEvent)
	if !ok {
		return
	}
	n.config.logger.Warn(
		"anchor transaction has no certificate record",
		"component", "node",
		"owner", e.Owner,
		"hash", e.Digest,
		"tx_hash", e.AnchorTxRef,
		"error", e.Error,
	)
}

// Database returns the certificate registry once the node is loaded
func (n *Node) Database() *database.Database {
	return n.db
}

// Orchestrator returns the lifecycle orchestrator once the node is loaded
func (n *Node) Orchestrator() *lifecycle.Orchestrator {
	return n.orchestrator
}

// Verifier returns the verifier once the node is loaded
func (n *Node) Verifier() *verifier.Verifier {
	return n.verifier
}

// EventBus returns the node's event bus
func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := DefaultShutdownTimeout
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop accepting new work
	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Drain events
	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	// Phase 3: Release caches and close database
	if n.verifier != nil {
		n.verifier.Close()
	}
	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}
