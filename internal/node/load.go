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

package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wrever/certix"
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/internal/config"
	"github.com/wrever/certix/verifier"
)

// Open loads a node without the API listener for one-shot commands. The
// caller must Stop the returned node.
func Open(
	cfg *config.Config,
	logger *slog.Logger,
	extra ...certix.ConfigOptionFunc,
) (*certix.Node, error) {
	opts, err := Options(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, certix.WithAPIListenAddress(""))
	opts = append(opts, extra...)
	n, err := certix.New(certix.NewConfig(opts...))
	if err != nil {
		return nil, err
	}
	if err := n.Load(); err != nil {
		_ = n.Stop()
		return nil, err
	}
	return n, nil
}

// Verify checks one certificate against the ledger
func Verify(
	ctx context.Context,
	n *certix.Node,
	id string,
) (*verifier.Result, error) {
	return n.Verifier().Verify(ctx, id)
}

// Reconcile brings an owner's certificates in line with the registry
// contract and returns the reconciled list with per-status counts
func Reconcile(
	ctx context.Context,
	n *certix.Node,
	owner string,
) ([]models.Certificate, models.Stats, error) {
	certs, err := n.Database().ListByOwner(ctx, owner, nil)
	if err != nil {
		return nil, models.Stats{}, fmt.Errorf("list certificates: %w", err)
	}
	certs = n.Verifier().Reconcile(ctx, certs)
	return certs, models.CountStats(certs), nil
}
